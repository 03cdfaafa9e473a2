package query

import (
	"github.com/huandu/go-sqlbuilder"
)

// Builder builds SQL queries for feed item listings
type Builder interface {
	Build(limit int, offset int) (string, []interface{})
}

// FilterStrategy adds WHERE conditions to the query
type FilterStrategy interface {
	// ApplyFilter adds filter conditions to the query builder
	ApplyFilter(sb *sqlbuilder.SelectBuilder)
}
