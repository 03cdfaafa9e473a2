package query

import (
	"github.com/huandu/go-sqlbuilder"
)

// ItemColumns are selected by every feed item query, in scan order
var ItemColumns = []string{
	"feed_items.id",
	"feed_items.title",
	"feed_items.link",
	"feed_items.channel_title",
	"feed_items.pub_date",
	"feed_items.published_at",
	"feed_items.image_url",
	"feed_items.categories",
	"feed_items.is_personal_feed",
}

// ItemQueryBuilder lists feed items newest first with optional filters
type ItemQueryBuilder struct {
	filters []FilterStrategy
}

func NewItemQueryBuilder(filters ...FilterStrategy) *ItemQueryBuilder {
	b := &ItemQueryBuilder{filters: make([]FilterStrategy, 0, len(filters))}
	for _, f := range filters {
		b.AddFilter(f)
	}
	return b
}

func (b *ItemQueryBuilder) AddFilter(filter FilterStrategy) {
	if filter != nil {
		b.filters = append(b.filters, filter)
	}
}

// Build returns the query for one page. A non-positive limit returns every row.
func (b *ItemQueryBuilder) Build(limit int, offset int) (string, []interface{}) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(ItemColumns...).From("feed_items")

	for _, filter := range b.filters {
		filter.ApplyFilter(sb)
	}

	// link breaks ties so pages are stable between requests
	sb.OrderBy("feed_items.published_at DESC", "feed_items.link ASC")

	if limit > 0 {
		sb.Limit(limit)
		if offset > 0 {
			sb.Offset(offset)
		}
	}

	return sb.Build()
}

var _ Builder = (*ItemQueryBuilder)(nil)
