package query

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"feedview/models"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ChannelFilter keeps items whose channel title matches exactly
type ChannelFilter struct {
	Channel string
}

func (f *ChannelFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if f.Channel != "" {
		sb.Where(sb.Equal("feed_items.channel_title", f.Channel))
	}
}

// PersonalFilter keeps either only the operator's own items or only syndicated ones
type PersonalFilter struct {
	Personal bool
}

func (f *PersonalFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.Equal("feed_items.is_personal_feed", f.Personal))
}

// CategoryFilter keeps items tagged with the category, ignoring case
type CategoryFilter struct {
	Category string
}

func (f *CategoryFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	category := strings.ToLower(models.NormalizeCategory(f.Category))
	if category == "" {
		return
	}
	// categories are stored comma separated, so pad both sides to match whole entries
	pattern := "%," + likeEscaper.Replace(category) + ",%"
	sb.Where(fmt.Sprintf("',' || LOWER(feed_items.categories) || ',' LIKE %s ESCAPE '\\'", sb.Var(pattern)))
}

// SinceFilter keeps items published at or after the unix timestamp
type SinceFilter struct {
	Since int64
}

func (f *SinceFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if f.Since > 0 {
		sb.Where(sb.GreaterEqualThan("feed_items.published_at", f.Since))
	}
}

var _ FilterStrategy = (*ChannelFilter)(nil)
var _ FilterStrategy = (*PersonalFilter)(nil)
var _ FilterStrategy = (*CategoryFilter)(nil)
var _ FilterStrategy = (*SinceFilter)(nil)
