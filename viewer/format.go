package viewer

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"feedview/models"
)

// CategoryColors are cycled over an item's categories
var CategoryColors = []string{"#007bb5", "#f39c12", "#e74c3c", "#2ecc71", "#9b59b6"}

// CategoryColor returns the tag color for the category at index
func CategoryColor(index int) string {
	if index < 0 {
		index = -index
	}
	return CategoryColors[index%len(CategoryColors)]
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
}

// FormatDate renders a publication date as dd/mm/yyyy HH:MM in loc.
// Unparseable dates are returned unchanged.
func FormatDate(pubDate string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	trimmed := strings.TrimSpace(pubDate)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.In(loc).Format("02/01/2006 15:04")
		}
	}
	return pubDate
}

// ShareText is the clipboard text for an exported card
func ShareText(item models.FeedItem) string {
	return fmt.Sprintf("%s: %s", item.Title, item.Link)
}

// CardURL returns the shareable url of an item, or its link when it has no id
func CardURL(base *url.URL, item models.FeedItem) string {
	if base == nil || item.Id == "" {
		return item.Link
	}
	return base.JoinPath("/feed", item.Id).String()
}
