package viewer

import (
	"github.com/samber/lo"

	"feedview/models"
)

// AllChannels is the filter that shows every item
const AllChannels = "all"

// Channels returns AllChannels followed by the distinct channel titles in first-seen order
func Channels(items []models.FeedItem) []string {
	titles := lo.Uniq(lo.Map(items, func(item models.FeedItem, _ int) string {
		return item.ChannelTitle
	}))
	return append([]string{AllChannels}, titles...)
}

// FilterByChannel keeps the items of one channel; AllChannels or "" keeps everything
func FilterByChannel(items []models.FeedItem, channel string) []models.FeedItem {
	if channel == "" || channel == AllChannels {
		return items
	}
	return lo.Filter(items, func(item models.FeedItem, _ int) bool {
		return item.ChannelTitle == channel
	})
}

// Page is one page of items
type Page struct {
	Number int
	Total  int
	Items  []models.FeedItem
}

func (p Page) HasPrev() bool { return p.Number > 1 }
func (p Page) HasNext() bool { return p.Number < p.Total }

// Paginate returns page number (1-based, clamped to the valid range) of perPage items
func Paginate(items []models.FeedItem, perPage, number int) Page {
	if perPage <= 0 {
		perPage = len(items)
		if perPage == 0 {
			perPage = 1
		}
	}
	total := (len(items) + perPage - 1) / perPage
	if total == 0 {
		total = 1
	}
	number = max(1, min(number, total))

	start := min((number-1)*perPage, len(items))
	end := min(start+perPage, len(items))
	return Page{Number: number, Total: total, Items: items[start:end]}
}
