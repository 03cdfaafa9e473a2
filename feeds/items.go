package feeds

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"feedview/models"
)

// itemNamespace scopes the name-based ids of feed items
var itemNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("feedview/items"))

// undated is the ordering fallback for items whose date cannot be parsed
var undated = time.Unix(0, 0).UTC()

// ItemID returns the stable id of an item, derived from its link or, lacking one, its guid and title
func ItemID(link, guid, title string) string {
	name := strings.TrimSpace(link)
	if name == "" {
		name = strings.TrimSpace(guid) + "\x00" + strings.TrimSpace(title)
	}
	return uuid.NewSHA1(itemNamespace, []byte(name)).String()
}

// isExcluded reports whether any category matches the exclusion list, ignoring case
func isExcluded(categories []string, excluded []string) bool {
	return lo.SomeBy(categories, func(category string) bool {
		return lo.ContainsBy(excluded, func(ex string) bool {
			return strings.EqualFold(strings.TrimSpace(category), strings.TrimSpace(ex))
		})
	})
}

// publishedAt returns the parsed publication time, falling back to the unix epoch
func publishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	if t, err := time.Parse(time.RFC1123Z, strings.TrimSpace(item.Published)); err == nil {
		return t.UTC()
	}
	return undated
}

// itemImage prefers an image enclosure, then the item image, then the first <img> in the description
func itemImage(item *gofeed.Item) string {
	for _, enclosure := range item.Enclosures {
		if enclosure == nil || strings.TrimSpace(enclosure.URL) == "" {
			continue
		}
		if enclosure.Type == "" || strings.HasPrefix(strings.ToLower(enclosure.Type), "image/") {
			return strings.TrimSpace(enclosure.URL)
		}
	}
	if item.Image != nil && strings.TrimSpace(item.Image.URL) != "" {
		return strings.TrimSpace(item.Image.URL)
	}
	if src := firstImageSource(item.Description); src != "" {
		return src
	}
	return firstImageSource(item.Content)
}

// firstImageSource returns the src of the first <img> element in an HTML fragment
func firstImageSource(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			token := z.Token()
			if token.DataAtom != atom.Img {
				continue
			}
			for _, attr := range token.Attr {
				if attr.Key == "src" && strings.TrimSpace(attr.Val) != "" {
					return strings.TrimSpace(attr.Val)
				}
			}
		}
	}
}

// convertItem maps a parsed entry to a feed item, reporting false for entries that must be skipped
func convertItem(item *gofeed.Item, channel string, source models.Source, excluded []string) (models.FeedItem, bool) {
	if item == nil || isExcluded(item.Categories, excluded) {
		return models.FeedItem{}, false
	}

	link := strings.TrimSpace(item.Link)
	title := strings.TrimSpace(item.Title)
	if link == "" && title == "" {
		return models.FeedItem{}, false
	}

	return models.FeedItem{
		Id:             ItemID(link, item.GUID, title),
		Title:          title,
		Link:           link,
		ChannelTitle:   channel,
		PubDate:        strings.TrimSpace(item.Published),
		PublishedAt:    publishedAt(item),
		ImageUrl:       itemImage(item),
		Categories:     models.Categories(lo.Compact(lo.Map(item.Categories, func(c string, _ int) string { return strings.TrimSpace(c) }))),
		IsPersonalFeed: source.Personal,
	}, true
}
