package models

import (
	"encoding/json"
	"strings"
	"time"
)

// FeedItem is one syndicated entry as served by GET /feed
type FeedItem struct {
	Id             string     `json:"id,omitempty"`
	Title          string     `json:"title"`
	Link           string     `json:"link"`
	ChannelTitle   string     `json:"channel_title"`
	PubDate        string     `json:"pub_date"`
	ImageUrl       string     `json:"image_url,omitempty"`
	Categories     Categories `json:"categories,omitempty"`
	IsPersonalFeed bool       `json:"is_personal_feed,omitempty"`

	// Parsed publication time used for ordering, not part of the wire format
	PublishedAt time.Time `json:"-"`
}

// HasImage reports whether the item carries a thumbnail reference
func (item FeedItem) HasImage() bool {
	return strings.TrimSpace(item.ImageUrl) != ""
}

// Categories accepts either a JSON array or a comma separated string
type Categories []string

func (c *Categories) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*c = cleanCategories(list)
		return nil
	}

	var joined *string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	if joined == nil {
		*c = nil
		return nil
	}
	*c = ParseCategories(*joined)
	return nil
}

// ParseCategories splits a comma separated category string
func ParseCategories(joined string) Categories {
	return cleanCategories(strings.Split(joined, ","))
}

// String joins the categories the way they are stored
func (c Categories) String() string {
	names := make([]string, 0, len(c))
	for _, category := range c {
		if category = NormalizeCategory(category); category != "" {
			names = append(names, category)
		}
	}
	return strings.Join(names, ",")
}

// NormalizeCategory trims a category name and turns commas into spaces,
// since the stored form is comma separated
func NormalizeCategory(name string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(name, ",", " ")), " ")
}

func cleanCategories(list []string) Categories {
	var out Categories
	for _, category := range list {
		if category = NormalizeCategory(category); category != "" {
			out = append(out, category)
		}
	}
	return out
}

// Source is a configured syndication feed
type Source struct {
	Url      string
	Personal bool
}

// RefreshEvent is emitted after the aggregator stores a new snapshot
type RefreshEvent struct {
	Items     int
	Sources   int
	Failed    int
	Duration  time.Duration
	Refreshed time.Time
}

// SnapshotEvent carries the items gathered by one refresh to the writer
type SnapshotEvent struct {
	Items   []FeedItem
	Refresh RefreshEvent
}
