// Package db stores aggregated feed items in SQLite.
package db

import (
	"database/sql"
	"errors"
	"time"

	"feedview/models"
)

// ErrItemNotFound is returned when no stored item has the requested id
var ErrItemNotFound = errors.New("feed item not found")

type scanner interface {
	Scan(dest ...any) error
}

// scanItem reads a row selected with query.ItemColumns
func scanItem(row scanner) (models.FeedItem, error) {
	var (
		item        models.FeedItem
		publishedAt int64
		imageUrl    sql.NullString
		categories  string
	)
	if err := row.Scan(
		&item.Id,
		&item.Title,
		&item.Link,
		&item.ChannelTitle,
		&item.PubDate,
		&publishedAt,
		&imageUrl,
		&categories,
		&item.IsPersonalFeed,
	); err != nil {
		return models.FeedItem{}, err
	}

	item.PublishedAt = time.Unix(publishedAt, 0).UTC()
	item.ImageUrl = imageUrl.String
	item.Categories = models.ParseCategories(categories)
	return item, nil
}

func itemValues(item models.FeedItem, fetchedAt int64) []interface{} {
	var imageUrl sql.NullString
	if item.HasImage() {
		imageUrl = sql.NullString{String: item.ImageUrl, Valid: true}
	}
	var publishedAt int64
	if !item.PublishedAt.IsZero() {
		publishedAt = item.PublishedAt.Unix()
	}
	return []interface{}{
		item.Id,
		item.Title,
		item.Link,
		item.ChannelTitle,
		item.PubDate,
		publishedAt,
		imageUrl,
		item.Categories.String(),
		item.IsPersonalFeed,
		fetchedAt,
	}
}

var itemInsertColumns = []string{
	"id",
	"title",
	"link",
	"channel_title",
	"pub_date",
	"published_at",
	"image_url",
	"categories",
	"is_personal_feed",
	"fetched_at",
}
