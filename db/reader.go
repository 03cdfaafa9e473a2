package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feedview/models"
	"feedview/query"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

type Reader struct {
	db *sql.DB
}

func NewReader(database string) (*Reader, error) {
	db, err := readConnection(database)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (reader *Reader) Close() error {
	return reader.db.Close()
}

// GetItems returns one page of items as built by b
func (reader *Reader) GetItems(ctx context.Context, b query.Builder, limit int, offset int) ([]models.FeedItem, error) {
	stmt, args := b.Build(limit, offset)

	rows, err := reader.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	items := make([]models.FeedItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// GetItem returns the item with the given id or ErrItemNotFound
func (reader *Reader) GetItem(ctx context.Context, id string) (models.FeedItem, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(query.ItemColumns...).From("feed_items").Where(sb.Equal("feed_items.id", id))
	stmt, args := sb.Build()

	item, err := scanItem(reader.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.FeedItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return models.FeedItem{}, err
	}
	return item, nil
}

// GetChannels returns distinct channel titles, most recently published first
func (reader *Reader) GetChannels(ctx context.Context) ([]string, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("channel_title").
		From("feed_items").
		Where(sb.NotEqual("channel_title", "")).
		GroupBy("channel_title").
		OrderBy("MAX(published_at) DESC", "channel_title ASC")
	stmt, args := sb.Build()

	rows, err := reader.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	channels := make([]string, 0)
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// CountItems returns the number of stored items
func (reader *Reader) CountItems(ctx context.Context) (int, error) {
	var count int
	err := reader.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feed_items").Scan(&count)
	return count, err
}

// LastRefresh returns the newest recorded refresh, if any
func (reader *Reader) LastRefresh(ctx context.Context) (models.RefreshEvent, bool, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("refreshed_at", "items", "sources", "failed", "duration_ms").
		From("refreshes").
		OrderBy("id DESC").
		Limit(1)
	stmt, args := sb.Build()

	var (
		evt        models.RefreshEvent
		refreshed  int64
		durationMs int64
	)
	err := reader.db.QueryRowContext(ctx, stmt, args...).Scan(&refreshed, &evt.Items, &evt.Sources, &evt.Failed, &durationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RefreshEvent{}, false, nil
	}
	if err != nil {
		return models.RefreshEvent{}, false, err
	}
	evt.Refreshed = time.Unix(refreshed, 0).UTC()
	evt.Duration = time.Duration(durationMs) * time.Millisecond
	return evt, true, nil
}
