package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"feedview/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// SQLite caps bound variables per statement, so inserts are chunked
const insertBatchSize = 500

type Writer struct {
	db        *sql.DB
	retention time.Duration
	tidyEvery time.Duration
	clock     func() time.Time
	stored    func(models.RefreshEvent)
}

func NewWriter(database string, retention time.Duration) (*Writer, error) {
	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &Writer{
		db:        db,
		retention: retention,
		tidyEvery: time.Hour,
		clock:     time.Now,
	}, nil
}

// OnStored registers fn to be called after each snapshot has been stored
func (writer *Writer) OnStored(fn func(models.RefreshEvent)) {
	writer.stored = fn
}

func (writer *Writer) Close() error {
	return writer.db.Close()
}

// Subscribe stores events until ctx is done or the channel closes, tidying on a timer
func (writer *Writer) Subscribe(ctx context.Context, events <-chan interface{}) {
	if _, err := writer.Tidy(ctx); err != nil {
		log.WithError(err).Error("Error tidying database")
	}

	ticker := time.NewTicker(writer.tidyEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := writer.Tidy(ctx); err != nil {
				log.WithError(err).Error("Error tidying database")
			}

		case evt, ok := <-events:
			if !ok {
				return
			}
			switch event := evt.(type) {
			case models.SnapshotEvent:
				if _, err := writer.StoreItems(ctx, event.Items); err != nil {
					log.WithError(err).Error("Error storing feed items")
					continue
				}
				if err := writer.RecordRefresh(ctx, event.Refresh); err != nil {
					log.WithError(err).Error("Error recording refresh")
				}
				if writer.stored != nil {
					writer.stored(event.Refresh)
				}
			case models.RefreshEvent:
				if err := writer.RecordRefresh(ctx, event); err != nil {
					log.WithError(err).Error("Error recording refresh")
				}
			default:
				log.WithField("type", fmt.Sprintf("%T", evt)).Warn("Unknown event type")
			}
		}
	}
}

// StoreItems replaces stored rows for the given items in a single transaction
func (writer *Writer) StoreItems(ctx context.Context, items []models.FeedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	fetchedAt := writer.clock().Unix()
	tx, err := writer.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, batch := range lo.Chunk(items, insertBatchSize) {
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.ReplaceInto("feed_items").Cols(itemInsertColumns...)
		for _, item := range batch {
			ib.Values(itemValues(item, fetchedAt)...)
		}
		stmt, args := ib.Build()
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return 0, fmt.Errorf("error inserting feed items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"items": len(items),
	}).Info("Stored feed items")
	return len(items), nil
}

// RecordRefresh appends a row to the refresh history
func (writer *Writer) RecordRefresh(ctx context.Context, evt models.RefreshEvent) error {
	refreshed := evt.Refreshed
	if refreshed.IsZero() {
		refreshed = writer.clock()
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("refreshes").
		Cols("refreshed_at", "items", "sources", "failed", "duration_ms").
		Values(refreshed.Unix(), evt.Items, evt.Sources, evt.Failed, evt.Duration.Milliseconds())
	stmt, args := ib.Build()

	_, err := writer.db.ExecContext(ctx, stmt, args...)
	return err
}

// Tidy removes items older than the retention window that no refresh has seen since
func (writer *Writer) Tidy(ctx context.Context) (int64, error) {
	return tidy(ctx, writer.db, writer.clock().Add(-writer.retention))
}
