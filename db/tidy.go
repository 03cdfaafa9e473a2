package db

import (
	"context"
	"database/sql"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes stored items older than retention from the database
func Tidy(ctx context.Context, database string, retention time.Duration) (int64, error) {
	db, err := connection(database)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return tidy(ctx, db, time.Now().Add(-retention))
}

func tidy(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	deleteItems := sb.SQLite.NewDeleteBuilder()
	deleteItems.DeleteFrom("feed_items").Where(
		deleteItems.LessThan("published_at", cutoff.Unix()),
		deleteItems.LessThan("fetched_at", cutoff.Unix()),
	)
	stmt, args := deleteItems.Build()

	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"cutoff":  cutoff.Format(time.RFC3339),
		"removed": removed,
	}).Info("Tidied database")
	return removed, nil
}
