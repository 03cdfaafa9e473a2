package imagecache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the durable image cache, a single SQLite file keyed by cache key.
type Store struct {
	db      *sql.DB
	path    string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	clock   func() time.Time
}

// StoreStats describes the current contents of the store.
type StoreStats struct {
	Entries int64 `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

var _ Accessor = (*Store)(nil)

// Open opens the cache store at path, creating the file and schema if needed.
// Opening an existing store is a no-op apart from acquiring the handle.
// All failures wrap ErrStoreUnavailable.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory: %w", ErrStoreUnavailable, err)
		}
	}

	if err := migrateStore(path); err != nil {
		return nil, fmt.Errorf("%w: migrate: %w", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithZeroFrames(true))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	log.WithFields(log.Fields{
		"path": path,
	}).Debug("Opened image cache store")

	return &Store{
		db:      db,
		path:    path,
		encoder: encoder,
		decoder: decoder,
		clock:   time.Now,
	}, nil
}

func migrateStore(path string) error {
	d, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, "sqlite://"+path)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Get returns the payload stored for key. A missing key is reported as
// ("", false, nil); storage errors wrap ErrReadFailed.
func (s *Store) Get(ctx context.Context, key string) (Payload, bool, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("payload").From("images").Where(sb.Equal("key", key))
	query, args := sb.Build()

	var compressed []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	if len(compressed) == 0 {
		return "", true, nil
	}

	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", false, fmt.Errorf("%w: decompress %q: %w", ErrReadFailed, key, err)
	}
	return Payload(raw), true, nil
}

// Put inserts or replaces the entry for key. Errors wrap ErrWriteFailed.
func (s *Store) Put(ctx context.Context, key string, payload Payload) error {
	compressed := s.encoder.EncodeAll([]byte(payload), nil)

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.ReplaceInto("images").
		Cols("key", "payload", "written_at").
		Values(key, compressed, s.clock().UnixNano())
	query, args := ib.Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Stats counts entries and their stored (compressed) size.
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)", "COALESCE(SUM(LENGTH(payload)), 0)").From("images")
	query, args := sb.Build()

	var stats StoreStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Entries, &stats.Bytes); err != nil {
		return StoreStats{}, fmt.Errorf("%w: stats: %w", ErrReadFailed, err)
	}
	return stats, nil
}

// Prune keeps the maxEntries most recently written entries and deletes the
// rest, returning the number of deleted rows.
func (s *Store) Prune(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries < 0 {
		return 0, fmt.Errorf("max entries must not be negative, got %d", maxEntries)
	}

	keep := sqlbuilder.SQLite.NewSelectBuilder()
	keep.Select("key").From("images").OrderBy("written_at DESC", "key").Limit(maxEntries)

	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom("images").Where(del.NotIn("key", keep))
	query, args := del.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %w", ErrWriteFailed, err)
	}
	removed, _ := res.RowsAffected()

	log.WithFields(log.Fields{
		"max_entries": maxEntries,
		"removed":     removed,
	}).Info("Pruned image cache")
	return removed, nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	query, args := sqlbuilder.SQLite.NewDeleteBuilder().DeleteFrom("images").Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: clear: %w", ErrWriteFailed, err)
	}
	return nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}
