package retry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteConfig configures the SQLite outbox.
type SQLiteConfig struct {
	// Path of the database file. ":memory:" keeps the outbox in memory.
	Path string `yaml:"path" json:"path"`

	// MaxAttempts is stamped on items enqueued without one.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// SQLiteOutbox is an Outbox stored in a SQLite database.
type SQLiteOutbox struct {
	db          *sql.DB
	mu          sync.Mutex
	maxAttempts int
	closed      bool
}

// NewSQLiteOutbox opens (creating if needed) the outbox database.
func NewSQLiteOutbox(cfg *SQLiteConfig) (*SQLiteOutbox, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("outbox path is required")
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create outbox directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	o := &SQLiteOutbox{db: db, maxAttempts: cfg.MaxAttempts}
	if o.maxAttempts <= 0 {
		o.maxAttempts = DefaultMaxAttempts
	}
	if err := o.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return o, nil
}

func (o *SQLiteOutbox) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		path TEXT NOT NULL,
		payload BLOB NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		next_retry INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_ready ON outbox(status, next_retry);
	CREATE INDEX IF NOT EXISTS idx_outbox_fingerprint ON outbox(fingerprint);
	`
	_, err := o.db.Exec(schema)
	return err
}

func (o *SQLiteOutbox) checkOpen() error {
	if o.closed {
		return ErrOutboxClosed
	}
	return nil
}

// Enqueue stores item. Pending items are deduplicated by fingerprint.
func (o *SQLiteOutbox) Enqueue(ctx context.Context, item *Item) (string, error) {
	if item == nil || item.Path == "" || len(item.Payload) == 0 {
		return "", ErrInvalidItem
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return "", err
	}

	if item.Fingerprint != "" {
		var n int
		err := o.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM outbox WHERE fingerprint = ? AND status = ?`,
			item.Fingerprint, ItemStatusPending).Scan(&n)
		if err != nil {
			return "", fmt.Errorf("check duplicate: %w", err)
		}
		if n > 0 {
			return "", ErrDuplicateItem
		}
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = o.maxAttempts
	}
	if item.NextRetry.IsZero() {
		item.NextRetry = now
	}
	item.Status = ItemStatusPending
	item.CreatedAt, item.UpdatedAt = now, now

	_, err := o.db.ExecContext(ctx, `
		INSERT INTO outbox (id, kind, path, payload, fingerprint, status, attempts,
			max_attempts, last_error, next_retry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Kind), item.Path, []byte(item.Payload), item.Fingerprint,
		string(item.Status), item.Attempts, item.MaxAttempts, item.LastError,
		item.NextRetry.UnixNano(), item.CreatedAt.UnixNano(), item.UpdatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert item: %w", err)
	}
	return item.ID, nil
}

const selectColumns = `SELECT id, kind, path, payload, fingerprint, status, attempts,
	max_attempts, last_error, next_retry, created_at, updated_at FROM outbox`

// Ready returns pending items due at or before now.
func (o *SQLiteOutbox) Ready(ctx context.Context, now time.Time, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	return o.query(ctx, selectColumns+` WHERE status = ? AND next_retry <= ? ORDER BY next_retry, created_at LIMIT ?`,
		ItemStatusPending, now.UnixNano(), limit)
}

// Get returns one item.
func (o *SQLiteOutbox) Get(ctx context.Context, id string) (*Item, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	items, err := o.query(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrItemNotFound
	}
	return items[0], nil
}

// Reschedule records a failed attempt.
func (o *SQLiteOutbox) Reschedule(ctx context.Context, id string, attempts int, lastError string, next time.Time) error {
	return o.update(ctx, `UPDATE outbox SET attempts = ?, last_error = ?, next_retry = ?, updated_at = ? WHERE id = ?`,
		attempts, lastError, next.UnixNano(), time.Now().UnixNano(), id)
}

// MarkFailed parks an item.
func (o *SQLiteOutbox) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return o.update(ctx, `UPDATE outbox SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		ItemStatusFailed, attempts, lastError, time.Now().UnixNano(), id)
}

// Delete removes an item.
func (o *SQLiteOutbox) Delete(ctx context.Context, id string) error {
	return o.update(ctx, `DELETE FROM outbox WHERE id = ?`, id)
}

// List returns items by status, oldest first.
func (o *SQLiteOutbox) List(ctx context.Context, status ItemStatus) ([]*Item, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	if status == "" {
		return o.query(ctx, selectColumns+` ORDER BY created_at`)
	}
	return o.query(ctx, selectColumns+` WHERE status = ? ORDER BY created_at`, status)
}

// Stats summarizes the outbox.
func (o *SQLiteOutbox) Stats(ctx context.Context) (*Stats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	stats := &Stats{}
	var oldest sql.NullInt64
	err := o.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			MIN(created_at)
		FROM outbox`).Scan(&stats.Pending, &stats.Failed, &oldest)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = time.Unix(0, oldest.Int64).UTC()
	}
	return stats, nil
}

// Cleanup removes failed items and items older than ttl.
func (o *SQLiteOutbox) Cleanup(ctx context.Context, ttl time.Duration) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-ttl).UnixNano()
	res, err := o.db.ExecContext(ctx, `DELETE FROM outbox WHERE status = ? OR created_at < ?`, ItemStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database.
func (o *SQLiteOutbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.db.Close()
}

func (o *SQLiteOutbox) update(ctx context.Context, query string, args ...any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}
	res, err := o.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (o *SQLiteOutbox) query(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var (
			item                           Item
			kind, status                   string
			payload                        []byte
			nextRetry, createdAt, updatedAt int64
		)
		if err := rows.Scan(&item.ID, &kind, &item.Path, &payload, &item.Fingerprint, &status,
			&item.Attempts, &item.MaxAttempts, &item.LastError, &nextRetry, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Kind = ItemKind(kind)
		item.Status = ItemStatus(status)
		item.Payload = payload
		item.NextRetry = time.Unix(0, nextRetry).UTC()
		item.CreatedAt = time.Unix(0, createdAt).UTC()
		item.UpdatedAt = time.Unix(0, updatedAt).UTC()
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return items, nil
}

var _ Outbox = (*SQLiteOutbox)(nil)
