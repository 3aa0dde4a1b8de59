package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer connection serializes the usage upserts.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		owner      TEXT NOT NULL,
		category   TEXT NOT NULL,
		payload    TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (owner, category)
	);

	CREATE TABLE IF NOT EXISTS usage (
		owner      TEXT NOT NULL,
		category   TEXT NOT NULL,
		period     TEXT NOT NULL,
		count      INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (owner, category, period)
	);

	CREATE TABLE IF NOT EXISTS contents (
		id         TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		step       TEXT NOT NULL,
		format     TEXT,
		body       TEXT NOT NULL,
		meta       TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contents_owner ON contents(owner, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetRecord implements Reader.
func (s *SQLiteStore) GetRecord(ctx context.Context, owner string, category subject.Category, dst any) (bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE owner = ? AND category = ?`,
		owner, string(category)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("get record", err)
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return false, storeErr("decode record", fmt.Errorf("%s/%s: %w", owner, category, err))
	}
	return true, nil
}

// PutRecord implements Writer.
func (s *SQLiteStore) PutRecord(ctx context.Context, owner string, category subject.Category, v any) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidRecord)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (owner, category, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, category) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		owner, string(category), string(payload), s.now().Format(time.RFC3339))
	if err != nil {
		return storeErr("put record", err)
	}
	return nil
}

// IncrementUsage implements UsageCounter. The compare and the increment
// happen in one statement, so concurrent callers cannot overshoot ceiling.
func (s *SQLiteStore) IncrementUsage(ctx context.Context, owner, category, period string, ceiling int) (int, bool, error) {
	if ceiling == 0 {
		count, err := s.usageCount(ctx, owner, category, period)
		return count, false, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage (owner, category, period, count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(owner, category, period) DO UPDATE SET
			count = usage.count + 1,
			updated_at = excluded.updated_at
		WHERE ? < 0 OR usage.count < ?
		RETURNING count`,
		owner, category, period, s.now().Format(time.RFC3339), ceiling, ceiling).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// The conflict update was filtered out: ceiling reached.
		current, err := s.usageCount(ctx, owner, category, period)
		return current, false, err
	}
	if err != nil {
		return 0, false, storeErr("increment usage", err)
	}
	return count, true, nil
}

func (s *SQLiteStore) usageCount(ctx context.Context, owner, category, period string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM usage WHERE owner = ? AND category = ? AND period = ?`,
		owner, category, period).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("read usage", err)
	}
	return count, nil
}

// Usage implements UsageCounter.
func (s *SQLiteStore) Usage(ctx context.Context, owner, period string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, count FROM usage WHERE owner = ? AND period = ?`, owner, period)
	if err != nil {
		return nil, storeErr("list usage", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, storeErr("scan usage", err)
		}
		out[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list usage", err)
	}
	return out, nil
}

// SaveContent implements ContentStore. Re-saving an id keeps its
// created_at; saving an id owned by someone else fails with
// ErrOwnerMismatch.
func (s *SQLiteStore) SaveContent(ctx context.Context, c *Content) error {
	if c == nil || c.ID == "" || c.Owner == "" {
		return fmt.Errorf("%w: content id and owner are required", ErrInvalidRecord)
	}
	var meta *string
	if len(c.Meta) > 0 {
		b, err := json.Marshal(c.Meta)
		if err != nil {
			return fmt.Errorf("%w: meta: %v", ErrInvalidRecord, err)
		}
		m := string(b)
		meta = &m
	}

	now := s.now().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO contents (id, owner, user_id, step, format, body, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			step = excluded.step,
			format = excluded.format,
			body = excluded.body,
			meta = excluded.meta,
			updated_at = excluded.updated_at
		WHERE contents.owner = excluded.owner`,
		c.ID, c.Owner, c.UserID, c.Step, c.Format, c.Body, meta, now, now)
	if err != nil {
		return storeErr("save content", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("save content", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: content %s", ErrOwnerMismatch, c.ID)
	}
	return nil
}

// GetContent implements ContentStore.
func (s *SQLiteStore) GetContent(ctx context.Context, owner, id string) (*Content, error) {
	var (
		c                    Content
		format, meta         sql.NullString
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, user_id, step, format, body, meta, created_at, updated_at
		FROM contents WHERE id = ? AND owner = ?`, id, owner).
		Scan(&c.ID, &c.Owner, &c.UserID, &c.Step, &format, &c.Body, &meta, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get content", err)
	}
	c.Format = format.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Meta); err != nil {
			return nil, storeErr("decode content meta", err)
		}
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
