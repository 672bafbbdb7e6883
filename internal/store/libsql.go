package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLStore implements LayoutStore using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/layouts.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

func (s *LibSQLStore) GetLayout(ctx context.Context, key string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM layouts WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get layout %s: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE layouts SET hit_at = ? WHERE key = ?`, time.Now().UTC(), key); err != nil {
		return nil, fmt.Errorf("touch layout %s: %w", key, err)
	}
	return []byte(data), nil
}

func (s *LibSQLStore) PutLayout(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO layouts (key, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data=excluded.data`,
		key, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put layout %s: %w", key, err)
	}
	return nil
}

func (s *LibSQLStore) DeleteLayout(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM layouts WHERE key = ?`, key)
	return err
}

// Prune removes layouts not read since the cutoff and returns how many were
// deleted. Every pass is recorded; see LastPrune.
func (s *LibSQLStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := pruneLayouts(ctx, s.db, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune layouts: %w", err)
	}
	return n, nil
}

// LastPrune returns the latest recorded prune pass.
func (s *LibSQLStore) LastPrune(ctx context.Context) (PruneRecord, bool, error) {
	rec, ok, err := lastPrune(ctx, s.db)
	if err != nil {
		return PruneRecord{}, false, fmt.Errorf("read prune log: %w", err)
	}
	return rec, ok, nil
}

var _ LayoutStore = (*LibSQLStore)(nil)
