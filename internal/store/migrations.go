package store

import (
	"bufio"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// schemaStep is one embedded migration file, named NNN_name.sql.
type schemaStep struct {
	version int
	name    string
	stmts   []string
}

// loadSchemaSteps reads the embedded migrations in version order. Versions
// must start at 1 and have no gaps.
func loadSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	steps := make([]schemaStep, 0, len(files))
	for _, f := range files {
		base := strings.TrimSuffix(path.Base(f), ".sql")
		num, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: want NNN_name.sql", f)
		}
		version, err := strconv.Atoi(num)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", f, err)
		}
		raw, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, err
		}
		steps = append(steps, schemaStep{version: version, name: name, stmts: splitStatements(string(raw))})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	for i, s := range steps {
		if s.version != i+1 {
			return nil, fmt.Errorf("migration versions must be 1..%d, found %d at position %d", len(steps), s.version, i+1)
		}
	}
	return steps, nil
}

// runMigrations brings the layout database to the latest schema. Each file
// is applied in its own transaction together with its schema_version row.
func runMigrations(ctx context.Context, db *sql.DB) error {
	steps, err := loadSchemaSteps(migrationFS)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current > len(steps) {
		return fmt.Errorf("layout database is at schema %d, newer than this build (%d)", current, len(steps))
	}

	for _, s := range steps[current:] {
		if err := inTx(ctx, db, func(tx *sql.Tx) error {
			for _, stmt := range s.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
				s.version, s.name, time.Now().UTC())
			return err
		}); err != nil {
			return fmt.Errorf("migration %d (%s): %w", s.version, s.name, err)
		}
	}
	return nil
}

// PruneRecord describes one prune pass.
type PruneRecord struct {
	RanAt   time.Time
	Cutoff  time.Time
	Removed int64
}

// pruneLayouts deletes layouts unread since cutoff and logs the pass in
// prune_runs within the same transaction.
func pruneLayouts(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	var removed int64
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM layouts WHERE COALESCE(hit_at, created_at) < ?`, cutoff.UTC())
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO prune_runs (ran_at, cutoff, removed) VALUES (?, ?, ?)`,
			time.Now().UTC(), cutoff.UTC(), removed)
		return err
	})
	return removed, err
}

// lastPrune returns the most recent prune pass, if any.
func lastPrune(ctx context.Context, db *sql.DB) (PruneRecord, bool, error) {
	var rec PruneRecord
	err := db.QueryRowContext(ctx,
		`SELECT ran_at, cutoff, removed FROM prune_runs ORDER BY id DESC LIMIT 1`,
	).Scan(&rec.RanAt, &rec.Cutoff, &rec.Removed)
	if errors.Is(err, sql.ErrNoRows) {
		return PruneRecord{}, false, nil
	}
	if err != nil {
		return PruneRecord{}, false, err
	}
	return rec, true, nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// splitStatements drops "--" comment lines and splits the rest on
// semicolons that end a line.
func splitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	sc := bufio.NewScanner(strings.NewReader(script))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		if strings.HasSuffix(line, ";") {
			if stmt := strings.TrimSpace(strings.TrimSuffix(cur.String(), ";")); stmt != "" {
				stmts = append(stmts, stmt)
			}
			cur.Reset()
		}
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts
}
