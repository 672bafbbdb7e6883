package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func TestLibSQLStore_Contract(t *testing.T) {
	runLayoutStoreContract(t, newTestStore(t))
}

func TestLibSQLStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version, rows int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version), COUNT(*) FROM schema_version`).Scan(&version, &rows))
	assert.Equal(t, 2, version)
	assert.Equal(t, 2, rows)
}

func TestLibSQLStore_RejectsNewerSchema(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DB().Exec(`INSERT INTO schema_version (version, name, applied_at) VALUES (99, 'future', ?)`, time.Now().UTC())
	require.NoError(t, err)
	assert.ErrorContains(t, s.Migrate(context.Background()), "newer than this build")
}

func TestLoadSchemaSteps(t *testing.T) {
	steps, err := loadSchemaSteps(migrationFS)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "layouts", steps[0].name)
	assert.Equal(t, "prune_runs", steps[1].name)
	assert.Len(t, steps[0].stmts, 2)

	_, err = loadSchemaSteps(fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/003_c.sql": {Data: []byte("SELECT 3;")},
	})
	assert.ErrorContains(t, err, "must be 1..2")

	_, err = loadSchemaSteps(fstest.MapFS{"migrations/first.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)
}

func TestLibSQLStore_Prune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutLayout(ctx, "old", []byte(`{}`)))
	_, err := s.DB().ExecContext(ctx, `UPDATE layouts SET created_at = ? WHERE key = 'old'`,
		time.Now().Add(-48*time.Hour).UTC())
	require.NoError(t, err)
	require.NoError(t, s.PutLayout(ctx, "fresh", []byte(`{}`)))

	_, ok, err := s.LastPrune(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	cutoff := time.Now().Add(-24 * time.Hour)
	n, err := s.Prune(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetLayout(ctx, "fresh")
	assert.NoError(t, err)

	rec, ok, err := s.LastPrune(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Removed)
	assert.WithinDuration(t, cutoff, rec.Cutoff, time.Second)

	n, err = s.Prune(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	rec, _, err = s.LastPrune(ctx)
	require.NoError(t, err)
	assert.Zero(t, rec.Removed)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- comment only;\nCREATE TABLE a (\n  x INT -- inline\n);\n\nCREATE INDEX i ON a(x);\nSELECT 1")
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a (\nx INT -- inline\n)", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a(x)", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}
