package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/logging"
	"github.com/rendis/tracelens/internal/store"
)

func TestOpenLayoutStoreBackends(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := openLayoutStore(ctx, CacheConfig{Backend: cacheMemory})
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &store.MemoryStore{}, s)
	})

	t.Run("libsql", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "layouts.db")
		s, err := openLayoutStore(ctx, CacheConfig{Backend: cacheLibSQL, DBPath: "file:" + path})
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.PutLayout(ctx, "k", []byte(`{}`)))
		got, err := s.GetLayout(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{}`), got)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s, err := openLayoutStore(ctx, CacheConfig{Backend: cacheRedis, RedisAddr: mr.Addr(), RedisTTL: "1h"})
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.PutLayout(ctx, "k", []byte(`{}`)))
		assert.True(t, mr.Exists("tracelens:layout:k"))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := openLayoutStore(ctx, CacheConfig{Backend: "etcd"})
		assert.Error(t, err)
	})
}

func TestStartPruning(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewNop()

	stop, err := startPruning(ctx, store.NewMemoryStore(), CacheConfig{PruneSchedule: "@daily"}, logger)
	require.NoError(t, err)
	stop()

	s, err := openLayoutStore(ctx, CacheConfig{Backend: cacheLibSQL, DBPath: "file:" + filepath.Join(t.TempDir(), "l.db")})
	require.NoError(t, err)
	defer s.Close()

	_, err = startPruning(ctx, s, CacheConfig{PruneSchedule: "every tuesday"}, logger)
	assert.Error(t, err)

	stop, err = startPruning(ctx, s, CacheConfig{PruneSchedule: "@hourly", PruneAfter: "1h"}, logger)
	require.NoError(t, err)
	stop()

	lib, ok := s.(*store.LibSQLStore)
	require.True(t, ok)
	_, err = lib.Prune(ctx, time.Now())
	require.NoError(t, err)

	var logs bytes.Buffer
	stop, err = startPruning(ctx, s, CacheConfig{PruneSchedule: "@hourly"}, logging.New(&logs, slog.LevelInfo, "text"))
	require.NoError(t, err)
	stop()
	assert.Contains(t, logs.String(), "last_run=")
	assert.Contains(t, logs.String(), "last_removed=0")
}

func TestReloadAppliesLiveChanges(t *testing.T) {
	cur := defaultConfig()
	svc := &services{cache: layout.NewCache(), logger: logging.NewNop()}
	live := newLivePanel(svc.panel(cur))
	defer live.Close()
	level := new(slog.LevelVar)

	next := cur
	next.LogLevel = "debug"
	next.Layout.Direction = layout.LeftToRight
	next.ListenAddr = ":1"
	before := live.panel

	got := reload(cur, next, svc, live, level, logging.NewNop())

	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Equal(t, "debug", got.LogLevel)
	assert.Equal(t, layout.LeftToRight, got.Layout.Direction)
	// Restart-only fields keep their running value.
	assert.Equal(t, cur.ListenAddr, got.ListenAddr)
	assert.NotSame(t, before, live.panel)

	rec := httptest.NewRecorder()
	live.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
