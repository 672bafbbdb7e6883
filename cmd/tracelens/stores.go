package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/tracelens/internal/store"
)

// openLayoutStore opens the second layout tier selected by cfg. The memory
// backend keeps every serialized layout for the life of the process, behind
// the bounded in-memory LRU.
func openLayoutStore(ctx context.Context, cfg CacheConfig) (store.LayoutStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", cacheMemory:
		return store.NewMemoryStore(), nil
	case cacheLibSQL:
		if path := strings.TrimPrefix(cfg.DBPath, "file:"); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		s, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate layouts: %w", err)
		}
		return s, nil
	case cacheRedis:
		return store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			store.WithTTL(duration(cfg.RedisTTL, 24*time.Hour))), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// startPruning schedules removal of libSQL layouts that have not been read
// within cfg.PruneAfter. Other stores expire on their own; the returned stop
// function is then a no-op.
func startPruning(ctx context.Context, s store.LayoutStore, cfg CacheConfig, logger *slog.Logger) (func(), error) {
	lib, ok := s.(*store.LibSQLStore)
	if !ok || cfg.PruneSchedule == "" {
		return func() {}, nil
	}
	after := duration(cfg.PruneAfter, 30*24*time.Hour)

	if rec, ok, err := lib.LastPrune(ctx); err != nil {
		logger.Warn("read prune log failed", "error", err)
	} else if ok {
		logger.Info("layout pruning scheduled", "schedule", cfg.PruneSchedule,
			"last_run", rec.RanAt, "last_removed", rec.Removed)
	} else {
		logger.Info("layout pruning scheduled", "schedule", cfg.PruneSchedule)
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.PruneSchedule, func() {
		n, err := lib.Prune(ctx, time.Now().Add(-after))
		if err != nil {
			logger.Warn("layout prune failed", "error", err)
			return
		}
		logger.Info("layouts pruned", "removed", n)
	}); err != nil {
		return nil, fmt.Errorf("invalid prune_schedule %q: %w", cfg.PruneSchedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
