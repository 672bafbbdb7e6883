package layout

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/rendis/tracelens/internal/diagram"
	"github.com/rendis/tracelens/internal/metrics"
)

// Result is a layout tagged with the topology version it was requested for.
type Result struct {
	Version uint64
	Layout  *PositionedGraph
}

// Scheduler runs layouts off the caller's goroutine. Each Submit supersedes
// any request still in flight; superseded results are dropped silently.
//
// It is an API for programs embedding the renderer that must not block on
// layout, wired through render.Deps.Scheduler. The panel, the MCP tools and
// the CLI lay out synchronously through the shared Cache and do not create
// one.
type Scheduler struct {
	cache  *Cache
	logger *slog.Logger

	mu      sync.Mutex
	version uint64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler that computes through cache.
func NewScheduler(cache *Cache, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Scheduler{cache: cache, logger: logger}
}

// Submit requests a layout for the given topology version. deliver is
// called from a background goroutine, and only if no newer version was
// submitted before the layout finished.
func (s *Scheduler) Submit(ctx context.Context, version uint64, g *diagram.Graph, cfg Config, deliver func(Result)) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	s.version = version
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pg := s.cache.Get(reqCtx, g, cfg)

		s.mu.Lock()
		current := s.version == version && reqCtx.Err() == nil
		s.mu.Unlock()
		if !current {
			metrics.LayoutStale.Inc()
			s.logger.Debug("stale layout dropped", "version", version, "key", pg.Key)
			return
		}
		deliver(Result{Version: version, Layout: pg})
	}()
}

// Version returns the most recently submitted topology version.
func (s *Scheduler) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Wait blocks until all submitted layouts have finished or been dropped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close cancels the request in flight, if any.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
