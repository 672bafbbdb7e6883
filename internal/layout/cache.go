package layout

import (
	"container/list"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/tracelens/internal/diagram"
	"github.com/rendis/tracelens/internal/metrics"
	"github.com/rendis/tracelens/internal/store"
	"github.com/rendis/tracelens/pkg/schema"
)

const defaultCacheCapacity = 64

// Cache memoises layouts by content key. An optional LayoutStore keeps
// results across restarts. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	lru      *list.List

	store  store.LayoutStore
	logger *slog.Logger

	computations atomic.Int64
}

type cacheEntry struct {
	key    string
	layout *PositionedGraph
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCapacity bounds the number of in-memory entries.
func WithCapacity(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithStore adds a persistent second tier.
func WithStore(s store.LayoutStore) CacheOption {
	return func(c *Cache) {
		c.store = s
	}
}

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = l
	}
}

// NewCache creates an empty layout cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		capacity: defaultCacheCapacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return c
}

// Get returns the layout for (g, cfg), computing it only on a miss.
// Store failures are logged and never prevent a layout from being returned.
func (c *Cache) Get(ctx context.Context, g *diagram.Graph, cfg Config) *PositionedGraph {
	key := Key(g, cfg)

	if pg := c.lookup(key); pg != nil {
		metrics.LayoutCacheLookups.WithLabelValues("hit").Inc()
		return pg
	}

	if c.store != nil {
		if pg := c.load(ctx, key); pg != nil {
			metrics.LayoutCacheLookups.WithLabelValues("store_hit").Inc()
			c.insert(key, pg)
			return pg
		}
	}

	metrics.LayoutCacheLookups.WithLabelValues("miss").Inc()
	pg := c.compute(g, cfg)
	c.insert(key, pg)

	if c.store != nil {
		c.save(ctx, key, pg)
	}
	return pg
}

// Computations returns how many times Compute has run through this cache.
func (c *Cache) Computations() int64 {
	return c.computations.Load()
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) compute(g *diagram.Graph, cfg Config) *PositionedGraph {
	started := time.Now()
	pg := Compute(g, cfg)
	c.computations.Add(1)

	metrics.LayoutDuration.Observe(time.Since(started).Seconds())
	metrics.LayoutComputations.WithLabelValues(string(pg.Direction)).Inc()
	for _, d := range pg.Degenerate {
		metrics.LayoutDegenerate.WithLabelValues(d).Inc()
	}
	if len(pg.Degenerate) > 0 {
		c.logger.Debug("degenerate layout placed best-effort",
			"key", pg.Key, "conditions", pg.Degenerate, "nodes", len(pg.Nodes))
	}
	return pg
}

func (c *Cache) lookup(key string) *PositionedGraph {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).layout
}

func (c *Cache) insert(key string, pg *PositionedGraph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.lru.MoveToFront(el)
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, layout: pg})
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *Cache) load(ctx context.Context, key string) *PositionedGraph {
	data, err := c.store.GetLayout(ctx, key)
	if err != nil {
		if !schema.IsCode(err, schema.ErrCodeNotFound) {
			c.logger.Warn("layout store read failed", "key", key, "error", err)
		}
		return nil
	}
	var pg PositionedGraph
	if err := json.Unmarshal(data, &pg); err != nil {
		c.logger.Warn("layout store entry corrupt", "key", key, "error", err)
		return nil
	}
	pg.reindex()
	return &pg
}

func (c *Cache) save(ctx context.Context, key string, pg *PositionedGraph) {
	data, err := json.Marshal(pg)
	if err != nil {
		c.logger.Warn("layout marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.PutLayout(ctx, key, data); err != nil {
		c.logger.Warn("layout store write failed", "key", key, "error", err)
	}
}
