package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process LayoutStore.
type MemoryStore struct {
	mu      sync.RWMutex
	layouts map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{layouts: make(map[string][]byte)}
}

func (s *MemoryStore) GetLayout(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.layouts[key]
	if !ok {
		return nil, notFound(key)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) PutLayout(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) DeleteLayout(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.layouts, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ LayoutStore = (*MemoryStore)(nil)
