package store

import (
	"context"

	"github.com/rendis/tracelens/pkg/schema"
)

// LayoutStore persists serialized layouts by content key.
// All implementations must be safe for concurrent use.
type LayoutStore interface {
	// GetLayout returns the stored bytes, or a NOT_FOUND error.
	GetLayout(ctx context.Context, key string) ([]byte, error)
	PutLayout(ctx context.Context, key string, data []byte) error
	DeleteLayout(ctx context.Context, key string) error
	Close() error
}

func notFound(key string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "layout %s not found", key)
}
