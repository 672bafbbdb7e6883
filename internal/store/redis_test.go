package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_Contract(t *testing.T) {
	s, _ := newTestRedis(t)
	runLayoutStoreContract(t, s)
}

func TestRedisStore_PrefixAndTTL(t *testing.T) {
	s, mr := newTestRedis(t, WithPrefix("test:"), WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.PutLayout(ctx, "abc", []byte(`{}`)))
	assert.True(t, mr.Exists("test:abc"))
	assert.Equal(t, time.Minute, mr.TTL("test:abc"))

	mr.FastForward(2 * time.Minute)
	_, err := s.GetLayout(ctx, "abc")
	assert.Error(t, err)
}
