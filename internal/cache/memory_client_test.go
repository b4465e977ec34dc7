package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetlab/bloodwork-analyzer/internal/config"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

func TestMemoryClient_GetSetDelete(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, DiagnosticKey("DGN-001"))
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, c.Set(ctx, DiagnosticKey("DGN-001"), []byte(`{"status":"COMPLETED"}`), time.Minute))
	got, err := c.Get(ctx, DiagnosticKey("DGN-001"))
	require.NoError(t, err)
	assert.Equal(t, `{"status":"COMPLETED"}`, string(got))

	require.NoError(t, c.Delete(ctx, DiagnosticKey("DGN-001")))
	_, err = c.Get(ctx, DiagnosticKey("DGN-001"))
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestMemoryClient_Expiry(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	c.purgeExpired()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryClient_EvictsEarliestExpiry(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Hour))

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "short")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	// overwriting an existing key does not evict
	require.NoError(t, c.Set(ctx, "long", []byte("4"), time.Hour))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryClient_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryClient(1)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestOpen(t *testing.T) {
	c, err := Open(context.Background(), config.CacheConfig{Driver: "memory", MaxEntries: 5})
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &MemoryClient{}, c)

	_, err = Open(context.Background(), config.CacheConfig{Driver: "memcached"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "diagnostic:DGN-007", DiagnosticKey("DGN-007"))
	assert.Equal(t, "a:b:c", CacheKey("a", "b", "c"))
}
