package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestValkeyCache(t *testing.T) (*ValkeyCache, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := NewValkeyCache(mr.Addr())
	require.NoError(t, err)

	return c, mr.Close
}

func TestValkeyCacheSetGet(t *testing.T) {
	c, closeFn := newTestValkeyCache(t)
	defer closeFn()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}

func TestValkeyCacheMissReturnsFalseNoError(t *testing.T) {
	c, closeFn := newTestValkeyCache(t)
	defer closeFn()

	_, ok, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValkeyCacheSetWithTTL(t *testing.T) {
	c, closeFn := newTestValkeyCache(t)
	defer closeFn()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValkeyCacheDelete(t *testing.T) {
	c, closeFn := newTestValkeyCache(t)
	defer closeFn()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValkeyCachePing(t *testing.T) {
	c, closeFn := newTestValkeyCache(t)
	defer closeFn()

	require.NoError(t, c.Ping(context.Background()))
}

func TestNewValkeyCacheRequiresAddr(t *testing.T) {
	_, err := NewValkeyCache("")
	require.Error(t, err)
}
