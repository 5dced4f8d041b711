package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBacking(t *testing.T) (*RedisBacking, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	backing, err := NewRedisBacking(RedisConfig{
		Addr:      mr.Addr(),
		Namespace: "lexcache-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })
	return backing, mr
}

func TestRedisBacking_StoreFetchDelete(t *testing.T) {
	backing, _ := newTestBacking(t)
	ctx := context.Background()

	require.NoError(t, backing.Store(ctx, "k1", []byte("v1"), time.Minute))

	val, err := backing.Fetch(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	t.Run("miss returns nil", func(t *testing.T) {
		val, err := backing.Fetch(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	require.NoError(t, backing.Delete(ctx, "k1"))
	val, err = backing.Fetch(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisBacking_TTL(t *testing.T) {
	backing, mr := newTestBacking(t)
	ctx := context.Background()

	require.NoError(t, backing.Store(ctx, "expiring", []byte("v"), time.Minute))

	mr.FastForward(2 * time.Minute)

	val, err := backing.Fetch(ctx, "expiring")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisBacking_Flush(t *testing.T) {
	backing, _ := newTestBacking(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, backing.Store(ctx, key, []byte("v"), time.Minute))
	}

	require.NoError(t, backing.Flush(ctx))

	for _, key := range []string{"a", "b", "c"} {
		val, err := backing.Fetch(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, val)
	}
}

func TestStore_ReadThroughFromBacking(t *testing.T) {
	backing, _ := newTestBacking(t)
	ctx := context.Background()

	meta := Metadata{RequestType: RequestComplianceCheck, UserID: "u1"}

	// First process writes through to the backing.
	first := newTestStore(t, func(cfg *StoreConfig) { cfg.Backing = backing })
	comp := completionOfSize(200)
	_, err := first.Set(ctx, "compliance question", "", meta, comp, time.Hour)
	require.NoError(t, err)

	// A fresh store (simulating a restart) restores the entry on read.
	second := NewStore(StoreConfig{SweepInterval: 0, Backing: backing})
	got, ok := second.Get(ctx, "compliance question", "", meta)
	require.True(t, ok, "entry should be restored from the backing")
	assert.Equal(t, comp.Content, got.Content)
	assert.Equal(t, 1, second.Len())
}

func TestStore_InvalidationReachesBacking(t *testing.T) {
	backing, _ := newTestBacking(t)
	ctx := context.Background()

	s := newTestStore(t, func(cfg *StoreConfig) { cfg.Backing = backing })
	e, err := s.Set(ctx, "will be purged", "", Metadata{UserID: "u1"}, completionOfSize(50), time.Hour)
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, 1, s.InvalidateByUser("u1"))

	val, err := backing.Fetch(ctx, e.Key)
	require.NoError(t, err)
	assert.Nil(t, val, "backing copy should be deleted too")
}
