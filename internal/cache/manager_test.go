package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.NotNil(t, manager.redis)
	assert.NotNil(t, manager.logger)
}

func TestNewManager_ConnectFailure(t *testing.T) {
	manager, err := NewManager(Config{Addr: "localhost:1"}, nil)
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))

	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	raw, err := mr.Get("test:k")
	require.NoError(t, err)
	assert.Equal(t, "v", raw, "key is stored with prefix")
}

func TestManager_DefaultTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)

	require.NoError(t, manager.Set(context.Background(), "k", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))
}

func TestManager_Miss(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, err := manager.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.True(t, IsCacheMiss(fmt.Errorf("wrapped: %w", err)))
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", 0))
	require.NoError(t, manager.Set(ctx, "b", "2", 0))
	require.NoError(t, manager.Delete(ctx, "a", "b"))
	require.NoError(t, manager.Delete(ctx))

	_, err := manager.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type entry struct {
		Text  string `json:"text"`
		Count int    `json:"count"`
	}

	require.NoError(t, manager.SetJSON(ctx, "j", entry{Text: "hi", Count: 2}, 0))

	var got entry
	require.NoError(t, manager.GetJSON(ctx, "j", &got))
	assert.Equal(t, entry{Text: "hi", Count: 2}, got)

	require.NoError(t, manager.Set(ctx, "bad", "not json", 0))
	assert.Error(t, manager.GetJSON(ctx, "bad", &got))

	assert.Error(t, manager.SetJSON(ctx, "chan", make(chan int), 0))
}

func TestManager_TTLExpiry(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "ttl", "value", 100*time.Millisecond))
	mr.FastForward(200 * time.Millisecond)

	_, err := manager.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_Stats(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	assert.Equal(t, 0.0, manager.Stats().HitRate())

	require.NoError(t, manager.Set(ctx, "k", "v", 0))
	_, _ = manager.Get(ctx, "k")
	_, _ = manager.Get(ctx, "k")
	_, _ = manager.Get(ctx, "absent")

	stats := manager.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", id)
			assert.NoError(t, manager.Set(ctx, key, "value", time.Minute))
			value, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", value)
		}(i)
	}
	wg.Wait()
}
