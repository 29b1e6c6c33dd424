package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory() (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(time.Minute)
	m.now = clock.now
	return m, clock
}

func TestMemorySetAndGet(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()

	require.NoError(t, m.Set(ctx, "key1", []byte("value1"), 0))
	v, err := m.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), v)

	_, err = m.Get(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Delete(ctx, "key1"))
	_, err = m.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryExpiration(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()

	require.NoError(t, m.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "default", []byte("v"), 0))

	clock.advance(20 * time.Millisecond)
	_, err := m.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get(ctx, "default")
	assert.NoError(t, err)

	clock.advance(time.Minute)
	_, err = m.Get(ctx, "default")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryCleanupExpired(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()

	require.NoError(t, m.Set(ctx, "expired1", []byte("1"), 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "expired2", []byte("2"), 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "valid", []byte("3"), time.Hour))

	clock.advance(20 * time.Millisecond)
	m.CleanupExpired()
	assert.Equal(t, 1, m.Len())
}

func TestMemoryConcurrency(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	var wg sync.WaitGroup
	const concurrency = 100

	for i := 0; i < concurrency; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = m.Set(ctx, fmt.Sprintf("key%d", i), []byte{byte(i)}, 0)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = m.Get(ctx, fmt.Sprintf("key%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		_, err := m.Get(ctx, fmt.Sprintf("key%d", i))
		assert.NoError(t, err)
	}
}

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisWithClient(client, "", time.Minute)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisSetGetDelete(t *testing.T) {
	ctx := context.Background()
	r, mr := setupRedis(t)

	require.NoError(t, r.Set(ctx, "describe:shop.order", []byte(`{"fields":[]}`), 0))
	assert.True(t, mr.Exists("radmin:describe:shop.order"))
	assert.Equal(t, time.Minute, mr.TTL("radmin:describe:shop.order"))

	v, err := r.Get(ctx, "describe:shop.order")
	require.NoError(t, err)
	assert.JSONEq(t, `{"fields":[]}`, string(v))

	require.NoError(t, r.Delete(ctx, "describe:shop.order"))
	_, err = r.Get(ctx, "describe:shop.order")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisExpiration(t *testing.T) {
	ctx := context.Background()
	r, mr := setupRedis(t)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)
	_, err := r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: "p:"})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Set(context.Background(), "k", []byte("v"), 0))
	assert.True(t, mr.Exists("p:k"))

	_, err = NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	var out map[string]int
	hit, err := GetJSON(ctx, m, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, SetJSON(ctx, m, "k", map[string]int{"a": 1}, 0))
	hit, err = GetJSON(ctx, m, "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, map[string]int{"a": 1}, out)

	require.NoError(t, m.Set(ctx, "bad", []byte("{"), 0))
	hit, err = GetJSON(ctx, m, "bad", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, m.Len())
}
