package redis

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/relaygate/relaygate/idempotency"
	"github.com/stretchr/testify/assert"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNewLock(t *testing.T) {
	_, client := newTestClient(t)

	assert.Panics(t, func() { NewLock(nil) })
	assert.Panics(t, func() { NewLock((*redis.Client)(nil)) })
	assert.NotPanics(t, func() { NewLock(client) })
}

func TestNewCache(t *testing.T) {
	_, client := newTestClient(t)

	assert.Panics(t, func() { NewCache(nil) })
	assert.Panics(t, func() { NewCache((*redis.Client)(nil)) })
	assert.NotPanics(t, func() { NewCache(client) })
}

func TestLock(t *testing.T) {
	ctx := context.Background()

	t.Run("a free key is acquired with a fresh token", func(t *testing.T) {
		mr, client := newTestClient(t)
		l := NewLock(client)

		token, acquired, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, acquired)
		assert.NotEmpty(t, token)

		got, err := mr.Get(lockKeyPrefix + "key-1")
		assert.NoError(t, err)
		assert.Equal(t, token, got)
	})

	t.Run("a held key is refused without blocking", func(t *testing.T) {
		_, client := newTestClient(t)
		l := NewLock(client)

		_, acquired, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, acquired)

		token, acquired, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)
		assert.False(t, acquired)
		assert.Empty(t, token)
	})

	t.Run("an expired key is reclaimed", func(t *testing.T) {
		mr, client := newTestClient(t)
		l := NewLock(client)

		first, acquired, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, acquired)

		mr.FastForward(time.Minute + time.Second)

		second, acquired, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, acquired)
		assert.NotEqual(t, first, second)
	})

	t.Run("unlock with the owner token releases", func(t *testing.T) {
		mr, client := newTestClient(t)
		l := NewLock(client)

		token, _, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)

		assert.NoError(t, l.Unlock(ctx, "key-1", token))
		assert.False(t, mr.Exists(lockKeyPrefix+"key-1"))
	})

	t.Run("unlock with a stale token leaves the lock held", func(t *testing.T) {
		mr, client := newTestClient(t)
		l := NewLock(client)

		_, _, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)

		assert.NoError(t, l.Unlock(ctx, "key-1", "not-the-owner"))
		assert.True(t, mr.Exists(lockKeyPrefix+"key-1"))

		_, acquired, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)
		assert.False(t, acquired)
	})

	t.Run("an expired and reacquired lock is never released by the previous holder", func(t *testing.T) {
		mr, client := newTestClient(t)
		l := NewLock(client)

		first, _, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)

		mr.FastForward(time.Minute + time.Second)
		_, acquired, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, acquired)

		assert.NoError(t, l.Unlock(ctx, "key-1", first))
		assert.True(t, mr.Exists(lockKeyPrefix+"key-1"))
	})

	t.Run("an unreachable backend surfaces the error", func(t *testing.T) {
		mr, client := newTestClient(t)
		l := NewLock(client)
		mr.Close()

		_, acquired, err := l.TryLock(ctx, "key-1", time.Minute)
		assert.Error(t, err)
		assert.False(t, acquired)
	})
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	resp := &idempotency.Response{
		Status: http.StatusCreated,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"orderId":"1"}`),
	}

	t.Run("a stored response round trips", func(t *testing.T) {
		_, client := newTestClient(t)
		c := NewCache(client)

		assert.NoError(t, c.Put(ctx, "key-1", resp, time.Minute))

		got, ok, err := c.Get(ctx, "key-1")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, resp, got)
	})

	t.Run("an absent key is a miss, not an error", func(t *testing.T) {
		_, client := newTestClient(t)
		c := NewCache(client)

		got, ok, err := c.Get(ctx, "nope")
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("an expired entry is a miss", func(t *testing.T) {
		mr, client := newTestClient(t)
		c := NewCache(client)

		assert.NoError(t, c.Put(ctx, "key-1", resp, time.Minute))
		mr.FastForward(time.Minute + time.Second)

		_, ok, err := c.Get(ctx, "key-1")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("a non positive ttl stores nothing", func(t *testing.T) {
		mr, client := newTestClient(t)
		c := NewCache(client)

		assert.NoError(t, c.Put(ctx, "key-1", resp, 0))
		assert.NoError(t, c.Put(ctx, "key-2", resp, -time.Second))
		assert.False(t, mr.Exists(cacheKeyPrefix+"key-1"))
		assert.False(t, mr.Exists(cacheKeyPrefix+"key-2"))
	})

	t.Run("an undecodable stored value surfaces the error", func(t *testing.T) {
		mr, client := newTestClient(t)
		c := NewCache(client)

		assert.NoError(t, mr.Set(cacheKeyPrefix+"key-1", "not json"))

		_, ok, err := c.Get(ctx, "key-1")
		assert.Error(t, err)
		assert.False(t, ok)
	})
}
