// Package memory provides process-local lock and cache backends for the
// idempotency gate.
//
// These implementations only guarantee deduplication within a single service
// instance: two instances with their own memory backends can run the same key
// concurrently. They exist as a degraded fallback and for tests; production
// deployments must use a shared networked backend such as idempotency/redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaygate/relaygate/idempotency"
)

type lockEntry struct {
	token     string
	heldUntil time.Time
}

// Lock is an in-process idempotency.Lock. Expired entries are reclaimed
// lazily on the next TryLock for the same key.
type Lock struct {
	mu      sync.Mutex
	entries map[string]lockEntry
	now     func() time.Time
}

var _ idempotency.Lock = (*Lock)(nil)

func NewLock() *Lock {
	return &Lock{
		entries: make(map[string]lockEntry),
		now:     time.Now,
	}
}

func (l *Lock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok && e.heldUntil.After(l.now()) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.entries[key] = lockEntry{
		token:     token,
		heldUntil: l.now().Add(ttl),
	}
	return token, true, nil
}

func (l *Lock) Unlock(ctx context.Context, key string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok && e.token == token {
		delete(l.entries, key)
	}
	// a mismatched, absent or expired lock is not ours to release; per the
	// contract unlocking it is safe and silent.
	return nil
}

type cacheEntry struct {
	response  *idempotency.Response
	expiresAt time.Time
}

// Cache is an in-process idempotency.Cache with lazy eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

var _ idempotency.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *Cache) Get(ctx context.Context, key string) (*idempotency.Response, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.After(c.now()) {
		c.mu.Lock()
		// a Put may have refreshed the entry between the two locks; only an
		// entry that is still expired is evicted.
		if e, ok := c.entries[key]; ok && !e.expiresAt.After(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.response, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, r *idempotency.Response, ttl time.Duration) error {
	if ttl <= 0 {
		// explicit no-cache policy, not an error.
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		response:  r,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}
