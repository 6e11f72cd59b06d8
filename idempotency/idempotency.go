package idempotency

import (
	"context"
	"net/http"
	"time"
)

// Response is a cached HTTP response: status, headers and body are replayed
// byte-for-byte on key reuse.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// Lock is an atomic, TTL-bounded mutual exclusion primitive keyed by string.
//
// Implementations backing production deployments must be shared across all
// service instances (a networked KV store); a process-local implementation
// only provides the guarantee within a single instance and is a degraded,
// test-only mode.
type Lock interface {
	// TryLock atomically creates the lock if absent, with the given expiry.
	// It is a single attempt: on contention it returns ok=false immediately,
	// it never blocks or retries. On success it returns an opaque owner
	// token that must be presented to Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases the lock only if token matches the current owner.
	// Unlocking an absent or expired lock is safe and not an error.
	Unlock(ctx context.Context, key string, token string) error
}

// Cache is a TTL-bounded store mapping an idempotency key to a previously
// produced response.
type Cache interface {
	// Get returns the unexpired entry for the key, if any. Expired entries
	// are treated as absent.
	Get(ctx context.Context, key string) (*Response, bool, error)

	// Put stores the response under the key with the given TTL. A TTL <= 0
	// means an explicit no-cache policy and Put does nothing.
	Put(ctx context.Context, key string, r *Response, ttl time.Duration) error
}
