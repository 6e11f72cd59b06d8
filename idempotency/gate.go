package idempotency

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relaygate/relaygate/logger"
	"github.com/relaygate/relaygate/metrics"
)

// KeyHeader is the request header carrying the caller-supplied idempotency key.
const KeyHeader = "Idempotency-Key"

const (
	defaultLockTTL  time.Duration = time.Second * 30
	defaultCacheTTL time.Duration = time.Hour
)

// Settings holds the gate configuration.
type Settings struct {
	LockTTL  time.Duration // expiry of the processing lock if the holder crashes
	CacheTTL time.Duration // retention of replayable responses; <= 0 disables caching
}

// validateSettings validates the established settings and sets defaults if
// needed. A zero CacheTTL is replaced by the default; explicit no-cache
// behavior is requested with a negative value.
func validateSettings(s *Settings) {
	if s.LockTTL <= 0 {
		s.LockTTL = defaultLockTTL
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = defaultCacheTTL
	}
}

// Gate deduplicates externally retried mutating requests and serializes
// concurrent duplicates, composing a distributed Lock and a response Cache.
//
// The protected route requires an Idempotency-Key header; a missing key is
// rejected with 400 (fail closed, the request never reaches business logic
// unprotected). A completed key replays the stored response verbatim; a key
// currently in flight elsewhere yields 409.
type Gate struct {
	lock     Lock
	cache    Cache
	settings Settings
	logger   logger.Logger

	hits       metrics.Counter
	misses     metrics.Counter
	missingKey metrics.Counter
	conflicts  metrics.Counter
}

// GateOption allows optional configuration.
type GateOption func(g *Gate)

// WithLogger allows clients to configure an optional logger.
func WithLogger(l logger.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics allows clients to configure an optional metrics factory
// for observability.
func WithMetrics(m metrics.Factory) GateOption {
	return func(g *Gate) {
		if m != nil {
			g.hits = m.Counter("idempotency_hits", nil)
			g.misses = m.Counter("idempotency_misses", nil)
			g.missingKey = m.Counter("idempotency_missing_key", nil)
			g.conflicts = m.Counter("idempotency_conflicts", nil)
		}
	}
}

// NewGate creates a Gate over the provided lock and cache backends.
func NewGate(s Settings, l Lock, c Cache, options ...GateOption) *Gate {
	if l == nil || c == nil {
		panic("you must provide a lock and a cache")
	}

	validateSettings(&s)

	g := &Gate{
		lock:       l,
		cache:      c,
		settings:   s,
		logger:     &logger.NopLogger{},
		hits:       &metrics.NopCounter{},
		misses:     &metrics.NopCounter{},
		missingKey: &metrics.NopCounter{},
		conflicts:  &metrics.NopCounter{},
	}

	for _, opt := range options {
		opt(g)
	}

	for _, a := range []any{l, c} {
		if lg, ok := a.(logger.Loggable); ok {
			lg.SetLogger(g.logger)
		}
	}

	return g
}

// Wrap protects a mutating handler with the idempotency state machine.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// a whitespace-only key is as useless as an absent one.
		key := strings.TrimSpace(r.Header.Get(KeyHeader))
		if key == "" {
			g.missingKey.Inc(1)
			g.logger.Warn(fmt.Sprintf("%s header is missing for %s %s", KeyHeader, r.Method, r.URL.Path))
			writeError(w, http.StatusBadRequest, KeyHeader+" header is missing or empty.")
			return
		}

		// A hit means this exact key already completed: replay the stored
		// response without re-running business logic or taking the lock.
		if cached, ok, err := g.cache.Get(ctx, key); err != nil {
			g.logger.Error(fmt.Sprintf("reading cached response for key '%s'", key), err)
		} else if ok {
			g.hits.Inc(1)
			g.logger.Debug(fmt.Sprintf("replaying cached response for key '%s'", key))
			replay(w, cached)
			return
		}

		token, acquired, err := g.lock.TryLock(ctx, key, g.settings.LockTTL)
		if err != nil {
			g.logger.Error(fmt.Sprintf("acquiring lock for key '%s'", key), err)
			writeError(w, http.StatusInternalServerError, "Unable to acquire the idempotency lock.")
			return
		}
		if !acquired {
			g.conflicts.Inc(1)
			g.logger.Warn(fmt.Sprintf("concurrent request detected for key '%s'", key))
			writeError(w, http.StatusConflict, "A request with this Idempotency-Key is already being processed.")
			return
		}

		// Always release on every exit path: success, handler panic, cache
		// write failure.
		defer func() {
			if err := g.lock.Unlock(ctx, key, token); err != nil {
				g.logger.Error(fmt.Sprintf("releasing lock for key '%s'", key), err)
			}
		}()

		// Somebody may have completed this key between the cache check and
		// the lock acquisition; replay in that case (and still unlock).
		if cached, ok, err := g.cache.Get(ctx, key); err != nil {
			g.logger.Error(fmt.Sprintf("re-reading cached response for key '%s'", key), err)
		} else if ok {
			g.hits.Inc(1)
			replay(w, cached)
			return
		}

		rec := newRecorder(w)
		next.ServeHTTP(rec, r)

		// Only terminal successful completions become replayable; a failure
		// stores nothing so the next attempt starts fresh.
		if rec.status >= 200 && rec.status < 300 {
			g.misses.Inc(1)
			resp := &Response{
				Status: rec.status,
				Header: rec.Header().Clone(),
				Body:   rec.body.Bytes(),
			}
			if err := g.cache.Put(ctx, key, resp, g.settings.CacheTTL); err != nil {
				g.logger.Error(fmt.Sprintf("caching response for key '%s'", key), err)
			}
		}
	})
}

func replay(w http.ResponseWriter, r *Response) {
	for name, values := range r.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(fmt.Sprintf(`{"error":%q}`, msg)))
}
