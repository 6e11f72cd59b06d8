// Package redis backs the idempotency gate with a shared Redis instance,
// making locks and cached responses visible across all service instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/relaygate/relaygate/idempotency"
	"github.com/relaygate/relaygate/logger"
)

const (
	lockKeyPrefix  = "idempotency:lock:"
	cacheKeyPrefix = "idempotency:response:"
)

// unlockScript deletes the lock only when the caller's token still owns it,
// atomically, so an expired-and-reacquired lock is never released by the
// previous holder.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is an idempotency.Lock on Redis SET NX PX with an opaque owner token.
type Lock struct {
	client redis.UniversalClient
	logger logger.Logger
}

var _ idempotency.Lock = (*Lock)(nil)
var _ logger.Loggable = (*Lock)(nil)

func NewLock(client redis.UniversalClient) *Lock {
	if client == nil || reflect.ValueOf(client).IsNil() {
		panic("client is mandatory")
	}
	return &Lock{
		client: client,
		logger: &logger.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (l *Lock) SetLogger(lg logger.Logger) {
	l.logger = lg
}

func (l *Lock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("could not acquire the lock for key '%s': %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	l.logger.Debug(fmt.Sprintf("the lock for key '%s' was acquired by %s", key, token))
	return token, true, nil
}

func (l *Lock) Unlock(ctx context.Context, key string, token string) error {
	released, err := unlockScript.Run(ctx, l.client, []string{lockKeyPrefix + key}, token).Int()
	if err != nil {
		return fmt.Errorf("could not release the lock for key '%s': %w", key, err)
	}
	if released == 0 {
		// expired or owned by somebody else; safe to ignore per the contract.
		l.logger.Debug(fmt.Sprintf("the lock for key '%s' was not held by %s", key, token))
		return nil
	}
	l.logger.Debug(fmt.Sprintf("the lock for key '%s' was released by %s", key, token))
	return nil
}

// Cache is an idempotency.Cache storing JSON encoded responses with a PX TTL.
type Cache struct {
	client redis.UniversalClient
	logger logger.Logger
}

var _ idempotency.Cache = (*Cache)(nil)
var _ logger.Loggable = (*Cache)(nil)

func NewCache(client redis.UniversalClient) *Cache {
	if client == nil || reflect.ValueOf(client).IsNil() {
		panic("client is mandatory")
	}
	return &Cache{
		client: client,
		logger: &logger.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (c *Cache) SetLogger(lg logger.Logger) {
	c.logger = lg
}

func (c *Cache) Get(ctx context.Context, key string) (*idempotency.Response, bool, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not read the cached response for key '%s': %w", key, err)
	}
	var r idempotency.Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false, fmt.Errorf("could not decode the cached response for key '%s': %w", key, err)
	}
	return &r, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, r *idempotency.Response, ttl time.Duration) error {
	if ttl <= 0 {
		// explicit no-cache policy, not an error.
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not encode the response for key '%s': %w", key, err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("could not cache the response for key '%s': %w", key, err)
	}
	return nil
}
