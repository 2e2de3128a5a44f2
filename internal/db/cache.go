package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Cache wraps the shared Redis client. The server uses it for locks that must
// hold across processes.
type Cache struct {
	RDB *redis.Client

	// RetryEvery is how often Lock polls a held key.
	RetryEvery time.Duration
}

func InitCache(ctx context.Context, addr, password string, database int) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}

	return &Cache{RDB: rdb, RetryEvery: 50 * time.Millisecond}, nil
}

// Lock takes a TTL-bound lock on key, waiting until it is free or ctx is
// done. The returned func releases it.
func (c *Cache) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	for {
		ok, err := c.RDB.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
		case <-time.After(c.RetryEvery):
		}
	}

	return func() {
		_ = unlockScript.Run(context.Background(), c.RDB, []string{key}, token).Err()
	}, nil
}

func (c *Cache) Close() error {
	return c.RDB.Close()
}
