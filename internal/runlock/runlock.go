// Package runlock serializes whole pipeline runs, either within one process
// or across replicas sharing a Redis instance.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jensholdgaard/tradewatch/internal/config"
)

// ErrHeld is returned by TryLock when another holder owns the lock.
var ErrHeld = errors.New("run lock is held")

// Locker grants exclusive ownership of the pipeline without waiting.
type Locker interface {
	// TryLock acquires the lock or returns ErrHeld. The returned function
	// releases it.
	TryLock(ctx context.Context) (release func(context.Context) error, err error)
}

// New returns the Locker selected by cfg.Driver.
func New(ctx context.Context, cfg config.LockConfig) (Locker, func() error, error) {
	switch cfg.Driver {
	case "", "local":
		return &Local{}, func() error { return nil }, nil
	case "redis":
		r, err := NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.Key, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock driver %q", cfg.Driver)
	}
}

// Local is an in-process Locker.
type Local struct {
	mu sync.Mutex
}

// TryLock implements Locker.
func (l *Local) TryLock(_ context.Context) (func(context.Context) error, error) {
	if !l.mu.TryLock() {
		return nil, ErrHeld
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX on a single key. The TTL bounds
// how long a crashed holder can block other replicas.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string, db int, key string, ttl time.Duration) (*Redis, error) {
	const op = "runlock.NewRedis"

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Redis{client: rdb, key: key, ttl: ttl}, nil
}

// TryLock implements Locker.
func (r *Redis) TryLock(ctx context.Context) (func(context.Context) error, error) {
	const op = "runlock.Redis.TryLock"

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("runlock.Redis.release: %w", err)
		}
		return nil
	}, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
