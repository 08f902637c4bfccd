package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/config"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

const (
	DefaultLockTTL    = 30 * time.Second
	DefaultRetryDelay = 100 * time.Millisecond
	DefaultMaxRetries = 50
)

// Releases the key only when it still holds our token.
var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a Locker shared by every engine process pointed at the same
// Redis. Keys expire after the TTL so a crashed holder cannot block forever.
type RedisLocker struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
	clock      clock.Clock
	log        *logrus.Entry
}

// NewRedisLocker wraps client using the lock settings from cfg. A nil clk
// uses the wall clock for retry waits.
func NewRedisLocker(client *redis.Client, cfg config.LockConfig, clk clock.Clock, log *logrus.Entry) *RedisLocker {
	if clk == nil {
		clk = clock.WallClock
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLockTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &RedisLocker{
		client:     client,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.TTL,
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
		clock:      clk,
		log:        log,
	}
}

// Lock acquires the key, retrying until MaxRetries attempts are used up.
// Exhausting the retries returns an error wrapping utils.ErrLockNotAcquired.
func (l *RedisLocker) Lock(ctx context.Context, key models.IdentityKey) (func(), error) {
	redisKey := l.prefix + string(key)
	token := uuid.New().String()

	for i := range l.maxRetries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", utils.ErrLockNotAcquired, redisKey, err)
		}
		if acquired {
			return l.releaser(redisKey, token), nil
		}

		if i < l.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-l.clock.After(l.retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("%w: %s held by another process after %d attempts", utils.ErrLockNotAcquired, redisKey, l.maxRetries)
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	return func() {
		// The caller's context may already be cancelled; release must still reach Redis.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		result, err := unlockScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			l.log.WithError(err).WithField("key", redisKey).Warn("Failed to release identity lock")
		case result == 0:
			l.log.WithField("key", redisKey).Warn("Identity lock expired before release")
		}
	}
}

// Close closes the Redis client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// New returns a RedisLocker when cfg names a Redis URL, otherwise a KeyedMutex
func New(ctx context.Context, cfg config.LockConfig, clk clock.Clock, log *logrus.Entry) (Locker, error) {
	if cfg.RedisURL == "" {
		return NewKeyedMutex(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid lock.redis_url: %w", utils.ErrConfigValidation, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", utils.ErrLockNotAcquired, err)
	}
	log.WithField("addr", opts.Addr).Info("Using Redis for identity key locking")
	return NewRedisLocker(client, cfg, clk, log), nil
}
