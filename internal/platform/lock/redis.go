package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Prefix string
	// TTL bounds how long a crashed holder can block a key.
	TTL   time.Duration
	Wait  time.Duration
	Retry time.Duration
}

// RedisLocker implements Locker with SET NX PX. Calls go through a circuit
// breaker; while Redis is failing, acquisition falls back to the fallback
// Locker when one is configured.
type RedisLocker struct {
	client   redis.Cmdable
	cfg      RedisConfig
	cb       *gobreaker.CircuitBreaker
	fallback Locker
	logger   zerolog.Logger
}

func NewRedisLocker(client redis.Cmdable, cfg RedisConfig, cb *gobreaker.CircuitBreaker, fallback Locker, logger zerolog.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "medbook:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg, cb: cb, fallback: fallback, logger: logger}
}

func (l *RedisLocker) trySet(ctx context.Context, key, token string) (bool, error) {
	set := func() (interface{}, error) {
		return l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
	}
	var res interface{}
	var err error
	if l.cb != nil {
		res, err = l.cb.Execute(set)
	} else {
		res, err = set()
	}
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	full := l.cfg.Prefix + key
	token := uuid.NewString()

	var deadline time.Time
	if l.cfg.Wait > 0 {
		deadline = time.Now().Add(l.cfg.Wait)
	}

	for {
		ok, err := l.trySet(ctx, full, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if l.fallback != nil {
				l.logger.Warn().Err(err).Str("key", key).
					Bool("breaker_open", errors.Is(err, gobreaker.ErrOpenState)).
					Msg("redis lock unavailable, using local lock")
				return l.fallback.Acquire(ctx, key)
			}
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(full, token), nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		t := time.NewTimer(l.cfg.Retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn().Err(err).Str("key", key).Msg("release redis lock")
			}
		})
	}
}
