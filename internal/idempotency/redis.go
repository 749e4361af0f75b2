package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned when the breaker is open and Redis is not asked
var ErrUnavailable = errors.New("idempotency store unavailable")

// RedisStore remembers responses of requests carrying an idempotency key.
// Every call goes through a circuit breaker so a failing Redis is skipped
// quickly instead of slowing every request down.
type RedisStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewRedisStore creates a store. ttl bounds how long responses are
// remembered and lockTTL how long an in-flight key is held.
func NewRedisStore(rdb *redis.Client, ttl, lockTTL time.Duration) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		ttl:     ttl,
		lockTTL: lockTTL,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "redis-idempotency",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func lockKey(scope, key string) string  { return "idemp:" + scope + ":" + key }
func valueKey(scope, key string) string { return "idemp:map:" + scope + ":" + key }

// TryLock claims key for one in-flight request. It reports false when another
// request already holds it.
func (s *RedisStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	res, err := s.execute(func() ([]byte, error) {
		ok, err := s.rdb.SetNX(ctx, lockKey(scope, key), "1", s.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return []byte{1}, nil
		}
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	return len(res) == 1, nil
}

// Release frees the lock after a failed request so the client may retry
func (s *RedisStore) Release(ctx context.Context, scope, key string) error {
	_, err := s.execute(func() ([]byte, error) {
		return nil, s.rdb.Del(ctx, lockKey(scope, key)).Err()
	})
	return err
}

// Remember stores the response body of a successful request
func (s *RedisStore) Remember(ctx context.Context, scope, key string, body []byte) error {
	_, err := s.execute(func() ([]byte, error) {
		return nil, s.rdb.Set(ctx, valueKey(scope, key), body, s.ttl).Err()
	})
	return err
}

// Recall returns a remembered response body
func (s *RedisStore) Recall(ctx context.Context, scope, key string) ([]byte, bool, error) {
	res, err := s.execute(func() ([]byte, error) {
		val, err := s.rdb.Get(ctx, valueKey(scope, key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return nil, false, err
	}
	return res, res != nil, nil
}

func (s *RedisStore) execute(fn func() ([]byte, error)) ([]byte, error) {
	res, err := s.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return res, nil
}
