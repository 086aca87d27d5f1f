package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService implements Service over a Redis instance.
// Every call carries a fixed short timeout so an unreachable Redis cannot
// stall the orchestration path.
type RedisService struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a RedisService.
type RedisOption func(*RedisService)

// WithTimeout overrides the per-operation timeout.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRedisService creates a Redis-backed queue service. The connection is
// lazy; use Ping to probe reachability.
func NewRedisService(addr string, opts ...RedisOption) *RedisService {
	s := &RedisService{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// SetNX atomically sets key to value only if the key is absent.
func (s *RedisService) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	return ok, nil
}

// Push appends a payload to a named queue.
func (s *RedisService) Push(ctx context.Context, queueName string, payload []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.RPush(ctx, queueName, payload).Err(); err != nil {
		return fmt.Errorf("%w: push %s: %v", ErrUnavailable, queueName, err)
	}
	return nil
}

// Read pops up to max payloads from a named queue.
func (s *RedisService) Read(ctx context.Context, queueName string, max int64) ([][]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values, err := s.client.LPopCount(ctx, queueName, int(max)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, queueName, err)
	}

	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

// Ping probes connectivity.
func (s *RedisService) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisService) Close() error {
	return s.client.Close()
}

// Compile-time interface check
var _ Service = (*RedisService)(nil)
