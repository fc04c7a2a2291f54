// Package cache holds the Redis-backed stores used by the HTTP middleware.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration
type Config struct {
	URL              string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	IdempotencyTTL   time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	WebhookRateLimit int64         `envconfig:"WEBHOOK_RATE_LIMIT" default:"600"`
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("redis connection established", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// IdempotencyStore keeps replayable responses in Redis. A key holds
// pendingValue while its first request runs.
type IdempotencyStore struct {
	client redis.Cmdable
}

func NewIdempotencyStore(client redis.Cmdable) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

const pendingValue = "pending"

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

// Reserve claims key with SET NX. A lost claim reads the holder's value.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string, lease time.Duration) ([]byte, bool, error) {
	k := idempotencyKey(key)
	ok, err := s.client.SetNX(ctx, k, pendingValue, lease).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserving idempotency key: %w", err)
	}
	if ok {
		return nil, true, nil
	}

	b, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// the holder released between the two calls
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading idempotency key: %w", err)
	}
	if string(b) == pendingValue {
		return nil, false, nil
	}
	return b, false, nil
}

func (s *IdempotencyStore) Set(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, idempotencyKey(key), response, ttl).Err(); err != nil {
		return fmt.Errorf("writing idempotency key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(key)).Err(); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}

// RateLimiter is a fixed-window counter shared by every replica.
type RateLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(client redis.Cmdable, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (l *RateLimiter) windowKey(key string) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, l.now().UnixNano()/int64(l.window))
}

// Allow increments the caller's counter for the current window.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.windowKey(key)
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("incrementing rate counter: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("expiring rate counter: %w", err)
		}
	}
	return n <= l.limit, nil
}
