package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// reserveScript increments the window counter only while it is below the
// limit and sets its expiry on first use. Returns {count, allowed}.
var reserveScript = redis.NewScript(`
	local count = tonumber(redis.call('GET', KEYS[1]) or '0')
	local limit = tonumber(ARGV[1])

	if count >= limit then
		return {count, 0}
	end

	count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIREAT', KEYS[1], ARGV[2])
	end
	return {count, 1}
`)

// releaseScript decrements a live, positive counter. Returns the new count.
var releaseScript = redis.NewScript(`
	local count = tonumber(redis.call('GET', KEYS[1]) or '0')
	if count <= 0 then
		return 0
	end
	return redis.call('DECR', KEYS[1])
`)

// RedisLimiter stores one counter per key and window, so every instance
// sharing the Redis database sees the same counts.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter connects to redisURL and verifies the connection.
func NewRedisLimiter(redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisLimiterWithClient(client, limit, window, nil), nil
}

// NewRedisLimiterWithClient wraps an existing client.
func NewRedisLimiterWithClient(client *redis.Client, limit int, window time.Duration, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, limit: int64(limit), window: window, now: now}
}

func (r *RedisLimiter) redisKey(key string, start time.Time) string {
	return "tokengate:ratelimit:" + key + ":" + strconv.FormatInt(start.Unix(), 10)
}

// Check reads the counter for the current window.
func (r *RedisLimiter) Check(ctx context.Context, key string) (models.RateLimitState, bool, error) {
	start := WindowStart(r.now(), r.window)
	st := models.RateLimitState{Key: key, WindowStart: start}

	count, err := r.client.Get(ctx, r.redisKey(key, start)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return st, false, fmt.Errorf("rate limit check failed: %w", err)
	}
	st.Count = count
	return st, count < r.limit, nil
}

// Reserve runs the compare-and-increment script, so the limit holds across
// every process sharing the database.
func (r *RedisLimiter) Reserve(ctx context.Context, key string) (models.RateLimitState, bool, error) {
	start := WindowStart(r.now(), r.window)
	st := models.RateLimitState{Key: key, WindowStart: start}

	// Keep the key one extra window so late readers near the boundary still see it.
	expireAt := start.Add(2 * r.window).UnixMilli()
	res, err := reserveScript.Run(ctx, r.client, []string{r.redisKey(key, start)}, r.limit, expireAt).Int64Slice()
	if err != nil {
		return st, false, fmt.Errorf("rate limit reserve failed: %w", err)
	}
	if len(res) != 2 {
		return st, false, fmt.Errorf("rate limit reserve: unexpected reply %v", res)
	}
	st.Count = res[0]
	return st, res[1] == 1, nil
}

// Release gives back one unit of st's window.
func (r *RedisLimiter) Release(ctx context.Context, st models.RateLimitState) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.redisKey(st.Key, st.WindowStart)}).Err(); err != nil {
		return fmt.Errorf("rate limit release failed: %w", err)
	}
	return nil
}

func (r *RedisLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
