package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter enforces the hourly API key quota in Redis, so the limit
// holds across a fleet of gateway instances rather than per-process. Each
// hour gets its own key with a 25-hour TTL so a clock-skewed instance can
// still read the previous hour's count briefly after rollover.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, keyID string, limit int) (bool, int, time.Time, error) {
	bucket := hourBucket(time.Now())
	resetAt := time.Unix(bucket, 0).Add(time.Hour)
	redisKey := fmt.Sprintf("gateway:ratelimit:%s:%d", keyID, bucket)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 25*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, resetAt, err
	}

	count := int(incr.Val())
	if count > limit {
		return false, 0, resetAt, nil
	}
	return true, limit - count, resetAt, nil
}

// RedisDenylist stores revoked JWT IDs as keys whose TTL equals the token's
// remaining lifetime, so Redis itself reclaims them; Sweep is a no-op kept
// only to satisfy the Denylist interface uniformly with the in-memory store.
type RedisDenylist struct {
	client *redis.Client
}

func NewRedisDenylist(client *redis.Client) *RedisDenylist {
	return &RedisDenylist{client: client}
}

func denylistKey(jti string) string {
	return "gateway:denylist:" + jti
}

func (d *RedisDenylist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, denylistKey(jti), "1", ttl).Err()
}

func (d *RedisDenylist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, denylistKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDenylist) Sweep(_ context.Context) error {
	return nil
}
