package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotaflow/quotaflow/internal/limiter"
)

// RedisStore keeps each identifier's sliding-window log in a sorted set whose
// scores and members are the event timestamps in float seconds since epoch.
// Record runs as a MULTI/EXEC batch, which is what makes concurrent checks
// against the same key safe across processes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Record(ctx context.Context, key string, now float64, window time.Duration) (int64, error) {
	windowStart := now - window.Seconds()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", formatTimestamp(windowStart))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: now, Member: formatTimestamp(now)})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis record: %w", err)
	}

	// ZCARD ran after the purge and before the insert, so this is the count
	// of prior events still inside the window.
	return card.Val(), nil
}

func (r *RedisStore) Retract(ctx context.Context, key string, at float64) error {
	if err := r.client.ZRem(ctx, key, formatTimestamp(at)).Err(); err != nil {
		return fmt.Errorf("redis retract: %w", err)
	}
	return nil
}

func (r *RedisStore) Count(ctx context.Context, key string, now float64, window time.Duration) (int64, error) {
	windowStart := now - window.Seconds()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", formatTimestamp(windowStart))
	card := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return card.Val(), nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete: %w", err)
	}
	return n > 0, nil
}

// formatTimestamp renders a timestamp the same way for scores, range bounds
// and members, so a retract always hits the member its record inserted.
func formatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

var _ limiter.Store = (*RedisStore)(nil)
