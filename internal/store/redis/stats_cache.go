package redis

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"trading-simulator/internal/model"
)

const defaultStatsTTL = 30 * time.Second

// StatsCache stores performance stats as JSON under "stats:{userID}" with
// a short TTL.
type StatsCache struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewStatsCache creates a cache; ttl <= 0 uses 30s.
func NewStatsCache(client goredis.Cmdable, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = defaultStatsTTL
	}
	return &StatsCache{client: client, ttl: ttl}
}

// StatsKey returns the cache key of a user's stats.
func StatsKey(userID string) string { return "stats:" + userID }

func (c *StatsCache) Get(ctx context.Context, userID string) (*model.PerformanceStats, bool, error) {
	b, err := c.client.Get(ctx, StatsKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis GET %s", StatsKey(userID))
	}
	var st model.PerformanceStats
	if err := sonic.Unmarshal(b, &st); err != nil {
		return nil, false, errors.Wrap(err, "decode cached stats")
	}
	return &st, true, nil
}

func (c *StatsCache) Set(ctx context.Context, userID string, st *model.PerformanceStats) error {
	b, err := sonic.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode stats")
	}
	return errors.Wrapf(c.client.Set(ctx, StatsKey(userID), b, c.ttl).Err(), "redis SET %s", StatsKey(userID))
}

func (c *StatsCache) Invalidate(ctx context.Context, userID string) error {
	return errors.Wrapf(c.client.Del(ctx, StatsKey(userID)).Err(), "redis DEL %s", StatsKey(userID))
}
