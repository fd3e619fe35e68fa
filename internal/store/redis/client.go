// Package redis holds the Redis-backed pieces of the simulator: the
// performance stats cache and the live price/candle publisher.
package redis

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string `mapstructure:"addr"` // e.g. "localhost:6379"
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewClient creates a Redis client and pings the server.
func NewClient(cfg Config, log *zap.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}

	log.Named("redis").Info("connected", zap.String("addr", cfg.Addr))
	return client, nil
}
