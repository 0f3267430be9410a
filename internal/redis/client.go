package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/match-engine/internal/config"
)

// NewClient connects to Redis, retrying the initial ping with exponential backoff
func NewClient(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries), ctx)
	err := backoff.Retry(func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis connection failed, retrying", "addr", cfg.Addr, "error", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return client, nil
}

// eventChannel returns the pub/sub channel carrying the events of a match
func eventChannel(matchID string) string {
	return fmt.Sprintf("match:%s:events", matchID)
}

// presenceKey returns the Redis key holding the last presence record of a player
func presenceKey(playerID string) string {
	return fmt.Sprintf("presence:%s", playerID)
}
