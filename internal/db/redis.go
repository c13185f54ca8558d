package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore wraps a redis client. It backs the shared click queue when
// REDIS_URL is configured; the rest of the system treats it as optional.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis parses a redis URL, connects and returns a RedisStore.
func InitRedis(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rs := &RedisStore{
		Client: redis.NewClient(opts),
		Ctx:    context.Background(),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", opts.Addr))
	return rs, nil
}

// Connected reports whether Redis answers a ping. Used by the health
// endpoint; a nil store reports false.
func (r *RedisStore) Connected(ctx context.Context) bool {
	return r != nil && r.Client != nil && r.Client.Ping(ctx).Err() == nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
