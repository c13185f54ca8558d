package recorder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/models"
)

// clickQueueKey is the Redis list shared by every process draining clicks.
const clickQueueKey = "affbridge:clicks"

// redisQueue implements Queue on a Redis list so multiple processes (main
// and bridge) can share one click queue.
type redisQueue struct {
	client   *redis.Client
	capacity int64
	logger   *zap.Logger
}

// NewRedisQueue builds a Redis-list-backed queue. The capacity bound is
// enforced with an LLEN check before each push; a race past the bound by a
// few records is acceptable.
func NewRedisQueue(client *redis.Client, capacity int, logger *zap.Logger) Queue {
	if capacity <= 0 {
		capacity = 10000
	}
	if logger == nil {
		logger = zap.L()
	}
	return &redisQueue{client: client, capacity: int64(capacity), logger: logger}
}

func (q *redisQueue) Push(rec models.ClickRecord) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := q.client.LLen(ctx, clickQueueKey).Result()
	if err != nil || n >= q.capacity {
		return false
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		q.logger.Error("marshal click record", zap.Error(err))
		return false
	}
	if err := q.client.LPush(ctx, clickQueueKey, payload).Err(); err != nil {
		q.logger.Warn("redis click push failed", zap.Error(err))
		return false
	}
	return true
}

func (q *redisQueue) Pop(ctx context.Context) (models.ClickRecord, bool) {
	for {
		res, err := q.client.BRPop(ctx, time.Second, clickQueueKey).Result()
		if err == nil && len(res) == 2 {
			var rec models.ClickRecord
			if jerr := json.Unmarshal([]byte(res[1]), &rec); jerr != nil {
				q.logger.Error("unmarshal click record", zap.Error(jerr))
				continue
			}
			return rec, true
		}
		if ctx.Err() != nil {
			return models.ClickRecord{}, false
		}
		if err != nil && err != redis.Nil {
			q.logger.Warn("redis click pop failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return models.ClickRecord{}, false
			}
		}
	}
}

func (q *redisQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := q.client.LLen(ctx, clickQueueKey).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
