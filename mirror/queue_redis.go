package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue shares sync tasks across processes through a Redis list.
// Writers LPUSH, workers BRPOP, so a task is consumed exactly once.
type RedisQueue struct {
	client *redis.Client
	key    string
}

const dequeueBlock = time.Second

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "mirador:sync"
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue blocks until a task arrives or ctx is done. The pop timeout is
// short so cancellation is observed promptly even on quiet queues.
func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		res, err := q.client.BRPop(ctx, dequeueBlock, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("dequeue task: %w", err)
		}
		var t Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			return Task{}, fmt.Errorf("decode task: %w", err)
		}
		return t, nil
	}
}

// Len reports the number of tasks waiting in the queue.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
