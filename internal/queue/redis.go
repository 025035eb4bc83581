package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue pushes JSON payloads onto Redis lists, one list per queue
// name. Workers BRPOP from the lists they serve.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a RedisQueue over an existing client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func queueKey(queueName string) string {
	return fmt.Sprintf("queue:%s", queueName)
}

// Enqueue pushes the payload and returns the queue-side job id.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload ProbePayload) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode payload: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey(queueName), raw).Err(); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue to %s: %w", queueName, err)
	}
	return payload.JobID, nil
}

// Depth returns the number of pending payloads on a queue.
func (q *RedisQueue) Depth(ctx context.Context, queueName string) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth for %s: %w", queueName, err)
	}
	return n, nil
}
