package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTimeout = errors.New("queue timeout")

// Item is one queued alert, scored by severity so critical entries are
// drained first by whatever operator tooling consumes the queue.
type Item struct {
	ID        string    `json:"id"`
	Severity  string    `json:"severity"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type RedisQueue struct {
	client    *redis.Client
	queueName string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:    client,
		queueName: "failover_alerts",
	}
}

// severityScore maps severities onto sorted-set scores; lower drains first.
func severityScore(severity string) float64 {
	switch severity {
	case "critical":
		return 0
	case "warning":
		return 1
	default:
		return 2
	}
}

func (q *RedisQueue) Push(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	err = q.client.ZAdd(ctx, q.queueName, redis.Z{
		Score:  severityScore(item.Severity),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push alert: %w", err)
	}

	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Item, error) {
	// Use BZPOPMIN for blocking pop with timeout
	result, err := q.client.BZPopMin(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to pop alert: %w", err)
	}

	var item Item
	if err := json.Unmarshal([]byte(result.Member.(string)), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
	}

	return &item, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueName).Result()
}
