package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// dial connects and pings so misconfiguration fails at startup, not on
// the first enqueue.
func dial(cfg *Config) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("queue config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisQueue is a Redis-list queue shared between replicas.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(cfg *Config) (*RedisQueue, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisQueue{
		client: client,
		key:    "artgen:queue:" + cfg.QueueName,
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}
	return nil
}

// DequeueWithTimeout blocks on BLPOP for the first payload, then tops
// the batch up with a single non-blocking LPOP.
func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, max int, timeout time.Duration) ([][]byte, error) {
	first, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// first[0] is the key, first[1] the payload
	batch := [][]byte{[]byte(first[1])}
	if max <= 1 {
		return batch, nil
	}

	rest, err := q.client.LPopCount(ctx, q.key, max-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return batch, nil
	}
	for _, payload := range rest {
		batch = append(batch, []byte(payload))
	}
	return batch, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// RedisDeadLetterQueue parks records in a Redis hash keyed by id.
type RedisDeadLetterQueue struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetterQueue(cfg *Config) (*RedisDeadLetterQueue, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisDeadLetterQueue{
		client: client,
		key:    "artgen:dlq:" + cfg.QueueName,
	}, nil
}

func (q *RedisDeadLetterQueue) Add(ctx context.Context, payload []byte, cause error) error {
	dl := DeadLetter{
		ID:       uuid.NewString(),
		Payload:  payload,
		Reason:   cause.Error(),
		FailedAt: time.Now(),
	}

	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := q.client.HSet(ctx, q.key, dl.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to park dead letter: %w", err)
	}
	return nil
}

func (q *RedisDeadLetterQueue) List(ctx context.Context, max int) ([]DeadLetter, error) {
	all, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	parked := make([]DeadLetter, 0, len(all))
	for _, data := range all {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(data), &dl); err != nil {
			continue // skip malformed entries
		}
		parked = append(parked, dl)
		if max > 0 && len(parked) >= max {
			break
		}
	}
	return parked, nil
}

func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	removed, err := q.client.HDel(ctx, q.key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove dead letter: %w", err)
	}
	if removed == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (q *RedisDeadLetterQueue) Close() error {
	return q.client.Close()
}
