package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func redisTestConfig(t *testing.T) *Config {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := DefaultConfig("test")
	cfg.UseRedis = true
	cfg.RedisAddr = mr.Addr()
	return cfg
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	q, err := NewRedisQueue(redisTestConfig(t))
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	defer q.Close()
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte(`{"account":"a1","tokens":2.5}`)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	batch, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("Expected 1 payload, got %d", len(batch))
	}
	if string(batch[0]) != `{"account":"a1","tokens":2.5}` {
		t.Errorf("Payload round trip mismatch: %s", batch[0])
	}
}

func TestRedisQueue_FIFOOrder(t *testing.T) {
	q, err := NewRedisQueue(redisTestConfig(t))
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, []byte(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("Failed to enqueue payload %d: %v", i, err)
		}
	}

	batch, err := q.DequeueWithTimeout(ctx, 5, time.Second)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if len(batch) != 5 {
		t.Fatalf("Expected 5 payloads, got %d", len(batch))
	}
	for i, payload := range batch {
		if want := fmt.Sprintf("p%d", i); string(payload) != want {
			t.Errorf("Expected %s at index %d, got %s", want, i, payload)
		}
	}
}

func TestRedisQueue_Length(t *testing.T) {
	q, err := NewRedisQueue(redisTestConfig(t))
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, []byte("payload")); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Failed to get length: %v", err)
	}
	if length != 3 {
		t.Errorf("Expected length 3, got %d", length)
	}
}

func TestRedisDeadLetterQueue(t *testing.T) {
	dlq, err := NewRedisDeadLetterQueue(redisTestConfig(t))
	if err != nil {
		t.Fatalf("Failed to create dead letter queue: %v", err)
	}
	defer dlq.Close()
	ctx := context.Background()

	if err := dlq.Add(ctx, []byte(`{"tokens":1}`), errors.New("insert failed")); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}

	parked, err := dlq.List(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(parked) != 1 {
		t.Fatalf("Expected 1 dead letter, got %d", len(parked))
	}
	if parked[0].Reason != "insert failed" {
		t.Errorf("Reason mismatch: %s", parked[0].Reason)
	}
	if string(parked[0].Payload) != `{"tokens":1}` {
		t.Errorf("Payload mismatch: %s", parked[0].Payload)
	}

	if err := dlq.Remove(ctx, parked[0].ID); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	if err := dlq.Remove(ctx, parked[0].ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}
