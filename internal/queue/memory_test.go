package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(10)
	defer q.Close()
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte(`{"tokens":2.5}`)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	batch, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("Expected 1 payload, got %d", len(batch))
	}
	if string(batch[0]) != `{"tokens":2.5}` {
		t.Errorf("Payload mismatch: %s", batch[0])
	}
}

func TestMemoryQueue_BatchAndLength(t *testing.T) {
	q := NewMemoryQueue(20)
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, []byte(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("Failed to enqueue payload %d: %v", i, err)
		}
	}

	batch, err := q.DequeueWithTimeout(ctx, 5, time.Second)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if len(batch) != 5 {
		t.Fatalf("Expected batch of 5, got %d", len(batch))
	}
	for i, payload := range batch {
		if want := fmt.Sprintf("p%d", i); string(payload) != want {
			t.Errorf("Expected %s at index %d, got %s", want, i, payload)
		}
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Failed to get length: %v", err)
	}
	if length != 5 {
		t.Errorf("Expected 5 payloads left, got %d", length)
	}
}

func TestMemoryQueue_TimeoutOnEmpty(t *testing.T) {
	q := NewMemoryQueue(10)
	defer q.Close()

	start := time.Now()
	batch, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("Expected empty batch, got %d payloads", len(batch))
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Returned before the timeout elapsed: %v", elapsed)
	}
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewMemoryQueue(200)
	defer q.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if err := q.Enqueue(ctx, []byte(fmt.Sprintf("p%d-%d", p, i))); err != nil {
					t.Errorf("Failed to enqueue: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	got := 0
	for got < 100 {
		batch, err := q.DequeueWithTimeout(ctx, 100, time.Second)
		if err != nil {
			t.Fatalf("Failed to dequeue: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		got += len(batch)
	}
	if got != 100 {
		t.Errorf("Expected 100 payloads, got %d", got)
	}
}

func TestMemoryQueue_CloseDrainsBuffered(t *testing.T) {
	q := NewMemoryQueue(10)
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte("kept")); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Second close should be a no-op: %v", err)
	}

	if err := q.Enqueue(ctx, []byte("rejected")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed on enqueue, got %v", err)
	}

	batch, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Buffered payloads should drain after close: %v", err)
	}
	if len(batch) != 1 || string(batch[0]) != "kept" {
		t.Fatalf("Expected the buffered payload, got %v", batch)
	}

	if _, err := q.DequeueWithTimeout(ctx, 10, time.Second); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed once drained, got %v", err)
	}
}

func TestMemoryQueue_CloseUnblocksProducer(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte("fills the buffer")); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(ctx, []byte("stuck"))
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	select {
	case err := <-blocked:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Expected ErrQueueClosed for the blocked producer, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Producer still blocked after close")
	}
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()
	ctx := context.Background()

	err := dlq.Add(ctx, []byte(`{"tokens":1}`), errors.New("insert failed"))
	if err != nil {
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
	if parked[0].ID == "" {
		t.Error("Expected a generated id")
	}

	if err := dlq.Remove(ctx, parked[0].ID); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	if err := dlq.Remove(ctx, parked[0].ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	parked, err = dlq.List(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(parked) != 0 {
		t.Errorf("Expected empty dead letter queue, got %d", len(parked))
	}
}
