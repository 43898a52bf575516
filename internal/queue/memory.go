package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryCapacity = 1000

// MemoryQueue buffers payloads on a channel. Close signals through a
// separate done channel instead of closing the payload channel, so a
// producer blocked in Enqueue gets ErrQueueClosed rather than a panic,
// and whatever is already buffered stays drainable.
type MemoryQueue struct {
	payloads chan []byte
	done     chan struct{}
	once     sync.Once
}

// NewMemoryQueue creates an in-memory queue holding up to capacity
// payloads before Enqueue blocks.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryQueue{
		payloads: make(chan []byte, capacity),
		done:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.payloads <- payload:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DequeueWithTimeout returns as soon as at least one payload is
// buffered, topping the batch up to max without blocking. After Close
// it keeps draining the buffer and reports ErrQueueClosed only once
// the buffer is empty.
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, max int, timeout time.Duration) ([][]byte, error) {
	if batch := q.collect(nil, max); len(batch) > 0 {
		return batch, nil
	}

	select {
	case <-q.done:
		return nil, ErrQueueClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-q.payloads:
		return q.collect([][]byte{payload}, max), nil
	case <-timer.C:
		return nil, nil
	case <-q.done:
		return q.collect(nil, max), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// collect tops batch up to max payloads without blocking.
func (q *MemoryQueue) collect(batch [][]byte, max int) [][]byte {
	for len(batch) < max {
		select {
		case payload := <-q.payloads:
			batch = append(batch, payload)
		default:
			return batch
		}
	}
	return batch
}

func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	return len(q.payloads), nil
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

// MemoryDeadLetterQueue keeps parked records in memory, oldest first.
type MemoryDeadLetterQueue struct {
	mu     sync.Mutex
	parked []DeadLetter
}

func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{}
}

func (q *MemoryDeadLetterQueue) Add(ctx context.Context, payload []byte, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.parked = append(q.parked, DeadLetter{
		ID:       uuid.NewString(),
		Payload:  append([]byte(nil), payload...),
		Reason:   cause.Error(),
		FailedAt: time.Now(),
	})
	return nil
}

func (q *MemoryDeadLetterQueue) List(ctx context.Context, max int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || max > len(q.parked) {
		max = len(q.parked)
	}
	out := make([]DeadLetter, max)
	copy(out, q.parked[:max])
	return out, nil
}

func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, dl := range q.parked {
		if dl.ID == id {
			q.parked = append(q.parked[:i], q.parked[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.parked = nil
	return nil
}
