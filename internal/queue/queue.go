// Package queue buffers JSON-encoded pipeline records between the
// billing core and its async consumers (the usage-record worker and
// the S3 export sink). Two backends:
//
//  1. Memory (channel-based): no persistence; for standalone
//     deployments where losing buffered audit rows on restart is
//     acceptable.
//  2. Redis (list-based): survives restarts and is shared between
//     replicas.
//
// Payloads are opaque bytes. Producers marshal their own record type
// before enqueueing and consumers unmarshal after dequeueing, so both
// backends move the same thing and nothing in here depends on the
// record shapes.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Queue is a FIFO buffer of encoded records.
type Queue interface {
	// Enqueue appends a payload.
	Enqueue(ctx context.Context, payload []byte) error

	// DequeueWithTimeout removes up to max payloads, waiting at most
	// timeout for the first one. Returns an empty batch on timeout.
	DequeueWithTimeout(ctx context.Context, max int, timeout time.Duration) ([][]byte, error)

	// Length reports how many payloads are buffered.
	Length(ctx context.Context) (int, error)

	// Close stops the queue. Buffered payloads stay drainable.
	Close() error
}

// DeadLetter is a record a worker gave up on, parked for inspection
// and manual retry.
type DeadLetter struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failed_at"`
}

// DeadLetterQueue parks records after retries are exhausted.
type DeadLetterQueue interface {
	Add(ctx context.Context, payload []byte, cause error) error
	List(ctx context.Context, max int) ([]DeadLetter, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// Config holds the pipeline tuning shared by the queue backends and
// the workers draining them.
type Config struct {
	// QueueName namespaces the Redis keys.
	QueueName string

	// BatchSize is the most records a worker drains per pass.
	BatchSize int

	// BatchTimeout is how long a worker waits on a partial batch.
	BatchTimeout time.Duration

	// MaxRetries and RetryBackoff drive the per-record retry loop;
	// backoff doubles per attempt.
	MaxRetries   int
	RetryBackoff time.Duration

	// Redis connection settings, used when UseRedis is set.
	UseRedis      bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultConfig returns the pipeline defaults for a named queue.
func DefaultConfig(queueName string) *Config {
	return &Config{
		QueueName:    queueName,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}
