package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"artgen/internal/queue"
	"artgen/internal/utils"
)

// ErrBufferFull is returned when the sink buffer is at capacity.
// Callers should treat it as a dropped record, not a billing failure.
var ErrBufferFull = fmt.Errorf("export buffer full")

// S3SinkConfig holds configuration for the S3 export sink
type S3SinkConfig struct {
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	NodeName      string
}

// batchWriter is the destination for flushed batches.
type batchWriter interface {
	WriteBatch(ctx context.Context, records []*Record) (string, error)
}

// S3Sink buffers export records and flushes them to S3 in batches.
type S3Sink struct {
	queue         queue.Queue
	writer        batchWriter
	bufferSize    int
	flushSize     int
	flushInterval time.Duration
	logger        *utils.Logger
	stopChan      chan struct{}
	stoppedChan   chan struct{}
	wg            sync.WaitGroup
}

// NewS3Sink creates an S3 sink and starts its background flusher.
// If buffer is nil an in-memory queue is used.
func NewS3Sink(ctx context.Context, config S3SinkConfig, buffer queue.Queue) (*S3Sink, error) {
	writer, err := NewS3Writer(ctx, config.S3Bucket, config.S3Region, config.S3Prefix, config.NodeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 writer: %w", err)
	}
	return newS3Sink(ctx, config, writer, buffer), nil
}

func newS3Sink(ctx context.Context, config S3SinkConfig, writer batchWriter, buffer queue.Queue) *S3Sink {
	if buffer == nil {
		buffer = queue.NewMemoryQueue(config.BufferSize)
	}

	sink := &S3Sink{
		queue:         buffer,
		writer:        writer,
		bufferSize:    config.BufferSize,
		flushSize:     config.FlushSize,
		flushInterval: config.FlushInterval,
		logger:        utils.NewLogger("usage-export"),
		stopChan:      make(chan struct{}),
		stoppedChan:   make(chan struct{}),
	}

	sink.wg.Add(1)
	go sink.run(ctx)

	return sink
}

// Enqueue adds a record to the export buffer.
func (s *S3Sink) Enqueue(rec *Record) error {
	ctx := context.Background()

	if s.bufferSize > 0 {
		length, err := s.queue.Length(ctx)
		if err != nil {
			return err
		}
		if length >= s.bufferSize {
			return ErrBufferFull
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal export record: %w", err)
	}
	return s.queue.Enqueue(ctx, payload)
}

// Shutdown stops the flusher and writes any remaining buffered records.
func (s *S3Sink) Shutdown(ctx context.Context) error {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.drain(ctx)
}

// run is the background flush loop
func (s *S3Sink) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.stoppedChan)

	// Cancel any in-flight dequeue when Shutdown is called, so stops
	// never wait out a long flush interval
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-runCtx.Done():
			return
		default:
			if err := s.flushOnce(runCtx); errors.Is(err, queue.ErrQueueClosed) {
				return
			}
		}
	}
}

// flushOnce waits for a batch and writes it to S3
func (s *S3Sink) flushOnce(ctx context.Context) error {
	payloads, err := s.queue.DequeueWithTimeout(ctx, s.flushSize, s.flushInterval)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
			return err
		}
		s.logger.Error("Failed to dequeue export records", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return nil
	}

	s.writeRecords(ctx, payloads)
	return nil
}

// drain flushes everything left in the buffer
func (s *S3Sink) drain(ctx context.Context) error {
	for {
		length, err := s.queue.Length(ctx)
		if err != nil {
			return err
		}
		if length == 0 {
			return nil
		}

		payloads, err := s.queue.DequeueWithTimeout(ctx, s.flushSize, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("failed to drain export buffer: %w", err)
		}
		if len(payloads) == 0 {
			return nil
		}

		s.writeRecords(ctx, payloads)
	}
}

func (s *S3Sink) writeRecords(ctx context.Context, payloads [][]byte) {
	if len(payloads) == 0 {
		return
	}

	records := make([]*Record, 0, len(payloads))
	for _, payload := range payloads {
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			s.logger.Error("Failed to decode export record", "error", err)
			continue
		}
		records = append(records, &rec)
	}

	if len(records) == 0 {
		return
	}

	if _, err := s.writer.WriteBatch(ctx, records); err != nil {
		s.logger.Error("Failed to write export batch", "error", err, "count", len(records))
	}
}
