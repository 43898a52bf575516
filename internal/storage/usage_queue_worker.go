package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"artgen/internal/models"
	"artgen/internal/queue"
	"artgen/internal/utils"
)

// usageWriter is the subset of UsageRepository the worker needs.
type usageWriter interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error
}

// UsageQueueWorker drains buffered usage records into Postgres in batches.
type UsageQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	repo        usageWriter
	config      *queue.Config
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, repo usageWriter, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		repo:        repo,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *UsageQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue buffers a usage record for async persistence.
func (w *UsageQueueWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}
	return w.queue.Enqueue(ctx, payload)
}

// run is the main worker loop
func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := utils.NewLogger("usage-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Usage worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Usage worker context cancelled")
			return
		default:
			if err := w.processBatch(ctx, logger); errors.Is(err, queue.ErrQueueClosed) {
				logger.Info("Usage queue closed, worker stopping")
				return
			}
		}
	}
}

// processBatch drains one batch from the queue and persists it
func (w *UsageQueueWorker) processBatch(ctx context.Context, logger *utils.Logger) error {
	payloads, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) {
			return err
		}
		logger.Error("Failed to dequeue usage records", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return nil
	}

	if len(payloads) == 0 {
		return nil
	}

	logger.Debug("Processing usage batch", "count", len(payloads))

	records := make([]*models.UsageRecord, 0, len(payloads))
	for _, payload := range payloads {
		var record models.UsageRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			logger.Error("Failed to unmarshal usage record", "error", err)
			continue
		}
		records = append(records, &record)
	}

	if len(records) == 0 {
		return nil
	}

	if err := w.repo.CreateBatch(ctx, records); err != nil {
		logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		// Fall back to individual inserts with retries
		for _, record := range records {
			if err := w.processItem(ctx, record, logger); err != nil {
				logger.Error("Failed to process usage record", "error", err)
			}
		}
	}
	return nil
}

// processItem persists a single usage record with retries
func (w *UsageQueueWorker) processItem(ctx context.Context, record *models.UsageRecord, logger *utils.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying usage record", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.repo.Create(ctx, record); err != nil {
			lastErr = err
			logger.Error("Failed to insert usage record", "attempt", attempt, "error", err)
			continue
		}

		logger.Debug("Usage record inserted", "account_id", record.AccountID)
		return nil
	}

	// Max retries exceeded - park in the dead letter queue
	if w.dlq != nil {
		payload, err := json.Marshal(record)
		if err != nil {
			logger.Error("Failed to marshal record for DLQ", "error", err)
		} else if err := w.dlq.Add(ctx, payload, lastErr); err != nil {
			logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			logger.Warn("Usage record moved to DLQ", "account_id", record.AccountID, "error", lastErr)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns parked records from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, max int) ([]queue.DeadLetter, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, max)
}

// RetryDeadLetterItem re-enqueues a parked record
func (w *UsageQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	parked, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}

	for _, dl := range parked {
		if dl.ID == id {
			if err := w.queue.Enqueue(ctx, dl.Payload); err != nil {
				return fmt.Errorf("failed to re-enqueue dead letter: %w", err)
			}

			if err := w.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove dead letter: %w", err)
			}

			return nil
		}
	}

	return queue.ErrItemNotFound
}
