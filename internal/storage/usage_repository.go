package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"artgen/internal/models"
)

// UsageRepository handles immutable usage audit records.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

const usageInsert = `
	INSERT INTO usage_records (
		id, account_id, tokens_used, service_type, model_used, metadata, created_at
	) VALUES (
		:id, :account_id, :tokens_used, :service_type, :model_used, :metadata, :created_at
	)
`

// Create inserts a single usage record
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := r.db.conn.NamedExecContext(ctx, usageInsert, record)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// CreateBatch inserts a batch of usage records in one transaction
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}
		if _, err := tx.NamedExecContext(ctx, usageInsert, record); err != nil {
			return fmt.Errorf("failed to insert usage record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usage batch: %w", err)
	}
	return nil
}

// ListByAccount returns the account's most recent usage records.
func (r *UsageRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.UsageRecord, error) {
	query := `
		SELECT id, account_id, tokens_used, service_type, model_used, metadata, created_at
		FROM usage_records
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var records []models.UsageRecord
	err := r.db.conn.SelectContext(ctx, &records, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	return records, nil
}

// InsertUsageRecord inserts a usage record inside an open transaction.
func (t *Tx) InsertUsageRecord(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := t.tx.NamedExecContext(ctx, usageInsert, record)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}
