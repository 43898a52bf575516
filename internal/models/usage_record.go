package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is an immutable audit row written after a generation
// completes. It has no billing effect; the balance moved at
// reservation time.
type UsageRecord struct {
	ID          uuid.UUID `db:"id"`
	AccountID   uuid.UUID `db:"account_id"`
	TokensUsed  float64   `db:"tokens_used"`
	ServiceType string    `db:"service_type"`
	ModelUsed   string    `db:"model_used"`
	Metadata    JSONB     `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
}
