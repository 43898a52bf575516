// Package export ships usage records to external analytics storage.
// Records are buffered in-process and flushed to S3 as JSON Lines
// files, so billing queries never depend on the export path.
package export

import (
	"context"
	"time"

	"artgen/internal/models"
)

// Record is the structure that will be exported to S3.
type Record struct {
	Timestamp          time.Time `json:"timestamp"`
	AccountID          string    `json:"account_id"`
	JobID              string    `json:"job_id,omitempty"`
	BatchID            string    `json:"batch_id,omitempty"`
	Plan               string    `json:"plan,omitempty"`
	Mode               string    `json:"mode,omitempty"`
	ServiceType        string    `json:"service_type"`
	ModelUsed          string    `json:"model_used,omitempty"`
	Tokens             float64   `json:"tokens"`
	ReferralTokens     float64   `json:"referral_tokens,omitempty"`
	SubscriptionTokens float64   `json:"subscription_tokens,omitempty"`
}

// FromUsageRecord converts a persisted usage record into an export record.
func FromUsageRecord(rec *models.UsageRecord) *Record {
	return &Record{
		Timestamp:   rec.CreatedAt,
		AccountID:   rec.AccountID.String(),
		ServiceType: rec.ServiceType,
		ModelUsed:   rec.ModelUsed,
		Tokens:      rec.TokensUsed,
	}
}

// Sink receives export records from the billing pipeline.
type Sink interface {
	Enqueue(rec *Record) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards records; used when export is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *Record) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}
