package models

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the cost/latency tier of a generation job.
type Mode string

const (
	ModeBasic Mode = "basic"
	ModePro   Mode = "pro"
	ModeUltra Mode = "ultra"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeBasic, ModePro, ModeUltra:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job. Transitions are
// forward-only: queued -> processing -> {succeeded, failed, canceled},
// with cancellation allowed straight from queued.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

// Terminal reports whether the status admits no further transition.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal forward transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobProcessing || next == JobCanceled || next == JobFailed
	case JobProcessing:
		return next.Terminal()
	}
	return false
}

// Job is one generation unit. A user submission fans out into a batch
// of sibling jobs sharing a batch id, plan and mode. Plan and priority
// are captured at creation so a later plan change never reorders work
// already queued.
type Job struct {
	ID               uuid.UUID   `db:"id"`
	BatchID          uuid.UUID   `db:"batch_id"`
	BatchIndex       int         `db:"batch_index"`
	AccountID        uuid.UUID   `db:"account_id"`
	Plan             Plan        `db:"plan"`
	Mode             Mode        `db:"mode"`
	Status           JobStatus   `db:"status"`
	Priority         int         `db:"priority"`
	TokensReserved   float64     `db:"tokens_reserved"`
	TokensRefunded   float64     `db:"tokens_refunded"`
	DebitComposition Composition `db:"debit_composition"`
	BillingSettled   bool        `db:"billing_settled"`
	ErrorMessage     string      `db:"error_message"`
	CreatedAt        time.Time   `db:"created_at"`
	StartedAt        *time.Time  `db:"started_at"`
	FinishedAt       *time.Time  `db:"finished_at"`
}

// RefundableTokens is what a failure or cancellation still owes back.
func (j *Job) RefundableTokens() float64 {
	return Round2(j.TokensReserved - j.TokensRefunded)
}
