package scheduler

import (
	"time"

	"artgen/internal/models"
)

// DenyReason classifies an admission denial.
type DenyReason string

const (
	// DenyRateLimited means too many batches started within the plan's
	// rate window. Recoverable by waiting.
	DenyRateLimited DenyReason = "rate_limited"

	// DenyDailyLimitExceeded means the batch would push the account
	// past its daily job cap. Recoverable next calendar day.
	DenyDailyLimitExceeded DenyReason = "daily_limit_exceeded"
)

// AdmissionDecision is the outcome of an admission check.
type AdmissionDecision struct {
	Allowed    bool
	Reason     DenyReason
	RetryAfter time.Duration
}

// Decide applies the plan policy to the observed counters. Nil policy
// limits mean unlimited. The rate limit is checked before the daily
// cap so the cheaper-to-recover denial wins.
func Decide(policy models.PlanPolicy, batchesInWindow, jobsToday, batchSize int) AdmissionDecision {
	if policy.MaxBatchesPerWindow != nil && batchesInWindow >= *policy.MaxBatchesPerWindow {
		return AdmissionDecision{
			Reason:     DenyRateLimited,
			RetryAfter: policy.RateWindow,
		}
	}

	if policy.DailyJobLimit != nil && jobsToday+batchSize > *policy.DailyJobLimit {
		return AdmissionDecision{Reason: DenyDailyLimitExceeded}
	}

	return AdmissionDecision{Allowed: true}
}

// PriorityOf returns the scheduling priority for a plan; higher is
// served first.
func PriorityOf(plan models.Plan) int {
	return models.PolicyFor(plan).PriorityWeight
}

// StartOfDay truncates t to the process-local calendar day, the date
// boundary for the daily cap.
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
