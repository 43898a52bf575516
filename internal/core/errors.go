package core

import (
	"errors"
	"fmt"
	"time"

	"artgen/internal/scheduler"
)

var (
	// ErrAdmissionDenied matches any admission denial via errors.Is.
	ErrAdmissionDenied = errors.New("admission denied")

	ErrInvalidMode      = errors.New("invalid mode")
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

// AdmissionDeniedError is returned when a submission fails the plan's
// rate window or daily cap. RetryAfter is zero for daily denials.
type AdmissionDeniedError struct {
	Reason     scheduler.DenyReason
	RetryAfter time.Duration
}

func (e *AdmissionDeniedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("admission denied: %s (retry after %s)", e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("admission denied: %s", e.Reason)
}

func (e *AdmissionDeniedError) Is(target error) bool {
	return target == ErrAdmissionDenied
}
