package billing

import (
	"errors"
	"fmt"

	"artgen/internal/models"
)

// ErrInsufficientTokens is the sentinel for balance failures; match
// with errors.Is. The concrete *InsufficientTokensError carries the
// structure callers need to render an upgrade prompt.
var ErrInsufficientTokens = errors.New("insufficient tokens")

// InsufficientTokensError reports a reservation that exceeds the
// account's combined referral + subscription balance.
type InsufficientTokensError struct {
	Requested       float64
	Available       float64
	RecommendedPlan models.Plan
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: requested %.2f, available %.2f", e.Requested, e.Available)
}

func (e *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

// ErrInvalidAmount is returned for non-positive reservation or refund amounts
var ErrInvalidAmount = errors.New("token amount must be positive")
