package models

import (
	"time"

	"github.com/google/uuid"
)

// ReferralReward is a one-time token credit granted to a referrer when
// a referred account converts to a paid plan. Created externally;
// consumed (and partially restored on refunds) only by the ledger.
//
// Invariant: 0 <= TokensRemaining <= TokensAwarded.
type ReferralReward struct {
	ID              uuid.UUID `db:"id"`
	ReferrerID      uuid.UUID `db:"referrer_id"`
	ReferredID      uuid.UUID `db:"referred_id"`
	PlanAtReward    Plan      `db:"plan_at_reward"`
	TokensAwarded   float64   `db:"tokens_awarded"`
	TokensRemaining float64   `db:"tokens_remaining"`
	CreatedAt       time.Time `db:"created_at"`
}

// Consumable reports whether the reward still has tokens to spend.
func (r *ReferralReward) Consumable() bool {
	return r.TokensRemaining > 0
}
