package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Role of an account. Admin accounts are billing-exempt.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SubscriptionStatus of an account.
type SubscriptionStatus string

const (
	SubscriptionFree    SubscriptionStatus = "free"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// Account is the billing view of a user. The token balance is mutated
// only through the billing ledger; subscription activation happens
// outside this core.
type Account struct {
	ID                    uuid.UUID          `db:"id"`
	Role                  Role               `db:"role"`
	Plan                  Plan               `db:"plan"`
	SubscriptionStatus    SubscriptionStatus `db:"subscription_status"`
	SubscriptionExpiresAt *time.Time         `db:"subscription_expires_at"` // NULL = no expiry
	TokenBalance          float64            `db:"token_balance"`
	CreatedAt             time.Time          `db:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at"`
}

// BillingExempt reports whether the account is never debited.
func (a *Account) BillingExempt() bool {
	return a.Role == RoleAdmin
}

// Round2 rounds a token amount to two decimals. All balance mutations
// go through this so float noise never accumulates in stored balances.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
