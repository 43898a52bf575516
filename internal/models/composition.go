package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ReferralDebit is one reward's share of a reservation, in the order
// the rewards were consumed (oldest reward first).
type ReferralDebit struct {
	RewardID uuid.UUID `json:"reward_id"`
	Tokens   float64   `json:"tokens"`
}

// Composition records how a reservation was funded so a refund can
// reverse exactly what was debited. Persisted on each job row as jsonb.
type Composition struct {
	Referral       float64         `json:"referral"`
	Subscription   float64         `json:"subscription"`
	ReferralDebits []ReferralDebit `json:"referral_debits,omitempty"`
}

// Total is the full debited amount.
func (c Composition) Total() float64 {
	return Round2(c.Referral + c.Subscription)
}

// IsZero reports whether nothing was debited (admin reservations).
func (c Composition) IsZero() bool {
	return c.Referral == 0 && c.Subscription == 0 && len(c.ReferralDebits) == 0
}

func (c Composition) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Composition) Scan(value any) error {
	if value == nil {
		*c = Composition{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("Composition: expected []byte, got %T", value)
	}
	if len(b) == 0 {
		*c = Composition{}
		return nil
	}
	return json.Unmarshal(b, c)
}
