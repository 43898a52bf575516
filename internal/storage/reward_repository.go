package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"artgen/internal/models"
)

// RewardRepository handles read access to referral rewards.
type RewardRepository struct {
	db *DB
}

// NewRewardRepository creates a new reward repository
func NewRewardRepository(db *DB) *RewardRepository {
	return &RewardRepository{db: db}
}

const rewardColumns = `
	id, referrer_id, referred_id, plan_at_reward,
	tokens_awarded, tokens_remaining, created_at
`

// FIFO consumption order: created_at ascending with id as tie-break,
// so the order is stable and never depends on storage layout.
const rewardFIFOOrder = `ORDER BY created_at ASC, id ASC`

// ListConsumable returns the account's rewards that still have tokens,
// oldest first.
func (r *RewardRepository) ListConsumable(ctx context.Context, accountID uuid.UUID) ([]models.ReferralReward, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM referral_rewards
		WHERE referrer_id = $1 AND tokens_remaining > 0
		` + rewardFIFOOrder

	var rewards []models.ReferralReward
	err := r.db.conn.SelectContext(ctx, &rewards, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consumable rewards: %w", err)
	}

	return rewards, nil
}

// ConsumableRewardsForUpdate locks the account's consumable rewards in
// FIFO order for the rest of the transaction.
func (t *Tx) ConsumableRewardsForUpdate(ctx context.Context, accountID uuid.UUID) ([]models.ReferralReward, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM referral_rewards
		WHERE referrer_id = $1 AND tokens_remaining > 0
		` + rewardFIFOOrder + `
		FOR UPDATE`

	var rewards []models.ReferralReward
	err := t.tx.SelectContext(ctx, &rewards, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock consumable rewards: %w", err)
	}

	return rewards, nil
}

// DebitReward consumes tokens from a reward. A debit larger than the
// remaining balance matches no row and fails, so remaining never goes
// negative.
func (t *Tx) DebitReward(ctx context.Context, id uuid.UUID, amount float64) error {
	query := `
		UPDATE referral_rewards
		SET tokens_remaining = tokens_remaining - $2
		WHERE id = $1 AND tokens_remaining >= $2
	`

	result, err := t.tx.ExecContext(ctx, query, id, models.Round2(amount))
	if err != nil {
		return fmt.Errorf("failed to debit reward: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reward debit: %w", err)
	}
	if rows == 0 {
		return ErrRewardOverdraw
	}

	return nil
}

// CreditReward returns tokens to a reward, clamped to the original
// award. The clamp covers refunds racing with debits from another
// reservation of the same account.
func (t *Tx) CreditReward(ctx context.Context, id uuid.UUID, amount float64) error {
	query := `
		UPDATE referral_rewards
		SET tokens_remaining = LEAST(tokens_awarded, tokens_remaining + $2)
		WHERE id = $1
	`

	result, err := t.tx.ExecContext(ctx, query, id, models.Round2(amount))
	if err != nil {
		return fmt.Errorf("failed to credit reward: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reward credit: %w", err)
	}
	if rows == 0 {
		return ErrRewardNotFound
	}

	return nil
}
