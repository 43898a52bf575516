package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"artgen/internal/models"
)

// Tx is the transactional surface the ledger needs from storage. All
// methods operate under the row locks taken by AccountForUpdate /
// ConsumableRewardsForUpdate, so two reservations for the same account
// serialize and neither sees a partial state of the other.
type Tx interface {
	AccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error)
	AddAccountBalance(ctx context.Context, id uuid.UUID, delta float64) error
	ConsumableRewardsForUpdate(ctx context.Context, accountID uuid.UUID) ([]models.ReferralReward, error)
	DebitReward(ctx context.Context, id uuid.UUID, amount float64) error
	CreditReward(ctx context.Context, id uuid.UUID, amount float64) error
	InsertUsageRecord(ctx context.Context, record *models.UsageRecord) error
}

// TxRunner executes fn inside a transaction, committing on nil and
// rolling back on error.
type TxRunner func(ctx context.Context, fn func(tx Tx) error) error

// UsageSink receives usage records for async persistence (the queue
// pipeline). When unset, the ledger writes records synchronously.
type UsageSink interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// Ledger is the only writer of token balances. It debits referral
// rewards oldest-first, then the subscription balance, and reverses
// exactly that composition on refund.
type Ledger struct {
	run  TxRunner
	sink UsageSink
}

// NewLedger creates a ledger over a transaction runner.
func NewLedger(run TxRunner) *Ledger {
	return &Ledger{run: run}
}

// SetUsageSink routes RecordUsage through an async sink.
func (l *Ledger) SetUsageSink(sink UsageSink) {
	l.sink = sink
}

// ReservationResult describes a successful reservation. Composition is
// what Refund needs to reverse it exactly.
type ReservationResult struct {
	AccountID       uuid.UUID
	Tokens          float64
	TokensRemaining float64
	Composition     models.Composition
}

// Reserve debits tokens for an operation before the work starts.
// Admin accounts always succeed with a zero composition. On shortfall
// it returns *InsufficientTokensError carrying the recommended upgrade
// plan, and nothing is debited.
func (l *Ledger) Reserve(ctx context.Context, accountID uuid.UUID, tokens float64) (*ReservationResult, error) {
	var res *ReservationResult
	err := l.run(ctx, func(tx Tx) error {
		var txErr error
		res, txErr = l.ReserveInTx(ctx, tx, accountID, tokens)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReserveInTx performs the reservation inside an already-open
// transaction, for callers that pair it with job creation.
func (l *Ledger) ReserveInTx(ctx context.Context, tx Tx, accountID uuid.UUID, tokens float64) (*ReservationResult, error) {
	tokens = models.Round2(tokens)
	if tokens <= 0 {
		return nil, ErrInvalidAmount
	}

	account, err := tx.AccountForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.BillingExempt() {
		return &ReservationResult{
			AccountID:       accountID,
			Tokens:          tokens,
			TokensRemaining: account.TokenBalance,
		}, nil
	}

	rewards, err := tx.ConsumableRewardsForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	comp, err := planDebits(rewards, account.TokenBalance, tokens)
	if err != nil {
		var short *InsufficientTokensError
		if errors.As(err, &short) {
			short.RecommendedPlan = account.Plan.NextUpgrade()
		}
		return nil, err
	}

	for _, debit := range comp.ReferralDebits {
		if err := tx.DebitReward(ctx, debit.RewardID, debit.Tokens); err != nil {
			return nil, err
		}
	}
	if comp.Subscription > 0 {
		if err := tx.AddAccountBalance(ctx, accountID, -comp.Subscription); err != nil {
			return nil, err
		}
	}

	return &ReservationResult{
		AccountID:       accountID,
		Tokens:          tokens,
		TokensRemaining: models.Round2(account.TokenBalance - comp.Subscription),
		Composition:     comp,
	}, nil
}

// Refund reverses a reservation's composition: referral debits are
// credited newest-first, each clamped to the reward's original award,
// and the remainder goes back to the subscription balance. The ledger
// executes whatever composition it is given; idempotence is the
// caller's job (the job row's billing_settled flag).
func (l *Ledger) Refund(ctx context.Context, accountID uuid.UUID, tokens float64, comp models.Composition) error {
	return l.run(ctx, func(tx Tx) error {
		return l.RefundInTx(ctx, tx, accountID, tokens, comp)
	})
}

// RefundInTx performs the refund inside an already-open transaction.
func (l *Ledger) RefundInTx(ctx context.Context, tx Tx, accountID uuid.UUID, tokens float64, comp models.Composition) error {
	tokens = models.Round2(tokens)
	if tokens < 0 {
		return ErrInvalidAmount
	}
	if tokens == 0 {
		return nil
	}

	// Lock the account row first so Reserve and Refund always take
	// locks in the same order.
	if _, err := tx.AccountForUpdate(ctx, accountID); err != nil {
		return err
	}

	left := tokens
	for i := len(comp.ReferralDebits) - 1; i >= 0 && left > 0; i-- {
		debit := comp.ReferralDebits[i]
		credit := debit.Tokens
		if credit > left {
			credit = left
		}
		if credit <= 0 {
			continue
		}
		if err := tx.CreditReward(ctx, debit.RewardID, credit); err != nil {
			return err
		}
		left = models.Round2(left - credit)
	}

	if left > 0 {
		if err := tx.AddAccountBalance(ctx, accountID, left); err != nil {
			return err
		}
	}

	return nil
}

// RecordUsage appends an immutable usage record for reporting. It has
// no balance effect; the balance moved at reservation time.
func (l *Ledger) RecordUsage(ctx context.Context, accountID uuid.UUID, tokensUsed float64, serviceType, modelUsed string, metadata models.JSONB) error {
	record := &models.UsageRecord{
		ID:          uuid.New(),
		AccountID:   accountID,
		TokensUsed:  models.Round2(tokensUsed),
		ServiceType: serviceType,
		ModelUsed:   modelUsed,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}

	if l.sink != nil {
		return l.sink.Enqueue(ctx, record)
	}

	return l.run(ctx, func(tx Tx) error {
		return tx.InsertUsageRecord(ctx, record)
	})
}

// SplitForJobs slices a reservation into per-job compositions and
// token shares so each job row carries exactly its part of the batch
// reservation. Shares are near-equal two-decimal amounts that sum to
// the reserved total.
func SplitForJobs(res *ReservationResult, n int) ([]float64, []models.Composition) {
	if res.Composition.IsZero() {
		// Billing-exempt reservation: nothing was debited, so the
		// jobs carry nothing to refund.
		return make([]float64, n), make([]models.Composition, n)
	}
	shares := evenShares(res.Tokens, n)
	return shares, splitComposition(res.Composition, shares)
}
