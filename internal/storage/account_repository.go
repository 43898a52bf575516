package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"artgen/internal/models"
)

// AccountRepository handles read access to accounts. All balance
// mutation happens through Tx methods so it is always row-locked.
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	id, role, plan, subscription_status, subscription_expires_at,
	token_balance, created_at, updated_at
`

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	err := r.db.conn.GetContext(ctx, &account, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// AccountForUpdate locks the account row for the rest of the
// transaction. Concurrent reservations for the same account serialize
// here; different accounts never contend.
func (t *Tx) AccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	err := t.tx.GetContext(ctx, &account, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	return &account, nil
}

// AddAccountBalance applies a signed delta to the subscription token
// balance. The balance column is numeric(12,2) so the stored value is
// always two-decimal. A debit that would go negative matches no row.
func (t *Tx) AddAccountBalance(ctx context.Context, id uuid.UUID, delta float64) error {
	query := `
		UPDATE accounts
		SET token_balance = token_balance + $2, updated_at = now()
		WHERE id = $1 AND token_balance + $2 >= 0
	`

	result, err := t.tx.ExecContext(ctx, query, id, models.Round2(delta))
	if err != nil {
		return fmt.Errorf("failed to update token balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check balance update: %w", err)
	}
	if rows == 0 {
		return ErrBalanceOverdraw
	}

	return nil
}
