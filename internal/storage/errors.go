package storage

import "errors"

var (
	// ErrAccountNotFound is returned when an account is not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrRewardNotFound is returned when a referral reward is not found
	ErrRewardNotFound = errors.New("referral reward not found")

	// ErrJobNotFound is returned when a job is not found
	ErrJobNotFound = errors.New("job not found")

	// ErrBatchNotFound is returned when a batch has no jobs for the account
	ErrBatchNotFound = errors.New("batch not found")

	// ErrRewardOverdraw is returned when a debit exceeds a reward's remaining tokens
	ErrRewardOverdraw = errors.New("referral reward overdraw")

	// ErrBalanceOverdraw is returned when a debit would push the balance negative
	ErrBalanceOverdraw = errors.New("token balance overdraw")

	// ErrStaleStatus is returned when a status-guarded update matched no row
	ErrStaleStatus = errors.New("job status changed concurrently")
)
