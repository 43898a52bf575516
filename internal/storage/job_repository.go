package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"artgen/internal/models"
)

// JobRepository handles generation job rows. Lifecycle transitions are
// status-guarded updates so a job only ever has one writer at a time.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, batch_id, batch_index, account_id, plan, mode, status, priority,
	tokens_reserved, tokens_refunded, debit_composition, billing_settled,
	error_message, created_at, started_at, finished_at
`

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	err := r.db.conn.GetContext(ctx, &job, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListByBatch returns the batch's jobs scoped to the owning account,
// in batch order. An unknown batch id and a batch owned by someone
// else are indistinguishable to the caller.
func (r *JobRepository) ListByBatch(ctx context.Context, batchID, accountID uuid.UUID) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE batch_id = $1 AND account_id = $2
		ORDER BY batch_index ASC
	`

	var jobs []models.Job
	err := r.db.conn.SelectContext(ctx, &jobs, query, batchID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrBatchNotFound
	}

	return jobs, nil
}

// RecentDurations returns processing durations of the most recently
// finished successful jobs for a plan+mode, newest first.
func (r *JobRepository) RecentDurations(ctx context.Context, plan models.Plan, mode models.Mode, limit int) ([]time.Duration, error) {
	query := `
		SELECT EXTRACT(EPOCH FROM (finished_at - started_at))
		FROM jobs
		WHERE plan = $1 AND mode = $2 AND status = 'succeeded'
		  AND started_at IS NOT NULL AND finished_at IS NOT NULL
		ORDER BY finished_at DESC
		LIMIT $3
	`

	var seconds []float64
	err := r.db.conn.SelectContext(ctx, &seconds, query, plan, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job durations: %w", err)
	}

	durations := make([]time.Duration, 0, len(seconds))
	for _, s := range seconds {
		durations = append(durations, time.Duration(s*float64(time.Second)))
	}
	return durations, nil
}

type modeCount struct {
	Mode  models.Mode `db:"mode"`
	Count int         `db:"count"`
}

// CountQueuedByModeBefore counts queued jobs per mode for a plan that
// were created strictly before the given instant.
func (r *JobRepository) CountQueuedByModeBefore(ctx context.Context, plan models.Plan, before time.Time) (map[models.Mode]int, error) {
	query := `
		SELECT mode, count(*) AS count
		FROM jobs
		WHERE plan = $1 AND status = 'queued' AND created_at < $2
		GROUP BY mode
	`

	var counts []modeCount
	err := r.db.conn.SelectContext(ctx, &counts, query, plan, before)
	if err != nil {
		return nil, fmt.Errorf("failed to count queued jobs: %w", err)
	}

	result := make(map[models.Mode]int, len(counts))
	for _, c := range counts {
		result[c.Mode] = c.Count
	}
	return result, nil
}

// CountProcessingByMode counts currently processing jobs per mode for
// a plan.
func (r *JobRepository) CountProcessingByMode(ctx context.Context, plan models.Plan) (map[models.Mode]int, error) {
	query := `
		SELECT mode, count(*) AS count
		FROM jobs
		WHERE plan = $1 AND status = 'processing'
		GROUP BY mode
	`

	var counts []modeCount
	err := r.db.conn.SelectContext(ctx, &counts, query, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to count processing jobs: %w", err)
	}

	result := make(map[models.Mode]int, len(counts))
	for _, c := range counts {
		result[c.Mode] = c.Count
	}
	return result, nil
}

// CountRemainingInBatch counts the batch's jobs that are not yet done.
func (r *JobRepository) CountRemainingInBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	query := `
		SELECT count(*)
		FROM jobs
		WHERE batch_id = $1 AND status IN ('queued', 'processing')
	`

	var count int
	err := r.db.conn.GetContext(ctx, &count, query, batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to count remaining batch jobs: %w", err)
	}
	return count, nil
}

// EarliestCreatedInBatch returns the creation time of the batch's
// first job, the anchor for queue-position queries.
func (r *JobRepository) EarliestCreatedInBatch(ctx context.Context, batchID uuid.UUID) (time.Time, error) {
	query := `SELECT min(created_at) FROM jobs WHERE batch_id = $1`

	var earliest sql.NullTime
	err := r.db.conn.GetContext(ctx, &earliest, query, batchID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get batch anchor: %w", err)
	}
	if !earliest.Valid {
		return time.Time{}, ErrBatchNotFound
	}
	return earliest.Time, nil
}

// ClaimNextQueued atomically claims the best queued job for a plan,
// respecting the plan's parallelism cap. Returns ErrJobNotFound when
// nothing is claimable (empty queue or cap reached). SKIP LOCKED keeps
// concurrent workers from blocking on the same candidate row.
func (r *JobRepository) ClaimNextQueued(ctx context.Context, plan models.Plan, maxParallel int) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing', started_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE plan = $1 AND status = 'queued'
			ORDER BY priority DESC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		AND (SELECT count(*) FROM jobs WHERE plan = $1 AND status = 'processing') < $2
		RETURNING ` + jobColumns

	var job models.Job
	err := r.db.conn.GetContext(ctx, &job, query, plan, maxParallel)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return &job, nil
}

// CountBatchesSince counts distinct batches the account created within
// the rate window.
func (r *JobRepository) CountBatchesSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT count(DISTINCT batch_id)
		FROM jobs
		WHERE account_id = $1 AND created_at >= $2
	`

	var count int
	err := r.db.conn.GetContext(ctx, &count, query, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent batches: %w", err)
	}
	return count, nil
}

// CountJobsCreatedSince counts the account's jobs created since the
// given instant.
func (r *JobRepository) CountJobsCreatedSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT count(*)
		FROM jobs
		WHERE account_id = $1 AND created_at >= $2
	`

	var count int
	err := r.db.conn.GetContext(ctx, &count, query, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily jobs: %w", err)
	}
	return count, nil
}

// InsertJob inserts a job row inside the submission transaction.
func (t *Tx) InsertJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (
			id, batch_id, batch_index, account_id, plan, mode, status,
			priority, tokens_reserved, tokens_refunded, debit_composition,
			billing_settled, error_message, created_at
		) VALUES (
			:id, :batch_id, :batch_index, :account_id, :plan, :mode, :status,
			:priority, :tokens_reserved, :tokens_refunded, :debit_composition,
			:billing_settled, :error_message, :created_at
		)
	`

	_, err := t.tx.NamedExecContext(ctx, query, job)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// CountBatchesSince counts distinct batches the account created within
// the rate window. Runs in the submission transaction to bound the
// race against concurrent submissions from the same account.
func (t *Tx) CountBatchesSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT count(DISTINCT batch_id)
		FROM jobs
		WHERE account_id = $1 AND created_at >= $2
	`

	var count int
	err := t.tx.GetContext(ctx, &count, query, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent batches: %w", err)
	}
	return count, nil
}

// CountJobsCreatedSince counts the account's jobs created since the
// given instant (the local midnight for the daily cap).
func (t *Tx) CountJobsCreatedSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT count(*)
		FROM jobs
		WHERE account_id = $1 AND created_at >= $2
	`

	var count int
	err := t.tx.GetContext(ctx, &count, query, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily jobs: %w", err)
	}
	return count, nil
}

// JobForUpdate locks a job row for a lifecycle transition.
func (t *Tx) JobForUpdate(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`

	err := t.tx.GetContext(ctx, &job, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}

	return &job, nil
}

// FinishJob moves a job from its expected status to a terminal one.
// The status guard makes the transition monotonic: if another writer
// got there first, no row matches and ErrStaleStatus is returned.
func (t *Tx) FinishJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, errMsg string) error {
	if !from.CanTransitionTo(to) || !to.Terminal() {
		return fmt.Errorf("illegal job transition %s -> %s", from, to)
	}

	query := `
		UPDATE jobs
		SET status = $3, finished_at = now(), error_message = $4
		WHERE id = $1 AND status = $2
	`

	result, err := t.tx.ExecContext(ctx, query, id, from, to, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check job finish: %w", err)
	}
	if rows == 0 {
		return ErrStaleStatus
	}

	return nil
}

// SettleJobRefund records a refund on the job row. billing_settled
// guards against double refunds: the second attempt matches no row.
func (t *Tx) SettleJobRefund(ctx context.Context, id uuid.UUID, amount float64) error {
	query := `
		UPDATE jobs
		SET tokens_refunded = tokens_refunded + $2, billing_settled = TRUE
		WHERE id = $1 AND billing_settled = FALSE
	`

	result, err := t.tx.ExecContext(ctx, query, id, models.Round2(amount))
	if err != nil {
		return fmt.Errorf("failed to settle job refund: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check refund settlement: %w", err)
	}
	if rows == 0 {
		return ErrStaleStatus
	}

	return nil
}

// SettleJob marks billing settled without a refund (successful jobs).
func (t *Tx) SettleJob(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE jobs SET billing_settled = TRUE WHERE id = $1`

	if _, err := t.tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to settle job: %w", err)
	}
	return nil
}
