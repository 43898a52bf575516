// Package core wires the ledger, scheduler and batch aggregator into
// the single API surface request handlers consume. It owns nothing the
// lower packages don't; its job is composing their operations into the
// right transactions.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"artgen/internal/batch"
	"artgen/internal/billing"
	"artgen/internal/export"
	"artgen/internal/models"
	"artgen/internal/scheduler"
	"artgen/internal/storage"
	"artgen/internal/utils"
)

// ServiceTypeGeneration is the service_type recorded for generation
// job usage rows.
const ServiceTypeGeneration = "generation"

// Tx is the transactional surface the service composes: the ledger's
// billing operations plus job rows and the in-tx admission counters.
type Tx interface {
	billing.Tx
	InsertJob(ctx context.Context, job *models.Job) error
	CountBatchesSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	CountJobsCreatedSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	JobForUpdate(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FinishJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, errMsg string) error
	SettleJobRefund(ctx context.Context, id uuid.UUID, amount float64) error
	SettleJob(ctx context.Context, id uuid.UUID) error
}

// TxRunner executes fn inside a transaction, committing on nil and
// rolling back on error.
type TxRunner func(ctx context.Context, fn func(tx Tx) error) error

// JobStore is the non-transactional read surface for jobs.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByBatch(ctx context.Context, batchID, accountID uuid.UUID) ([]models.Job, error)
}

// Service is the billing/queue core.
type Service struct {
	run      TxRunner
	jobs     JobStore
	ledger   *billing.Ledger
	sched    *scheduler.Scheduler
	exporter export.Sink
	logger   *utils.Logger
	now      func() time.Time
}

// NewService creates the core service over a database connection.
func NewService(db *storage.DB, schedCfg scheduler.Config) *Service {
	run := func(ctx context.Context, fn func(tx Tx) error) error {
		return db.InTx(ctx, func(tx *storage.Tx) error {
			return fn(tx)
		})
	}
	jobs := storage.NewJobRepository(db)
	return newService(run, jobs, jobs, schedCfg)
}

func newService(run TxRunner, jobs JobStore, schedStore scheduler.Store, schedCfg scheduler.Config) *Service {
	ledger := billing.NewLedger(func(ctx context.Context, fn func(tx billing.Tx) error) error {
		return run(ctx, func(tx Tx) error {
			return fn(tx)
		})
	})

	return &Service{
		run:    run,
		jobs:   jobs,
		ledger: ledger,
		sched:  scheduler.New(schedStore, schedCfg),
		logger: utils.NewLogger("core"),
		now:    time.Now,
	}
}

// SetUsageSink routes usage records through an async pipeline instead
// of synchronous inserts.
func (s *Service) SetUsageSink(sink billing.UsageSink) {
	s.ledger.SetUsageSink(sink)
}

// SetExportSink forwards usage to the analytics export sink.
func (s *Service) SetExportSink(sink export.Sink) {
	s.exporter = sink
}

// Reserve debits tokens for an operation before the work starts.
func (s *Service) Reserve(ctx context.Context, accountID uuid.UUID, tokens float64) (*billing.ReservationResult, error) {
	return s.ledger.Reserve(ctx, accountID, tokens)
}

// Refund reverses a reservation by its composition. Callers holding a
// job id should prefer FailJob/CancelJob, which derive the composition
// from the job row and settle exactly once.
func (s *Service) Refund(ctx context.Context, accountID uuid.UUID, tokens float64, comp models.Composition) error {
	return s.ledger.Refund(ctx, accountID, tokens, comp)
}

// RecordUsage appends an immutable usage record for reporting.
func (s *Service) RecordUsage(ctx context.Context, accountID uuid.UUID, tokensUsed float64, serviceType, modelUsed string, metadata models.JSONB) error {
	if err := s.ledger.RecordUsage(ctx, accountID, tokensUsed, serviceType, modelUsed, metadata); err != nil {
		return err
	}
	s.export(&export.Record{
		Timestamp:   s.now(),
		AccountID:   accountID.String(),
		ServiceType: serviceType,
		ModelUsed:   modelUsed,
		Tokens:      models.Round2(tokensUsed),
	})
	return nil
}

// Admit checks the plan's rate window and daily cap for a prospective
// batch, outside any transaction. Submission re-checks inside its own
// transaction; this form is for pre-flight UI checks.
func (s *Service) Admit(ctx context.Context, accountID uuid.UUID, plan models.Plan, batchSize int) (scheduler.AdmissionDecision, error) {
	return s.sched.Admit(ctx, accountID, plan, batchSize)
}

// SubmitRequest describes one user submission fanning out into a batch
// of sibling jobs.
type SubmitRequest struct {
	AccountID    uuid.UUID
	Plan         models.Plan
	Mode         models.Mode
	BatchSize    int
	TokensPerJob float64
}

// BatchReceipt is what a successful submission returns.
type BatchReceipt struct {
	BatchID         uuid.UUID
	JobIDs          []uuid.UUID
	TokensReserved  float64
	TokensRemaining float64
}

// SubmitBatch admits, reserves and enqueues a batch in one
// transaction: either the reservation succeeds and every job row
// exists, or nothing does. Each job row carries its share of the
// reservation composition so later refunds are derived, not
// re-supplied.
func (s *Service) SubmitBatch(ctx context.Context, req SubmitRequest) (*BatchReceipt, error) {
	if !req.Mode.Valid() {
		return nil, ErrInvalidMode
	}
	if req.BatchSize < 1 {
		return nil, ErrInvalidBatchSize
	}

	policy := models.PolicyFor(req.Plan)

	var receipt *BatchReceipt
	err := s.run(ctx, func(tx Tx) error {
		now := s.now()

		var batchesInWindow, jobsToday int
		var err error
		if policy.MaxBatchesPerWindow != nil {
			batchesInWindow, err = tx.CountBatchesSince(ctx, req.AccountID, now.Add(-policy.RateWindow))
			if err != nil {
				return err
			}
		}
		if policy.DailyJobLimit != nil {
			jobsToday, err = tx.CountJobsCreatedSince(ctx, req.AccountID, scheduler.StartOfDay(now))
			if err != nil {
				return err
			}
		}

		decision := scheduler.Decide(policy, batchesInWindow, jobsToday, req.BatchSize)
		if !decision.Allowed {
			return &AdmissionDeniedError{Reason: decision.Reason, RetryAfter: decision.RetryAfter}
		}

		total := models.Round2(req.TokensPerJob * float64(req.BatchSize))
		res, err := s.ledger.ReserveInTx(ctx, tx, req.AccountID, total)
		if err != nil {
			return err
		}

		shares, comps := billing.SplitForJobs(res, req.BatchSize)

		batchID := uuid.New()
		jobIDs := make([]uuid.UUID, req.BatchSize)
		for i := 0; i < req.BatchSize; i++ {
			job := &models.Job{
				ID:               uuid.New(),
				BatchID:          batchID,
				BatchIndex:       i,
				AccountID:        req.AccountID,
				Plan:             req.Plan,
				Mode:             req.Mode,
				Status:           models.JobQueued,
				Priority:         scheduler.PriorityOf(req.Plan),
				TokensReserved:   shares[i],
				DebitComposition: comps[i],
				CreatedAt:        now,
			}
			if err := tx.InsertJob(ctx, job); err != nil {
				return err
			}
			jobIDs[i] = job.ID
		}

		receipt = &BatchReceipt{
			BatchID:         batchID,
			JobIDs:          jobIDs,
			TokensReserved:  res.Tokens,
			TokensRemaining: res.TokensRemaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Batch submitted",
		"batch_id", receipt.BatchID,
		"account_id", req.AccountID,
		"size", req.BatchSize,
		"tokens", receipt.TokensReserved,
	)
	return receipt, nil
}

// EnqueueJob submits a single job; the one-job form of SubmitBatch.
func (s *Service) EnqueueJob(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	req.BatchSize = 1
	receipt, err := s.SubmitBatch(ctx, req)
	if err != nil {
		return uuid.Nil, err
	}
	return receipt.JobIDs[0], nil
}

// GetBatchStatus summarizes a batch's jobs, scoped to the owning
// account.
func (s *Service) GetBatchStatus(ctx context.Context, batchID, accountID uuid.UUID) (batch.Summary, error) {
	jobs, err := s.jobs.ListByBatch(ctx, batchID, accountID)
	if err != nil {
		return batch.Summary{}, err
	}
	return batch.Summarize(batchID, jobs)
}

// QueuePosition reports the queue position and ETA of a job, scoped to
// the owning account.
func (s *Service) QueuePosition(ctx context.Context, jobID, accountID uuid.UUID) (scheduler.QueueState, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return scheduler.QueueState{}, err
	}
	if job.AccountID != accountID {
		return scheduler.QueueState{}, storage.ErrJobNotFound
	}
	return s.sched.QueuePosition(ctx, job)
}

// ClaimNext claims the best queued job for a plan on behalf of an
// external worker, respecting the plan's parallelism cap.
func (s *Service) ClaimNext(ctx context.Context, plan models.Plan) (*models.Job, error) {
	return s.sched.ClaimNext(ctx, plan)
}

// CompleteJob marks a processing job succeeded, settles its billing
// and records the usage audit row.
func (s *Service) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	var job *models.Job
	err := s.run(ctx, func(tx Tx) error {
		j, err := tx.JobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status.Terminal() {
			return storage.ErrStaleStatus
		}
		if err := tx.FinishJob(ctx, jobID, j.Status, models.JobSucceeded, ""); err != nil {
			return err
		}
		if err := tx.SettleJob(ctx, jobID); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return err
	}

	// Usage audit is reporting, not billing: a failure here must not
	// undo the completed job.
	metadata := models.JSONB{
		"job_id":   job.ID.String(),
		"batch_id": job.BatchID.String(),
	}
	if err := s.ledger.RecordUsage(ctx, job.AccountID, job.TokensReserved, ServiceTypeGeneration, string(job.Mode), metadata); err != nil {
		s.logger.Error("Failed to record usage", "job_id", jobID, "error", err)
	}
	s.export(&export.Record{
		Timestamp:          s.now(),
		AccountID:          job.AccountID.String(),
		JobID:              job.ID.String(),
		BatchID:            job.BatchID.String(),
		Plan:               string(job.Plan),
		Mode:               string(job.Mode),
		ServiceType:        ServiceTypeGeneration,
		ModelUsed:          string(job.Mode),
		Tokens:             job.TokensReserved,
		ReferralTokens:     job.DebitComposition.Referral,
		SubscriptionTokens: job.DebitComposition.Subscription,
	})
	return nil
}

// FailJob marks a job failed and refunds its remaining reservation.
func (s *Service) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return s.run(ctx, func(tx Tx) error {
		job, err := tx.JobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return storage.ErrStaleStatus
		}
		if err := tx.FinishJob(ctx, jobID, job.Status, models.JobFailed, errMsg); err != nil {
			return err
		}
		return s.settleRefund(ctx, tx, job)
	})
}

// CancelJob cancels a queued or processing job and refunds its
// remaining reservation. Scoped to the owning account.
func (s *Service) CancelJob(ctx context.Context, jobID, accountID uuid.UUID) error {
	return s.run(ctx, func(tx Tx) error {
		job, err := tx.JobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if job.AccountID != accountID {
			return storage.ErrJobNotFound
		}
		if job.Status.Terminal() {
			return storage.ErrStaleStatus
		}
		if err := tx.FinishJob(ctx, jobID, job.Status, models.JobCanceled, ""); err != nil {
			return err
		}
		return s.settleRefund(ctx, tx, job)
	})
}

// CancelBatch cancels every not-yet-terminal job of a batch. Jobs a
// concurrent writer finished first are skipped. Returns the number of
// jobs canceled.
func (s *Service) CancelBatch(ctx context.Context, batchID, accountID uuid.UUID) (int, error) {
	jobs, err := s.jobs.ListByBatch(ctx, batchID, accountID)
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		err := s.CancelJob(ctx, job.ID, accountID)
		if err == storage.ErrStaleStatus {
			continue
		}
		if err != nil {
			return canceled, err
		}
		canceled++
	}
	return canceled, nil
}

// settleRefund refunds a finished job's remaining reservation exactly
// once, derived from the composition stored on the job row.
func (s *Service) settleRefund(ctx context.Context, tx Tx, job *models.Job) error {
	refund := job.RefundableTokens()
	if job.BillingSettled || refund <= 0 {
		return tx.SettleJob(ctx, job.ID)
	}
	if err := s.ledger.RefundInTx(ctx, tx, job.AccountID, refund, job.DebitComposition); err != nil {
		return err
	}
	return tx.SettleJobRefund(ctx, job.ID, refund)
}

func (s *Service) export(rec *export.Record) {
	if s.exporter == nil {
		return
	}
	if err := s.exporter.Enqueue(rec); err != nil {
		s.logger.Warn("Dropped export record", "error", err)
	}
}
