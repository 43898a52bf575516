package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"artgen/internal/models"
)

// Store is the read/claim surface the scheduler needs from storage.
type Store interface {
	CountBatchesSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	CountJobsCreatedSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
	RecentDurations(ctx context.Context, plan models.Plan, mode models.Mode, limit int) ([]time.Duration, error)
	CountQueuedByModeBefore(ctx context.Context, plan models.Plan, before time.Time) (map[models.Mode]int, error)
	CountProcessingByMode(ctx context.Context, plan models.Plan) (map[models.Mode]int, error)
	CountRemainingInBatch(ctx context.Context, batchID uuid.UUID) (int, error)
	EarliestCreatedInBatch(ctx context.Context, batchID uuid.UUID) (time.Time, error)
	ClaimNextQueued(ctx context.Context, plan models.Plan, maxParallel int) (*models.Job, error)
}

// Config holds estimator settings.
type Config struct {
	SampleLimit      int
	MinDuration      time.Duration
	MaxDuration      time.Duration
	DefaultDurations map[models.Mode]time.Duration
	MinETA           time.Duration
}

// DefaultConfig returns the default estimator settings.
func DefaultConfig() Config {
	return Config{
		SampleLimit: 200,
		MinDuration: 5 * time.Second,
		MaxDuration: 600 * time.Second,
		DefaultDurations: map[models.Mode]time.Duration{
			models.ModeBasic: 20 * time.Second,
			models.ModePro:   45 * time.Second,
			models.ModeUltra: 90 * time.Second,
		},
		MinETA: 5 * time.Second,
	}
}

// Scheduler decides admission and answers queue-position/ETA queries.
// It holds no queue state of its own; the job table is the queue.
type Scheduler struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// New creates a scheduler over a job store.
func New(store Store, cfg Config) *Scheduler {
	return &Scheduler{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Admit checks the plan's rate window and daily cap for a new batch.
// This standalone form reads outside any transaction; submissions use
// Decide directly inside the job-creation transaction.
func (s *Scheduler) Admit(ctx context.Context, accountID uuid.UUID, plan models.Plan, batchSize int) (AdmissionDecision, error) {
	policy := models.PolicyFor(plan)
	now := s.now()

	var batchesInWindow, jobsToday int
	var err error

	if policy.MaxBatchesPerWindow != nil {
		batchesInWindow, err = s.store.CountBatchesSince(ctx, accountID, now.Add(-policy.RateWindow))
		if err != nil {
			return AdmissionDecision{}, err
		}
	}
	if policy.DailyJobLimit != nil {
		jobsToday, err = s.store.CountJobsCreatedSince(ctx, accountID, StartOfDay(now))
		if err != nil {
			return AdmissionDecision{}, err
		}
	}

	return Decide(policy, batchesInWindow, jobsToday, batchSize), nil
}

// EstimateAvgDuration returns the average processing duration of the
// most recent succeeded jobs for a plan+mode, clamped, with a
// configured per-mode fallback when no samples exist.
func (s *Scheduler) EstimateAvgDuration(ctx context.Context, plan models.Plan, mode models.Mode) (time.Duration, error) {
	samples, err := s.store.RecentDurations(ctx, plan, mode, s.cfg.SampleLimit)
	if err != nil {
		return 0, err
	}
	return avgDuration(samples, s.cfg.DefaultDurations[mode], s.cfg.MinDuration, s.cfg.MaxDuration), nil
}

// QueueState is the caller-visible position of a job in its plan's
// queue. Position is 1-based for queued jobs and 0 once processing or
// terminal.
type QueueState struct {
	Position   int
	ETASeconds int
}

// QueuePosition computes the queue position and ETA for a job. The
// anchor is the batch's first-created sibling, so every job of a batch
// reports the same position.
func (s *Scheduler) QueuePosition(ctx context.Context, job *models.Job) (QueueState, error) {
	policy := models.PolicyFor(job.Plan)

	switch job.Status {
	case models.JobQueued:
		return s.queuedState(ctx, job, policy)
	case models.JobProcessing:
		return s.processingState(ctx, job, policy)
	default:
		return QueueState{}, nil
	}
}

func (s *Scheduler) queuedState(ctx context.Context, job *models.Job, policy models.PlanPolicy) (QueueState, error) {
	anchor, err := s.store.EarliestCreatedInBatch(ctx, job.BatchID)
	if err != nil {
		return QueueState{}, err
	}

	ahead, err := s.store.CountQueuedByModeBefore(ctx, job.Plan, anchor)
	if err != nil {
		return QueueState{}, err
	}
	processing, err := s.store.CountProcessingByMode(ctx, job.Plan)
	if err != nil {
		return QueueState{}, err
	}
	remaining, err := s.store.CountRemainingInBatch(ctx, job.BatchID)
	if err != nil {
		return QueueState{}, err
	}

	estimates, err := s.estimatesFor(ctx, job.Plan, job.Mode, ahead, processing)
	if err != nil {
		return QueueState{}, err
	}

	position := 1
	for _, count := range ahead {
		position += count
	}

	return QueueState{
		Position:   position,
		ETASeconds: etaSeconds(ahead, processing, remaining, job.Mode, estimates, policy.MaxParallel, s.cfg.MinETA),
	}, nil
}

// processingState covers only the batch's own remaining jobs divided
// by the plan's parallelism.
func (s *Scheduler) processingState(ctx context.Context, job *models.Job, policy models.PlanPolicy) (QueueState, error) {
	remaining, err := s.store.CountRemainingInBatch(ctx, job.BatchID)
	if err != nil {
		return QueueState{}, err
	}

	estimates, err := s.estimatesFor(ctx, job.Plan, job.Mode, nil, nil)
	if err != nil {
		return QueueState{}, err
	}

	return QueueState{
		ETASeconds: etaSeconds(nil, nil, remaining, job.Mode, estimates, policy.MaxParallel, s.cfg.MinETA),
	}, nil
}

// estimatesFor collects duration estimates for every mode appearing in
// the counters plus the job's own mode.
func (s *Scheduler) estimatesFor(ctx context.Context, plan models.Plan, myMode models.Mode, ahead, processing map[models.Mode]int) (map[models.Mode]time.Duration, error) {
	modes := map[models.Mode]bool{myMode: true}
	for mode := range ahead {
		modes[mode] = true
	}
	for mode := range processing {
		modes[mode] = true
	}

	estimates := make(map[models.Mode]time.Duration, len(modes))
	for mode := range modes {
		est, err := s.EstimateAvgDuration(ctx, plan, mode)
		if err != nil {
			return nil, err
		}
		estimates[mode] = est
	}
	return estimates, nil
}

// ClaimNext claims the highest-priority queued job for a plan,
// respecting the plan's parallelism cap. Workers poll this; the
// status-guarded update in storage keeps the
// count(processing) <= maxParallel invariant even across processes.
func (s *Scheduler) ClaimNext(ctx context.Context, plan models.Plan) (*models.Job, error) {
	return s.store.ClaimNextQueued(ctx, plan, models.PolicyFor(plan).MaxParallel)
}
