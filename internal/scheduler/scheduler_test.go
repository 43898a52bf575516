package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artgen/internal/models"
)

// fakeJobStore simulates the job table counters the scheduler reads.
type fakeJobStore struct {
	batchTimes []time.Time
	jobTimes   []time.Time
	durations  map[models.Mode][]time.Duration

	queuedBefore map[models.Mode]int
	processing   map[models.Mode]int
	remaining    int
	anchor       time.Time

	claimPlan        models.Plan
	claimMaxParallel int
	claimResult      *models.Job
}

func (f *fakeJobStore) CountBatchesSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	count := 0
	for _, t := range f.batchTimes {
		if !t.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeJobStore) CountJobsCreatedSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	count := 0
	for _, t := range f.jobTimes {
		if !t.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeJobStore) RecentDurations(ctx context.Context, plan models.Plan, mode models.Mode, limit int) ([]time.Duration, error) {
	return f.durations[mode], nil
}

func (f *fakeJobStore) CountQueuedByModeBefore(ctx context.Context, plan models.Plan, before time.Time) (map[models.Mode]int, error) {
	return f.queuedBefore, nil
}

func (f *fakeJobStore) CountProcessingByMode(ctx context.Context, plan models.Plan) (map[models.Mode]int, error) {
	return f.processing, nil
}

func (f *fakeJobStore) CountRemainingInBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	return f.remaining, nil
}

func (f *fakeJobStore) EarliestCreatedInBatch(ctx context.Context, batchID uuid.UUID) (time.Time, error) {
	return f.anchor, nil
}

func (f *fakeJobStore) ClaimNextQueued(ctx context.Context, plan models.Plan, maxParallel int) (*models.Job, error) {
	f.claimPlan = plan
	f.claimMaxParallel = maxParallel
	return f.claimResult, nil
}

func newTestScheduler(store *fakeJobStore, now time.Time) *Scheduler {
	s := New(store, DefaultConfig())
	s.now = func() time.Time { return now }
	return s
}

func TestScheduler_Admit(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	t0 := time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)

	t.Run("denies a batch over the rate window and allows after it elapses", func(t *testing.T) {
		// starter: max 2 batches per 60s window
		store := &fakeJobStore{batchTimes: []time.Time{t0, t0.Add(5 * time.Second)}}

		s := newTestScheduler(store, t0.Add(10*time.Second))
		decision, err := s.Admit(ctx, accountID, models.PlanStarter, 1)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyRateLimited, decision.Reason)
		assert.Equal(t, 60*time.Second, decision.RetryAfter)

		s.now = func() time.Time { return t0.Add(70 * time.Second) }
		decision, err = s.Admit(ctx, accountID, models.PlanStarter, 1)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("daily cap counts jobs since local midnight", func(t *testing.T) {
		// free: 10 jobs per day; 8 today plus 2 from yesterday that
		// must not count.
		store := &fakeJobStore{}
		for i := 0; i < 8; i++ {
			store.jobTimes = append(store.jobTimes, t0)
		}
		store.jobTimes = append(store.jobTimes, t0.AddDate(0, 0, -1), t0.AddDate(0, 0, -1))

		s := newTestScheduler(store, t0.Add(time.Hour))
		decision, err := s.Admit(ctx, accountID, models.PlanFree, 3)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyDailyLimitExceeded, decision.Reason)

		decision, err = s.Admit(ctx, accountID, models.PlanFree, 2)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("nil daily limit is unlimited", func(t *testing.T) {
		store := &fakeJobStore{}
		for i := 0; i < 5000; i++ {
			store.jobTimes = append(store.jobTimes, t0)
		}

		s := newTestScheduler(store, t0.Add(time.Hour))
		decision, err := s.Admit(ctx, accountID, models.PlanBusinessPlus, 8)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})
}

func TestDecide(t *testing.T) {
	two := 2
	ten := 10
	policy := models.PlanPolicy{
		MaxParallel:         1,
		RateWindow:          60 * time.Second,
		MaxBatchesPerWindow: &two,
		DailyJobLimit:       &ten,
	}

	t.Run("third batch in window is rate limited", func(t *testing.T) {
		decision := Decide(policy, 2, 0, 1)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyRateLimited, decision.Reason)
	})

	t.Run("daily cap compares against the full batch size", func(t *testing.T) {
		decision := Decide(policy, 0, 8, 3)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyDailyLimitExceeded, decision.Reason)

		decision = Decide(policy, 0, 8, 2)
		assert.True(t, decision.Allowed)
	})

	t.Run("rate limit is checked before the daily cap", func(t *testing.T) {
		decision := Decide(policy, 2, 10, 5)
		assert.Equal(t, DenyRateLimited, decision.Reason)
	})
}

func TestPriorityOf(t *testing.T) {
	assert.Greater(t, PriorityOf(models.PlanBusinessPlus), PriorityOf(models.PlanPro))
	assert.Greater(t, PriorityOf(models.PlanPro), PriorityOf(models.PlanStarter))
	assert.Greater(t, PriorityOf(models.PlanStarter), PriorityOf(models.PlanFree))
}

func TestScheduler_EstimateAvgDuration(t *testing.T) {
	ctx := context.Background()

	t.Run("falls back to the mode default with no samples", func(t *testing.T) {
		s := newTestScheduler(&fakeJobStore{}, time.Now())

		est, err := s.EstimateAvgDuration(ctx, models.PlanPro, models.ModeBasic)
		require.NoError(t, err)
		assert.Equal(t, 20*time.Second, est)
		assert.GreaterOrEqual(t, est, 5*time.Second)
	})

	t.Run("averages recent samples", func(t *testing.T) {
		store := &fakeJobStore{durations: map[models.Mode][]time.Duration{
			models.ModePro: {30 * time.Second, 60 * time.Second, 90 * time.Second},
		}}
		s := newTestScheduler(store, time.Now())

		est, err := s.EstimateAvgDuration(ctx, models.PlanPro, models.ModePro)
		require.NoError(t, err)
		assert.Equal(t, 60*time.Second, est)
	})

	t.Run("clamps outliers on both ends", func(t *testing.T) {
		store := &fakeJobStore{durations: map[models.Mode][]time.Duration{
			models.ModeBasic: {time.Second},
			models.ModeUltra: {2 * time.Hour},
		}}
		s := newTestScheduler(store, time.Now())

		est, err := s.EstimateAvgDuration(ctx, models.PlanPro, models.ModeBasic)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, est)

		est, err = s.EstimateAvgDuration(ctx, models.PlanPro, models.ModeUltra)
		require.NoError(t, err)
		assert.Equal(t, 600*time.Second, est)
	})
}

func TestScheduler_QueuePosition(t *testing.T) {
	ctx := context.Background()

	t.Run("queued job counts everything ahead of its batch", func(t *testing.T) {
		store := &fakeJobStore{
			queuedBefore: map[models.Mode]int{models.ModeBasic: 3},
			processing:   map[models.Mode]int{models.ModeBasic: 1},
			remaining:    4,
		}
		s := newTestScheduler(store, time.Now())

		job := &models.Job{
			ID:      uuid.New(),
			BatchID: uuid.New(),
			Plan:    models.PlanPro,
			Mode:    models.ModeBasic,
			Status:  models.JobQueued,
		}

		state, err := s.QueuePosition(ctx, job)
		require.NoError(t, err)
		assert.Equal(t, 4, state.Position)
		// (3+1+4) jobs x 20s default, divided by pro's parallelism of 2.
		assert.Equal(t, 80, state.ETASeconds)
	})

	t.Run("processing job covers only its own batch", func(t *testing.T) {
		store := &fakeJobStore{
			queuedBefore: map[models.Mode]int{models.ModeBasic: 50},
			remaining:    2,
		}
		s := newTestScheduler(store, time.Now())

		job := &models.Job{
			BatchID: uuid.New(),
			Plan:    models.PlanPro,
			Mode:    models.ModeBasic,
			Status:  models.JobProcessing,
		}

		state, err := s.QueuePosition(ctx, job)
		require.NoError(t, err)
		assert.Equal(t, 0, state.Position)
		assert.Equal(t, 20, state.ETASeconds)
	})

	t.Run("ETA never drops below the floor", func(t *testing.T) {
		store := &fakeJobStore{remaining: 1}
		s := newTestScheduler(store, time.Now())

		// business_plus runs 4 in parallel: raw ETA would be 5s.
		job := &models.Job{
			BatchID: uuid.New(),
			Plan:    models.PlanBusinessPlus,
			Mode:    models.ModeBasic,
			Status:  models.JobProcessing,
		}

		state, err := s.QueuePosition(ctx, job)
		require.NoError(t, err)
		assert.Equal(t, 5, state.ETASeconds)
	})

	t.Run("terminal job has no queue state", func(t *testing.T) {
		s := newTestScheduler(&fakeJobStore{}, time.Now())

		state, err := s.QueuePosition(ctx, &models.Job{Status: models.JobSucceeded})
		require.NoError(t, err)
		assert.Equal(t, QueueState{}, state)
	})
}

func TestScheduler_ClaimNext(t *testing.T) {
	store := &fakeJobStore{claimResult: &models.Job{ID: uuid.New()}}
	s := newTestScheduler(store, time.Now())

	job, err := s.ClaimNext(context.Background(), models.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, store.claimResult.ID, job.ID)
	assert.Equal(t, models.PlanPro, store.claimPlan)
	assert.Equal(t, 2, store.claimMaxParallel)
}
