package batch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artgen/internal/models"
)

func makeJobs(statuses ...models.JobStatus) []models.Job {
	jobs := make([]models.Job, len(statuses))
	for i, s := range statuses {
		jobs[i] = models.Job{
			ID:             uuid.New(),
			Status:         s,
			TokensReserved: 2,
		}
	}
	return jobs
}

func TestSummarize(t *testing.T) {
	batchID := uuid.New()

	t.Run("empty batch", func(t *testing.T) {
		_, err := Summarize(batchID, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("mixed outcomes are partial", func(t *testing.T) {
		jobs := makeJobs(
			models.JobSucceeded, models.JobSucceeded, models.JobSucceeded,
			models.JobFailed, models.JobFailed,
		)

		summary, err := Summarize(batchID, jobs)
		require.NoError(t, err)
		assert.Equal(t, StatusPartial, summary.Status)
		assert.Equal(t, 5, summary.Progress.Done)
		assert.Equal(t, 100, summary.Progress.Percent)
		assert.Equal(t, 3, summary.Progress.Succeeded)
		assert.Equal(t, 2, summary.Progress.Failed)
	})

	t.Run("all succeeded", func(t *testing.T) {
		summary, err := Summarize(batchID, makeJobs(models.JobSucceeded, models.JobSucceeded))
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, summary.Status)
	})

	t.Run("all canceled wins over failed", func(t *testing.T) {
		summary, err := Summarize(batchID, makeJobs(models.JobCanceled, models.JobCanceled))
		require.NoError(t, err)
		assert.Equal(t, StatusCanceled, summary.Status)
	})

	t.Run("no successes means failed", func(t *testing.T) {
		summary, err := Summarize(batchID, makeJobs(models.JobFailed, models.JobCanceled))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, summary.Status)
	})

	t.Run("any processing job makes the batch processing", func(t *testing.T) {
		summary, err := Summarize(batchID, makeJobs(models.JobQueued, models.JobProcessing, models.JobSucceeded))
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, summary.Status)
		assert.Equal(t, 1, summary.Progress.Done)
		assert.Equal(t, 33, summary.Progress.Percent)
	})

	t.Run("all queued", func(t *testing.T) {
		summary, err := Summarize(batchID, makeJobs(models.JobQueued, models.JobQueued))
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, summary.Status)
		assert.Equal(t, 0, summary.Progress.Percent)
	})

	t.Run("charged is reserved minus refunded, floored at zero", func(t *testing.T) {
		jobs := makeJobs(models.JobSucceeded, models.JobFailed)
		jobs[1].TokensRefunded = 2

		summary, err := Summarize(batchID, jobs)
		require.NoError(t, err)
		assert.Equal(t, 4.0, summary.TokensReserved)
		assert.Equal(t, 2.0, summary.TokensRefunded)
		assert.Equal(t, 2.0, summary.TokensCharged)

		jobs[0].TokensReserved = 0
		jobs[1].TokensReserved = 0
		summary, err = Summarize(batchID, jobs)
		require.NoError(t, err)
		assert.Equal(t, 0.0, summary.TokensCharged)
	})
}
