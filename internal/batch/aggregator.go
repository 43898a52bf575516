package batch

import (
	"errors"
	"math"

	"github.com/google/uuid"

	"artgen/internal/models"
)

// ErrEmptyBatch is returned when summarizing a batch with no jobs
var ErrEmptyBatch = errors.New("batch has no jobs")

// Status of a batch as a whole. partial means the batch finished with
// a mix of outcomes that includes at least one success.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Progress is the per-status breakdown of a batch.
type Progress struct {
	Done       int
	Total      int
	Percent    int
	Queued     int
	Processing int
	Succeeded  int
	Failed     int
	Canceled   int
}

// Summary is the caller-facing view of one submission's sibling jobs.
type Summary struct {
	BatchID        uuid.UUID
	Status         Status
	Progress       Progress
	TokensReserved float64
	TokensRefunded float64
	TokensCharged  float64
}

// Summarize folds a batch's jobs into a single progress/status view.
//
// Status derivation, tie-broken in this order: once every job is done,
// all-canceled wins, then all-succeeded, then any-succeeded (partial),
// else failed. An unfinished batch is processing if any job is, else
// queued.
func Summarize(batchID uuid.UUID, jobs []models.Job) (Summary, error) {
	if len(jobs) == 0 {
		return Summary{}, ErrEmptyBatch
	}

	var progress Progress
	var reserved, refunded float64

	progress.Total = len(jobs)
	for _, job := range jobs {
		switch job.Status {
		case models.JobQueued:
			progress.Queued++
		case models.JobProcessing:
			progress.Processing++
		case models.JobSucceeded:
			progress.Succeeded++
		case models.JobFailed:
			progress.Failed++
		case models.JobCanceled:
			progress.Canceled++
		}
		reserved = models.Round2(reserved + job.TokensReserved)
		refunded = models.Round2(refunded + job.TokensRefunded)
	}

	progress.Done = progress.Succeeded + progress.Failed + progress.Canceled
	progress.Percent = int(math.Round(float64(progress.Done) / float64(progress.Total) * 100))

	charged := models.Round2(reserved - refunded)
	if charged < 0 {
		charged = 0
	}

	return Summary{
		BatchID:        batchID,
		Status:         deriveStatus(progress),
		Progress:       progress,
		TokensReserved: reserved,
		TokensRefunded: refunded,
		TokensCharged:  charged,
	}, nil
}

func deriveStatus(p Progress) Status {
	if p.Done == p.Total {
		switch {
		case p.Canceled == p.Total:
			return StatusCanceled
		case p.Succeeded == p.Total:
			return StatusSucceeded
		case p.Succeeded > 0:
			return StatusPartial
		default:
			return StatusFailed
		}
	}
	if p.Processing > 0 {
		return StatusProcessing
	}
	return StatusQueued
}
