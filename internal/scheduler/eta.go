package scheduler

import (
	"math"
	"time"

	"artgen/internal/models"
)

// avgDuration averages the samples and clamps the result to
// [minDur, maxDur] so pathological outliers never skew the ETA. With
// no samples it falls back to the configured per-mode default, which
// is clamped the same way.
func avgDuration(samples []time.Duration, fallback, minDur, maxDur time.Duration) time.Duration {
	d := fallback
	if len(samples) > 0 {
		var total time.Duration
		for _, s := range samples {
			total += s
		}
		d = total / time.Duration(len(samples))
	}

	if d < minDur {
		return minDur
	}
	if d > maxDur {
		return maxDur
	}
	return d
}

// etaSeconds estimates seconds until a queued batch completes: the
// estimated work ahead of it (queued before it plus currently
// processing) and its own remaining jobs, divided by the plan's
// parallelism. An approximation for UI display, not a scheduling
// guarantee.
func etaSeconds(ahead, processing map[models.Mode]int, myRemaining int, myMode models.Mode, estimates map[models.Mode]time.Duration, maxParallel int, minETA time.Duration) int {
	if maxParallel < 1 {
		maxParallel = 1
	}

	var total time.Duration
	for mode, count := range ahead {
		total += time.Duration(count) * estimates[mode]
	}
	for mode, count := range processing {
		total += time.Duration(count) * estimates[mode]
	}
	total += time.Duration(myRemaining) * estimates[myMode]

	eta := time.Duration(math.Ceil(total.Seconds()/float64(maxParallel))) * time.Second
	if eta < minETA {
		eta = minETA
	}
	return int(eta.Seconds())
}
