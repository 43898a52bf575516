package models

import "time"

// Plan is the subscription tier governing concurrency, rate limits and
// daily caps. Closed set; unknown values fall back to the free policy.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanStarter      Plan = "starter"
	PlanPro          Plan = "pro"
	PlanBusinessPlus Plan = "business_plus"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanPro, PlanBusinessPlus:
		return true
	}
	return false
}

// NextUpgrade returns the plan recommended when p runs out of tokens or
// hits a plan limit. The top tier recommends itself.
func (p Plan) NextUpgrade() Plan {
	switch p {
	case PlanFree:
		return PlanStarter
	case PlanStarter:
		return PlanPro
	case PlanPro:
		return PlanBusinessPlus
	case PlanBusinessPlus:
		return PlanBusinessPlus
	}
	return PlanStarter
}

// PlanPolicy is the static per-plan admission and scheduling policy.
// Nil limits mean unlimited.
type PlanPolicy struct {
	MaxParallel         int
	PriorityWeight      int
	RateWindow          time.Duration
	MaxBatchesPerWindow *int
	DailyJobLimit       *int
}

var planPolicies = map[Plan]PlanPolicy{
	PlanFree: {
		MaxParallel:         1,
		PriorityWeight:      0,
		RateWindow:          60 * time.Second,
		MaxBatchesPerWindow: intPtr(1),
		DailyJobLimit:       intPtr(10),
	},
	PlanStarter: {
		MaxParallel:         1,
		PriorityWeight:      10,
		RateWindow:          60 * time.Second,
		MaxBatchesPerWindow: intPtr(2),
		DailyJobLimit:       intPtr(50),
	},
	PlanPro: {
		MaxParallel:         2,
		PriorityWeight:      20,
		RateWindow:          60 * time.Second,
		MaxBatchesPerWindow: intPtr(4),
		DailyJobLimit:       intPtr(200),
	},
	PlanBusinessPlus: {
		MaxParallel:         4,
		PriorityWeight:      30,
		RateWindow:          30 * time.Second,
		MaxBatchesPerWindow: intPtr(8),
		DailyJobLimit:       nil,
	},
}

// PolicyFor returns the policy for a plan. Unknown plans get the free
// policy so a corrupt row never bypasses limits.
func PolicyFor(p Plan) PlanPolicy {
	if policy, ok := planPolicies[p]; ok {
		return policy
	}
	return planPolicies[PlanFree]
}

func intPtr(v int) *int {
	return &v
}
