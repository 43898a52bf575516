package billing

import (
	"math"

	"artgen/internal/models"
)

// planDebits computes the funding composition for a reservation:
// referral rewards are consumed oldest-first until exhausted, then the
// subscription balance covers the rest. The rewards slice must already
// be in FIFO order (created_at ASC, id ASC); this function preserves
// that order in the returned debits.
func planDebits(rewards []models.ReferralReward, subBalance, amount float64) (models.Composition, error) {
	amount = models.Round2(amount)

	available := subBalance
	for _, r := range rewards {
		available += r.TokensRemaining
	}
	if amount > models.Round2(available) {
		return models.Composition{}, &InsufficientTokensError{
			Requested: amount,
			Available: models.Round2(available),
		}
	}

	comp := models.Composition{}
	left := amount
	for _, r := range rewards {
		if left <= 0 {
			break
		}
		take := r.TokensRemaining
		if take > left {
			take = left
		}
		take = models.Round2(take)
		if take <= 0 {
			continue
		}
		comp.ReferralDebits = append(comp.ReferralDebits, models.ReferralDebit{
			RewardID: r.ID,
			Tokens:   take,
		})
		comp.Referral = models.Round2(comp.Referral + take)
		left = models.Round2(left - take)
	}

	comp.Subscription = left
	return comp, nil
}

// splitComposition slices a batch-level composition into per-job
// compositions, walking the referral debits in their debit order so
// that refunding any subset of jobs reverses exactly those jobs'
// slices. shares must sum to the composition total.
func splitComposition(comp models.Composition, shares []float64) []models.Composition {
	slices := make([]models.Composition, len(shares))

	debitIdx := 0
	var debitUsed float64
	subLeft := comp.Subscription

	for i, share := range shares {
		need := models.Round2(share)
		slice := models.Composition{}

		for need > 0 && debitIdx < len(comp.ReferralDebits) {
			debit := comp.ReferralDebits[debitIdx]
			avail := models.Round2(debit.Tokens - debitUsed)
			if avail <= 0 {
				debitIdx++
				debitUsed = 0
				continue
			}
			take := avail
			if take > need {
				take = need
			}
			slice.ReferralDebits = append(slice.ReferralDebits, models.ReferralDebit{
				RewardID: debit.RewardID,
				Tokens:   take,
			})
			slice.Referral = models.Round2(slice.Referral + take)
			debitUsed = models.Round2(debitUsed + take)
			need = models.Round2(need - take)
		}

		if need > 0 {
			take := need
			if take > subLeft {
				take = models.Round2(subLeft)
			}
			slice.Subscription = take
			subLeft = models.Round2(subLeft - take)
		}

		slices[i] = slice
	}

	return slices
}

// evenShares splits a total amount into n near-equal two-decimal
// shares. The split works in whole cents, handing the remainder out
// one cent at a time, so shares always sum back to the total and no
// share goes negative even when the total is smaller than n cents.
func evenShares(total float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	totalCents := int64(math.Round(models.Round2(total) * 100))
	base := totalCents / int64(n)
	extra := totalCents % int64(n)

	shares := make([]float64, n)
	for i := range shares {
		cents := base
		if int64(i) < extra {
			cents++
		}
		shares[i] = float64(cents) / 100
	}
	return shares
}
