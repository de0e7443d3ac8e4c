package accrual

import "time"

// ProRataInterest returns the interest accrued over elapsed at rate per full
// cycle. Partial units round up in favor of the lender.
func ProRataInterest(rate int64, elapsed, cycle time.Duration) int64 {
	if elapsed <= 0 || rate <= 0 || cycle <= 0 {
		return 0
	}
	return MulDiv(rate, int64(elapsed), int64(cycle), RoundUp)
}

// CeilCycles returns the number of cycles touched by elapsed (0 when elapsed <= 0).
func CeilCycles(elapsed, cycle time.Duration) int64 {
	if elapsed <= 0 || cycle <= 0 {
		return 0
	}
	n := int64(elapsed / cycle)
	if elapsed%cycle != 0 {
		n++
	}
	return n
}

// CyclesOwed returns how many whole cycles a payment must settle: every cycle
// started since the settlement point, and at least one.
func CyclesOwed(elapsed, cycle time.Duration) int64 {
	if n := CeilCycles(elapsed, cycle); n > 1 {
		return n
	}
	return 1
}

// PenaltyPerCycle is the late fee booked for each overdue cycle.
func PenaltyPerCycle(rate, penaltyBps int64) int64 {
	if rate <= 0 || penaltyBps <= 0 {
		return 0
	}
	return MulDiv(rate, penaltyBps, BpsScale, RoundUp)
}

// BookPenalty computes the penalty owed for overdue cycles between through
// and now, returning the amount and the advanced watermark.
func BookPenalty(through, now time.Time, cycle time.Duration, perCycle int64) (int64, time.Time) {
	if !now.After(through) || cycle <= 0 {
		return 0, through
	}
	cycles := CeilCycles(now.Sub(through), cycle)
	return cycles * perCycle, through.Add(time.Duration(cycles) * cycle)
}

// MaxRatePerCycle caps the per-cycle payment relative to principal.
func MaxRatePerCycle(principal, maxBps int64) int64 {
	return MulDiv(principal, maxBps, BpsScale, RoundDown)
}

// ProRataShare returns contribution/total of distributed, rounded down so
// the sum of shares never exceeds distributed.
func ProRataShare(contribution, distributed, total int64) int64 {
	if total <= 0 || contribution <= 0 || distributed <= 0 {
		return 0
	}
	return MulDiv(contribution, distributed, total, RoundDown)
}
