package locker

import (
	"LockerLedger/internal/accrual"
	"LockerLedger/internal/event"
	"LockerLedger/internal/ledger"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enable activates the loan: the collected funds go to the borrower and the
// first cycle starts at now.
func (l *Locker) Enable(caller uuid.UUID, rateAdjustment int64, now time.Time) (*Effects, error) {
	if caller != l.Borrower {
		return nil, fmt.Errorf("enable by %s: %w", caller, ErrInvalidOwner)
	}
	if l.State != StateFunding {
		return nil, fmt.Errorf("enable in %s: %w", l.State, ErrInvalidPhase)
	}
	if l.BelowFloorAsked() {
		return nil, fmt.Errorf("collected %d of floor %d: %w", l.TotalCollected, l.FloorAsked, ErrBelowFloor)
	}

	rate := l.PaymentRate + rateAdjustment
	if rate <= 0 {
		return nil, fmt.Errorf("payment rate %d: %w", rate, ErrInvalidTerms)
	}
	if l.PaymentCycle <= 0 {
		return nil, fmt.Errorf("payment cycle %s: %w", l.PaymentCycle, ErrInvalidTerms)
	}
	if maxRate := accrual.MaxRatePerCycle(l.TotalCollected, l.Policy.MaxRatePerCycleBps); rate > maxRate {
		return nil, fmt.Errorf("payment rate %d exceeds %d per cycle: %w", rate, maxRate, ErrInvalidTerms)
	}

	fx := newEffects()
	fx.push(l, l.Borrower, l.TotalCollected, ledger.JournalTypeDisbursement)

	l.PaymentRate = rate
	l.Principal = l.TotalCollected
	l.PenaltyBalance = 0
	l.RemainingBalance = l.Principal
	l.InterestPaidThrough = now
	l.NextDueTime = now.Add(l.PaymentCycle)
	l.PenaltyThrough = l.NextDueTime
	l.transition(StateActive)

	fx.emit(&event.LockerEnabled{
		LockerID:     l.ID,
		Principal:    l.Principal,
		PaymentRate:  l.PaymentRate,
		PaymentCycle: l.PaymentCycle,
		NextDueTime:  l.NextDueTime,
	})

	l.Version++
	return fx, nil
}

// Payback settles a payment from payer.
//
// A payment covering the payoff (penalty, interest accrued to now, principal)
// repays the loan and releases the collateral. Otherwise it must cover the
// penalty plus one rate for every cycle started since InterestPaidThrough,
// and is applied to penalty, then interest, then principal.
func (l *Locker) Payback(payer uuid.UUID, amount int64, now time.Time) (*Effects, error) {
	if l.State != StateActive {
		return nil, fmt.Errorf("payback in %s: %w", l.State, ErrInvalidPhase)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("payback %d: %w", amount, ErrInvalidAmount)
	}
	if payer == uuid.Nil || payer == l.ID {
		return nil, fmt.Errorf("payer %s: %w", payer, ErrInvalidSender)
	}

	booked, through := l.pendingPenalty(now)
	penalty := l.PenaltyBalance + booked
	interest := l.accruedInterest(now)
	payoff := penalty + interest + l.Principal

	if amount >= payoff {
		return l.repay(payer, payoff, penalty, interest, now), nil
	}

	cycles := accrual.CyclesOwed(now.Sub(l.InterestPaidThrough), l.PaymentCycle)
	due := cycles * l.PaymentRate
	minimum := penalty + due
	if amount < minimum {
		return nil, fmt.Errorf("paid %d, minimum %d: %w", amount, minimum, ErrMinimumPayoff)
	}
	toPrincipal := amount - minimum

	fx := newEffects()
	fx.pull(l, payer, amount, ledger.JournalTypePayback)

	l.PenaltyBalance = 0
	l.Principal -= toPrincipal
	l.RemainingBalance = l.Principal
	l.InterestPaidThrough = l.InterestPaidThrough.Add(time.Duration(cycles) * l.PaymentCycle)
	l.NextDueTime = l.InterestPaidThrough.Add(l.PaymentCycle)
	l.PenaltyThrough = through
	if l.NextDueTime.After(l.PenaltyThrough) {
		l.PenaltyThrough = l.NextDueTime
	}
	l.distribute(amount, due)

	fx.emit(&event.PaybackReceived{
		LockerID:         l.ID,
		Payer:            payer,
		Amount:           amount,
		Penalty:          penalty,
		Interest:         due,
		Principal:        toPrincipal,
		CyclesSettled:    cycles,
		NextDueTime:      l.NextDueTime,
		RemainingBalance: l.RemainingBalance,
	})

	l.Version++
	return fx, nil
}

func (l *Locker) repay(payer uuid.UUID, payoff, penalty, interest int64, now time.Time) *Effects {
	fx := newEffects()
	fx.pull(l, payer, payoff, ledger.JournalTypePayback)
	fx.moveCollateral(l, l.ID, l.Borrower)

	principal := l.Principal
	l.Principal = 0
	l.PenaltyBalance = 0
	l.RemainingBalance = 0
	l.InterestPaidThrough = now
	l.PenaltyThrough = now
	l.distribute(payoff, interest)
	l.transition(StateRepaid)

	fx.emit(&event.PaybackReceived{
		LockerID:  l.ID,
		Payer:     payer,
		Amount:    payoff,
		Penalty:   penalty,
		Interest:  interest,
		Principal: principal,
	})
	fx.emit(&event.LockerRepaid{LockerID: l.ID, Payer: payer, Payoff: payoff})

	l.Version++
	return fx
}

// distribute credits collected money to funders.
func (l *Locker) distribute(total, interest int64) {
	l.ClaimableBalance += total
	l.TotalDistributed += total
	l.InterestCollected += interest
}

// Liquidate hands the collateral to the lender side once the loan is overdue.
func (l *Locker) Liquidate(caller uuid.UUID, now time.Time) (*Effects, error) {
	if l.State != StateActive {
		return nil, fmt.Errorf("liquidate in %s: %w", l.State, ErrInvalidPhase)
	}
	if !l.IsOverdue(now) {
		return nil, fmt.Errorf("liquidate before %s: %w",
			l.NextDueTime.Add(l.Policy.LateTolerance).Format(time.RFC3339), ErrTooEarly)
	}

	beneficiary := l.liquidationBeneficiary()
	if beneficiary == uuid.Nil {
		return nil, fmt.Errorf("no liquidation beneficiary: %w", ErrInvalidPhase)
	}
	outstanding := l.Payoff(now)

	fx := newEffects()
	fx.moveCollateral(l, l.ID, beneficiary)
	l.LiquidatedTo = beneficiary
	l.transition(StateLiquidated)
	fx.emit(&event.LockerLiquidated{
		LockerID:    l.ID,
		Caller:      caller,
		Beneficiary: beneficiary,
		Outstanding: outstanding,
	})

	l.Version++
	return fx, nil
}

func (l *Locker) liquidationBeneficiary() uuid.UUID {
	if l.SingleProvider != uuid.Nil {
		return l.SingleProvider
	}
	switch l.Policy.Liquidation {
	case LiquidateToTreasury:
		return l.Policy.Treasury
	default:
		return l.largestContributor()
	}
}

// ClaimInterest pays contributor its outstanding pro-rata share of what has
// been distributed. Any caller may trigger it; funds only go to contributor.
// Nothing owed is a successful no-op with no effects.
func (l *Locker) ClaimInterest(caller, contributor uuid.UUID, now time.Time) (*Effects, error) {
	switch l.State {
	case StateActive, StateLiquidated, StateRepaid:
	default:
		return nil, fmt.Errorf("claim in %s: %w", l.State, ErrInvalidPhase)
	}

	fx := newEffects()

	owed := l.Claimable(contributor)
	if owed <= 0 {
		return fx, nil
	}

	fx.push(l, contributor, owed, ledger.JournalTypeInterestClaim)
	l.compensations[contributor] += owed
	l.ClaimableBalance -= owed
	fx.emit(&event.InterestClaimed{
		LockerID:    l.ID,
		Caller:      caller,
		Contributor: contributor,
		Amount:      owed,
		Compensated: l.compensations[contributor],
	})

	l.Version++
	return fx, nil
}

// Claimable returns what contributor could claim right now
func (l *Locker) Claimable(contributor uuid.UUID) int64 {
	share := accrual.ProRataShare(l.contributions[contributor], l.TotalDistributed, l.TotalCollected)
	owed := share - l.compensations[contributor]
	if owed > l.ClaimableBalance {
		owed = l.ClaimableBalance
	}
	if owed < 0 {
		return 0
	}
	return owed
}
