package locker

import (
	"LockerLedger/internal/event"
	"LockerLedger/internal/ledger"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Contribute pulls up to amount from contributor into custody.
//
// An offer of at least TotalAsked while other positions are open is a
// takeover: the contributor funds exactly TotalAsked and every other position
// is displaced. Otherwise the offer is partially filled up to the cap.
func (l *Locker) Contribute(contributor uuid.UUID, amount int64, now time.Time) (*Effects, error) {
	if l.State != StateFunding {
		return nil, fmt.Errorf("contribute in %s: %w", l.State, ErrInvalidPhase)
	}
	if l.IsFundingExpired(now) {
		return nil, fmt.Errorf("funding window closed at %s: %w", l.fundingDeadline().Format(time.RFC3339), ErrInvalidPhase)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("contribute %d: %w", amount, ErrInvalidAmount)
	}
	if contributor == uuid.Nil || contributor == l.ID {
		return nil, fmt.Errorf("contributor %s: %w", contributor, ErrInvalidSender)
	}
	if l.TotalCollected >= l.TotalAsked {
		return nil, fmt.Errorf("cap %d reached: %w", l.TotalAsked, ErrInvalidPhase)
	}
	if l.contributions[contributor] > 0 {
		return nil, fmt.Errorf("contributor %s: %w", contributor, ErrProviderExists)
	}

	fx := newEffects()

	if amount >= l.TotalAsked && l.TotalCollected > 0 {
		l.takeover(fx, contributor)
	} else {
		accepted := min(amount, l.TotalAsked-l.TotalCollected)
		fx.pull(l, contributor, accepted, ledger.JournalTypeContribution)
		l.credit(contributor, accepted)
		if accepted == l.TotalAsked {
			l.SingleProvider = contributor
		}
	}

	fx.emit(&event.Contributed{
		LockerID:       l.ID,
		Contributor:    contributor,
		Offered:        amount,
		Accepted:       l.contributions[contributor],
		TotalCollected: l.TotalCollected,
	})
	if l.SingleProvider == contributor {
		fx.emit(&event.SingleProvider{LockerID: l.ID, Provider: contributor, Superseded: l.supersededList()})
	}

	l.Version++
	return fx, nil
}

func (l *Locker) credit(contributor uuid.UUID, amount int64) {
	if !l.hasOrder(contributor) {
		l.order = append(l.order, contributor)
	}
	l.contributions[contributor] += amount
	l.TotalCollected += amount
}

func (l *Locker) hasOrder(id uuid.UUID) bool {
	for _, o := range l.order {
		if o == id {
			return true
		}
	}
	return false
}

// takeover displaces every open position in favor of contributor.
func (l *Locker) takeover(fx *Effects, contributor uuid.UUID) {
	displaced := l.Contributors()

	fx.pull(l, contributor, l.TotalAsked, ledger.JournalTypeContribution)

	for _, id := range displaced {
		amount := l.contributions[id]
		switch l.Policy.Takeover {
		case TakeoverPull:
			l.superseded[id] += amount
		default:
			fx.push(l, id, amount, ledger.JournalTypeTakeoverRefund)
		}
		delete(l.contributions, id)
		l.TotalCollected -= amount
	}

	l.credit(contributor, l.TotalAsked)
	l.SingleProvider = contributor
}

func (l *Locker) supersededList() []uuid.UUID {
	if len(l.superseded) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(l.superseded))
	for _, id := range l.order {
		if l.superseded[id] > 0 {
			out = append(out, id)
		}
	}
	return out
}

// Disable lets the borrower withdraw a request that has not reached its floor.
func (l *Locker) Disable(caller uuid.UUID, now time.Time) (*Effects, error) {
	if caller != l.Borrower {
		return nil, fmt.Errorf("disable by %s: %w", caller, ErrInvalidOwner)
	}
	if l.State != StateFunding {
		return nil, fmt.Errorf("disable in %s: %w", l.State, ErrInvalidPhase)
	}
	if !l.BelowFloorAsked() {
		return nil, fmt.Errorf("collected %d of floor %d: %w", l.TotalCollected, l.FloorAsked, ErrFloorReached)
	}

	fx := newEffects()
	fx.moveCollateral(l, l.ID, l.Borrower)
	l.transition(StateCancelled)
	fx.emit(&event.LockerDisabled{LockerID: l.ID, Borrower: caller})

	l.Version++
	return fx, nil
}

// Rescue cancels a locker stuck in Funding past its grace period.
func (l *Locker) Rescue(caller uuid.UUID, now time.Time) (*Effects, error) {
	if l.State != StateFunding {
		return nil, fmt.Errorf("rescue in %s: %w", l.State, ErrInvalidPhase)
	}
	if !l.IsRescuable(now) {
		return nil, fmt.Errorf("rescue before %s: %w",
			l.fundingDeadline().Add(l.Policy.GracePeriod).Format(time.RFC3339), ErrTooEarly)
	}

	fx := newEffects()
	fx.moveCollateral(l, l.ID, l.Borrower)
	l.transition(StateCancelled)
	fx.emit(&event.LockerRescued{LockerID: l.ID, Caller: caller})

	l.Version++
	return fx, nil
}

// RefundDueExpired returns contributor's full position to contributor. Any
// caller may trigger it once the locker can no longer be enabled.
func (l *Locker) RefundDueExpired(caller, contributor uuid.UUID, now time.Time) (*Effects, error) {
	refundable := l.State == StateCancelled ||
		(l.State == StateFunding && l.BelowFloorAsked() && l.IsFundingExpired(now))
	if !refundable {
		return nil, fmt.Errorf("refund of %s in %s: %w", contributor, l.State, ErrEnabledLocker)
	}
	if contributor == uuid.Nil || contributor == l.ID {
		return nil, fmt.Errorf("contributor %s: %w", contributor, ErrInvalidSender)
	}

	amount := l.contributions[contributor]

	fx := newEffects()
	fx.push(l, contributor, amount, ledger.JournalTypeExpiredRefund)

	delete(l.contributions, contributor)
	l.TotalCollected -= amount
	if l.SingleProvider == contributor {
		l.SingleProvider = uuid.Nil
	}

	l.Version++
	return fx, nil
}

// RefundDueSingle pays the caller the position a takeover displaced.
func (l *Locker) RefundDueSingle(caller uuid.UUID, now time.Time) (*Effects, error) {
	if l.SingleProvider != uuid.Nil && caller == l.SingleProvider {
		return nil, fmt.Errorf("single provider %s: %w", caller, ErrInvalidSender)
	}
	if l.SingleProvider == uuid.Nil && len(l.superseded) == 0 {
		return nil, fmt.Errorf("no single provider: %w", ErrInvalidPhase)
	}

	amount := l.superseded[caller]
	if amount == 0 {
		return nil, fmt.Errorf("nothing superseded for %s: %w", caller, ErrInvalidSender)
	}

	fx := newEffects()
	fx.push(l, caller, amount, ledger.JournalTypeSingleRefund)
	delete(l.superseded, caller)

	l.Version++
	return fx, nil
}

// IncreasePaymentRate sweetens the offered terms before funds are committed.
func (l *Locker) IncreasePaymentRate(caller uuid.UUID, delta int64, now time.Time) (*Effects, error) {
	if caller != l.Borrower {
		return nil, fmt.Errorf("increase rate by %s: %w", caller, ErrInvalidOwner)
	}
	if l.State != StateFunding {
		return nil, fmt.Errorf("increase rate in %s: %w", l.State, ErrInvalidPhase)
	}
	if delta <= 0 {
		return nil, fmt.Errorf("rate delta %d: %w", delta, ErrInvalidTerms)
	}

	l.PaymentRate += delta

	fx := newEffects()
	fx.emit(&event.PaymentRateIncreased{LockerID: l.ID, Delta: delta, PaymentRate: l.PaymentRate})
	l.Version++
	return fx, nil
}

// DecreasePaymentTime shortens the repayment cycle before funds are committed.
func (l *Locker) DecreasePaymentTime(caller uuid.UUID, cycle time.Duration, now time.Time) (*Effects, error) {
	if caller != l.Borrower {
		return nil, fmt.Errorf("decrease cycle by %s: %w", caller, ErrInvalidOwner)
	}
	if l.State != StateFunding {
		return nil, fmt.Errorf("decrease cycle in %s: %w", l.State, ErrInvalidPhase)
	}
	if cycle <= 0 || cycle >= l.PaymentCycle {
		return nil, fmt.Errorf("cycle %s must be in (0, %s): %w", cycle, l.PaymentCycle, ErrInvalidTerms)
	}

	l.PaymentCycle = cycle

	fx := newEffects()
	fx.emit(&event.PaymentTimeDecreased{LockerID: l.ID, PaymentCycle: cycle})
	l.Version++
	return fx, nil
}
