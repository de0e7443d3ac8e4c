package locker_test

import (
	"LockerLedger/internal/event"
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/locker"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Test: creation
// ============================================================================

func TestNew_PullsCollateralAndEmitsNewLocker(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())

	if h.l.State != locker.StateFunding {
		t.Fatalf("state: got %s, want Funding", h.l.State)
	}
	if h.l.TotalAsked != 600 {
		t.Errorf("total asked: got %d, want 600", h.l.TotalAsked)
	}
	if h.l.PaymentCycle != h.l.FundingWindow {
		t.Errorf("payment cycle: got %s, want %s", h.l.PaymentCycle, h.l.FundingWindow)
	}
}

func TestNew_RejectsDegenerateTerms(t *testing.T) {
	borrower := uuid.New()
	good := locker.Params{
		Borrower:      borrower,
		Currency:      testCurrency,
		Collateral:    []ledger.Asset{{Registry: testRegistry, TokenID: 1}},
		FloorAsked:    100,
		FundingWindow: day,
		PaymentRate:   10,
	}

	cases := []struct {
		name   string
		mutate func(p *locker.Params)
	}{
		{"no borrower", func(p *locker.Params) { p.Borrower = uuid.Nil }},
		{"no currency", func(p *locker.Params) { p.Currency = "" }},
		{"no collateral", func(p *locker.Params) { p.Collateral = nil }},
		{"duplicate collateral", func(p *locker.Params) { p.Collateral = append(p.Collateral, p.Collateral[0]) }},
		{"zero floor", func(p *locker.Params) { p.FloorAsked = 0 }},
		{"negative delta", func(p *locker.Params) { p.Delta = -1 }},
		{"zero window", func(p *locker.Params) { p.FundingWindow = 0 }},
		{"zero rate", func(p *locker.Params) { p.PaymentRate = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := good
			p.Collateral = append([]ledger.Asset(nil), good.Collateral...)
			tc.mutate(&p)
			_, _, err := locker.New(uuid.New(), p, testPolicy(), t0)
			if !errors.Is(err, locker.ErrInvalidTerms) {
				t.Errorf("got %v, want ErrInvalidTerms", err)
			}
		})
	}
}

// ============================================================================
// Test: contribute
// ============================================================================

func TestContribute_PartialFillAtCap(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	a, b := h.funder(), h.funder()

	h.mustContribute(a, 500, t0.Add(day))
	h.mustContribute(b, 200, t0.Add(day))

	if got := h.l.Contribution(b); got != 100 {
		t.Errorf("partial fill: got %d, want 100", got)
	}
	if h.l.TotalCollected != 600 {
		t.Errorf("total collected: got %d, want 600", h.l.TotalCollected)
	}
	if h.l.SingleProvider != uuid.Nil {
		t.Errorf("single provider set without a full position")
	}
	if got := h.balance(b); got != startBalance-100 {
		t.Errorf("contributor b balance: got %d, want %d", got, startBalance-100)
	}

	err := h.contribute(h.funder(), 10, t0.Add(day))
	if !errors.Is(err, locker.ErrInvalidPhase) {
		t.Errorf("contribute at cap: got %v, want ErrInvalidPhase", err)
	}
}

func TestContribute_ProviderExists(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	a := h.funder()

	h.mustContribute(a, 100, t0.Add(day))
	err := h.contribute(a, 50, t0.Add(day))
	if !errors.Is(err, locker.ErrProviderExists) {
		t.Errorf("got %v, want ErrProviderExists", err)
	}
	if h.l.Contribution(a) != 100 {
		t.Errorf("position topped up: got %d, want 100", h.l.Contribution(a))
	}
}

func TestContribute_WindowClosed(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())

	err := h.contribute(h.funder(), 100, t0.Add(30*day))
	if !errors.Is(err, locker.ErrInvalidPhase) {
		t.Errorf("got %v, want ErrInvalidPhase", err)
	}
}

func TestContribute_InvalidAmount(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())

	for _, amount := range []int64{0, -5} {
		if err := h.contribute(h.funder(), amount, t0); !errors.Is(err, locker.ErrInvalidAmount) {
			t.Errorf("amount %d: got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestContribute_FullAmountAloneBecomesSingleProvider(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	a := h.funder()

	h.mustContribute(a, 900, t0)

	if h.l.SingleProvider != a {
		t.Fatalf("single provider: got %s, want %s", h.l.SingleProvider, a)
	}
	if h.l.Contribution(a) != 600 {
		t.Errorf("accepted: got %d, want 600", h.l.Contribution(a))
	}
	if !hasEvent(h.last, event.EventTypeSingleProvider) {
		t.Errorf("missing SingleProvider event")
	}
}

func TestContribute_TakeoverRefundsEveryoneElse(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	a, b, c := h.funder(), h.funder(), h.funder()

	h.mustContribute(a, 100, t0.Add(day))
	h.mustContribute(b, 200, t0.Add(day))
	h.mustContribute(c, 600, t0.Add(2*day))

	if h.l.SingleProvider != c {
		t.Fatalf("single provider: got %s, want %s", h.l.SingleProvider, c)
	}
	if h.l.TotalCollected != 600 || h.l.Contribution(c) != 600 {
		t.Errorf("collected %d, c holds %d, want 600/600", h.l.TotalCollected, h.l.Contribution(c))
	}
	for _, displaced := range []uuid.UUID{a, b} {
		if h.l.Contribution(displaced) != 0 {
			t.Errorf("displaced %s still holds %d", displaced, h.l.Contribution(displaced))
		}
		if got := h.balance(displaced); got != startBalance {
			t.Errorf("displaced %s balance: got %d, want %d", displaced, got, startBalance)
		}
	}
	if got := h.last.Batch.Volume()[ledger.JournalTypeTakeoverRefund]; got != 300 {
		t.Errorf("takeover refund volume: got %d, want 300", got)
	}
	if contributors := h.l.Contributors(); len(contributors) != 1 || contributors[0] != c {
		t.Errorf("contributors: got %v, want [%s]", contributors, c)
	}
}

func TestContribute_PullModeTakeoverAndRefundDueSingle(t *testing.T) {
	policy := testPolicy()
	policy.Takeover = locker.TakeoverPull
	h := newHarness(t, 300, 300, policy)
	a, b, c := h.funder(), h.funder(), h.funder()

	h.mustContribute(a, 100, t0)
	h.mustContribute(b, 200, t0)
	h.mustContribute(c, 700, t0)

	if h.l.Superseded(a) != 100 || h.l.Superseded(b) != 200 {
		t.Fatalf("superseded: a=%d b=%d, want 100/200", h.l.Superseded(a), h.l.Superseded(b))
	}
	if got := h.balance(a); got != startBalance-100 {
		t.Errorf("a refunded eagerly: balance %d", got)
	}

	refundSingle := func(caller uuid.UUID) error {
		return h.apply(func(l *locker.Locker) (*locker.Effects, error) {
			return l.RefundDueSingle(caller, t0)
		})
	}

	if err := refundSingle(c); !errors.Is(err, locker.ErrInvalidSender) {
		t.Errorf("single provider self refund: got %v, want ErrInvalidSender", err)
	}
	if err := refundSingle(h.funder()); !errors.Is(err, locker.ErrInvalidSender) {
		t.Errorf("stranger refund: got %v, want ErrInvalidSender", err)
	}

	if err := refundSingle(a); err != nil {
		t.Fatalf("refund a: %v", err)
	}
	if got := h.balance(a); got != startBalance {
		t.Errorf("a balance: got %d, want %d", got, startBalance)
	}
	if err := refundSingle(a); !errors.Is(err, locker.ErrInvalidSender) {
		t.Errorf("second refund: got %v, want ErrInvalidSender", err)
	}
	if err := refundSingle(b); err != nil {
		t.Fatalf("refund b: %v", err)
	}
}

func TestRefundDueSingle_NoSingleProvider(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	h.mustContribute(h.funder(), 100, t0)

	err := h.apply(func(l *locker.Locker) (*locker.Effects, error) {
		return l.RefundDueSingle(uuid.New(), t0)
	})
	if !errors.Is(err, locker.ErrInvalidPhase) {
		t.Errorf("got %v, want ErrInvalidPhase", err)
	}
}

func TestContribute_RandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		h := newHarness(t, 300, int64(rng.Intn(500)), testPolicy())
		for i := 0; i < 10; i++ {
			amount := int64(rng.Intn(int(h.l.TotalAsked)+50)) - 10
			err := h.contribute(h.funder(), amount, t0.Add(time.Duration(i)*time.Hour))
			if err != nil &&
				!errors.Is(err, locker.ErrInvalidAmount) &&
				!errors.Is(err, locker.ErrInvalidPhase) {
				t.Fatalf("round %d: unexpected error %v", round, err)
			}

			var sum int64
			for _, id := range h.l.Contributors() {
				sum += h.l.Contribution(id)
			}
			if sum != h.l.TotalCollected {
				t.Fatalf("round %d: sum %d != collected %d", round, sum, h.l.TotalCollected)
			}
			if h.l.TotalCollected > h.l.TotalAsked {
				t.Fatalf("round %d: collected %d over cap %d", round, h.l.TotalCollected, h.l.TotalAsked)
			}
		}
	}
}

// ============================================================================
// Test: disable
// ============================================================================

func TestDisable_FloorReached(t *testing.T) {
	// floor 300, cap 600
	h := newHarness(t, 300, 300, testPolicy())

	h.mustContribute(h.funder(), 100, t0.Add(day))
	h.mustContribute(h.funder(), 200, t0.Add(day))

	if h.l.BelowFloorAsked() {
		t.Fatalf("below floor at exactly %d", h.l.TotalCollected)
	}

	err := h.apply(func(l *locker.Locker) (*locker.Effects, error) { return l.Disable(h.borrower, t0.Add(day)) })
	if !errors.Is(err, locker.ErrFloorReached) {
		t.Errorf("borrower: got %v, want ErrFloorReached", err)
	}
	err = h.apply(func(l *locker.Locker) (*locker.Effects, error) { return l.Disable(uuid.New(), t0.Add(day)) })
	if !errors.Is(err, locker.ErrInvalidOwner) {
		t.Errorf("stranger: got %v, want ErrInvalidOwner", err)
	}
}

func TestDisable_BelowFloorReturnsCollateral(t *testing.T) {
	// floor 600, cap 600
	h := newHarness(t, 600, 0, testPolicy())
	a, b := h.funder(), h.funder()

	h.mustContribute(a, 100, t0.Add(day))
	h.mustContribute(b, 200, t0.Add(day))

	if !h.l.BelowFloorAsked() || h.l.TotalCollected != 300 {
		t.Fatalf("below=%v collected=%d, want true/300", h.l.BelowFloorAsked(), h.l.TotalCollected)
	}

	h.mustApply(func(l *locker.Locker) (*locker.Effects, error) { return l.Disable(h.borrower, t0.Add(day)) })

	if h.l.State != locker.StateCancelled {
		t.Fatalf("state: got %s, want Cancelled", h.l.State)
	}
	h.assertCollateralHeldBy(h.borrower)

	// Contributors drain their positions after cancellation.
	h.mustApply(func(l *locker.Locker) (*locker.Effects, error) { return l.RefundDueExpired(uuid.New(), a, t0.Add(day)) })
	if got := h.balance(a); got != startBalance {
		t.Errorf("a balance: got %d, want %d", got, startBalance)
	}
}

// ============================================================================
// Test: refund due expired
// ============================================================================

func TestRefundDueExpired(t *testing.T) {
	h := newHarness(t, 600, 0, testPolicy())
	a := h.funder()
	h.mustContribute(a, 200, t0.Add(day))

	refund := func(at time.Time) error {
		return h.apply(func(l *locker.Locker) (*locker.Effects, error) {
			return l.RefundDueExpired(uuid.New(), a, at)
		})
	}

	if err := refund(t0.Add(29 * day)); !errors.Is(err, locker.ErrEnabledLocker) {
		t.Fatalf("before window: got %v, want ErrEnabledLocker", err)
	}

	if err := refund(t0.Add(30 * day)); err != nil {
		t.Fatalf("after window: %v", err)
	}
	if got := h.balance(a); got != startBalance {
		t.Errorf("a balance: got %d, want %d", got, startBalance)
	}

	// Second call transfers zero and still succeeds.
	if err := refund(t0.Add(31 * day)); err != nil {
		t.Fatalf("zero refund: %v", err)
	}
	if len(h.last.Batch.Journals) != 1 || h.last.Batch.Journals[0].Amount != 0 {
		t.Errorf("zero refund journals: %+v", h.last.Batch.Journals)
	}
	if !hasEvent(h.last, event.EventTypeTransfer) {
		t.Errorf("zero refund emitted no Transfer")
	}
}

func TestRefundDueExpired_FloorReachedStaysEnabled(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	a := h.funder()
	h.mustContribute(a, 300, t0)

	err := h.apply(func(l *locker.Locker) (*locker.Effects, error) {
		return l.RefundDueExpired(a, a, t0.Add(60*day))
	})
	if !errors.Is(err, locker.ErrEnabledLocker) {
		t.Errorf("got %v, want ErrEnabledLocker", err)
	}
}

func TestRefundDueExpired_ClearsSingleProvider(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	a := h.funder()
	h.mustContribute(a, 600, t0)

	h.mustApply(func(l *locker.Locker) (*locker.Effects, error) { return l.Rescue(uuid.New(), t0.Add(37*day)) })
	h.mustApply(func(l *locker.Locker) (*locker.Effects, error) { return l.RefundDueExpired(uuid.New(), a, t0.Add(37*day)) })

	if h.l.SingleProvider != uuid.Nil {
		t.Errorf("single provider not cleared")
	}
}

// ============================================================================
// Test: rescue
// ============================================================================

func TestRescue(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	a := h.funder()
	h.mustContribute(a, 400, t0)

	rescue := func(at time.Time) error {
		return h.apply(func(l *locker.Locker) (*locker.Effects, error) { return l.Rescue(uuid.New(), at) })
	}

	if err := rescue(t0.Add(36 * day)); !errors.Is(err, locker.ErrTooEarly) {
		t.Fatalf("before grace: got %v, want ErrTooEarly", err)
	}
	if err := rescue(t0.Add(37 * day)); err != nil {
		t.Fatalf("rescue: %v", err)
	}
	if h.l.State != locker.StateCancelled {
		t.Fatalf("state: got %s, want Cancelled", h.l.State)
	}
	h.assertCollateralHeldBy(h.borrower)

	if err := rescue(t0.Add(38 * day)); !errors.Is(err, locker.ErrInvalidPhase) {
		t.Errorf("second rescue: got %v, want ErrInvalidPhase", err)
	}

	h.mustApply(func(l *locker.Locker) (*locker.Effects, error) { return l.RefundDueExpired(uuid.New(), a, t0.Add(38*day)) })
	if got := h.balance(a); got != startBalance {
		t.Errorf("a balance: got %d, want %d", got, startBalance)
	}
}

// ============================================================================
// Test: term changes
// ============================================================================

func TestTermChanges(t *testing.T) {
	h := newHarness(t, 300, 300, testPolicy())
	stranger := uuid.New()

	err := h.apply(func(l *locker.Locker) (*locker.Effects, error) { return l.IncreasePaymentRate(stranger, 10, t0) })
	if !errors.Is(err, locker.ErrInvalidOwner) {
		t.Errorf("stranger increase: got %v, want ErrInvalidOwner", err)
	}
	err = h.apply(func(l *locker.Locker) (*locker.Effects, error) { return l.IncreasePaymentRate(h.borrower, 0, t0) })
	if !errors.Is(err, locker.ErrInvalidTerms) {
		t.Errorf("zero delta: got %v, want ErrInvalidTerms", err)
	}
	h.mustApply(func(l *locker.Locker) (*locker.Effects, error) { return l.IncreasePaymentRate(h.borrower, 20, t0) })
	if h.l.PaymentRate != 120 {
		t.Errorf("rate: got %d, want 120", h.l.PaymentRate)
	}

	err = h.apply(func(l *locker.Locker) (*locker.Effects, error) {
		return l.DecreasePaymentTime(h.borrower, 31*day, t0)
	})
	if !errors.Is(err, locker.ErrInvalidTerms) {
		t.Errorf("longer cycle: got %v, want ErrInvalidTerms", err)
	}
	h.mustApply(func(l *locker.Locker) (*locker.Effects, error) { return l.DecreasePaymentTime(h.borrower, 10*day, t0) })
	if h.l.PaymentCycle != 10*day || h.l.FundingWindow != 30*day {
		t.Errorf("cycle %s window %s, want 240h/720h", h.l.PaymentCycle, h.l.FundingWindow)
	}

	h.mustContribute(h.funder(), 600, t0)
	h.enable(t0.Add(day))

	err = h.apply(func(l *locker.Locker) (*locker.Effects, error) { return l.IncreasePaymentRate(h.borrower, 10, t0.Add(day)) })
	if !errors.Is(err, locker.ErrInvalidPhase) {
		t.Errorf("increase after enable: got %v, want ErrInvalidPhase", err)
	}
}

func hasEvent(fx *locker.Effects, et event.EventType) bool {
	if fx == nil {
		return false
	}
	for _, e := range fx.Events {
		if e.EventType() == et {
			return true
		}
	}
	return false
}
