package locker_test

import (
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/locker"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- Test helpers ---

const (
	testCurrency = "USD"
	testRegistry = "deeds"
	startBalance = int64(10_000)
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// harness settles every operation against an in-memory bank and registry,
// the same way the dispatcher does: clone, apply, stage, commit.
type harness struct {
	t        *testing.T
	bank     *ledger.Bank
	registry *ledger.AssetRegistry
	borrower uuid.UUID
	l        *locker.Locker
	last     *locker.Effects
}

func testPolicy() locker.Policy {
	return locker.Policy{
		GracePeriod:        7 * day,
		LateTolerance:      day,
		PenaltyRateBps:     1_000,
		MaxRatePerCycleBps: 5_000,
		Takeover:           locker.TakeoverPush,
		Liquidation:        locker.LiquidateToLargest,
	}
}

func newHarness(t *testing.T, floor, delta int64, policy locker.Policy) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		bank:     ledger.NewBank(testCurrency),
		registry: ledger.NewAssetRegistry(testRegistry),
		borrower: uuid.New(),
	}
	h.bank.Mint(h.borrower, startBalance)
	for _, id := range []uint64{1, 2} {
		if err := h.registry.Issue(id, h.borrower); err != nil {
			t.Fatalf("issue %d: %v", id, err)
		}
	}

	l, fx, err := locker.New(uuid.New(), locker.Params{
		Borrower:      h.borrower,
		Currency:      testCurrency,
		Collateral:    []ledger.Asset{{Registry: testRegistry, TokenID: 1}, {Registry: testRegistry, TokenID: 2}},
		FloorAsked:    floor,
		Delta:         delta,
		FundingWindow: 30 * day,
		PaymentRate:   100,
	}, policy, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.l = l
	h.settle(fx)
	h.assertCollateralHeldBy(l.ID)
	return h
}

// funder returns a fresh account holding startBalance
func (h *harness) funder() uuid.UUID {
	id := uuid.New()
	h.bank.Mint(id, startBalance)
	return id
}

func (h *harness) settle(fx *locker.Effects) {
	h.t.Helper()
	ctx := context.Background()

	if err := fx.Batch.Validate(); err != nil {
		h.t.Fatalf("invalid batch: %v", err)
	}
	sb, err := h.bank.Stage(ctx, fx.Batch)
	if err != nil {
		h.t.Fatalf("stage bank: %v", err)
	}
	sr, err := h.registry.Stage(ctx, fx.Batch)
	if err != nil {
		sb.Abort()
		h.t.Fatalf("stage registry: %v", err)
	}
	sb.Commit()
	sr.Commit()
}

// apply runs op on a clone and commits it on success. A failed op must
// leave the clone untouched.
func (h *harness) apply(op func(l *locker.Locker) (*locker.Effects, error)) error {
	h.t.Helper()

	before := h.l.CanonicalBytes()
	next := h.l.Clone()
	fx, err := op(next)
	if err != nil {
		if !bytes.Equal(before, next.CanonicalBytes()) {
			h.t.Fatalf("failed operation mutated locker: %v", err)
		}
		return err
	}

	h.settle(fx)
	h.l = next
	h.last = fx

	if err := h.l.CheckInvariants(); err != nil {
		h.t.Fatalf("invariant violated: %v", err)
	}
	custody := h.balance(h.l.ID)
	if custody != h.l.CustodyRequired() {
		h.t.Fatalf("custody: got %d, want %d", custody, h.l.CustodyRequired())
	}
	h.assertCollateralHeldBy(h.l.CollateralHolder())
	return nil
}

func (h *harness) mustApply(op func(l *locker.Locker) (*locker.Effects, error)) {
	h.t.Helper()
	if err := h.apply(op); err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) contribute(from uuid.UUID, amount int64, at time.Time) error {
	return h.apply(func(l *locker.Locker) (*locker.Effects, error) {
		return l.Contribute(from, amount, at)
	})
}

func (h *harness) mustContribute(from uuid.UUID, amount int64, at time.Time) {
	h.t.Helper()
	if err := h.contribute(from, amount, at); err != nil {
		h.t.Fatalf("contribute %d: %v", amount, err)
	}
}

func (h *harness) enable(at time.Time) {
	h.t.Helper()
	h.mustApply(func(l *locker.Locker) (*locker.Effects, error) {
		return l.Enable(h.borrower, 0, at)
	})
}

func (h *harness) payback(amount int64, at time.Time) error {
	return h.apply(func(l *locker.Locker) (*locker.Effects, error) {
		return l.Payback(h.borrower, amount, at)
	})
}

func (h *harness) balance(account uuid.UUID) int64 {
	h.t.Helper()
	b, err := h.bank.BalanceOf(context.Background(), account)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return b
}

func (h *harness) assertCollateralHeldBy(owner uuid.UUID) {
	h.t.Helper()
	for _, a := range h.l.Collateral {
		got, err := h.registry.OwnerOf(context.Background(), a.TokenID)
		if err != nil {
			h.t.Fatalf("owner of %s: %v", a, err)
		}
		if got != owner {
			h.t.Fatalf("%s held by %s, want %s", a, got, owner)
		}
	}
}
