package locker

import (
	"LockerLedger/internal/accrual"
	"LockerLedger/internal/event"
	"LockerLedger/internal/ledger"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Params are the borrower-supplied terms of a loan request.
type Params struct {
	Borrower      uuid.UUID
	Currency      string
	Collateral    []ledger.Asset
	FloorAsked    int64
	Delta         int64 // TotalAsked = FloorAsked + Delta
	FundingWindow time.Duration
	PaymentRate   int64
}

// Locker is one crowd-funded, collateral-backed loan. Its ID doubles as the
// custody account on the currency ledger and the collateral registries.
//
// A Locker is not safe for concurrent use. Operations mutate the receiver
// and return the effects to settle; callers run them on a Clone and keep the
// clone only if settlement succeeds.
type Locker struct {
	ID            uuid.UUID
	Borrower      uuid.UUID
	Currency      string
	Collateral    []ledger.Asset
	FloorAsked    int64
	TotalAsked    int64
	FundingWindow time.Duration
	PaymentRate   int64 // Owed per full cycle once active
	PaymentCycle  time.Duration
	CreatedAt     time.Time
	Policy        Policy

	State          State
	TotalCollected int64
	SingleProvider uuid.UUID // uuid.Nil when none

	// Servicing, meaningful once Active
	Principal           int64
	PenaltyBalance      int64
	RemainingBalance    int64 // Principal + PenaltyBalance
	InterestPaidThrough time.Time
	PenaltyThrough      time.Time // Penalties booked up to here
	NextDueTime         time.Time

	ClaimableBalance  int64 // Held in custody for funders
	TotalDistributed  int64 // Cumulative amount credited to funders
	InterestCollected int64
	LiquidatedTo      uuid.UUID

	Version int64

	contributions map[uuid.UUID]int64
	order         []uuid.UUID // First-contribution order
	compensations map[uuid.UUID]int64
	superseded    map[uuid.UUID]int64 // Pull-mode takeover refunds
}

// New registers a locker and returns the collateral pull into custody.
func New(id uuid.UUID, p Params, policy Policy, now time.Time) (*Locker, *Effects, error) {
	if err := validateParams(p); err != nil {
		return nil, nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	l := &Locker{
		ID:            id,
		Borrower:      p.Borrower,
		Currency:      p.Currency,
		Collateral:    append([]ledger.Asset(nil), p.Collateral...),
		FloorAsked:    p.FloorAsked,
		TotalAsked:    p.FloorAsked + p.Delta,
		FundingWindow: p.FundingWindow,
		PaymentRate:   p.PaymentRate,
		PaymentCycle:  p.FundingWindow,
		CreatedAt:     now,
		Policy:        policy,
		State:         StateFunding,
		contributions: make(map[uuid.UUID]int64),
		compensations: make(map[uuid.UUID]int64),
		superseded:    make(map[uuid.UUID]int64),
	}

	fx := newEffects()
	fx.moveCollateral(l, l.Borrower, l.ID)
	fx.emit(&event.NewLocker{
		LockerID:      l.ID,
		Borrower:      l.Borrower,
		Currency:      l.Currency,
		Collateral:    append([]ledger.Asset(nil), l.Collateral...),
		FloorAsked:    l.FloorAsked,
		TotalAsked:    l.TotalAsked,
		FundingWindow: l.FundingWindow,
		PaymentRate:   l.PaymentRate,
		CreatedAt:     now,
	})
	return l, fx, nil
}

func validateParams(p Params) error {
	if p.Borrower == uuid.Nil {
		return fmt.Errorf("%w: borrower required", ErrInvalidTerms)
	}
	if p.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidTerms)
	}
	if len(p.Collateral) == 0 {
		return fmt.Errorf("%w: at least one collateral asset required", ErrInvalidTerms)
	}
	seen := make(map[ledger.Asset]bool, len(p.Collateral))
	for _, a := range p.Collateral {
		if a.Registry == "" {
			return fmt.Errorf("%w: collateral %d has no registry", ErrInvalidTerms, a.TokenID)
		}
		if seen[a] {
			return fmt.Errorf("%w: duplicate collateral %s", ErrInvalidTerms, a)
		}
		seen[a] = true
	}
	if p.FloorAsked <= 0 {
		return fmt.Errorf("%w: floor must be > 0, got %d", ErrInvalidTerms, p.FloorAsked)
	}
	if p.Delta < 0 {
		return fmt.Errorf("%w: delta must be >= 0, got %d", ErrInvalidTerms, p.Delta)
	}
	if p.FloorAsked > (1<<62)-p.Delta {
		return fmt.Errorf("%w: asked amount overflows", ErrInvalidTerms)
	}
	if p.FundingWindow <= 0 {
		return fmt.Errorf("%w: funding window must be > 0", ErrInvalidTerms)
	}
	if p.PaymentRate <= 0 {
		return fmt.Errorf("%w: payment rate must be > 0", ErrInvalidTerms)
	}
	return nil
}

// Clone returns a deep copy
func (l *Locker) Clone() *Locker {
	c := *l
	c.Collateral = append([]ledger.Asset(nil), l.Collateral...)
	c.order = append([]uuid.UUID(nil), l.order...)
	c.contributions = cloneBalances(l.contributions)
	c.compensations = cloneBalances(l.compensations)
	c.superseded = cloneBalances(l.superseded)
	return &c
}

func cloneBalances(m map[uuid.UUID]int64) map[uuid.UUID]int64 {
	out := make(map[uuid.UUID]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Contribution returns the amount currently held by contributor
func (l *Locker) Contribution(contributor uuid.UUID) int64 {
	return l.contributions[contributor]
}

// Compensation returns the amount already claimed by contributor
func (l *Locker) Compensation(contributor uuid.UUID) int64 {
	return l.compensations[contributor]
}

// Superseded returns the takeover refund still owed to contributor
func (l *Locker) Superseded(contributor uuid.UUID) int64 {
	return l.superseded[contributor]
}

// Contributors lists current holders in first-contribution order
func (l *Locker) Contributors() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(l.contributions))
	for _, id := range l.order {
		if l.contributions[id] > 0 {
			out = append(out, id)
		}
	}
	return out
}

// SupersededTotal sums balances parked by a pull-mode takeover
func (l *Locker) SupersededTotal() int64 {
	var total int64
	for _, v := range l.superseded {
		total += v
	}
	return total
}

// CustodyRequired is the currency the locker must hold to meet every
// outstanding obligation.
func (l *Locker) CustodyRequired() int64 {
	switch l.State {
	case StateFunding, StateCancelled:
		return l.TotalCollected + l.SupersededTotal()
	default:
		return l.ClaimableBalance + l.SupersededTotal()
	}
}

// CollateralHolder returns the account that should own the collateral
func (l *Locker) CollateralHolder() uuid.UUID {
	switch l.State {
	case StateFunding, StateActive:
		return l.ID
	case StateLiquidated:
		return l.LiquidatedTo
	default:
		return l.Borrower
	}
}

// ============================================================================
// Guards (evaluated lazily at call time)
// ============================================================================

func (l *Locker) fundingDeadline() time.Time {
	return l.CreatedAt.Add(l.FundingWindow)
}

// IsFundingExpired reports whether the contribution window has closed
func (l *Locker) IsFundingExpired(now time.Time) bool {
	return !now.Before(l.fundingDeadline())
}

// IsRescuable reports whether the rescue grace period has elapsed
func (l *Locker) IsRescuable(now time.Time) bool {
	return !now.Before(l.fundingDeadline().Add(l.Policy.GracePeriod))
}

// IsOverdue reports whether the late tolerance past NextDueTime has elapsed
func (l *Locker) IsOverdue(now time.Time) bool {
	return l.State == StateActive && now.After(l.NextDueTime.Add(l.Policy.LateTolerance))
}

func (l *Locker) BelowFloorAsked() bool {
	return l.TotalCollected < l.FloorAsked
}

// Payoff returns the amount that would fully repay the loan at now
func (l *Locker) Payoff(now time.Time) int64 {
	if l.State != StateActive {
		return 0
	}
	penalty, _ := l.pendingPenalty(now)
	return l.PenaltyBalance + penalty + l.accruedInterest(now) + l.Principal
}

func (l *Locker) accruedInterest(now time.Time) int64 {
	return accrual.ProRataInterest(l.PaymentRate, now.Sub(l.InterestPaidThrough), l.PaymentCycle)
}

// pendingPenalty returns penalty not yet booked and the watermark it books to.
func (l *Locker) pendingPenalty(now time.Time) (int64, time.Time) {
	from := l.PenaltyThrough
	if l.NextDueTime.After(from) {
		from = l.NextDueTime
	}
	perCycle := accrual.PenaltyPerCycle(l.PaymentRate, l.Policy.PenaltyRateBps)
	return accrual.BookPenalty(from, now, l.PaymentCycle, perCycle)
}

func (l *Locker) transition(next State) {
	if !l.State.CanTransitionTo(next) {
		panic(fmt.Sprintf("FATAL: locker %s: illegal transition %s -> %s", l.ID, l.State, next))
	}
	l.State = next
}

// CheckInvariants verifies the accounting invariants of the locker
func (l *Locker) CheckInvariants() error {
	var sum int64
	holders := 0
	var full uuid.UUID
	for id, amount := range l.contributions {
		if amount < 0 {
			return fmt.Errorf("contributor %s has negative balance %d", id, amount)
		}
		sum += amount
		if amount == l.TotalAsked {
			holders++
			full = id
		}
	}
	if sum != l.TotalCollected {
		return fmt.Errorf("contributions sum %d != total collected %d", sum, l.TotalCollected)
	}
	if l.TotalCollected > l.TotalAsked {
		return fmt.Errorf("total collected %d exceeds total asked %d", l.TotalCollected, l.TotalAsked)
	}

	if holders == 1 {
		if l.SingleProvider != full {
			return fmt.Errorf("single provider %s, expected %s", l.SingleProvider, full)
		}
	} else if l.SingleProvider != uuid.Nil {
		return fmt.Errorf("single provider %s set without a full position", l.SingleProvider)
	}

	for id, v := range l.superseded {
		if v <= 0 {
			return fmt.Errorf("superseded balance for %s is %d", id, v)
		}
	}

	if l.State == StateActive || l.State == StateRepaid {
		if l.RemainingBalance != l.Principal+l.PenaltyBalance {
			return fmt.Errorf("remaining balance %d != principal %d + penalty %d",
				l.RemainingBalance, l.Principal, l.PenaltyBalance)
		}
	}
	if l.ClaimableBalance < 0 || l.ClaimableBalance > l.TotalDistributed {
		return fmt.Errorf("claimable balance %d outside [0, %d]", l.ClaimableBalance, l.TotalDistributed)
	}
	var claimed int64
	for _, v := range l.compensations {
		claimed += v
	}
	if claimed+l.ClaimableBalance != l.TotalDistributed {
		return fmt.Errorf("claimed %d + claimable %d != distributed %d", claimed, l.ClaimableBalance, l.TotalDistributed)
	}

	return nil
}

// largestContributor returns the biggest holder, earliest on ties.
func (l *Locker) largestContributor() uuid.UUID {
	var best uuid.UUID
	var bestAmount int64
	for _, id := range l.order {
		if amount := l.contributions[id]; amount > bestAmount {
			best, bestAmount = id, amount
		}
	}
	return best
}

// CanonicalBytes returns deterministic serialization for hashing
func (l *Locker) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)

	buf = append(buf, l.ID[:]...)
	buf = append(buf, l.Borrower[:]...)
	buf = append(buf, byte(len(l.Currency)))
	buf = append(buf, []byte(l.Currency)...)
	for _, a := range l.Collateral {
		buf = append(buf, byte(len(a.Registry)))
		buf = append(buf, []byte(a.Registry)...)
		buf = appendInt64LE(buf, int64(a.TokenID))
	}

	buf = append(buf, byte(l.State))
	buf = appendInt64LE(buf, l.FloorAsked)
	buf = appendInt64LE(buf, l.TotalAsked)
	buf = appendInt64LE(buf, int64(l.FundingWindow))
	buf = appendInt64LE(buf, l.PaymentRate)
	buf = appendInt64LE(buf, int64(l.PaymentCycle))
	buf = appendTime(buf, l.CreatedAt)
	buf = appendInt64LE(buf, l.TotalCollected)
	buf = append(buf, l.SingleProvider[:]...)
	buf = appendInt64LE(buf, l.Principal)
	buf = appendInt64LE(buf, l.PenaltyBalance)
	buf = appendInt64LE(buf, l.RemainingBalance)
	buf = appendTime(buf, l.InterestPaidThrough)
	buf = appendTime(buf, l.PenaltyThrough)
	buf = appendTime(buf, l.NextDueTime)
	buf = appendInt64LE(buf, l.ClaimableBalance)
	buf = appendInt64LE(buf, l.TotalDistributed)
	buf = appendInt64LE(buf, l.InterestCollected)
	buf = append(buf, l.LiquidatedTo[:]...)
	buf = appendInt64LE(buf, l.Version)

	buf = appendBalances(buf, l.contributions)
	buf = appendBalances(buf, l.compensations)
	buf = appendBalances(buf, l.superseded)

	return buf
}

// appendBalances writes entries sorted by account id
func appendBalances(buf []byte, m map[uuid.UUID]int64) []byte {
	keys := make([]uuid.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})

	buf = appendInt64LE(buf, int64(len(keys)))
	for _, k := range keys {
		buf = append(buf, k[:]...)
		buf = appendInt64LE(buf, m[k])
	}
	return buf
}

// appendTime writes the zero time as 0
func appendTime(buf []byte, t time.Time) []byte {
	if t.IsZero() {
		return appendInt64LE(buf, 0)
	}
	return appendInt64LE(buf, t.UnixNano())
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
