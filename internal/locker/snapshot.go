package locker

import (
	"LockerLedger/internal/ledger"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Balance is one account's entry in a snapshot
type Balance struct {
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"`
}

// Snapshot is the serializable form of a Locker
type Snapshot struct {
	ID            uuid.UUID      `json:"id"`
	Borrower      uuid.UUID      `json:"borrower"`
	Currency      string         `json:"currency"`
	Collateral    []ledger.Asset `json:"collateral"`
	FloorAsked    int64          `json:"floor_asked"`
	TotalAsked    int64          `json:"total_asked"`
	FundingWindow time.Duration  `json:"funding_window"`
	PaymentRate   int64          `json:"payment_rate"`
	PaymentCycle  time.Duration  `json:"payment_cycle"`
	CreatedAt     time.Time      `json:"created_at"`
	Policy        Policy         `json:"policy"`

	State          State     `json:"state"`
	TotalCollected int64     `json:"total_collected"`
	SingleProvider uuid.UUID `json:"single_provider"`

	Principal           int64     `json:"principal"`
	PenaltyBalance      int64     `json:"penalty_balance"`
	RemainingBalance    int64     `json:"remaining_balance"`
	InterestPaidThrough time.Time `json:"interest_paid_through"`
	PenaltyThrough      time.Time `json:"penalty_through"`
	NextDueTime         time.Time `json:"next_due_time"`

	ClaimableBalance  int64     `json:"claimable_balance"`
	TotalDistributed  int64     `json:"total_distributed"`
	InterestCollected int64     `json:"interest_collected"`
	LiquidatedTo      uuid.UUID `json:"liquidated_to"`
	Version           int64     `json:"version"`

	Order         []uuid.UUID `json:"order"`
	Contributions []Balance   `json:"contributions"`
	Compensations []Balance   `json:"compensations"`
	Superseded    []Balance   `json:"superseded"`
}

// Snapshot captures the full state. Balances are listed in contributor order.
func (l *Locker) Snapshot() Snapshot {
	return Snapshot{
		ID:                  l.ID,
		Borrower:            l.Borrower,
		Currency:            l.Currency,
		Collateral:          append([]ledger.Asset(nil), l.Collateral...),
		FloorAsked:          l.FloorAsked,
		TotalAsked:          l.TotalAsked,
		FundingWindow:       l.FundingWindow,
		PaymentRate:         l.PaymentRate,
		PaymentCycle:        l.PaymentCycle,
		CreatedAt:           l.CreatedAt,
		Policy:              l.Policy,
		State:               l.State,
		TotalCollected:      l.TotalCollected,
		SingleProvider:      l.SingleProvider,
		Principal:           l.Principal,
		PenaltyBalance:      l.PenaltyBalance,
		RemainingBalance:    l.RemainingBalance,
		InterestPaidThrough: l.InterestPaidThrough,
		PenaltyThrough:      l.PenaltyThrough,
		NextDueTime:         l.NextDueTime,
		ClaimableBalance:    l.ClaimableBalance,
		TotalDistributed:    l.TotalDistributed,
		InterestCollected:   l.InterestCollected,
		LiquidatedTo:        l.LiquidatedTo,
		Version:             l.Version,
		Order:               append([]uuid.UUID(nil), l.order...),
		Contributions:       l.balanceList(l.contributions),
		Compensations:       l.balanceList(l.compensations),
		Superseded:          l.balanceList(l.superseded),
	}
}

func (l *Locker) balanceList(m map[uuid.UUID]int64) []Balance {
	out := make([]Balance, 0, len(m))
	for _, id := range l.order {
		if v, ok := m[id]; ok {
			out = append(out, Balance{Account: id, Amount: v})
		}
	}
	return out
}

// FromSnapshot rebuilds a Locker and verifies its invariants.
func FromSnapshot(s Snapshot) (*Locker, error) {
	l := &Locker{
		ID:                  s.ID,
		Borrower:            s.Borrower,
		Currency:            s.Currency,
		Collateral:          append([]ledger.Asset(nil), s.Collateral...),
		FloorAsked:          s.FloorAsked,
		TotalAsked:          s.TotalAsked,
		FundingWindow:       s.FundingWindow,
		PaymentRate:         s.PaymentRate,
		PaymentCycle:        s.PaymentCycle,
		CreatedAt:           s.CreatedAt,
		Policy:              s.Policy,
		State:               s.State,
		TotalCollected:      s.TotalCollected,
		SingleProvider:      s.SingleProvider,
		Principal:           s.Principal,
		PenaltyBalance:      s.PenaltyBalance,
		RemainingBalance:    s.RemainingBalance,
		InterestPaidThrough: s.InterestPaidThrough,
		PenaltyThrough:      s.PenaltyThrough,
		NextDueTime:         s.NextDueTime,
		ClaimableBalance:    s.ClaimableBalance,
		TotalDistributed:    s.TotalDistributed,
		InterestCollected:   s.InterestCollected,
		LiquidatedTo:        s.LiquidatedTo,
		Version:             s.Version,
		order:               append([]uuid.UUID(nil), s.Order...),
		contributions:       make(map[uuid.UUID]int64, len(s.Contributions)),
		compensations:       make(map[uuid.UUID]int64, len(s.Compensations)),
		superseded:          make(map[uuid.UUID]int64, len(s.Superseded)),
	}

	for _, b := range s.Contributions {
		l.contributions[b.Account] = b.Amount
	}
	for _, b := range s.Compensations {
		l.compensations[b.Account] = b.Amount
	}
	for _, b := range s.Superseded {
		l.superseded[b.Account] = b.Amount
	}

	if err := l.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("locker %s snapshot: %w", s.ID, err)
	}
	return l, nil
}
