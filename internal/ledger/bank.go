package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Bank is an in-memory CurrencyLedger for a single currency. Balances never
// go negative; Stage makes it a participant in all-or-nothing settlement.
type Bank struct {
	mu       sync.Mutex
	currency string
	balances map[uuid.UUID]int64
}

func NewBank(currency string) *Bank {
	return &Bank{
		currency: currency,
		balances: make(map[uuid.UUID]int64),
	}
}

func (b *Bank) Currency() string {
	return b.currency
}

// Mint credits an account out of thin air (seeding and tests).
func (b *Bank) Mint(account uuid.UUID, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] += amount
}

func (b *Bank) TransferFrom(ctx context.Context, from, to uuid.UUID, amount int64) error {
	return b.transfer(from, to, amount)
}

func (b *Bank) Transfer(ctx context.Context, from, to uuid.UUID, amount int64) error {
	return b.transfer(from, to, amount)
}

func (b *Bank) BalanceOf(ctx context.Context, account uuid.UUID) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account], nil
}

func (b *Bank) transfer(from, to uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative transfer amount: %d", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return fmt.Errorf("%w: account %s has %d, need %d",
			ErrInsufficientBalance, from, b.balances[from], amount)
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

// Stage validates the batch's legs in this currency against current balances
// and holds the bank lock until Commit or Abort.
func (b *Bank) Stage(ctx context.Context, batch *Batch) (Staged, error) {
	b.mu.Lock()

	deltas := make(map[uuid.UUID]int64)
	for _, j := range batch.Journals {
		if j.Currency != b.currency {
			continue
		}
		if b.balances[j.From]+deltas[j.From] < j.Amount {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: account %s cannot cover journal %s (%d)",
				ErrInsufficientBalance, j.From, j.JournalID, j.Amount)
		}
		deltas[j.From] -= j.Amount
		deltas[j.To] += j.Amount
	}

	return &stagedBank{bank: b, deltas: deltas}, nil
}

type stagedBank struct {
	bank   *Bank
	deltas map[uuid.UUID]int64
	done   bool
}

func (s *stagedBank) Commit() {
	if s.done {
		return
	}
	s.done = true
	for account, delta := range s.deltas {
		s.bank.balances[account] += delta
	}
	s.bank.mu.Unlock()
}

func (s *stagedBank) Abort() {
	if s.done {
		return
	}
	s.done = true
	s.bank.mu.Unlock()
}

// TotalSupply sums all balances (constant under transfers).
func (b *Bank) TotalSupply() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for _, v := range b.balances {
		total += v
	}
	return total
}

// Snapshot returns a copy of all balances (for state persistence)
func (b *Bank) Snapshot() map[uuid.UUID]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := make(map[uuid.UUID]int64, len(b.balances))
	for k, v := range b.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances.
func (b *Bank) Restore(balances map[uuid.UUID]int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = make(map[uuid.UUID]int64, len(balances))
	for k, v := range balances {
		b.balances[k] = v
	}
}
