package testutil

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/locker"
	"LockerLedger/internal/settlement"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	Currency = "USD"
	Registry = "deeds"
	Funds    = int64(10_000)
)

// Epoch is the starting time of every Engine clock.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Engine is a dispatcher wired to in-memory ledgers with a settable clock,
// for tests of the components that sit around the core.
type Engine struct {
	D        *core.Dispatcher
	Bank     *ledger.Bank
	Registry *ledger.AssetRegistry
	Persist  chan core.CoreOutput
	Proj     chan core.CoreOutput

	Borrower uuid.UUID
	Funders  []uuid.UUID

	mu  sync.Mutex
	now time.Time
}

// NewEngine funds a borrower holding deeds 1..32 and three funders.
func NewEngine(t *testing.T, opts ...func(*core.Config)) *Engine {
	t.Helper()

	e := &Engine{
		Bank:     ledger.NewBank(Currency),
		Registry: ledger.NewAssetRegistry(Registry),
		Persist:  make(chan core.CoreOutput, 1024),
		Proj:     make(chan core.CoreOutput, 1024),
		Borrower: uuid.New(),
		Funders:  []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		now:      Epoch,
	}
	e.Bank.Mint(e.Borrower, Funds)
	for _, f := range e.Funders {
		e.Bank.Mint(f, Funds)
	}
	for id := uint64(1); id <= 32; id++ {
		if err := e.Registry.Issue(id, e.Borrower); err != nil {
			t.Fatalf("issue deed %d: %v", id, err)
		}
	}

	s := settlement.NewSettler(zerolog.Nop(), nil)
	s.RegisterLedger(Currency, e.Bank)
	s.RegisterRegistry(Registry, e.Registry)

	cfg := core.Config{
		Templates:      map[string]locker.Policy{Currency: locker.DefaultPolicy},
		Settler:        s,
		CheckCustody:   true,
		Clock:          e.Now,
		PersistChan:    e.Persist,
		ProjectionChan: e.Proj,
		Logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	d, err := core.NewDispatcher(cfg)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	e.D = d
	return e
}

func (e *Engine) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *Engine) Advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

// CreateRequest asks for a 1000 floor, 500 delta, 30 day locker over the
// given deeds.
func (e *Engine) CreateRequest(tokenIDs ...uint64) core.CreateRequest {
	return core.CreateRequest{
		Borrower:      e.Borrower,
		Currency:      Currency,
		Registry:      Registry,
		TokenIDs:      tokenIDs,
		FloorAsked:    1_000,
		Delta:         500,
		FundingWindow: 30 * 24 * time.Hour,
		PaymentRate:   100,
	}
}

// Create registers a locker over tokenIDs and fails the test on error.
func (e *Engine) Create(t *testing.T, tokenIDs ...uint64) uuid.UUID {
	t.Helper()
	res, err := e.D.CreateLocker(context.Background(), e.CreateRequest(tokenIDs...))
	if err != nil {
		t.Fatalf("create locker: %v", err)
	}
	return res.Locker.ID
}

// Must executes cmd and fails the test on error.
func (e *Engine) Must(t *testing.T, cmd core.Command) *core.Result {
	t.Helper()
	res, err := e.D.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Op, err)
	}
	return res
}

// Drain empties both output channels and returns what the persist channel
// held.
func (e *Engine) Drain() []core.CoreOutput {
	var outs []core.CoreOutput
	for {
		select {
		case out := <-e.Persist:
			outs = append(outs, out)
		case <-e.Proj:
		default:
			return outs
		}
	}
}
