package settlement

import (
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrCompensationFailed means a partially applied batch could not be
	// reversed. The external ledgers need manual reconciliation.
	ErrCompensationFailed = errors.New("settlement compensation failed")

	ErrUnknownCurrency = errors.New("no ledger for currency")
	ErrUnknownRegistry = errors.New("no collateral registry")
)

const (
	pathStaged     = "staged"
	pathSequential = "sequential"
)

// Settler applies a batch to the external collaborators all-or-nothing.
type Settler struct {
	ledgers    map[string]ledger.CurrencyLedger
	registries map[string]ledger.CollateralRegistry
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

func NewSettler(logger zerolog.Logger, metrics *observability.Metrics) *Settler {
	return &Settler{
		ledgers:    make(map[string]ledger.CurrencyLedger),
		registries: make(map[string]ledger.CollateralRegistry),
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterLedger routes journals in currency to l.
func (s *Settler) RegisterLedger(currency string, l ledger.CurrencyLedger) {
	s.ledgers[currency] = l
}

// RegisterRegistry routes asset moves for registry name to r.
func (s *Settler) RegisterRegistry(name string, r ledger.CollateralRegistry) {
	s.registries[name] = r
}

func (s *Settler) Ledger(currency string) (ledger.CurrencyLedger, bool) {
	l, ok := s.ledgers[currency]
	return l, ok
}

func (s *Settler) Registry(name string) (ledger.CollateralRegistry, bool) {
	r, ok := s.registries[name]
	return r, ok
}

// participant is one collaborator touched by a batch.
type participant struct {
	name string
	impl interface{}
}

// participants returns the touched collaborators in deterministic order:
// ledgers by currency, then registries by name.
func (s *Settler) participants(batch *ledger.Batch) ([]participant, error) {
	currencies := make(map[string]bool)
	for _, j := range batch.Journals {
		currencies[j.Currency] = true
	}
	registries := make(map[string]bool)
	for _, m := range batch.Moves {
		registries[m.Asset.Registry] = true
	}

	var out []participant
	for _, c := range sortedKeys(currencies) {
		l, ok := s.ledgers[c]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, c)
		}
		out = append(out, participant{name: "ledger/" + c, impl: l})
	}
	for _, r := range sortedKeys(registries) {
		reg, ok := s.registries[r]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRegistry, r)
		}
		out = append(out, participant{name: "registry/" + r, impl: reg})
	}
	return out, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Settle executes every leg of batch or none of them.
//
// When every touched collaborator can stage, the batch is staged on each and
// committed only if all accept it. Otherwise legs run in order and the
// already executed ones are reversed if a later leg fails.
func (s *Settler) Settle(ctx context.Context, batch *ledger.Batch) error {
	if batch.IsEmpty() {
		return nil
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch %s: %w", batch.BatchID, err)
	}

	parts, err := s.participants(batch)
	if err != nil {
		return err
	}

	stagers := make([]ledger.Stager, 0, len(parts))
	for _, p := range parts {
		st, ok := p.impl.(ledger.Stager)
		if !ok {
			break
		}
		stagers = append(stagers, st)
	}

	start := time.Now()
	path := pathSequential
	if len(stagers) == len(parts) {
		path = pathStaged
		err = s.settleStaged(ctx, batch, parts, stagers)
	} else {
		err = s.settleSequential(ctx, batch)
	}

	if s.metrics != nil {
		s.metrics.SettleDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
	return err
}

func (s *Settler) settleStaged(ctx context.Context, batch *ledger.Batch, parts []participant, stagers []ledger.Stager) error {
	staged := make([]ledger.Staged, 0, len(stagers))
	for i, st := range stagers {
		sp, err := st.Stage(ctx, batch)
		if err != nil {
			for j := len(staged) - 1; j >= 0; j-- {
				staged[j].Abort()
			}
			s.failed(pathStaged, "stage")
			s.logger.Warn().
				Str("batch_id", batch.BatchID.String()).
				Str("participant", parts[i].name).
				Err(err).
				Msg("batch rejected at staging")
			return fmt.Errorf("stage %s: %w", parts[i].name, err)
		}
		staged = append(staged, sp)
	}

	for _, sp := range staged {
		sp.Commit()
	}
	return nil
}

// leg is an executed step and its reversal.
type leg struct {
	desc    string
	reverse func(ctx context.Context) error
}

func (s *Settler) settleSequential(ctx context.Context, batch *ledger.Batch) error {
	done := make([]leg, 0, len(batch.Journals)+len(batch.Moves))

	for _, j := range batch.Journals {
		j := j // per-iteration copy: the go directive predates Go 1.22 loop semantics
		l := s.ledgers[j.Currency]

		var err error
		var undo leg
		if j.Pull {
			err = l.TransferFrom(ctx, j.From, j.To, j.Amount)
			undo = leg{
				desc:    fmt.Sprintf("refund pull %s", j.JournalID),
				reverse: func(ctx context.Context) error { return l.Transfer(ctx, j.To, j.From, j.Amount) },
			}
		} else {
			err = l.Transfer(ctx, j.From, j.To, j.Amount)
			undo = leg{
				desc:    fmt.Sprintf("claw back push %s", j.JournalID),
				reverse: func(ctx context.Context) error { return l.TransferFrom(ctx, j.To, j.From, j.Amount) },
			}
		}
		if err != nil {
			return s.compensate(ctx, batch, done, fmt.Errorf("journal %s (%s): %w", j.JournalID, j.JournalType, err))
		}
		done = append(done, undo)
	}

	for _, m := range batch.Moves {
		m := m // per-iteration copy: the go directive predates Go 1.22 loop semantics
		r := s.registries[m.Asset.Registry]

		if err := r.TransferAsset(ctx, m.From, m.To, m.Asset.TokenID); err != nil {
			return s.compensate(ctx, batch, done, fmt.Errorf("move %s (%s): %w", m.MoveID, m.Asset, err))
		}
		done = append(done, leg{
			desc:    fmt.Sprintf("return asset %s", m.Asset),
			reverse: func(ctx context.Context) error { return r.TransferAsset(ctx, m.To, m.From, m.Asset.TokenID) },
		})
	}

	return nil
}

// compensate reverses done in reverse order. The original cause is returned
// when every reversal succeeds.
func (s *Settler) compensate(ctx context.Context, batch *ledger.Batch, done []leg, cause error) error {
	s.failed(pathSequential, "execute")

	for i := len(done) - 1; i >= 0; i-- {
		if err := done[i].reverse(ctx); err != nil {
			if s.metrics != nil {
				s.metrics.Compensations.WithLabelValues("failed").Inc()
			}
			s.logger.Error().
				Str("batch_id", batch.BatchID.String()).
				Str("leg", done[i].desc).
				AnErr("cause", cause).
				Err(err).
				Msg("compensation failed, ledgers need reconciliation")
			return fmt.Errorf("%w: %s: %v (after %v)", ErrCompensationFailed, done[i].desc, err, cause)
		}
		if s.metrics != nil {
			s.metrics.Compensations.WithLabelValues("reversed").Inc()
		}
	}

	s.logger.Warn().
		Str("batch_id", batch.BatchID.String()).
		Int("reversed", len(done)).
		Err(cause).
		Msg("batch rolled back")
	return cause
}

func (s *Settler) failed(path, stage string) {
	if s.metrics != nil {
		s.metrics.SettleFailures.WithLabelValues(path, stage).Inc()
	}
}
