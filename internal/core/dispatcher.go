package core

import (
	"LockerLedger/internal/event"
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/locker"
	"LockerLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound            = errors.New("locker not found")
	ErrAlreadyExists       = errors.New("locker already exists")
	ErrUnknownOp           = errors.New("unknown operation")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrSequenceGap         = errors.New("event log sequence gap")
	ErrHashMismatch        = errors.New("state hash mismatch")
)

// Settler is the dispatcher's view of the external collaborators.
type Settler interface {
	Settle(ctx context.Context, batch *ledger.Batch) error
	Ledger(currency string) (ledger.CurrencyLedger, bool)
	Registry(name string) (ledger.CollateralRegistry, bool)
}

// CoreOutput is everything downstream workers need about one committed
// operation.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Events   []event.Event
	Locker   locker.Snapshot // State after the operation
}

// Result is returned to the caller of a dispatcher operation.
type Result struct {
	Locker    *locker.Locker
	Events    []event.Event
	Sequence  int64 // -1 when nothing was logged
	Duplicate bool
}

type Config struct {
	// Templates maps a currency to the policy new lockers get. Currencies
	// without a template use locker.DefaultPolicy.
	Templates map[string]locker.Policy
	Settler   Settler

	IdempotencyCapacity int
	DBChecker           DBIdempotencyChecker

	// CheckCustody verifies custody balances and collateral owners against
	// the collaborators after every commit. Violations panic.
	CheckCustody bool

	StartSequence int64
	Clock         func() time.Time

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

type entry struct {
	mu sync.Mutex
	l  *locker.Locker // nil while a create is reserving the id
}

// Dispatcher creates lockers from templates and forwards operations to them.
//
// Operations on one locker are serialized by that locker's mutex; different
// lockers run concurrently. Each operation runs on a clone, is settled with
// the external collaborators, and only then replaces the stored locker.
// Committed operations are numbered and hash-chained under emitMu so the log
// order matches commit order.
type Dispatcher struct {
	templates    map[string]locker.Policy
	settler      Settler
	validator    *ledger.InvariantValidator
	idempotency  *IdempotencyChecker
	checkCustody bool
	clock        func() time.Time
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// gate is held shared by operations and exclusively by Snapshot,
	// Restore and Replay.
	gate sync.RWMutex

	mu      sync.RWMutex
	lockers map[uuid.UUID]*entry

	emitMu   sync.Mutex
	sequence int64 // next sequence to assign
	hasher   *StateHasher

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Settler == nil {
		return nil, errors.New("dispatcher requires a settler")
	}
	for currency, policy := range cfg.Templates {
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("template %s: %w", currency, err)
		}
	}
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	idem, err := NewIdempotencyChecker(cfg.IdempotencyCapacity, cfg.DBChecker, cfg.Metrics, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		templates:      cfg.Templates,
		settler:        cfg.Settler,
		validator:      ledger.NewInvariantValidator(),
		idempotency:    idem,
		checkCustody:   cfg.CheckCustody,
		clock:          cfg.Clock,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		lockers:        make(map[uuid.UUID]*entry),
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}, nil
}

// now is the single wall-clock read of an operation. Microsecond precision
// matches what the event log stores, so replay sees the same instants.
func (d *Dispatcher) now() time.Time {
	return d.clock().UTC().Truncate(time.Microsecond)
}

func (d *Dispatcher) template(currency string) locker.Policy {
	if p, ok := d.templates[currency]; ok {
		return p
	}
	return locker.DefaultPolicy
}

// CreateLocker registers a locker and pulls its collateral into custody in
// the same step.
func (d *Dispatcher) CreateLocker(ctx context.Context, req CreateRequest) (*Result, error) {
	start := time.Now()

	if req.IdempotencyKey != "" {
		release, err := d.idempotency.Claim(string(OpCreate), req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
		if id, dup := d.idempotency.Lookup(ctx, string(OpCreate), req.IdempotencyKey); dup {
			return d.duplicate(id), nil
		}
	}

	if _, ok := d.settler.Ledger(req.Currency); !ok {
		return nil, d.reject(OpCreate, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency))
	}

	d.gate.RLock()
	defer d.gate.RUnlock()

	policy := d.template(req.Currency)
	now := d.now()

	l, fx, err := locker.New(req.LockerID, req.params(), policy, now)
	if err != nil {
		return nil, d.reject(OpCreate, fmt.Errorf("create locker: %w", err))
	}

	e := &entry{}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := d.reserve(l.ID, e); err != nil {
		return nil, d.reject(OpCreate, err)
	}

	if err := d.settler.Settle(ctx, fx.Batch); err != nil {
		d.unreserve(l.ID)
		return nil, d.reject(OpCreate, fmt.Errorf("settle create %s: %w", l.ID, err))
	}
	e.l = l

	rec := req
	rec.LockerID = l.ID
	seq := d.commit(ctx, OpCreate, req.IdempotencyKey, nil, l, fx, now, record{create: &rec, policy: &policy})

	d.logger.Info().
		Str("locker_id", l.ID.String()).
		Str("borrower", l.Borrower.String()).
		Str("currency", l.Currency).
		Int64("total_asked", l.TotalAsked).
		Int("collateral", len(l.Collateral)).
		Msg("locker created")
	d.observe(OpCreate, start)

	return &Result{Locker: l.Clone(), Events: fx.Events, Sequence: seq}, nil
}

func (d *Dispatcher) reserve(id uuid.UUID, e *entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.lockers[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	d.lockers[id] = e
	return nil
}

func (d *Dispatcher) unreserve(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lockers, id)
}

// Execute forwards cmd to its locker.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) (*Result, error) {
	start := time.Now()

	if !lockerOps[cmd.Op] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}

	if cmd.IdempotencyKey != "" {
		release, err := d.idempotency.Claim(string(cmd.Op), cmd.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
		if id, dup := d.idempotency.Lookup(ctx, string(cmd.Op), cmd.IdempotencyKey); dup {
			return d.duplicate(id), nil
		}
	}

	d.gate.RLock()
	defer d.gate.RUnlock()

	e, ok := d.entry(cmd.LockerID)
	if !ok {
		return nil, d.reject(cmd.Op, fmt.Errorf("%w: %s", ErrNotFound, cmd.LockerID))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.l == nil {
		return nil, d.reject(cmd.Op, fmt.Errorf("%w: %s", ErrNotFound, cmd.LockerID))
	}

	now := d.now()
	work := e.l.Clone()
	prev := work.State

	fx, err := apply(work, cmd, now)
	if err != nil {
		return nil, d.reject(cmd.Op, fmt.Errorf("%s %s: %w", cmd.Op, cmd.LockerID, err))
	}

	if err := d.settler.Settle(ctx, fx.Batch); err != nil {
		d.logger.Warn().
			Str("locker_id", cmd.LockerID.String()).
			Str("op", string(cmd.Op)).
			Err(err).
			Msg("settlement failed, locker unchanged")
		return nil, d.reject(cmd.Op, fmt.Errorf("settle %s %s: %w", cmd.Op, cmd.LockerID, err))
	}
	e.l = work

	seq := int64(-1)
	if len(fx.Events) > 0 {
		c := cmd
		seq = d.commit(ctx, cmd.Op, cmd.IdempotencyKey, &prev, work, fx, now, record{command: &c})
	} else if cmd.IdempotencyKey != "" {
		d.idempotency.MarkProcessed(string(cmd.Op), cmd.IdempotencyKey, work.ID)
	}

	if prev != work.State {
		d.logger.Info().
			Str("locker_id", work.ID.String()).
			Str("from", prev.String()).
			Str("to", work.State.String()).
			Str("op", string(cmd.Op)).
			Msg("locker state changed")
	}
	d.observe(cmd.Op, start)

	return &Result{Locker: work.Clone(), Events: fx.Events, Sequence: seq}, nil
}

type record struct {
	create  *CreateRequest
	command *Command
	policy  *locker.Policy
}

// commit verifies post-conditions, then numbers, hashes and emits the
// operation. It returns the assigned sequence.
func (d *Dispatcher) commit(ctx context.Context, op Op, key string, prev *locker.State, l *locker.Locker, fx *locker.Effects, now time.Time, rec record) int64 {
	d.postCheck(ctx, l)

	payload, err := encodeRecord(rec.create, rec.command, rec.policy, fx.Events)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode record for %s: %v", l.ID, err))
	}

	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	hashStart := time.Now()
	seq := d.sequence
	prevHash := d.hasher.GetPrevHash()
	stateHash := d.hasher.ComputeHash(seq, l.CanonicalBytes())
	if d.metrics != nil {
		d.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: key,
		Op:             string(op),
		EventType:      fx.PrimaryEvent(),
		LockerID:       l.ID,
		Timestamp:      now,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	d.sequence++

	output := CoreOutput{
		Envelope: envelope,
		Batch:    fx.Batch,
		Events:   fx.Events,
		Locker:   l.Snapshot(),
	}

	// Persistence: blocking send. The dispatcher stalls until the
	// persistence worker drains, so no committed operation is lost.
	if d.persistChan != nil {
		select {
		case d.persistChan <- output:
		default:
			if d.metrics != nil {
				d.metrics.PersistBackpressure.Inc()
			}
			d.persistChan <- output
		}
	}

	// Projections: non-blocking send, rebuilt from the log if they fall behind.
	if d.projectionChan != nil {
		select {
		case d.projectionChan <- output:
		default:
			if d.metrics != nil {
				d.metrics.ProjectionDrops.WithLabelValues("dispatcher").Inc()
			}
		}
	}

	if key != "" {
		d.idempotency.MarkProcessed(string(op), key, l.ID)
	}

	if d.metrics != nil {
		d.metrics.Sequence.Set(float64(d.sequence))
		if prev != nil {
			d.metrics.LockersByState.WithLabelValues(prev.String()).Dec()
		}
		d.metrics.LockersByState.WithLabelValues(l.State.String()).Inc()
		for _, j := range fx.Batch.Journals {
			d.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
			d.metrics.Volume.WithLabelValues(j.Currency, j.JournalType.String()).Add(float64(j.Amount))
		}
	}

	return seq
}

// postCheck panics if a committed locker violates its invariants or the
// collaborators disagree with its custody view.
func (d *Dispatcher) postCheck(ctx context.Context, l *locker.Locker) {
	if err := l.CheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated on %s: %v", l.ID, err))
	}
	if !d.checkCustody {
		return
	}

	if cl, ok := d.settler.Ledger(l.Currency); ok {
		if err := d.validator.ValidateCustody(ctx, cl, l.ID, l.CustodyRequired()); err != nil {
			panic(fmt.Sprintf("FATAL: custody check failed on %s: %v", l.ID, err))
		}
	}

	holder := l.CollateralHolder()
	for _, asset := range l.Collateral {
		r, ok := d.settler.Registry(asset.Registry)
		if !ok {
			continue
		}
		if err := d.validator.ValidateOwner(ctx, r, asset.TokenID, holder); err != nil {
			panic(fmt.Sprintf("FATAL: collateral %s of %s: %v", asset, l.ID, err))
		}
	}
}

func (d *Dispatcher) duplicate(id uuid.UUID) *Result {
	res := &Result{Sequence: -1, Duplicate: true}
	if l, err := d.Get(id); err == nil {
		res.Locker = l
	}
	return res
}

func (d *Dispatcher) reject(op Op, err error) error {
	if d.metrics != nil {
		d.metrics.OpsRejected.WithLabelValues(string(op), RejectReason(err)).Inc()
	}
	d.logger.Debug().Str("op", string(op)).Err(err).Msg("operation rejected")
	return err
}

func (d *Dispatcher) observe(op Op, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.OpsApplied.WithLabelValues(string(op)).Inc()
	d.metrics.OpDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}

var rejectReasons = []struct {
	err   error
	label string
}{
	{locker.ErrInvalidOwner, "invalid_owner"},
	{locker.ErrInvalidPhase, "invalid_phase"},
	{locker.ErrFloorReached, "floor_reached"},
	{locker.ErrBelowFloor, "below_floor"},
	{locker.ErrProviderExists, "provider_exists"},
	{locker.ErrEnabledLocker, "enabled_locker"},
	{locker.ErrInvalidSender, "invalid_sender"},
	{locker.ErrMinimumPayoff, "minimum_payoff"},
	{locker.ErrTooEarly, "too_early"},
	{locker.ErrInvalidAmount, "invalid_amount"},
	{locker.ErrInvalidTerms, "invalid_terms"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrUnsupportedCurrency, "unsupported_currency"},
	{ledger.ErrInsufficientBalance, "insufficient_balance"},
	{ledger.ErrNotOwner, "not_owner"},
	{ledger.ErrUnknownAsset, "unknown_asset"},
}

// RejectReason is a low-cardinality label for err.
func RejectReason(err error) string {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}

func (d *Dispatcher) entry(id uuid.UUID) (*entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.lockers[id]
	return e, ok
}

// Get returns a copy of the locker.
func (d *Dispatcher) Get(id uuid.UUID) (*locker.Locker, error) {
	e, ok := d.entry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.l == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.l.Clone(), nil
}

// List returns copies of all lockers ordered by creation time.
func (d *Dispatcher) List() []*locker.Locker {
	d.mu.RLock()
	entries := make([]*entry, 0, len(d.lockers))
	for _, e := range d.lockers {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	out := make([]*locker.Locker, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.l != nil {
			out = append(out, e.l.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sequence returns the next sequence to be assigned.
func (d *Dispatcher) Sequence() int64 {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	return d.sequence
}

// StateHash returns the current chain tip.
func (d *Dispatcher) StateHash() [32]byte {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	return d.hasher.GetPrevHash()
}

// Replay re-applies logged operations on top of the current state without
// settling them, verifying the hash chain as it goes. Envelopes below the
// current sequence are skipped. It returns the number applied.
func (d *Dispatcher) Replay(envelopes []*event.EventEnvelope) (int, error) {
	start := time.Now()

	d.gate.Lock()
	defer d.gate.Unlock()

	applied := 0
	for _, env := range envelopes {
		if env.Sequence < d.sequence {
			continue
		}
		if env.Sequence > d.sequence {
			return applied, fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, d.sequence, env.Sequence)
		}

		l, err := d.rebuild(env)
		if err != nil {
			return applied, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
		}

		if env.PrevHash != d.hasher.GetPrevHash() {
			return applied, fmt.Errorf("%w: seq %d does not chain to the current tip", ErrHashMismatch, env.Sequence)
		}
		if got := chainHash(env.PrevHash, env.Sequence, l.CanonicalBytes()); got != env.StateHash {
			return applied, fmt.Errorf("%w: seq %d recomputed %x, logged %x", ErrHashMismatch, env.Sequence, got, env.StateHash)
		}
		d.hasher.Reset(env.StateHash)

		d.lockers[l.ID] = &entry{l: l}
		d.sequence++
		if env.IdempotencyKey != "" {
			d.idempotency.MarkProcessed(env.Op, env.IdempotencyKey, l.ID)
		}
		applied++
	}

	d.refreshGauges()
	if d.metrics != nil {
		d.metrics.ReplayEventsTotal.Add(float64(applied))
		d.metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	d.logger.Info().Int("applied", applied).Int64("sequence", d.sequence).Msg("replay complete")
	return applied, nil
}

// rebuild computes the locker state an envelope recorded.
func (d *Dispatcher) rebuild(env *event.EventEnvelope) (*locker.Locker, error) {
	rec, err := decodeRecord(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	if rec.Create != nil {
		policy := d.template(rec.Create.Currency)
		if rec.Policy != nil {
			policy = *rec.Policy
		}
		l, _, err := locker.New(rec.Create.LockerID, rec.Create.params(), policy, env.Timestamp)
		return l, err
	}

	e, ok := d.lockers[rec.Command.LockerID]
	if !ok || e.l == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rec.Command.LockerID)
	}
	l := e.l.Clone()
	if _, err := apply(l, *rec.Command, env.Timestamp); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *Dispatcher) refreshGauges() {
	if d.metrics == nil {
		return
	}
	counts := make(map[locker.State]int)
	for _, e := range d.lockers {
		if e.l != nil {
			counts[e.l.State]++
		}
	}
	for _, s := range []locker.State{locker.StateFunding, locker.StateCancelled, locker.StateActive, locker.StateLiquidated, locker.StateRepaid} {
		d.metrics.LockersByState.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
	d.metrics.Sequence.Set(float64(d.sequence))
	d.metrics.DedupLRUSize.Set(float64(d.idempotency.Size()))
}
