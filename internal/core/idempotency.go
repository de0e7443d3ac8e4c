package core

import (
	"LockerLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// ErrDuplicateInFlight is returned when a command with the same key is still
// being applied. Retrying later yields the duplicate result.
var ErrDuplicateInFlight = errors.New("command with this idempotency key is in flight")

// DBIdempotencyChecker is the Postgres tier: it reports which locker a
// previously committed command touched.
type DBIdempotencyChecker interface {
	LookupKey(ctx context.Context, op, idempotencyKey string) (uuid.UUID, bool, error)
}

// IdempotencyChecker implements two-tier deduplication: a bounded LRU in
// front of the event log.
type IdempotencyChecker struct {
	lru       *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger

	inflight sync.Map
}

// IdempotencyKey is one remembered key, carried in dispatcher snapshots.
type IdempotencyKey struct {
	Key      string    `json:"key"`
	LockerID uuid.UUID `json:"locker_id"`
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) (*IdempotencyChecker, error) {
	ic := &IdempotencyChecker{
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
	cache, err := lru.NewWithEvict(capacity, func(key, value interface{}) {
		if ic.metrics != nil {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	ic.lru = cache
	return ic, nil
}

func compositeKey(op, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", op, idempotencyKey)
}

// Lookup checks if a command has been committed (two-tier lookup) and
// returns the locker it touched.
func (ic *IdempotencyChecker) Lookup(ctx context.Context, op, idempotencyKey string) (uuid.UUID, bool) {
	key := compositeKey(op, idempotencyKey)

	// Tier 1: LRU (hot path)
	if v, ok := ic.lru.Get(key); ok {
		ic.recordDuplicate(op, "lru")
		return v.(uuid.UUID), true
	}

	// Tier 2: Postgres (cold path)
	if ic.dbChecker == nil {
		return uuid.Nil, false
	}

	start := time.Now()
	id, found, err := ic.dbChecker.LookupKey(ctx, op, idempotencyKey)
	if ic.metrics != nil {
		ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// A DB issue must not block processing: treat as new.
		ic.logger.Warn().Err(err).Str("op", op).Msg("tier-2 idempotency lookup failed")
		return uuid.Nil, false
	}
	if !found {
		return uuid.Nil, false
	}

	ic.recordDuplicate(op, "postgres")
	ic.add(key, id)
	return id, true
}

// Claim reserves a key for the duration of one command. The returned
// release func must be called exactly once.
func (ic *IdempotencyChecker) Claim(op, idempotencyKey string) (func(), error) {
	key := compositeKey(op, idempotencyKey)
	if _, loaded := ic.inflight.LoadOrStore(key, struct{}{}); loaded {
		return nil, ErrDuplicateInFlight
	}
	return func() { ic.inflight.Delete(key) }, nil
}

// MarkProcessed adds the key to the LRU after a successful commit.
func (ic *IdempotencyChecker) MarkProcessed(op, idempotencyKey string, lockerID uuid.UUID) {
	ic.add(compositeKey(op, idempotencyKey), lockerID)
}

func (ic *IdempotencyChecker) add(key string, lockerID uuid.UUID) {
	ic.lru.Add(key, lockerID)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// Keys returns the remembered keys from oldest to newest.
func (ic *IdempotencyChecker) Keys() []IdempotencyKey {
	keys := ic.lru.Keys()
	out := make([]IdempotencyKey, 0, len(keys))
	for _, k := range keys {
		v, ok := ic.lru.Peek(k)
		if !ok {
			continue
		}
		out = append(out, IdempotencyKey{Key: k.(string), LockerID: v.(uuid.UUID)})
	}
	return out
}

// Warm replaces the LRU contents, used on restore so recent retries do not
// hit Postgres.
func (ic *IdempotencyChecker) Warm(keys []IdempotencyKey) {
	ic.lru.Purge()
	for _, k := range keys {
		ic.add(k.Key, k.LockerID)
	}
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(op, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(op, tier).Inc()
	}
}
