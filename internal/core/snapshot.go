package core

import (
	"LockerLedger/internal/locker"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Snapshot is the full dispatcher state at a sequence boundary.
type Snapshot struct {
	Sequence        int64             `json:"sequence"` // next sequence to assign
	StateHash       string            `json:"state_hash"`
	Lockers         []locker.Snapshot `json:"lockers"`
	IdempotencyKeys []IdempotencyKey  `json:"idempotency_keys"`
}

// Snapshot quiesces operations and captures every locker, the sequence, the
// hash tip and the recent idempotency keys.
func (d *Dispatcher) Snapshot() *Snapshot {
	d.gate.Lock()
	defer d.gate.Unlock()

	tip := d.hasher.GetPrevHash()
	snap := &Snapshot{
		Sequence:        d.sequence,
		StateHash:       hex.EncodeToString(tip[:]),
		Lockers:         make([]locker.Snapshot, 0, len(d.lockers)),
		IdempotencyKeys: d.idempotency.Keys(),
	}
	for _, e := range d.lockers {
		if e.l != nil {
			snap.Lockers = append(snap.Lockers, e.l.Snapshot())
		}
	}
	sort.Slice(snap.Lockers, func(i, j int) bool {
		return snap.Lockers[i].ID.String() < snap.Lockers[j].ID.String()
	})
	return snap
}

// Restore replaces all dispatcher state with snap.
func (d *Dispatcher) Restore(snap *Snapshot) error {
	tip, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(tip) != 32 {
		return fmt.Errorf("snapshot state hash %q is not 32 hex bytes", snap.StateHash)
	}

	lockers := make(map[uuid.UUID]*entry, len(snap.Lockers))
	for _, s := range snap.Lockers {
		l, err := locker.FromSnapshot(s)
		if err != nil {
			return fmt.Errorf("restore locker %s: %w", s.ID, err)
		}
		lockers[l.ID] = &entry{l: l}
	}

	d.gate.Lock()
	defer d.gate.Unlock()

	var hash [32]byte
	copy(hash[:], tip)

	d.mu.Lock()
	d.lockers = lockers
	d.mu.Unlock()

	d.emitMu.Lock()
	d.sequence = snap.Sequence
	d.hasher.Reset(hash)
	d.emitMu.Unlock()

	d.idempotency.Warm(snap.IdempotencyKeys)
	d.refreshGauges()

	d.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("lockers", len(lockers)).
		Msg("dispatcher restored from snapshot")
	return nil
}
