package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// LedgerDeltas returns the net currency movement per account recorded in
// the journal, keyed by currency. Added to the genesis balances it gives the
// balances of the reference ledgers at the persisted watermark.
func (sm *SnapshotManager) LedgerDeltas(ctx context.Context) (map[string]map[uuid.UUID]int64, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT currency, account, SUM(delta)::BIGINT
		FROM (
			SELECT currency, to_account AS account, amount AS delta FROM event_log.journal
			UNION ALL
			SELECT currency, from_account, -amount FROM event_log.journal
		) legs
		GROUP BY currency, account
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger deltas: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[uuid.UUID]int64)
	for rows.Next() {
		var (
			currency string
			account  uuid.UUID
			delta    int64
		)
		if err := rows.Scan(&currency, &account, &delta); err != nil {
			return nil, err
		}
		if out[currency] == nil {
			out[currency] = make(map[uuid.UUID]int64)
		}
		out[currency][account] = delta
	}
	return out, rows.Err()
}

// AssetOwners returns the last recorded holder of every collateral token
// that ever moved, keyed by registry.
func (sm *SnapshotManager) AssetOwners(ctx context.Context) (map[string]map[uint64]uuid.UUID, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT DISTINCT ON (registry, token_id) registry, token_id, to_account
		FROM event_log.asset_moves
		ORDER BY registry, token_id, sequence DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("asset owners: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[uint64]uuid.UUID)
	for rows.Next() {
		var (
			registry string
			tokenID  int64
			owner    uuid.UUID
		)
		if err := rows.Scan(&registry, &tokenID, &owner); err != nil {
			return nil, err
		}
		if out[registry] == nil {
			out[registry] = make(map[uint64]uuid.UUID)
		}
		out[registry][uint64(tokenID)] = owner
	}
	return out, rows.Err()
}
