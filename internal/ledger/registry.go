package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// AssetRegistry is an in-memory CollateralRegistry for one registry namespace.
type AssetRegistry struct {
	mu     sync.Mutex
	name   string
	owners map[uint64]uuid.UUID
}

func NewAssetRegistry(name string) *AssetRegistry {
	return &AssetRegistry{
		name:   name,
		owners: make(map[uint64]uuid.UUID),
	}
}

func (r *AssetRegistry) Name() string {
	return r.name
}

// Issue assigns a new token to owner.
func (r *AssetRegistry) Issue(tokenID uint64, owner uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.owners[tokenID]; exists {
		return fmt.Errorf("token %s/%d already issued", r.name, tokenID)
	}
	r.owners[tokenID] = owner
	return nil
}

func (r *AssetRegistry) TransferAsset(ctx context.Context, from, to uuid.UUID, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOwner(r.owners, from, tokenID); err != nil {
		return err
	}
	r.owners[tokenID] = to
	return nil
}

func (r *AssetRegistry) OwnerOf(ctx context.Context, tokenID uint64) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s/%d", ErrUnknownAsset, r.name, tokenID)
	}
	return owner, nil
}

func (r *AssetRegistry) checkOwner(owners map[uint64]uuid.UUID, from uuid.UUID, tokenID uint64) error {
	owner, ok := owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrUnknownAsset, r.name, tokenID)
	}
	if owner != from {
		return fmt.Errorf("%w: %s/%d owned by %s, not %s", ErrNotOwner, r.name, tokenID, owner, from)
	}
	return nil
}

// Stage validates the batch's moves in this registry and holds the lock
// until Commit or Abort.
func (r *AssetRegistry) Stage(ctx context.Context, batch *Batch) (Staged, error) {
	r.mu.Lock()

	pending := make(map[uint64]uuid.UUID)
	view := func(id uint64) (uuid.UUID, bool) {
		if o, ok := pending[id]; ok {
			return o, true
		}
		o, ok := r.owners[id]
		return o, ok
	}

	for _, m := range batch.Moves {
		if m.Asset.Registry != r.name {
			continue
		}
		owner, ok := view(m.Asset.TokenID)
		if !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, m.Asset)
		}
		if owner != m.From {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s owned by %s, not %s", ErrNotOwner, m.Asset, owner, m.From)
		}
		pending[m.Asset.TokenID] = m.To
	}

	return &stagedRegistry{registry: r, pending: pending}, nil
}

type stagedRegistry struct {
	registry *AssetRegistry
	pending  map[uint64]uuid.UUID
	done     bool
}

func (s *stagedRegistry) Commit() {
	if s.done {
		return
	}
	s.done = true
	for id, owner := range s.pending {
		s.registry.owners[id] = owner
	}
	s.registry.mu.Unlock()
}

func (s *stagedRegistry) Abort() {
	if s.done {
		return
	}
	s.done = true
	s.registry.mu.Unlock()
}

// Snapshot returns a copy of token ownership.
func (r *AssetRegistry) Snapshot() map[uint64]uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint64]uuid.UUID, len(r.owners))
	for k, v := range r.owners {
		out[k] = v
	}
	return out
}

// Restore replaces token ownership.
func (r *AssetRegistry) Restore(owners map[uint64]uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = make(map[uint64]uuid.UUID, len(owners))
	for k, v := range owners {
		r.owners[k] = v
	}
}
