package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks custody invariants against the external
// collaborators after an operation has settled.
type InvariantValidator struct{}

func NewInvariantValidator() *InvariantValidator {
	return &InvariantValidator{}
}

// ValidateBatch verifies the batch is well-formed.
func (v *InvariantValidator) ValidateBatch(batch *Batch) error {
	return batch.Validate()
}

// ValidateCustody checks that account holds at least required.
func (v *InvariantValidator) ValidateCustody(ctx context.Context, l CurrencyLedger, account uuid.UUID, required int64) error {
	balance, err := l.BalanceOf(ctx, account)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", account, err)
	}
	if balance < required {
		return fmt.Errorf("custody account %s holds %d, obligations are %d", account, balance, required)
	}
	return nil
}

// ValidateOwner checks that tokenID is held by owner.
func (v *InvariantValidator) ValidateOwner(ctx context.Context, r CollateralRegistry, tokenID uint64, owner uuid.UUID) error {
	got, err := r.OwnerOf(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("owner of %d: %w", tokenID, err)
	}
	if got != owner {
		return fmt.Errorf("token %d held by %s, expected %s", tokenID, got, owner)
	}
	return nil
}
