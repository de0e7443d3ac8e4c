package ledger

//go:generate mockgen -source=interfaces.go -destination=mocks/ledger_mock.go -package=mocks

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotOwner            = errors.New("asset not owned by sender")
	ErrUnknownAsset        = errors.New("unknown asset")
)

// CurrencyLedger is the fungible-currency collaborator.
type CurrencyLedger interface {
	// TransferFrom pulls amount from an external account on its behalf.
	TransferFrom(ctx context.Context, from, to uuid.UUID, amount int64) error
	// Transfer pays amount out of an account held in custody.
	Transfer(ctx context.Context, from, to uuid.UUID, amount int64) error
	BalanceOf(ctx context.Context, account uuid.UUID) (int64, error)
}

// CollateralRegistry is the custody collaborator for one asset registry.
type CollateralRegistry interface {
	TransferAsset(ctx context.Context, from, to uuid.UUID, tokenID uint64) error
	OwnerOf(ctx context.Context, tokenID uint64) (uuid.UUID, error)
}

// Stager is implemented by collaborators that can validate their share of a
// batch and hold it until every participant is ready.
type Stager interface {
	Stage(ctx context.Context, batch *Batch) (Staged, error)
}

// Staged is a validated, locked portion of a batch. Exactly one of Commit or
// Abort must be called.
type Staged interface {
	Commit()
	Abort()
}
