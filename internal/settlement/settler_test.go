package settlement_test

import (
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/ledger/mocks"
	"LockerLedger/internal/observability"
	"LockerLedger/internal/settlement"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	alice  = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob    = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	locker = uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
)

func newSettler() *settlement.Settler {
	return settlement.NewSettler(zerolog.Nop(), observability.NewMetrics(prometheus.NewRegistry()))
}

// ============================================================================
// Staged path
// ============================================================================

func TestSettle_StagedCommitsEveryLeg(t *testing.T) {
	ctx := context.Background()
	bank := ledger.NewBank("USD")
	deeds := ledger.NewAssetRegistry("deeds")
	bank.Mint(alice, 500)
	require.NoError(t, deeds.Issue(7, bob))

	s := newSettler()
	s.RegisterLedger("USD", bank)
	s.RegisterRegistry("deeds", deeds)

	batch := ledger.NewBatch()
	batch.Pull(alice, locker, "USD", 300, ledger.JournalTypeContribution)
	batch.Push(locker, bob, "USD", 300, ledger.JournalTypeDisbursement)
	batch.MoveAsset(bob, locker, ledger.Asset{Registry: "deeds", TokenID: 7})

	require.NoError(t, s.Settle(ctx, batch))

	a, _ := bank.BalanceOf(ctx, alice)
	b, _ := bank.BalanceOf(ctx, bob)
	l, _ := bank.BalanceOf(ctx, locker)
	assert.Equal(t, int64(200), a)
	assert.Equal(t, int64(300), b)
	assert.Equal(t, int64(0), l)

	owner, err := deeds.OwnerOf(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, locker, owner)
}

func TestSettle_StagedRejectionLeavesEverythingUntouched(t *testing.T) {
	ctx := context.Background()
	bank := ledger.NewBank("USD")
	deeds := ledger.NewAssetRegistry("deeds")
	bank.Mint(alice, 100)
	require.NoError(t, deeds.Issue(7, alice))

	s := newSettler()
	s.RegisterLedger("USD", bank)
	s.RegisterRegistry("deeds", deeds)

	// Currency legs are fine; the asset is not bob's to move.
	batch := ledger.NewBatch()
	batch.Pull(alice, locker, "USD", 100, ledger.JournalTypeContribution)
	batch.MoveAsset(bob, locker, ledger.Asset{Registry: "deeds", TokenID: 7})

	err := s.Settle(ctx, batch)
	require.ErrorIs(t, err, ledger.ErrNotOwner)

	a, _ := bank.BalanceOf(ctx, alice)
	assert.Equal(t, int64(100), a)
	owner, _ := deeds.OwnerOf(ctx, 7)
	assert.Equal(t, alice, owner)

	// Locks were released by Abort.
	require.NoError(t, bank.Transfer(ctx, alice, bob, 1))
}

func TestSettle_StagedInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	bank := ledger.NewBank("USD")
	bank.Mint(alice, 50)

	s := newSettler()
	s.RegisterLedger("USD", bank)

	batch := ledger.NewBatch()
	batch.Pull(alice, locker, "USD", 30, ledger.JournalTypeContribution)
	batch.Pull(alice, locker, "USD", 30, ledger.JournalTypeContribution)

	require.ErrorIs(t, s.Settle(ctx, batch), ledger.ErrInsufficientBalance)
	assert.Equal(t, int64(50), bank.TotalSupply())
	a, _ := bank.BalanceOf(ctx, alice)
	assert.Equal(t, int64(50), a)
}

func TestSettle_EmptyBatchIsNoop(t *testing.T) {
	s := newSettler()
	assert.NoError(t, s.Settle(context.Background(), ledger.NewBatch()))
	assert.NoError(t, s.Settle(context.Background(), nil))
}

func TestSettle_UnknownCollaborators(t *testing.T) {
	s := newSettler()

	batch := ledger.NewBatch()
	batch.Pull(alice, locker, "EUR", 1, ledger.JournalTypeContribution)
	assert.ErrorIs(t, s.Settle(context.Background(), batch), settlement.ErrUnknownCurrency)

	batch = ledger.NewBatch()
	batch.MoveAsset(alice, locker, ledger.Asset{Registry: "cars", TokenID: 1})
	assert.ErrorIs(t, s.Settle(context.Background(), batch), settlement.ErrUnknownRegistry)
}

func TestSettle_MalformedBatchRejected(t *testing.T) {
	s := newSettler()
	s.RegisterLedger("USD", ledger.NewBank("USD"))

	batch := ledger.NewBatch()
	batch.Push(alice, alice, "USD", 1, ledger.JournalTypeDisbursement)
	assert.Error(t, s.Settle(context.Background(), batch))
}

// ============================================================================
// Sequential path with compensation
// ============================================================================

func TestSettle_SequentialRunsLegsInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	cur := mocks.NewMockCurrencyLedger(ctrl)
	reg := mocks.NewMockCollateralRegistry(ctrl)

	s := newSettler()
	s.RegisterLedger("USD", cur)
	s.RegisterRegistry("deeds", reg)

	batch := ledger.NewBatch()
	batch.Pull(alice, locker, "USD", 40, ledger.JournalTypePayback)
	batch.Push(locker, bob, "USD", 40, ledger.JournalTypeInterestClaim)
	batch.MoveAsset(locker, alice, ledger.Asset{Registry: "deeds", TokenID: 3})

	gomock.InOrder(
		cur.EXPECT().TransferFrom(gomock.Any(), alice, locker, int64(40)).Return(nil),
		cur.EXPECT().Transfer(gomock.Any(), locker, bob, int64(40)).Return(nil),
		reg.EXPECT().TransferAsset(gomock.Any(), locker, alice, uint64(3)).Return(nil),
	)

	require.NoError(t, s.Settle(context.Background(), batch))
}

func TestSettle_SequentialCompensatesInReverse(t *testing.T) {
	ctrl := gomock.NewController(t)
	cur := mocks.NewMockCurrencyLedger(ctrl)
	reg := mocks.NewMockCollateralRegistry(ctrl)

	s := newSettler()
	s.RegisterLedger("USD", cur)
	s.RegisterRegistry("deeds", reg)

	batch := ledger.NewBatch()
	batch.Pull(alice, locker, "USD", 40, ledger.JournalTypePayback)
	batch.Push(locker, bob, "USD", 40, ledger.JournalTypeInterestClaim)
	batch.MoveAsset(locker, alice, ledger.Asset{Registry: "deeds", TokenID: 3})

	boom := errors.New("registry offline")
	gomock.InOrder(
		cur.EXPECT().TransferFrom(gomock.Any(), alice, locker, int64(40)).Return(nil),
		cur.EXPECT().Transfer(gomock.Any(), locker, bob, int64(40)).Return(nil),
		reg.EXPECT().TransferAsset(gomock.Any(), locker, alice, uint64(3)).Return(boom),
		// push reversed by pulling back, then pull reversed by paying out
		cur.EXPECT().TransferFrom(gomock.Any(), bob, locker, int64(40)).Return(nil),
		cur.EXPECT().Transfer(gomock.Any(), locker, alice, int64(40)).Return(nil),
	)

	err := s.Settle(context.Background(), batch)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, settlement.ErrCompensationFailed)
}

func TestSettle_CompensationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	cur := mocks.NewMockCurrencyLedger(ctrl)

	s := newSettler()
	s.RegisterLedger("USD", cur)

	batch := ledger.NewBatch()
	batch.Pull(alice, locker, "USD", 10, ledger.JournalTypeContribution)
	batch.Push(locker, bob, "USD", 5, ledger.JournalTypeTakeoverRefund)

	gomock.InOrder(
		cur.EXPECT().TransferFrom(gomock.Any(), alice, locker, int64(10)).Return(nil),
		cur.EXPECT().Transfer(gomock.Any(), locker, bob, int64(5)).Return(ledger.ErrInsufficientBalance),
		cur.EXPECT().Transfer(gomock.Any(), locker, alice, int64(10)).Return(errors.New("frozen")),
	)

	err := s.Settle(context.Background(), batch)
	assert.ErrorIs(t, err, settlement.ErrCompensationFailed)
}

// A single non-staging participant forces the sequential path for the
// whole batch.
func TestSettle_MixedParticipantsFallBackToSequential(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockCollateralRegistry(ctrl)
	bank := ledger.NewBank("USD")
	bank.Mint(alice, 10)

	s := newSettler()
	s.RegisterLedger("USD", bank)
	s.RegisterRegistry("deeds", reg)

	batch := ledger.NewBatch()
	batch.Pull(alice, locker, "USD", 10, ledger.JournalTypeContribution)
	batch.MoveAsset(alice, locker, ledger.Asset{Registry: "deeds", TokenID: 1})

	reg.EXPECT().TransferAsset(gomock.Any(), alice, locker, uint64(1)).Return(ledger.ErrNotOwner)

	require.ErrorIs(t, s.Settle(ctx, batch), ledger.ErrNotOwner)
	a, _ := bank.BalanceOf(ctx, alice)
	assert.Equal(t, int64(10), a, "pull must be reversed")
}
