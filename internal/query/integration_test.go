package query_test

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/persistence"
	"LockerLedger/internal/projection"
	"LockerLedger/internal/query"
	"LockerLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAndIntegrity_FromPostgres(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	e := testutil.NewEngine(t)
	pw := persistence.NewPersistenceWorker(db, e.Persist, 10, 5*time.Millisecond, nil, zerolog.Nop())
	proj := projection.NewProjectionWorker(db, e.Proj, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { pw.Run(ctx); done <- struct{}{} }()
	go func() { proj.Run(ctx); done <- struct{}{} }()
	defer func() {
		cancel()
		<-done
		<-done
	}()

	id := e.Create(t, 1)
	funder := e.Funders[0]
	e.Must(t, core.Command{Op: core.OpContribute, LockerID: id, Caller: funder, Amount: 1_500, IdempotencyKey: "k1"})
	e.Must(t, core.Command{Op: core.OpEnable, LockerID: id, Caller: e.Borrower})

	require.Eventually(t, func() bool {
		return pw.Persisted() == 2 && proj.LastSequence() == 2
	}, 5*time.Second, 10*time.Millisecond)

	qs := query.NewQueryService(e.D, db, e.Now, nil)

	history, err := qs.GetHistory(ctx, id, 10, nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(2), history[0].Sequence)
	assert.Equal(t, "enable", history[0].Op)
	assert.Equal(t, "k1", history[1].IdempotencyKey)

	before := int64(2)
	page, err := qs.GetHistory(ctx, id, 1, &before)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].Sequence)

	positions, err := qs.GetPositions(ctx, funder)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(1_500), positions[0].Contributed)
	assert.Equal(t, "Active", positions[0].State)
	assert.Equal(t, int64(2), positions[0].AsOfSequence)

	transfers, err := qs.GetTransfers(ctx, funder, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, transfers)
	assert.Equal(t, "contribution", transfers[0].JournalType)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
}
