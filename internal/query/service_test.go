package query_test

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/observability"
	"LockerLedger/internal/query"
	"LockerLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestGetLocker_FundingView(t *testing.T) {
	e := testutil.NewEngine(t)
	id := e.Create(t, 1, 2)
	e.Must(t, core.Command{Op: core.OpContribute, LockerID: id, Caller: e.Funders[0], Amount: 300})
	e.Must(t, core.Command{Op: core.OpContribute, LockerID: id, Caller: e.Funders[1], Amount: 600})

	qs := query.NewQueryService(e.D, nil, e.Now, nil)
	v, err := qs.GetLocker(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "Funding", v.State)
	assert.Equal(t, []string{"deeds/1", "deeds/2"}, v.Collateral)
	assert.Equal(t, int64(900), v.TotalCollected)
	assert.True(t, v.BelowFloor)
	assert.False(t, v.FundingExpired)
	assert.Equal(t, testutil.Epoch.Add(30*24*time.Hour), v.FundingDeadline)
	assert.Nil(t, v.SingleProvider)
	assert.Zero(t, v.Payoff)
	assert.Equal(t, int64(2), v.AsOfSequence)

	require.Len(t, v.Contributors, 2)
	assert.Equal(t, "0.333333", v.Contributors[0].Share)
	assert.Equal(t, "0.666667", v.Contributors[1].Share)
	assert.Zero(t, v.Contributors[0].Claimable)

	assert.Equal(t, "0.1", v.Policy.PenaltyRate)
	assert.Equal(t, "0.5", v.Policy.MaxRatePerCycle)
	assert.Equal(t, "push", v.Policy.Takeover)
	assert.Equal(t, "largest", v.Policy.Liquidation)
	assert.Nil(t, v.Policy.Treasury)
}

func TestGetLocker_ActiveView(t *testing.T) {
	e := testutil.NewEngine(t)
	id := e.Create(t, 3)
	e.Must(t, core.Command{Op: core.OpContribute, LockerID: id, Caller: e.Funders[2], Amount: 1_500})
	e.Must(t, core.Command{Op: core.OpEnable, LockerID: id, Caller: e.Borrower})
	e.Advance(10 * 24 * time.Hour)

	qs := query.NewQueryService(e.D, nil, e.Now, nil)
	v, err := qs.GetLocker(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "Active", v.State)
	require.NotNil(t, v.SingleProvider)
	assert.Equal(t, e.Funders[2], *v.SingleProvider)
	require.NotNil(t, v.NextDueTime)
	assert.False(t, v.Overdue)
	assert.GreaterOrEqual(t, v.Payoff, v.Principal)
	assert.Equal(t, "0.066667", v.RateOfPrincipal)
	assert.Equal(t, "1", v.Contributors[0].Share)
}

func TestGetLocker_NotFound(t *testing.T) {
	e := testutil.NewEngine(t)
	reg := prometheus.NewRegistry()
	qs := query.NewQueryService(e.D, nil, e.Now, observability.NewMetrics(reg))

	_, err := qs.GetLocker(context.Background(), uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 1.0, counterValue(t, reg, "locker_query_requests_total",
		map[string]string{"endpoint": "get_locker", "status": "error"}))
}

func TestListLockers_Filters(t *testing.T) {
	e := testutil.NewEngine(t)
	a := e.Create(t, 1)
	e.Advance(time.Minute)
	b := e.Create(t, 2)
	e.Must(t, core.Command{Op: core.OpContribute, LockerID: b, Caller: e.Funders[0], Amount: 1_500})
	e.Must(t, core.Command{Op: core.OpEnable, LockerID: b, Caller: e.Borrower})

	qs := query.NewQueryService(e.D, nil, e.Now, nil)
	ctx := context.Background()

	all, err := qs.ListLockers(ctx, query.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a, all[0].ID)
	assert.Equal(t, b, all[1].ID)

	active, err := qs.ListLockers(ctx, query.ListFilter{State: "Active"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b, active[0].ID)

	none, err := qs.ListLockers(ctx, query.ListFilter{Borrower: uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, none)

	eur, err := qs.ListLockers(ctx, query.ListFilter{Currency: "EUR"})
	require.NoError(t, err)
	assert.Empty(t, eur)
}

func TestHistoryQueries_RequireDatabase(t *testing.T) {
	e := testutil.NewEngine(t)
	qs := query.NewQueryService(e.D, nil, e.Now, nil)
	ctx := context.Background()

	_, err := qs.GetHistory(ctx, uuid.New(), 10, nil)
	assert.ErrorIs(t, err, query.ErrHistoryUnavailable)
	_, err = qs.GetPositions(ctx, uuid.New())
	assert.ErrorIs(t, err, query.ErrHistoryUnavailable)
	_, err = qs.GetTransfers(ctx, uuid.New(), 10, nil)
	assert.ErrorIs(t, err, query.ErrHistoryUnavailable)
	_, err = qs.VerifyIntegrity(ctx)
	assert.ErrorIs(t, err, query.ErrHistoryUnavailable)
}
