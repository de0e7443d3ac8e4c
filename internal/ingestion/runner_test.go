package ingestion_test

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/ingestion"
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/locker"
	"LockerLedger/internal/testutil"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func createMessage(t *testing.T, e *testutil.Engine, msgID string) ingestion.RawMessage {
	t.Helper()
	return ingestion.RawMessage{
		Subject: "locker.commands.create.USD",
		Kind:    ingestion.KindCreate,
		MsgID:   msgID,
		Data: mustJSON(t, map[string]interface{}{
			"borrower":       e.Borrower.String(),
			"currency":       testutil.Currency,
			"registry":       testutil.Registry,
			"token_ids":      []uint64{1},
			"floor_asked":    1000,
			"delta":          500,
			"funding_window": "720h",
			"payment_rate":   100,
		}),
		Received: time.Now(),
	}
}

func contributeMessage(t *testing.T, lockerID, caller uuid.UUID, amount int64) ingestion.RawMessage {
	t.Helper()
	return ingestion.RawMessage{
		Subject: "locker.commands.contribute." + lockerID.String(),
		Kind:    ingestion.KindContribute,
		Data: mustJSON(t, map[string]interface{}{
			"locker_id": lockerID.String(),
			"caller":    caller.String(),
			"amount":    amount,
		}),
	}
}

func newRunner(e *testutil.Engine, ch <-chan ingestion.RawMessage) *ingestion.Runner {
	return ingestion.NewRunner(e.D, ch, time.Second, nil, zerolog.Nop())
}

func TestRunner_HandleDispositions(t *testing.T) {
	e := testutil.NewEngine(t)
	r := newRunner(e, nil)
	ctx := context.Background()

	require.Equal(t, ingestion.Ack, r.Handle(ctx, createMessage(t, e, "create-1")))
	lockers := e.D.List()
	require.Len(t, lockers, 1)
	id := lockers[0].ID

	// Redelivery of the same message id is a duplicate, not a second locker.
	assert.Equal(t, ingestion.Ack, r.Handle(ctx, createMessage(t, e, "create-1")))
	assert.Len(t, e.D.List(), 1)

	assert.Equal(t, ingestion.Ack, r.Handle(ctx, contributeMessage(t, id, e.Funders[0], 300)))

	// An account with no funds may be topped up later.
	assert.Equal(t, ingestion.Nak, r.Handle(ctx, contributeMessage(t, id, uuid.New(), 300)))

	assert.Equal(t, ingestion.Term, r.Handle(ctx, contributeMessage(t, uuid.New(), e.Funders[1], 300)))

	bad := contributeMessage(t, id, e.Funders[1], 300)
	bad.Data = []byte(`{"locker_id":`)
	assert.Equal(t, ingestion.Term, r.Handle(ctx, bad))

	l, err := e.D.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(300), l.TotalCollected)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ingestion.Disposition
	}{
		{nil, ingestion.Ack},
		{fmt.Errorf("wrap: %w", ingestion.ErrMalformed), ingestion.Term},
		{fmt.Errorf("contribute x: %w", locker.ErrInvalidPhase), ingestion.Term},
		{fmt.Errorf("%w: x", core.ErrNotFound), ingestion.Term},
		{core.ErrDuplicateInFlight, ingestion.Nak},
		{fmt.Errorf("settle: %w", ledger.ErrInsufficientBalance), ingestion.Nak},
		{context.DeadlineExceeded, ingestion.Nak},
		{errors.New("connection reset"), ingestion.Nak},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ingestion.Classify(tc.err), "err=%v", tc.err)
	}
}

type acks struct {
	mu             sync.Mutex
	ack, nak, term int
}

func (a *acks) wire(m ingestion.RawMessage) ingestion.RawMessage {
	m.AckFunc = func() { a.mu.Lock(); a.ack++; a.mu.Unlock() }
	m.NakFunc = func() { a.mu.Lock(); a.nak++; a.mu.Unlock() }
	m.TermFunc = func() { a.mu.Lock(); a.term++; a.mu.Unlock() }
	return m
}

func (a *acks) counts() (int, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ack, a.nak, a.term
}

func TestRunner_RunAcknowledgesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := testutil.NewEngine(t)
	ch := make(chan ingestion.RawMessage, 4)
	var a acks
	ch <- a.wire(createMessage(t, e, "run-1"))
	ch <- a.wire(createMessage(t, e, "run-1"))
	ch <- a.wire(ingestion.RawMessage{Kind: ingestion.KindOp, Data: []byte(`{}`)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newRunner(e, ch).Run(ctx) }()

	require.Eventually(t, func() bool {
		ack, _, term := a.counts()
		return ack == 2 && term == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	_, nak, _ := a.counts()
	assert.Zero(t, nak)
}

func TestRunner_ClosedChannelEndsRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := testutil.NewEngine(t)
	ch := make(chan ingestion.RawMessage)
	close(ch)
	assert.NoError(t, newRunner(e, ch).Run(context.Background()))
}
