package ingestion_test

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/ingestion"
	"LockerLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// TestNATS_CommandToEvents sends a create command through JetStream and
// checks that the runner applies it and the publisher emits its events.
func TestNATS_CommandToEvents(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))

	events, err := js.Stream(ctx, "LOCKER_EVENTS")
	require.NoError(t, err)
	before, err := events.Info(ctx)
	require.NoError(t, err)

	e := testutil.NewEngine(t)
	msgChan := make(chan ingestion.RawMessage, 16)
	sub := ingestion.NewNATSSubscriber(js, msgChan, zerolog.Nop())
	require.NoError(t, sub.Subscribe(ctx, ingestion.DefaultSubjects()))
	defer sub.Stop()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go newRunner(e, msgChan).Run(runCtx)

	cmd := createMessage(t, e, "")
	_, err = js.Publish(ctx, "locker.commands.create.USD", cmd.Data, jetstream.WithMsgID(uuid.NewString()))
	require.NoError(t, err)

	// Stale messages from earlier runs name other borrowers and are rejected.
	require.Eventually(t, func() bool { return len(e.D.List()) == 1 }, 10*time.Second, 50*time.Millisecond)

	pubChan := make(chan core.CoreOutput, 4)
	for _, out := range e.Drain() {
		pubChan <- out
	}
	close(pubChan)
	require.NoError(t, ingestion.NewOutboundPublisher(js, pubChan, nil, zerolog.Nop()).Run(ctx))

	after, err := events.Info(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, after.State.Msgs, before.State.Msgs+2, "AssetTransfer and NewLocker")
}
