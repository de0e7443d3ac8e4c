package projection

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/testutil"
	"testing"
	"time"
)

// ============================================================================
// Row derivation from dispatcher outputs
// ============================================================================

func TestRows_FundingThenActive(t *testing.T) {
	e := testutil.NewEngine(t)
	id := e.Create(t, 1)
	alice, bob := e.Funders[0], e.Funders[1]

	e.Must(t, core.Command{Op: core.OpContribute, LockerID: id, Caller: alice, Amount: 400})
	e.Must(t, core.Command{Op: core.OpContribute, LockerID: id, Caller: bob, Amount: 700})
	e.Advance(time.Hour)
	e.Must(t, core.Command{Op: core.OpEnable, LockerID: id, Caller: e.Borrower})

	outs := e.Drain()
	if len(outs) != 4 {
		t.Fatalf("outputs: got %d, want 4", len(outs))
	}

	created := lockerRow(outs[0].Locker, outs[0].Envelope.Sequence)
	if created.State != "Funding" || created.SingleProvider != nil || created.NextDueTime != nil {
		t.Errorf("created row: got %+v", created)
	}

	last := outs[3]
	active := lockerRow(last.Locker, last.Envelope.Sequence)
	if active.State != "Active" {
		t.Errorf("state: got %s, want Active", active.State)
	}
	if active.TotalCollected != 1_100 {
		t.Errorf("total collected: got %d, want 1100", active.TotalCollected)
	}
	if active.NextDueTime == nil {
		t.Error("active locker should carry a due time")
	}
	if active.LastSequence != 3 {
		t.Errorf("last sequence: got %d, want 3", active.LastSequence)
	}

	positions := positionRows(last.Locker, last.Envelope.Sequence)
	if len(positions) != 2 {
		t.Fatalf("positions: got %d, want 2", len(positions))
	}
	if positions[0].Contributor != alice || positions[0].Contributed != 400 {
		t.Errorf("first position: got %+v", positions[0])
	}
	if positions[1].Contributor != bob || positions[1].Contributed != 700 {
		t.Errorf("second position: got %+v", positions[1])
	}

	transfers := transferRows(outs[1])
	if len(transfers) != 1 {
		t.Fatalf("contribution transfers: got %d, want 1", len(transfers))
	}
	if transfers[0].FromAccount != alice || transfers[0].ToAccount != id || transfers[0].JournalType != "contribution" {
		t.Errorf("contribution transfer: got %+v", transfers[0])
	}
}

func TestRows_SingleProviderRecorded(t *testing.T) {
	e := testutil.NewEngine(t)
	id := e.Create(t, 2)
	res := e.Must(t, core.Command{Op: core.OpContribute, LockerID: id, Caller: e.Funders[2], Amount: 1_500})

	row := lockerRow(res.Locker.Snapshot(), res.Sequence)
	if row.SingleProvider == nil || *row.SingleProvider != e.Funders[2] {
		t.Errorf("single provider: got %v, want %s", row.SingleProvider, e.Funders[2])
	}
}

func TestTransferRows_NilBatch(t *testing.T) {
	if rows := transferRows(core.CoreOutput{}); rows != nil {
		t.Errorf("got %d rows, want none", len(rows))
	}
}
