package locker

import (
	"LockerLedger/internal/event"
	"LockerLedger/internal/ledger"

	"github.com/google/uuid"
)

// Effects is everything an operation asks the outside world to do. The batch
// must be settled before the mutated locker is committed.
type Effects struct {
	Batch  *ledger.Batch
	Events []event.Event
}

func newEffects() *Effects {
	return &Effects{Batch: ledger.NewBatch()}
}

func (e *Effects) emit(evt event.Event) {
	e.Events = append(e.Events, evt)
}

// pull draws amount from an external account into custody.
func (e *Effects) pull(l *Locker, from uuid.UUID, amount int64, jt ledger.JournalType) {
	e.Batch.Pull(from, l.ID, l.Currency, amount, jt)
	e.emit(&event.Transfer{LockerID: l.ID, From: from, To: l.ID, Amount: amount, Reason: jt.String()})
}

// push pays amount out of custody. Zero amounts are recorded too.
func (e *Effects) push(l *Locker, to uuid.UUID, amount int64, jt ledger.JournalType) {
	e.Batch.Push(l.ID, to, l.Currency, amount, jt)
	e.emit(&event.Transfer{LockerID: l.ID, From: l.ID, To: to, Amount: amount, Reason: jt.String()})
}

func (e *Effects) moveCollateral(l *Locker, from, to uuid.UUID) {
	for _, asset := range l.Collateral {
		e.Batch.MoveAsset(from, to, asset)
		e.emit(&event.AssetTransfer{LockerID: l.ID, From: from, To: to, Asset: asset})
	}
}

// PrimaryEvent returns the event that names the operation, skipping
// transfer mirrors.
func (e *Effects) PrimaryEvent() event.EventType {
	for _, evt := range e.Events {
		switch evt.EventType() {
		case event.EventTypeTransfer, event.EventTypeAssetTransfer:
			continue
		default:
			return evt.EventType()
		}
	}
	if len(e.Events) > 0 {
		return e.Events[0].EventType()
	}
	return event.EventTypeUnknown
}
