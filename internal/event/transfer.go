package event

import (
	"LockerLedger/internal/ledger"

	"github.com/google/uuid"
)

// Transfer mirrors every currency leg, including zero-amount refunds.
type Transfer struct {
	LockerID uuid.UUID `json:"locker_id"`
	From     uuid.UUID `json:"from"`
	To       uuid.UUID `json:"to"`
	Amount   int64     `json:"amount"`
	Reason   string    `json:"reason"`
}

func (e *Transfer) EventType() EventType { return EventTypeTransfer }
func (e *Transfer) Locker() uuid.UUID    { return e.LockerID }

type AssetTransfer struct {
	LockerID uuid.UUID    `json:"locker_id"`
	From     uuid.UUID    `json:"from"`
	To       uuid.UUID    `json:"to"`
	Asset    ledger.Asset `json:"asset"`
}

func (e *AssetTransfer) EventType() EventType { return EventTypeAssetTransfer }
func (e *AssetTransfer) Locker() uuid.UUID    { return e.LockerID }
