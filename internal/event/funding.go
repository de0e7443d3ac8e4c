// internal/event/funding.go
package event

import (
	"LockerLedger/internal/ledger"
	"time"

	"github.com/google/uuid"
)

type NewLocker struct {
	LockerID      uuid.UUID      `json:"locker_id"`
	Borrower      uuid.UUID      `json:"borrower"`
	Currency      string         `json:"currency"`
	Collateral    []ledger.Asset `json:"collateral"`
	FloorAsked    int64          `json:"floor_asked"`
	TotalAsked    int64          `json:"total_asked"`
	FundingWindow time.Duration  `json:"funding_window"`
	PaymentRate   int64          `json:"payment_rate"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (e *NewLocker) EventType() EventType { return EventTypeNewLocker }
func (e *NewLocker) Locker() uuid.UUID    { return e.LockerID }

type Contributed struct {
	LockerID       uuid.UUID `json:"locker_id"`
	Contributor    uuid.UUID `json:"contributor"`
	Offered        int64     `json:"offered"`
	Accepted       int64     `json:"accepted"`
	TotalCollected int64     `json:"total_collected"`
}

func (e *Contributed) EventType() EventType { return EventTypeContributed }
func (e *Contributed) Locker() uuid.UUID    { return e.LockerID }

// SingleProvider is emitted when one contributor holds the full cap.
type SingleProvider struct {
	LockerID   uuid.UUID   `json:"locker_id"`
	Provider   uuid.UUID   `json:"provider"`
	Superseded []uuid.UUID `json:"superseded,omitempty"`
}

func (e *SingleProvider) EventType() EventType { return EventTypeSingleProvider }
func (e *SingleProvider) Locker() uuid.UUID    { return e.LockerID }

type LockerDisabled struct {
	LockerID uuid.UUID `json:"locker_id"`
	Borrower uuid.UUID `json:"borrower"`
}

func (e *LockerDisabled) EventType() EventType { return EventTypeLockerDisabled }
func (e *LockerDisabled) Locker() uuid.UUID    { return e.LockerID }

type LockerRescued struct {
	LockerID uuid.UUID `json:"locker_id"`
	Caller   uuid.UUID `json:"caller"`
}

func (e *LockerRescued) EventType() EventType { return EventTypeLockerRescued }
func (e *LockerRescued) Locker() uuid.UUID    { return e.LockerID }
