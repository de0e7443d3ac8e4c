package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeNewLocker
	EventTypeContributed
	EventTypeSingleProvider
	EventTypeTransfer
	EventTypeAssetTransfer
	EventTypeLockerDisabled
	EventTypeLockerRescued
	EventTypeLockerEnabled
	EventTypePaymentRateIncreased
	EventTypePaymentTimeDecreased
	EventTypePaybackReceived
	EventTypeInterestClaimed
	EventTypeLockerLiquidated
	EventTypeLockerRepaid
)

// EventEnvelope wraps the output of every committed operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the dispatcher
	Sequence int64

	// Caller-supplied idempotency key (may be empty)
	IdempotencyKey string

	// Operation that produced this envelope
	Op string

	// Type of the primary event emitted by the operation
	EventType EventType

	// Locker the operation ran against
	LockerID uuid.UUID

	// The `now` the operation was evaluated at
	Timestamp time.Time

	// JSON-encoded command and emitted events
	Payload []byte

	// SHA-256 of locker state AFTER applying this operation
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// Locker returns the locker the event belongs to
	Locker() uuid.UUID
}

func (et EventType) String() string {
	switch et {
	case EventTypeNewLocker:
		return "NewLocker"
	case EventTypeContributed:
		return "Contributed"
	case EventTypeSingleProvider:
		return "SingleProvider"
	case EventTypeTransfer:
		return "Transfer"
	case EventTypeAssetTransfer:
		return "AssetTransfer"
	case EventTypeLockerDisabled:
		return "LockerDisabled"
	case EventTypeLockerRescued:
		return "LockerRescued"
	case EventTypeLockerEnabled:
		return "LockerEnabled"
	case EventTypePaymentRateIncreased:
		return "PaymentRateIncreased"
	case EventTypePaymentTimeDecreased:
		return "PaymentTimeDecreased"
	case EventTypePaybackReceived:
		return "PaybackReceived"
	case EventTypeInterestClaimed:
		return "InterestClaimed"
	case EventTypeLockerLiquidated:
		return "LockerLiquidated"
	case EventTypeLockerRepaid:
		return "LockerRepaid"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String. Unrecognized names map to
// EventTypeUnknown.
func ParseEventType(s string) EventType {
	for et := EventTypeNewLocker; et <= EventTypeLockerRepaid; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
