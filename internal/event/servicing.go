package event

import (
	"time"

	"github.com/google/uuid"
)

type LockerEnabled struct {
	LockerID     uuid.UUID     `json:"locker_id"`
	Principal    int64         `json:"principal"`
	PaymentRate  int64         `json:"payment_rate"`
	PaymentCycle time.Duration `json:"payment_cycle"`
	NextDueTime  time.Time     `json:"next_due_time"`
}

func (e *LockerEnabled) EventType() EventType { return EventTypeLockerEnabled }
func (e *LockerEnabled) Locker() uuid.UUID    { return e.LockerID }

type PaymentRateIncreased struct {
	LockerID    uuid.UUID `json:"locker_id"`
	Delta       int64     `json:"delta"`
	PaymentRate int64     `json:"payment_rate"`
}

func (e *PaymentRateIncreased) EventType() EventType { return EventTypePaymentRateIncreased }
func (e *PaymentRateIncreased) Locker() uuid.UUID    { return e.LockerID }

type PaymentTimeDecreased struct {
	LockerID     uuid.UUID     `json:"locker_id"`
	PaymentCycle time.Duration `json:"payment_cycle"`
}

func (e *PaymentTimeDecreased) EventType() EventType { return EventTypePaymentTimeDecreased }
func (e *PaymentTimeDecreased) Locker() uuid.UUID    { return e.LockerID }

// PaybackReceived breaks a payment down into the buckets it settled.
type PaybackReceived struct {
	LockerID         uuid.UUID `json:"locker_id"`
	Payer            uuid.UUID `json:"payer"`
	Amount           int64     `json:"amount"`
	Penalty          int64     `json:"penalty"`
	Interest         int64     `json:"interest"`
	Principal        int64     `json:"principal"`
	CyclesSettled    int64     `json:"cycles_settled"`
	NextDueTime      time.Time `json:"next_due_time"`
	RemainingBalance int64     `json:"remaining_balance"`
}

func (e *PaybackReceived) EventType() EventType { return EventTypePaybackReceived }
func (e *PaybackReceived) Locker() uuid.UUID    { return e.LockerID }

type InterestClaimed struct {
	LockerID    uuid.UUID `json:"locker_id"`
	Caller      uuid.UUID `json:"caller"`
	Contributor uuid.UUID `json:"contributor"`
	Amount      int64     `json:"amount"`
	Compensated int64     `json:"compensated"`
}

func (e *InterestClaimed) EventType() EventType { return EventTypeInterestClaimed }
func (e *InterestClaimed) Locker() uuid.UUID    { return e.LockerID }

type LockerLiquidated struct {
	LockerID    uuid.UUID `json:"locker_id"`
	Caller      uuid.UUID `json:"caller"`
	Beneficiary uuid.UUID `json:"beneficiary"`
	Outstanding int64     `json:"outstanding"`
}

func (e *LockerLiquidated) EventType() EventType { return EventTypeLockerLiquidated }
func (e *LockerLiquidated) Locker() uuid.UUID    { return e.LockerID }

type LockerRepaid struct {
	LockerID uuid.UUID `json:"locker_id"`
	Payer    uuid.UUID `json:"payer"`
	Payoff   int64     `json:"payoff"`
}

func (e *LockerRepaid) EventType() EventType { return EventTypeLockerRepaid }
func (e *LockerRepaid) Locker() uuid.UUID    { return e.LockerID }
