package core

import (
	"LockerLedger/internal/event"
	"LockerLedger/internal/ledger"
	"LockerLedger/internal/locker"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Op names a dispatcher operation. The names are the wire vocabulary of
// the gRPC, HTTP and NATS surfaces.
type Op string

const (
	OpCreate              Op = "create"
	OpContribute          Op = "contribute"
	OpPayback             Op = "payback"
	OpDisable             Op = "disable"
	OpEnable              Op = "enable"
	OpIncreasePaymentRate Op = "increase_payment_rate"
	OpDecreasePaymentTime Op = "decrease_payment_time"
	OpRefundDueExpired    Op = "refund_due_expired"
	OpRefundDueSingle     Op = "refund_due_single"
	OpRescue              Op = "rescue"
	OpLiquidate           Op = "liquidate"
	OpClaimInterest       Op = "claim_interest"
)

var lockerOps = map[Op]bool{
	OpContribute:          true,
	OpPayback:             true,
	OpDisable:             true,
	OpEnable:              true,
	OpIncreasePaymentRate: true,
	OpDecreasePaymentTime: true,
	OpRefundDueExpired:    true,
	OpRefundDueSingle:     true,
	OpRescue:              true,
	OpLiquidate:           true,
	OpClaimInterest:       true,
}

// ParseOp accepts the operations that run against an existing locker.
func ParseOp(s string) (Op, bool) {
	op := Op(s)
	return op, lockerOps[op]
}

// Command is one operation against an existing locker.
//
// Amount carries the contribution, payback, rate delta or rate adjustment
// depending on Op. Beneficiary is the contributor a permissionless refund or
// claim is paid to.
type Command struct {
	Op             Op            `json:"op"`
	LockerID       uuid.UUID     `json:"locker_id"`
	Caller         uuid.UUID     `json:"caller"`
	Beneficiary    uuid.UUID     `json:"beneficiary,omitempty"`
	Amount         int64         `json:"amount,omitempty"`
	Cycle          time.Duration `json:"cycle,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

// CreateRequest registers a new locker. LockerID is optional; a random id is
// assigned when it is zero.
type CreateRequest struct {
	LockerID       uuid.UUID     `json:"locker_id,omitempty"`
	Borrower       uuid.UUID     `json:"borrower"`
	Currency       string        `json:"currency"`
	Registry       string        `json:"registry"`
	TokenIDs       []uint64      `json:"token_ids"`
	FloorAsked     int64         `json:"floor_asked"`
	Delta          int64         `json:"delta"`
	FundingWindow  time.Duration `json:"funding_window"`
	PaymentRate    int64         `json:"payment_rate"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

func (r CreateRequest) params() locker.Params {
	collateral := make([]ledger.Asset, len(r.TokenIDs))
	for i, id := range r.TokenIDs {
		collateral[i] = ledger.Asset{Registry: r.Registry, TokenID: id}
	}
	return locker.Params{
		Borrower:      r.Borrower,
		Currency:      r.Currency,
		Collateral:    collateral,
		FloorAsked:    r.FloorAsked,
		Delta:         r.Delta,
		FundingWindow: r.FundingWindow,
		PaymentRate:   r.PaymentRate,
	}
}

// apply runs cmd against l at now.
func apply(l *locker.Locker, cmd Command, now time.Time) (*locker.Effects, error) {
	switch cmd.Op {
	case OpContribute:
		return l.Contribute(cmd.Caller, cmd.Amount, now)
	case OpPayback:
		return l.Payback(cmd.Caller, cmd.Amount, now)
	case OpDisable:
		return l.Disable(cmd.Caller, now)
	case OpEnable:
		return l.Enable(cmd.Caller, cmd.Amount, now)
	case OpIncreasePaymentRate:
		return l.IncreasePaymentRate(cmd.Caller, cmd.Amount, now)
	case OpDecreasePaymentTime:
		return l.DecreasePaymentTime(cmd.Caller, cmd.Cycle, now)
	case OpRefundDueExpired:
		return l.RefundDueExpired(cmd.Caller, cmd.Beneficiary, now)
	case OpRefundDueSingle:
		return l.RefundDueSingle(cmd.Caller, now)
	case OpRescue:
		return l.Rescue(cmd.Caller, now)
	case OpLiquidate:
		return l.Liquidate(cmd.Caller, now)
	case OpClaimInterest:
		return l.ClaimInterest(cmd.Caller, cmd.Beneficiary, now)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
}

// TypedEvent tags an event with its type name in the log payload.
type TypedEvent struct {
	Type string      `json:"type"`
	Data event.Event `json:"data"`
}

// Record is the JSON payload of an envelope: the input that produced it and
// the resulting events. Exactly one of Create or Command is set. Creates also
// carry the template in force, so replay does not depend on current config.
type Record struct {
	Create  *CreateRequest `json:"create,omitempty"`
	Policy  *locker.Policy `json:"policy,omitempty"`
	Command *Command       `json:"command,omitempty"`
	Events  []TypedEvent   `json:"events"`
}

// replayRecord decodes only the inputs; events are not needed to rebuild
// state.
type replayRecord struct {
	Create  *CreateRequest `json:"create,omitempty"`
	Policy  *locker.Policy `json:"policy,omitempty"`
	Command *Command       `json:"command,omitempty"`
}

func encodeRecord(create *CreateRequest, cmd *Command, policy *locker.Policy, events []event.Event) ([]byte, error) {
	rec := Record{Create: create, Policy: policy, Command: cmd, Events: make([]TypedEvent, len(events))}
	for i, evt := range events {
		rec.Events[i] = TypedEvent{Type: evt.EventType().String(), Data: evt}
	}
	return json.Marshal(rec)
}

func decodeRecord(payload []byte) (*replayRecord, error) {
	var rec replayRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	if (rec.Create == nil) == (rec.Command == nil) {
		return nil, fmt.Errorf("record must carry exactly one input")
	}
	return &rec, nil
}
