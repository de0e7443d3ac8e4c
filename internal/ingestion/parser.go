package ingestion

import (
	"LockerLedger/internal/core"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrMalformed marks a message that can never be applied. Such messages are
// terminated rather than redelivered.
var ErrMalformed = errors.New("malformed command")

// Command kinds, one per inbound subject family.
const (
	KindCreate     = "create"
	KindContribute = "contribute"
	KindPayback    = "payback"
	KindOp         = "op"
)

// Request is a parsed inbound message. Exactly one field is set.
type Request struct {
	Create  *core.CreateRequest
	Command *core.Command
}

// Op names the dispatcher operation for metrics labels.
func (r *Request) Op() string {
	if r.Create != nil {
		return string(core.OpCreate)
	}
	return string(r.Command.Op)
}

// IdempotencyKey returns the caller key, or "" when none was given.
func (r *Request) IdempotencyKey() string {
	if r.Create != nil {
		return r.Create.IdempotencyKey
	}
	return r.Command.IdempotencyKey
}

// Parse converts a message body of the given kind into a dispatcher request.
// fallbackKey is used when the body carries no idempotency_key; NATS passes
// the message id header here.
func Parse(kind string, data []byte, fallbackKey string) (*Request, error) {
	var (
		req *Request
		err error
	)
	switch kind {
	case KindCreate:
		req, err = parseCreate(data)
	case KindContribute:
		req, err = parseTransfer(core.OpContribute, data)
	case KindPayback:
		req, err = parseTransfer(core.OpPayback, data)
	case KindOp:
		req, err = parseOp(data)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
	if err != nil {
		return nil, err
	}

	if fallbackKey != "" {
		if req.Create != nil && req.Create.IdempotencyKey == "" {
			req.Create.IdempotencyKey = fallbackKey
		}
		if req.Command != nil && req.Command.IdempotencyKey == "" {
			req.Command.IdempotencyKey = fallbackKey
		}
	}
	return req, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are whole
// minor units and may be sent as JSON numbers or decimal strings.

type createJSON struct {
	LockerID       string          `json:"locker_id,omitempty"`
	Borrower       string          `json:"borrower"`
	Currency       string          `json:"currency"`
	Registry       string          `json:"registry"`
	TokenIDs       []uint64        `json:"token_ids"`
	FloorAsked     decimal.Decimal `json:"floor_asked"`
	Delta          decimal.Decimal `json:"delta"`
	FundingWindow  string          `json:"funding_window"`
	PaymentRate    decimal.Decimal `json:"payment_rate"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func parseCreate(data []byte) (*Request, error) {
	var j createJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse create: %v", ErrMalformed, err)
	}

	req := &core.CreateRequest{
		Currency:       j.Currency,
		Registry:       j.Registry,
		TokenIDs:       j.TokenIDs,
		IdempotencyKey: j.IdempotencyKey,
	}
	var err error
	if j.LockerID != "" {
		if req.LockerID, err = parseID("locker_id", j.LockerID); err != nil {
			return nil, err
		}
	}
	if req.Borrower, err = parseID("borrower", j.Borrower); err != nil {
		return nil, err
	}
	if req.FloorAsked, err = parseAmount("floor_asked", j.FloorAsked); err != nil {
		return nil, err
	}
	if req.Delta, err = parseAmount("delta", j.Delta); err != nil {
		return nil, err
	}
	if req.PaymentRate, err = parseAmount("payment_rate", j.PaymentRate); err != nil {
		return nil, err
	}
	if req.FundingWindow, err = parseDuration("funding_window", j.FundingWindow); err != nil {
		return nil, err
	}
	if req.Currency == "" || req.Registry == "" {
		return nil, fmt.Errorf("%w: currency and registry are required", ErrMalformed)
	}
	return &Request{Create: req}, nil
}

type transferJSON struct {
	LockerID       string          `json:"locker_id"`
	Caller         string          `json:"caller"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func parseTransfer(op core.Op, data []byte) (*Request, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformed, op, err)
	}

	cmd := &core.Command{Op: op, IdempotencyKey: j.IdempotencyKey}
	var err error
	if cmd.LockerID, err = parseID("locker_id", j.LockerID); err != nil {
		return nil, err
	}
	if cmd.Caller, err = parseID("caller", j.Caller); err != nil {
		return nil, err
	}
	if cmd.Amount, err = parseAmount("amount", j.Amount); err != nil {
		return nil, err
	}
	return &Request{Command: cmd}, nil
}

type opJSON struct {
	Op             string          `json:"op"`
	LockerID       string          `json:"locker_id"`
	Caller         string          `json:"caller"`
	Beneficiary    string          `json:"beneficiary,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Cycle          string          `json:"cycle,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func parseOp(data []byte) (*Request, error) {
	var j opJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse op: %v", ErrMalformed, err)
	}
	return CommandFrom(j.Op, j.LockerID, j.Caller, j.Beneficiary, j.Amount, j.Cycle, j.IdempotencyKey)
}

// CommandFrom validates the loosely typed fields of any locker operation.
// The HTTP and gRPC surfaces share it with the NATS consumer.
func CommandFrom(opName, lockerID, caller, beneficiary string, amount decimal.Decimal, cycle, key string) (*Request, error) {
	op, ok := core.ParseOp(opName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown op %q", ErrMalformed, opName)
	}

	cmd := &core.Command{Op: op, IdempotencyKey: key}
	var err error
	if cmd.LockerID, err = parseID("locker_id", lockerID); err != nil {
		return nil, err
	}
	if cmd.Caller, err = parseID("caller", caller); err != nil {
		return nil, err
	}
	if beneficiary != "" {
		if cmd.Beneficiary, err = parseID("beneficiary", beneficiary); err != nil {
			return nil, err
		}
	}
	if cmd.Amount, err = parseAmount("amount", amount); err != nil {
		return nil, err
	}
	if cycle != "" {
		if cmd.Cycle, err = parseDuration("cycle", cycle); err != nil {
			return nil, err
		}
	}

	switch op {
	case core.OpRefundDueExpired, core.OpClaimInterest:
		if cmd.Beneficiary == uuid.Nil {
			cmd.Beneficiary = cmd.Caller
		}
	case core.OpDecreasePaymentTime:
		if cmd.Cycle == 0 {
			return nil, fmt.Errorf("%w: cycle is required for %s", ErrMalformed, op)
		}
	}
	return &Request{Command: cmd}, nil
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: parse %s: %v", ErrMalformed, field, err)
	}
	return id, nil
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// parseAmount accepts whole, non-negative minor units that fit in int64.
// Zero passes through; the locker rejects it where a positive amount is
// required.
func parseAmount(field string, d decimal.Decimal) (int64, error) {
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %s must be whole minor units, got %s", ErrMalformed, field, d)
	}
	if d.IsNegative() || d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %s out of range: %s", ErrMalformed, field, d)
	}
	return d.IntPart(), nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrMalformed, field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrMalformed, field)
	}
	return d, nil
}
