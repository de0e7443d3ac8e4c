package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LockerView is the live state of one locker, with the derived values a
// client needs to decide its next call.
type LockerView struct {
	ID             uuid.UUID  `json:"id"`
	Borrower       uuid.UUID  `json:"borrower"`
	Currency       string     `json:"currency"`
	State          string     `json:"state"`
	Collateral     []string   `json:"collateral"`
	FloorAsked     int64      `json:"floor_asked"`
	TotalAsked     int64      `json:"total_asked"`
	TotalCollected int64      `json:"total_collected"`
	SingleProvider *uuid.UUID `json:"single_provider,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	FundingDeadline time.Time `json:"funding_deadline"`
	FundingExpired  bool      `json:"funding_expired"`
	Rescuable       bool      `json:"rescuable"`
	BelowFloor      bool      `json:"below_floor"`

	PaymentRate      int64      `json:"payment_rate"`
	PaymentCycle     string     `json:"payment_cycle"`
	RateOfPrincipal  string     `json:"rate_of_principal,omitempty"` // PaymentRate / Principal
	Principal        int64      `json:"principal"`
	PenaltyBalance   int64      `json:"penalty_balance"`
	RemainingBalance int64      `json:"remaining_balance"`
	NextDueTime      *time.Time `json:"next_due_time,omitempty"`
	Overdue          bool       `json:"overdue"`
	Payoff           int64      `json:"payoff"` // Zero unless Active

	ClaimableBalance  int64      `json:"claimable_balance"`
	TotalDistributed  int64      `json:"total_distributed"`
	InterestCollected int64      `json:"interest_collected"`
	LiquidatedTo      *uuid.UUID `json:"liquidated_to,omitempty"`

	Policy       PolicyView        `json:"policy"`
	Contributors []ContributorView `json:"contributors"`

	Version      int64 `json:"version"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// PolicyView renders the template rates as decimal fractions.
type PolicyView struct {
	GracePeriod     string     `json:"grace_period"`
	LateTolerance   string     `json:"late_tolerance"`
	PenaltyRate     string     `json:"penalty_rate"`
	MaxRatePerCycle string     `json:"max_rate_per_cycle"`
	Takeover        string     `json:"takeover"`
	Liquidation     string     `json:"liquidation"`
	Treasury        *uuid.UUID `json:"treasury,omitempty"`
}

// ContributorView is one funder's stake and what it can claim now.
type ContributorView struct {
	Account      uuid.UUID `json:"account"`
	Contribution int64     `json:"contribution"`
	Share        string    `json:"share"` // Contribution / TotalCollected
	Compensation int64     `json:"compensation"`
	Superseded   int64     `json:"superseded"`
	Claimable    int64     `json:"claimable"`
}

// LockerSummary is the compact list form.
type LockerSummary struct {
	ID             uuid.UUID `json:"id"`
	Borrower       uuid.UUID `json:"borrower"`
	Currency       string    `json:"currency"`
	State          string    `json:"state"`
	TotalAsked     int64     `json:"total_asked"`
	TotalCollected int64     `json:"total_collected"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListFilter narrows ListLockers. Zero fields match everything.
type ListFilter struct {
	State    string
	Borrower uuid.UUID
	Currency string
}

// HistoryEntry is one committed operation on a locker, from the event log.
type HistoryEntry struct {
	Sequence       int64           `json:"sequence"`
	Op             string          `json:"op"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Record         json.RawMessage `json:"record"`
}

// PositionResponse is a contributor's projected stake in one locker.
type PositionResponse struct {
	LockerID     uuid.UUID `json:"locker_id"`
	Contributor  uuid.UUID `json:"contributor"`
	Currency     string    `json:"currency"`
	State        string    `json:"state"`
	Contributed  int64     `json:"contributed"`
	Compensated  int64     `json:"compensated"`
	Superseded   int64     `json:"superseded"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// TransferEntry is one settled currency leg touching an account.
type TransferEntry struct {
	Sequence    int64     `json:"sequence"`
	LockerID    uuid.UUID `json:"locker_id"`
	From        uuid.UUID `json:"from"`
	To          uuid.UUID `json:"to"`
	Currency    string    `json:"currency"`
	Amount      int64     `json:"amount"`
	JournalType string    `json:"journal_type"`
	Timestamp   time.Time `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool           `json:"is_healthy"`
	HashChainBreaks []int64        `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64        `json:"sequence_gaps,omitempty"`
	CustodyDeficits []CustodyDelta `json:"custody_deficits,omitempty"`
}

// CustodyDelta is a locker whose journal outflows exceed its inflows.
type CustodyDelta struct {
	LockerID uuid.UUID `json:"locker_id"`
	Currency string    `json:"currency"`
	Net      int64     `json:"net"`
}
