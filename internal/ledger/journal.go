package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Asset identifies one indivisible collateral item.
type Asset struct {
	Registry string `json:"registry"`
	TokenID  uint64 `json:"token_id"`
}

func (a Asset) String() string {
	return fmt.Sprintf("%s/%d", a.Registry, a.TokenID)
}

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeContribution JournalType = iota
	JournalTypeTakeoverRefund
	JournalTypeExpiredRefund
	JournalTypeSingleRefund
	JournalTypeDisbursement
	JournalTypePayback
	JournalTypeInterestClaim
	JournalTypeCompensation
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeContribution:
		return "contribution"
	case JournalTypeTakeoverRefund:
		return "takeover_refund"
	case JournalTypeExpiredRefund:
		return "expired_refund"
	case JournalTypeSingleRefund:
		return "single_refund"
	case JournalTypeDisbursement:
		return "disbursement"
	case JournalTypePayback:
		return "payback"
	case JournalTypeInterestClaim:
		return "interest_claim"
	case JournalTypeCompensation:
		return "compensation"
	default:
		return "unknown"
	}
}

// Journal is one currency leg. Pull legs are executed with TransferFrom on
// behalf of From; push legs are paid out of custody with Transfer.
type Journal struct {
	JournalID   uuid.UUID   `json:"journal_id"`
	BatchID     uuid.UUID   `json:"batch_id"`
	From        uuid.UUID   `json:"from"`
	To          uuid.UUID   `json:"to"`
	Currency    string      `json:"currency"`
	Amount      int64       `json:"amount"` // Zero is allowed for no-op refunds
	JournalType JournalType `json:"journal_type"`
	Pull        bool        `json:"pull"`
}

// AssetMove is one custody transfer of a collateral item.
type AssetMove struct {
	MoveID  uuid.UUID `json:"move_id"`
	BatchID uuid.UUID `json:"batch_id"`
	From    uuid.UUID `json:"from"`
	To      uuid.UUID `json:"to"`
	Asset   Asset     `json:"asset"`
}

// Batch is the full set of external effects of one operation. It is settled
// all-or-nothing.
type Batch struct {
	BatchID   uuid.UUID   `json:"batch_id"`
	EventRef  string      `json:"event_ref"`
	Sequence  int64       `json:"sequence"`
	Timestamp int64       `json:"timestamp"` // epoch microseconds
	Journals  []Journal   `json:"journals"`
	Moves     []AssetMove `json:"moves"`
}

func NewBatch() *Batch {
	return &Batch{BatchID: uuid.New()}
}

// Pull appends a leg that draws amount from an external account.
func (b *Batch) Pull(from, to uuid.UUID, currency string, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:   uuid.New(),
		BatchID:     b.BatchID,
		From:        from,
		To:          to,
		Currency:    currency,
		Amount:      amount,
		JournalType: jt,
		Pull:        true,
	})
}

// Push appends a leg paid out of custody.
func (b *Batch) Push(from, to uuid.UUID, currency string, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:   uuid.New(),
		BatchID:     b.BatchID,
		From:        from,
		To:          to,
		Currency:    currency,
		Amount:      amount,
		JournalType: jt,
	})
}

// MoveAsset appends a custody transfer.
func (b *Batch) MoveAsset(from, to uuid.UUID, asset Asset) {
	b.Moves = append(b.Moves, AssetMove{
		MoveID:  uuid.New(),
		BatchID: b.BatchID,
		From:    from,
		To:      to,
		Asset:   asset,
	})
}

func (b *Batch) IsEmpty() bool {
	return b == nil || (len(b.Journals) == 0 && len(b.Moves) == 0)
}

// Volume sums journal amounts by type.
func (b *Batch) Volume() map[JournalType]int64 {
	out := make(map[JournalType]int64)
	for _, j := range b.Journals {
		out[j.JournalType] += j.Amount
	}
	return out
}

// Validate ensures the batch is well-formed.
// Each leg is a single transfer between two accounts, so every entry is
// balanced by construction.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount < 0 {
			return fmt.Errorf("journal %s has negative amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.From == j.To {
			return fmt.Errorf("journal %s has same source and destination", j.JournalID)
		}
		if j.Currency == "" {
			return fmt.Errorf("journal %s has no currency", j.JournalID)
		}
	}

	for _, m := range b.Moves {
		if m.BatchID != b.BatchID {
			return fmt.Errorf("move %s has mismatched batch_id", m.MoveID)
		}
		if m.From == m.To {
			return fmt.Errorf("move %s has same source and destination", m.MoveID)
		}
	}

	return nil
}
