package projection

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/locker"
	"time"

	"github.com/google/uuid"
)

// LockerRow is one row of projections.lockers.
type LockerRow struct {
	LockerID         uuid.UUID
	Borrower         uuid.UUID
	Currency         string
	State            string
	FloorAsked       int64
	TotalAsked       int64
	TotalCollected   int64
	SingleProvider   *uuid.UUID
	Principal        int64
	RemainingBalance int64
	ClaimableBalance int64
	TotalDistributed int64
	PaymentRate      int64
	NextDueTime      *time.Time
	CreatedAt        time.Time
	Version          int64
	LastSequence     int64
}

// PositionRow is one contributor's stake in a locker.
type PositionRow struct {
	LockerID     uuid.UUID
	Contributor  uuid.UUID
	Contributed  int64
	Compensated  int64
	Superseded   int64
	LastSequence int64
}

// TransferRow is one settled currency leg.
type TransferRow struct {
	Sequence    int64
	Idx         int
	LockerID    uuid.UUID
	FromAccount uuid.UUID
	ToAccount   uuid.UUID
	Currency    string
	Amount      int64
	JournalType string
	Timestamp   time.Time
}

func lockerRow(s locker.Snapshot, seq int64) LockerRow {
	row := LockerRow{
		LockerID:         s.ID,
		Borrower:         s.Borrower,
		Currency:         s.Currency,
		State:            s.State.String(),
		FloorAsked:       s.FloorAsked,
		TotalAsked:       s.TotalAsked,
		TotalCollected:   s.TotalCollected,
		Principal:        s.Principal,
		RemainingBalance: s.RemainingBalance,
		ClaimableBalance: s.ClaimableBalance,
		TotalDistributed: s.TotalDistributed,
		PaymentRate:      s.PaymentRate,
		CreatedAt:        s.CreatedAt,
		Version:          s.Version,
		LastSequence:     seq,
	}
	if s.SingleProvider != uuid.Nil {
		sp := s.SingleProvider
		row.SingleProvider = &sp
	}
	if !s.NextDueTime.IsZero() {
		due := s.NextDueTime
		row.NextDueTime = &due
	}
	return row
}

func positionRows(s locker.Snapshot, seq int64) []PositionRow {
	index := func(bs []locker.Balance) map[uuid.UUID]int64 {
		m := make(map[uuid.UUID]int64, len(bs))
		for _, b := range bs {
			m[b.Account] = b.Amount
		}
		return m
	}
	contributed := index(s.Contributions)
	compensated := index(s.Compensations)
	superseded := index(s.Superseded)

	rows := make([]PositionRow, 0, len(s.Order))
	for _, c := range s.Order {
		rows = append(rows, PositionRow{
			LockerID:     s.ID,
			Contributor:  c,
			Contributed:  contributed[c],
			Compensated:  compensated[c],
			Superseded:   superseded[c],
			LastSequence: seq,
		})
	}
	return rows
}

func transferRows(out core.CoreOutput) []TransferRow {
	if out.Batch == nil {
		return nil
	}
	env := out.Envelope
	rows := make([]TransferRow, 0, len(out.Batch.Journals))
	for i, j := range out.Batch.Journals {
		rows = append(rows, TransferRow{
			Sequence:    env.Sequence,
			Idx:         i,
			LockerID:    env.LockerID,
			FromAccount: j.From,
			ToAccount:   j.To,
			Currency:    j.Currency,
			Amount:      j.Amount,
			JournalType: j.JournalType.String(),
			Timestamp:   env.Timestamp,
		})
	}
	return rows
}
