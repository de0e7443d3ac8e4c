package persistence

import (
	"LockerLedger/internal/core"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventLogWriter writes envelopes, journals and asset moves to Postgres
// using multi-row INSERTs inside a caller-owned transaction.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	Op             string
	EventType      string
	IdempotencyKey string
	LockerID       uuid.UUID
	Payload        []byte // JSON-encoded record
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID   uuid.UUID
	BatchID     uuid.UUID
	Sequence    int64
	LockerID    uuid.UUID
	FromAccount uuid.UUID
	ToAccount   uuid.UUID
	Currency    string
	Amount      int64
	JournalType string
	Pull        bool
	Timestamp   time.Time
}

// MoveRow represents a row in event_log.asset_moves
type MoveRow struct {
	MoveID      uuid.UUID
	BatchID     uuid.UUID
	Sequence    int64
	LockerID    uuid.UUID
	FromAccount uuid.UUID
	ToAccount   uuid.UUID
	Registry    string
	TokenID     int64
	Timestamp   time.Time
}

// Rows flattens one dispatcher output into its event log rows.
func Rows(out core.CoreOutput) (EventRow, []JournalRow, []MoveRow) {
	env := out.Envelope
	ev := EventRow{
		Sequence:       env.Sequence,
		Op:             env.Op,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		LockerID:       env.LockerID,
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
	}
	if out.Batch == nil {
		return ev, nil, nil
	}

	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:   j.JournalID,
			BatchID:     j.BatchID,
			Sequence:    env.Sequence,
			LockerID:    env.LockerID,
			FromAccount: j.From,
			ToAccount:   j.To,
			Currency:    j.Currency,
			Amount:      j.Amount,
			JournalType: j.JournalType.String(),
			Pull:        j.Pull,
			Timestamp:   env.Timestamp,
		})
	}

	moves := make([]MoveRow, 0, len(out.Batch.Moves))
	for _, m := range out.Batch.Moves {
		moves = append(moves, MoveRow{
			MoveID:      m.MoveID,
			BatchID:     m.BatchID,
			Sequence:    env.Sequence,
			LockerID:    env.LockerID,
			FromAccount: m.From,
			ToAccount:   m.To,
			Registry:    m.Asset.Registry,
			TokenID:     int64(m.Asset.TokenID),
			Timestamp:   env.Timestamp,
		})
	}
	return ev, journals, moves
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// placeholders renders "($1, $2, ...), (...)" for rows of width columns.
func placeholders(rows, width int) string {
	values := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		cols := make([]string, width)
		for c := 0; c < width; c++ {
			cols[c] = fmt.Sprintf("$%d", i*width+c+1)
		}
		values = append(values, "("+strings.Join(cols, ", ")+")")
	}
	return strings.Join(values, ", ")
}

// WriteEventBatch writes envelopes to event_log.events. Re-delivered
// sequences are ignored.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(events)*9)
	for _, e := range events {
		args = append(args,
			e.Sequence, e.Op, e.EventType, e.IdempotencyKey, e.LockerID,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, op, event_type, idempotency_key, locker_id, payload, state_hash, prev_hash, timestamp)
		VALUES ` + placeholders(len(events), 9) + ` ON CONFLICT (sequence) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes currency legs to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(journals)*11)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.Sequence, j.LockerID,
			j.FromAccount, j.ToAccount, j.Currency, j.Amount,
			j.JournalType, j.Pull, j.Timestamp,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, sequence, locker_id, from_account, to_account, currency, amount, journal_type, pull, timestamp)
		VALUES ` + placeholders(len(journals), 11) + ` ON CONFLICT (journal_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteMoveBatch writes collateral custody transfers to event_log.asset_moves.
func (w *EventLogWriter) WriteMoveBatch(ctx context.Context, tx *sql.Tx, moves []MoveRow) error {
	if len(moves) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(moves)*9)
	for _, m := range moves {
		args = append(args,
			m.MoveID, m.BatchID, m.Sequence, m.LockerID,
			m.FromAccount, m.ToAccount, m.Registry, m.TokenID, m.Timestamp,
		)
	}

	query := `INSERT INTO event_log.asset_moves
		(move_id, batch_id, sequence, locker_id, from_account, to_account, registry, token_id, timestamp)
		VALUES ` + placeholders(len(moves), 9) + ` ON CONFLICT (move_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
