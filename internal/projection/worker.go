package projection

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/locker"
	"LockerLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker keeps the projections schema in step with the dispatcher.
// Its channel is fed with non-blocking sends, so rows may lag or miss
// outputs; RebuildProjections restores them from live state and the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   atomic.Int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	pw := &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
	pw.lastSeq.Store(-1)
	return pw
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Eventually consistent: the next output for this locker
				// overwrites the row, and Rebuild repairs the rest.
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdDur.WithLabelValues("lockers").Observe(time.Since(start).Seconds())
				pw.metrics.QueryFreshnessLag.WithLabelValues("lockers").Observe(time.Since(output.Envelope.Timestamp).Seconds())
			}
			pw.lastSeq.Store(output.Envelope.Sequence)
		}
	}
}

// LastSequence returns the last applied sequence, -1 before the first.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq.Load()
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertLocker(ctx, tx, lockerRow(output.Locker, seq)); err != nil {
		return fmt.Errorf("locker projection: %w", err)
	}
	for _, p := range positionRows(output.Locker, seq) {
		if err := upsertPosition(ctx, tx, p); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}
	for _, tr := range transferRows(output) {
		if err := insertTransfer(ctx, tx, tr); err != nil {
			return fmt.Errorf("transfer projection: %w", err)
		}
	}
	if err := setWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// upsertLocker never moves a row backwards: a stale write is ignored.
func upsertLocker(ctx context.Context, tx *sql.Tx, r LockerRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.lockers
			(locker_id, borrower, currency, state, floor_asked, total_asked, total_collected,
			 single_provider, principal, remaining_balance, claimable_balance, total_distributed,
			 payment_rate, next_due_time, created_at, version, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		ON CONFLICT (locker_id) DO UPDATE SET
			state = EXCLUDED.state,
			total_asked = EXCLUDED.total_asked,
			total_collected = EXCLUDED.total_collected,
			single_provider = EXCLUDED.single_provider,
			principal = EXCLUDED.principal,
			remaining_balance = EXCLUDED.remaining_balance,
			claimable_balance = EXCLUDED.claimable_balance,
			total_distributed = EXCLUDED.total_distributed,
			payment_rate = EXCLUDED.payment_rate,
			next_due_time = EXCLUDED.next_due_time,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE projections.lockers.last_sequence < EXCLUDED.last_sequence
	`, r.LockerID, r.Borrower, r.Currency, r.State, r.FloorAsked, r.TotalAsked, r.TotalCollected,
		r.SingleProvider, r.Principal, r.RemainingBalance, r.ClaimableBalance, r.TotalDistributed,
		r.PaymentRate, r.NextDueTime, r.CreatedAt, r.Version, r.LastSequence)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p PositionRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(locker_id, contributor, contributed, compensated, superseded, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (locker_id, contributor) DO UPDATE SET
			contributed = EXCLUDED.contributed,
			compensated = EXCLUDED.compensated,
			superseded = EXCLUDED.superseded,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.positions.last_sequence < EXCLUDED.last_sequence
	`, p.LockerID, p.Contributor, p.Contributed, p.Compensated, p.Superseded, p.LastSequence)
	return err
}

func insertTransfer(ctx context.Context, tx *sql.Tx, tr TransferRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.transfers
			(sequence, idx, locker_id, from_account, to_account, currency, amount, journal_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sequence, idx) DO NOTHING
	`, tr.Sequence, tr.Idx, tr.LockerID, tr.FromAccount, tr.ToAccount, tr.Currency, tr.Amount, tr.JournalType, tr.Timestamp)
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET
			last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
			updated_at = NOW()
	`, workerID, seq)
	return err
}

// RebuildProjections replaces every projection table. Locker and position
// rows come from the recovered in-memory state at sequence lastSeq;
// transfers are rebuilt from the durable journal.
func RebuildProjections(ctx context.Context, db *sql.DB, lockers []locker.Snapshot, lastSeq int64, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.lockers`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.transfers`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	for _, s := range lockers {
		if err := upsertLocker(ctx, tx, lockerRow(s, lastSeq)); err != nil {
			return fmt.Errorf("rebuild locker %s: %w", s.ID, err)
		}
		for _, p := range positionRows(s, lastSeq) {
			if err := upsertPosition(ctx, tx, p); err != nil {
				return fmt.Errorf("rebuild position %s/%s: %w", s.ID, p.Contributor, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.transfers
			(sequence, idx, locker_id, from_account, to_account, currency, amount, journal_type, timestamp)
		SELECT sequence,
		       (ROW_NUMBER() OVER (PARTITION BY sequence ORDER BY journal_id) - 1)::INT,
		       locker_id, from_account, to_account, currency, amount, journal_type, timestamp
		FROM event_log.journal
	`); err != nil {
		return fmt.Errorf("rebuild transfers: %w", err)
	}

	if lastSeq >= 0 {
		if err := setWatermark(ctx, tx, lastSeq); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Int("lockers", len(lockers)).Int64("sequence", lastSeq).Msg("projection rebuild complete")
	return nil
}
