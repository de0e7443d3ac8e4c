package persistence

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The dispatcher sends to it with a blocking send, so if this worker falls
// behind the dispatcher stalls and no committed operation is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	persisted atomic.Int64 // highest durable sequence, -1 before the first flush

	// Outputs are forwarded here once durable. Nil disables publishing.
	publishChan chan<- core.CoreOutput
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	pw := &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
	pw.persisted.Store(-1)
	return pw
}

// Persisted returns the highest sequence known to be durable.
func (pw *PersistenceWorker) Persisted() int64 {
	return pw.persisted.Load()
}

// PublishTo forwards every flushed output to ch with a non-blocking send.
func (pw *PersistenceWorker) PublishTo(ch chan<- core.CoreOutput) {
	pw.publishChan = ch
}

// SetPersisted seeds the watermark after recovery.
func (pw *PersistenceWorker) SetPersisted(seq int64) {
	pw.persisted.Store(seq)
}

type pending struct {
	events   []EventRow
	journals []JournalRow
	moves    []MoveRow
	outputs  []core.CoreOutput
}

func (p *pending) add(out core.CoreOutput) {
	ev, journals, moves := Rows(out)
	p.events = append(p.events, ev)
	p.journals = append(p.journals, journals...)
	p.moves = append(p.moves, moves...)
	p.outputs = append(p.outputs, out)
}

func (p *pending) reset() {
	p.events = p.events[:0]
	p.journals = p.journals[:0]
	p.moves = p.moves[:0]
	p.outputs = p.outputs[:0]
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pending{
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*4),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch.events) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.events) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
					}
				}
				return nil
			}
			if pw.metrics != nil {
				pw.metrics.ApplyToPersist.Observe(time.Since(output.Envelope.Timestamp).Seconds())
			}

			batch.add(output)

			if len(batch.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.events) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made without it.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pending) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch.events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Debug().Err(err).Msg("flush attempt failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pending) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch.events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := pw.writer.WriteMoveBatch(ctx, tx, batch.moves); err != nil {
		pw.countError("write_moves")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	last := batch.events[len(batch.events)-1].Sequence
	pw.persisted.Store(last)

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistLastSequence.Set(float64(last))
	}
	pw.publish(batch.outputs)
	return nil
}

// publish hands durable outputs to the outbound publisher. A full channel
// drops the output; subscribers can catch up from the event log.
func (pw *PersistenceWorker) publish(outputs []core.CoreOutput) {
	if pw.publishChan == nil {
		return
	}
	for _, out := range outputs {
		select {
		case pw.publishChan <- out:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
