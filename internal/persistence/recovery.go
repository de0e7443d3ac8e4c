package persistence

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/event"
	"LockerLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayPageSize = 10_000

// Recoverable is the dispatcher surface recovery drives.
type Recoverable interface {
	Restore(snap *core.Snapshot) error
	Replay(envelopes []*event.EventEnvelope) (int, error)
	Sequence() int64
}

// Recover restores the latest verified snapshot, if any, and replays the
// event log from its sequence forward. It returns the next sequence.
func Recover(ctx context.Context, sm *SnapshotManager, d Recoverable, metrics *observability.Metrics, logger zerolog.Logger) (int64, error) {
	start := time.Now()

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		if err := d.Restore(snap); err != nil {
			return 0, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
	} else {
		logger.Info().Msg("no verified snapshot, replaying full event log")
	}

	replayed := 0
	for {
		envs, err := sm.LoadEventsFrom(ctx, d.Sequence(), replayPageSize)
		if err != nil {
			return 0, fmt.Errorf("load events from %d: %w", d.Sequence(), err)
		}
		if len(envs) == 0 {
			break
		}
		n, err := d.Replay(envs)
		replayed += n
		if err != nil {
			return 0, fmt.Errorf("replay: %w", err)
		}
		if len(envs) < replayPageSize {
			break
		}
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int("replayed", replayed).
		Int64("sequence", d.Sequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return d.Sequence(), nil
}

// Snapshotter is the dispatcher surface the snapshot worker reads.
type Snapshotter interface {
	Snapshot() *core.Snapshot
	Sequence() int64
}

// SnapshotWorker snapshots the dispatcher every interval operations. A
// snapshot is verified only once the persistence watermark covers it, so
// recovery never restores state ahead of the durable log.
type SnapshotWorker struct {
	sm        *SnapshotManager
	source    Snapshotter
	persisted func() int64
	interval  int64
	poll      time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger

	lastSeq int64
}

func NewSnapshotWorker(sm *SnapshotManager, source Snapshotter, persisted func() int64, interval int64, metrics *observability.Metrics, logger zerolog.Logger) *SnapshotWorker {
	return &SnapshotWorker{
		sm:        sm,
		source:    source,
		persisted: persisted,
		interval:  interval,
		poll:      time.Second,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   source.Sequence(),
	}
}

// Run polls until ctx is cancelled.
func (sw *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if sw.source.Sequence()-sw.lastSeq < sw.interval {
				continue
			}
			if err := sw.take(ctx, ticker.C); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				sw.logger.Warn().Err(err).Msg("snapshot failed")
			}
		}
	}
}

func (sw *SnapshotWorker) take(ctx context.Context, tick <-chan time.Time) error {
	start := time.Now()
	snap := sw.source.Snapshot()

	size, err := sw.sm.SaveSnapshot(ctx, snap, start.UTC())
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}

	// Snapshot.Sequence is the next sequence to assign.
	for sw.persisted() < snap.Sequence-1 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
	if err := sw.sm.MarkVerified(ctx, snap.Sequence); err != nil {
		return fmt.Errorf("verify snapshot %d: %w", snap.Sequence, err)
	}
	sw.lastSeq = snap.Sequence

	if sw.metrics != nil {
		sw.metrics.SnapshotTaken.Inc()
		sw.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		sw.metrics.SnapshotSizeBytes.Set(float64(size))
		sw.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	sw.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("lockers", len(snap.Lockers)).
		Int("bytes", size).
		Msg("snapshot taken")
	return nil
}
