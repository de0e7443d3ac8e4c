package query

import (
	"LockerLedger/internal/locker"
	"LockerLedger/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrHistoryUnavailable is returned by the Postgres-backed queries when the
// service runs without a database.
var ErrHistoryUnavailable = errors.New("history store not configured")

const maxPageSize = 500

// Source is the live dispatcher state.
type Source interface {
	Get(id uuid.UUID) (*locker.Locker, error)
	List() []*locker.Locker
	Sequence() int64
}

// QueryService serves locker reads. Locker views come from live dispatcher
// state; positions, transfers and history come from Postgres and carry the
// projection watermark as as_of_sequence.
type QueryService struct {
	live    Source
	db      *sql.DB
	clock   func() time.Time
	metrics *observability.Metrics
}

func NewQueryService(live Source, db *sql.DB, clock func() time.Time, metrics *observability.Metrics) *QueryService {
	if clock == nil {
		clock = time.Now
	}
	return &QueryService{live: live, db: db, clock: clock, metrics: metrics}
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		qs.metrics.QueryErrors.WithLabelValues(endpoint, errorCode(err)).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrHistoryUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

// GetLocker returns the live view of one locker.
func (qs *QueryService) GetLocker(ctx context.Context, id uuid.UUID) (view *LockerView, err error) {
	defer func(start time.Time) { qs.observe("get_locker", start, err) }(time.Now())

	l, err := qs.live.Get(id)
	if err != nil {
		return nil, err
	}
	return NewLockerView(l, qs.clock().UTC(), qs.live.Sequence()-1), nil
}

// ListLockers returns live lockers in creation order.
func (qs *QueryService) ListLockers(ctx context.Context, f ListFilter) (out []LockerSummary, err error) {
	defer func(start time.Time) { qs.observe("list_lockers", start, err) }(time.Now())

	out = make([]LockerSummary, 0)
	for _, l := range qs.live.List() {
		if f.State != "" && l.State.String() != f.State {
			continue
		}
		if f.Borrower != uuid.Nil && l.Borrower != f.Borrower {
			continue
		}
		if f.Currency != "" && l.Currency != f.Currency {
			continue
		}
		out = append(out, LockerSummary{
			ID:             l.ID,
			Borrower:       l.Borrower,
			Currency:       l.Currency,
			State:          l.State.String(),
			TotalAsked:     l.TotalAsked,
			TotalCollected: l.TotalCollected,
			CreatedAt:      l.CreatedAt,
		})
	}
	return out, nil
}

// NewLockerView derives the client view of l at now.
func NewLockerView(l *locker.Locker, now time.Time, asOf int64) *LockerView {
	v := &LockerView{
		ID:                l.ID,
		Borrower:          l.Borrower,
		Currency:          l.Currency,
		State:             l.State.String(),
		Collateral:        make([]string, len(l.Collateral)),
		FloorAsked:        l.FloorAsked,
		TotalAsked:        l.TotalAsked,
		TotalCollected:    l.TotalCollected,
		SingleProvider:    optionalID(l.SingleProvider),
		CreatedAt:         l.CreatedAt,
		FundingDeadline:   l.CreatedAt.Add(l.FundingWindow),
		FundingExpired:    l.IsFundingExpired(now),
		Rescuable:         l.IsRescuable(now),
		BelowFloor:        l.BelowFloorAsked(),
		PaymentRate:       l.PaymentRate,
		PaymentCycle:      l.PaymentCycle.String(),
		Principal:         l.Principal,
		PenaltyBalance:    l.PenaltyBalance,
		RemainingBalance:  l.RemainingBalance,
		ClaimableBalance:  l.ClaimableBalance,
		TotalDistributed:  l.TotalDistributed,
		InterestCollected: l.InterestCollected,
		LiquidatedTo:      optionalID(l.LiquidatedTo),
		Policy:            newPolicyView(l.Policy),
		Version:           l.Version,
		AsOfSequence:      asOf,
	}
	for i, a := range l.Collateral {
		v.Collateral[i] = a.String()
	}

	if l.State == locker.StateActive {
		v.Overdue = l.IsOverdue(now)
		v.Payoff = l.Payoff(now)
	}
	if !l.NextDueTime.IsZero() {
		due := l.NextDueTime
		v.NextDueTime = &due
	}
	if l.Principal > 0 {
		v.RateOfPrincipal = ratio(l.PaymentRate, l.Principal)
	}

	contributors := l.Contributors()
	v.Contributors = make([]ContributorView, 0, len(contributors))
	for _, c := range contributors {
		cv := ContributorView{
			Account:      c,
			Contribution: l.Contribution(c),
			Compensation: l.Compensation(c),
			Superseded:   l.Superseded(c),
			Share:        "0",
		}
		if l.TotalCollected > 0 {
			cv.Share = ratio(cv.Contribution, l.TotalCollected)
		}
		if l.State != locker.StateFunding && l.State != locker.StateCancelled {
			cv.Claimable = l.Claimable(c)
		}
		v.Contributors = append(v.Contributors, cv)
	}
	return v
}

func newPolicyView(p locker.Policy) PolicyView {
	return PolicyView{
		GracePeriod:     p.GracePeriod.String(),
		LateTolerance:   p.LateTolerance.String(),
		PenaltyRate:     bps(p.PenaltyRateBps),
		MaxRatePerCycle: bps(p.MaxRatePerCycleBps),
		Takeover:        p.Takeover.String(),
		Liquidation:     p.Liquidation.String(),
		Treasury:        optionalID(p.Treasury),
	}
}

// bps renders basis points as a decimal fraction: 1250 -> "0.125".
func bps(v int64) string {
	return decimal.New(v, -4).String()
}

// ratio renders num/den rounded to six places.
func ratio(num, den int64) string {
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), 6).String()
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// GetHistory returns the committed operations on a locker, newest first.
// beforeSequence, when set, pages backwards from that sequence.
func (qs *QueryService) GetHistory(ctx context.Context, lockerID uuid.UUID, limit int, beforeSequence *int64) (entries []HistoryEntry, err error) {
	defer func(start time.Time) { qs.observe("history", start, err) }(time.Now())
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}

	query := `
		SELECT sequence, op, event_type, idempotency_key, timestamp, payload
		FROM event_log.events
		WHERE locker_id = $1
	`
	args := []interface{}{lockerID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries = make([]HistoryEntry, 0)
	for rows.Next() {
		var h HistoryEntry
		var payload []byte
		if err := rows.Scan(&h.Sequence, &h.Op, &h.EventType, &h.IdempotencyKey, &h.Timestamp, &payload); err != nil {
			return nil, err
		}
		h.Timestamp = h.Timestamp.UTC()
		h.Record = payload
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// GetPositions returns a contributor's projected stakes across lockers.
func (qs *QueryService) GetPositions(ctx context.Context, contributor uuid.UUID) (positions []PositionResponse, err error) {
	defer func(start time.Time) { qs.observe("positions", start, err) }(time.Now())
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.locker_id, l.currency, l.state, p.contributed, p.compensated, p.superseded
		FROM projections.positions p
		JOIN projections.lockers l ON l.locker_id = p.locker_id
		WHERE p.contributor = $1
		ORDER BY l.created_at, p.locker_id
	`, contributor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions = make([]PositionResponse, 0)
	for rows.Next() {
		p := PositionResponse{Contributor: contributor, AsOfSequence: asOfSeq}
		if err := rows.Scan(&p.LockerID, &p.Currency, &p.State, &p.Contributed, &p.Compensated, &p.Superseded); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetTransfers returns settled legs into or out of account, newest first.
func (qs *QueryService) GetTransfers(ctx context.Context, account uuid.UUID, limit int, beforeSequence *int64) (entries []TransferEntry, err error) {
	defer func(start time.Time) { qs.observe("transfers", start, err) }(time.Now())
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}

	query := `
		SELECT sequence, locker_id, from_account, to_account, currency, amount, journal_type, timestamp
		FROM projections.transfers
		WHERE (from_account = $1 OR to_account = $1)
	`
	args := []interface{}{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, idx"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries = make([]TransferEntry, 0)
	for rows.Next() {
		var e TransferEntry
		if err := rows.Scan(&e.Sequence, &e.LockerID, &e.From, &e.To, &e.Currency, &e.Amount, &e.JournalType, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the persisted hash chain, sequence continuity and
// per-locker custody conservation in the journal.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("verify_integrity", start, err) }(time.Now())
	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}
	report = &IntegrityReport{}

	report.HashChainBreaks, err = qs.int64Column(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}

	report.SequenceGaps, err = qs.int64Column(ctx, `
		SELECT sequence FROM (
			SELECT sequence, LAG(sequence) OVER (ORDER BY sequence) AS prev
			FROM event_log.events
		) s
		WHERE prev IS NOT NULL AND sequence <> prev + 1
		ORDER BY sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("sequence gaps: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT locker_id, currency,
		       SUM(CASE WHEN to_account = locker_id THEN amount ELSE 0 END) -
		       SUM(CASE WHEN from_account = locker_id THEN amount ELSE 0 END) AS net
		FROM event_log.journal
		GROUP BY locker_id, currency
		HAVING SUM(CASE WHEN to_account = locker_id THEN amount ELSE 0 END) <
		       SUM(CASE WHEN from_account = locker_id THEN amount ELSE 0 END)
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d CustodyDelta
		if err := rows.Scan(&d.LockerID, &d.Currency, &d.Net); err != nil {
			return nil, err
		}
		report.CustodyDeficits = append(report.CustodyDeficits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.CustodyDeficits) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) int64Column(ctx context.Context, query string) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
