package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresIdempotencyChecker is the second deduplication tier: it finds
// commands whose keys have aged out of the in-memory LRU.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// LookupKey reports the locker a committed (op, key) pair touched.
func (pic *PostgresIdempotencyChecker) LookupKey(ctx context.Context, op, idempotencyKey string) (uuid.UUID, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var lockerID uuid.UUID
	err := pic.db.QueryRowContext(ctx, `
		SELECT locker_id
		FROM event_log.events
		WHERE op = $1 AND idempotency_key = $2
		LIMIT 1
	`, op, idempotencyKey).Scan(&lockerID)

	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return lockerID, true, nil
}
