package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"LotteryLedger/internal/core"
	"LotteryLedger/internal/ledger"
)

// PostgresIdempotencyChecker looks request ids up in the command log. It is
// the second dedup tier behind the core's LRU.
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

// IsDuplicate reports whether caller already committed a command with requestID.
func (pic *PostgresIdempotencyChecker) IsDuplicate(caller, requestID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.commands
		WHERE caller = $1 AND request_id = $2
		LIMIT 1
	`, caller, requestID).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns composite keys of the newest limit requests, oldest
// first, for warming the in-memory tier after a restart.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT caller, request_id FROM (
			SELECT sequence, caller, request_id
			FROM event_log.commands
			WHERE request_id <> ''
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var caller, requestID string
		if err := rows.Scan(&caller, &requestID); err != nil {
			return nil, err
		}
		keys = append(keys, core.CompositeKey(ledger.AccountID(caller), requestID))
	}
	return keys, rows.Err()
}
