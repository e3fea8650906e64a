package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"LotteryLedger/internal/ledger"
	fpmath "LotteryLedger/internal/math"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// History serves read-only queries over the persisted command log, journal
// and projection tables. Responses lag the core by the persist pipeline.
type History struct {
	db *sql.DB
}

func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// JournalHistory returns journal entries touching account, newest first.
// afterSequence, when set, pages to entries strictly older than it.
func (h *History) JournalHistory(
	ctx context.Context,
	account ledger.AccountID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{string(account)}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		var amount int64
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = fpmath.FormatPoints(amount)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks the persisted hash chain and the zero-sum and
// non-negativity invariants over the balance projection.
func (h *History) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := h.db.QueryContext(ctx, `
		SELECT c1.sequence, c1.prev_hash, c2.state_hash
		FROM event_log.commands c1
		JOIN event_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash <> c2.state_hash
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expected []byte
		if err := rows.Scan(&seq, &prevHash, &expected); err != nil {
			return nil, err
		}
		if !bytes.Equal(prevHash, expected) {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := h.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM projections.balances
	`).Scan(&report.Imbalance); err != nil {
		return nil, err
	}

	negRows, err := h.db.QueryContext(ctx, `
		SELECT account FROM projections.balances
		WHERE balance < 0 AND account <> $1
		ORDER BY account
		LIMIT 10
	`, string(ledger.Issuance))
	if err != nil {
		return nil, err
	}
	defer negRows.Close()

	for negRows.Next() {
		var account string
		if err := negRows.Scan(&account); err != nil {
			return nil, err
		}
		report.NegativeAccounts = append(report.NegativeAccounts, account)
	}
	if err := negRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		report.Imbalance == 0 &&
		len(report.NegativeAccounts) == 0
	return report, nil
}

// Watermark returns the last sequence applied by the projection worker.
func (h *History) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := h.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
