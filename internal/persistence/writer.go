package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/ledger"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CommandLogWriter writes committed commands and their journals to Postgres
// using multi-row INSERTs. Writes are idempotent on sequence / journal_id so a
// retried batch never duplicates rows.
type CommandLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in event_log.commands
type CommandRow struct {
	Sequence    int64
	RequestID   string
	Caller      string
	CommandType string
	Payload     []byte // JSON-encoded command
	Timestamp   int64
	StateHash   []byte
	PrevHash    []byte
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
	Timestamp     int64
}

func NewCommandLogWriter(db *sql.DB) *CommandLogWriter {
	return &CommandLogWriter{db: db}
}

// RowsFromOutput flattens one core output into its log rows.
func RowsFromOutput(out core.CoreOutput) (CommandRow, []JournalRow) {
	env := out.Envelope
	row := CommandRow{
		Sequence:    env.Sequence,
		RequestID:   env.RequestID,
		Caller:      string(env.Caller),
		CommandType: env.Type.String(),
		Payload:     env.Payload,
		Timestamp:   env.Timestamp,
		StateHash:   env.StateHash[:],
		PrevHash:    env.PrevHash[:],
	}
	if out.Batch == nil {
		return row, nil
	}

	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  string(j.DebitAccount),
			CreditAccount: string(j.CreditAccount),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return row, journals
}

// WriteCommandBatch writes a batch of commands to event_log.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, ex execer, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.commands
		(sequence, request_id, caller, command_type, payload, timestamp, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*8)

	for i, c := range commands {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			c.Sequence, c.RequestID, c.Caller, c.CommandType,
			string(c.Payload), c.Timestamp, c.StateHash, c.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	// any unique index, including (caller, request_id)
	query += " ON CONFLICT DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *CommandLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*9)

	for i, j := range journals {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// ReadCommandsAfter loads up to limit logged commands with sequence > after,
// in order, for replay.
func (w *CommandLogWriter) ReadCommandsAfter(ctx context.Context, after int64, limit int) ([]*command.Envelope, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, request_id, caller, command_type, payload,
		       timestamp, state_hash, prev_hash
		FROM event_log.commands
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []*command.Envelope
	for rows.Next() {
		var r CommandRow
		if err := rows.Scan(
			&r.Sequence, &r.RequestID, &r.Caller, &r.CommandType, &r.Payload,
			&r.Timestamp, &r.StateHash, &r.PrevHash,
		); err != nil {
			return nil, err
		}
		env, err := r.Envelope()
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}

	return envs, rows.Err()
}

// LatestSequence returns the highest logged sequence, 0 for an empty log.
func (w *CommandLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.commands
	`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Envelope rebuilds the core envelope from a logged row.
func (r CommandRow) Envelope() (*command.Envelope, error) {
	t, ok := command.ParseType(r.CommandType)
	if !ok {
		return nil, fmt.Errorf("seq %d: unknown command type %q", r.Sequence, r.CommandType)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("seq %d: malformed hash", r.Sequence)
	}
	env := &command.Envelope{
		Sequence:  r.Sequence,
		RequestID: r.RequestID,
		Type:      t,
		Caller:    ledger.AccountID(r.Caller),
		Timestamp: r.Timestamp,
		Payload:   r.Payload,
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}
