// Package projection maintains the Postgres read tables (balances, lotteries,
// listings) from committed core outputs. Projections are eventually
// consistent and can be rebuilt from live engine state. Every row carries the
// sequence it reflects and ignores outputs at or below it.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/market"
	"LotteryLedger/internal/observability"
)

const workerID = "main"

// ProjectionWorker updates projection tables from committed outputs. The
// core feeds it through a non-blocking channel, so outputs may be dropped
// under load; RebuildProjections restores every table.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger.With().Str("worker", "projection").Logger(),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := out.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if pw.lastSeq > 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap")
			}

			if err := pw.Apply(ctx, out); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
			}
			pw.lastSeq = seq
		}
	}
}

// Apply writes one output's effects and advances the watermark in a single
// transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out core.CoreOutput) error {
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if out.Batch != nil {
		start := time.Now()
		if err := updateBalances(ctx, tx, BalanceDeltas(out.Batch), seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
		pw.observe("balances", start)
	}

	if res := out.Result; res != nil {
		start := time.Now()
		if err := pw.updateMarket(ctx, tx, out.Envelope, res, seq); err != nil {
			return err
		}
		pw.observe("market", start)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
		WHERE projections.watermark.last_sequence < $2
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateMarket(ctx context.Context, tx *sql.Tx, env *command.Envelope, res *core.Result, seq int64) error {
	if res.Lottery != nil {
		if err := upsertLottery(ctx, tx, res.Lottery, seq); err != nil {
			return fmt.Errorf("lottery projection: %w", err)
		}
		// resolve and refund withdraw every open listing of the lottery
		if env.Type == command.TypeResolve || env.Type == command.TypeRefund {
			if _, err := tx.ExecContext(ctx, `
				UPDATE projections.listings SET status = $1, last_sequence = $2
				WHERE lottery_id = $3 AND status = $4 AND last_sequence < $2
			`, market.ListingCancelled.String(), seq, res.Lottery.ID, market.ListingSelling.String()); err != nil {
				return fmt.Errorf("listing projection: %w", err)
			}
		}
	}
	if res.Ticket != nil && env.Type == command.TypePurchaseTicket {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.lotteries SET total_pool = total_pool + $1, last_sequence = $2
			WHERE lottery_id = $3 AND last_sequence < $2
		`, res.Ticket.Amount, seq, res.Ticket.LotteryID); err != nil {
			return fmt.Errorf("lottery pool projection: %w", err)
		}
	}
	if res.Listing != nil {
		if err := upsertListing(ctx, tx, res.Listing, seq); err != nil {
			return fmt.Errorf("listing projection: %w", err)
		}
	}
	return nil
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

// BalanceDelta is the net change of one account within a batch.
type BalanceDelta struct {
	Account ledger.AccountID
	Delta   int64
}

// BalanceDeltas nets a journal batch per account, sorted by account. Debit
// accounts gain, credit accounts lose. Accounts that net to zero are omitted.
func BalanceDeltas(batch *ledger.Batch) []BalanceDelta {
	net := make(map[ledger.AccountID]int64)
	for _, j := range batch.Journals {
		net[j.DebitAccount] += j.Amount
		net[j.CreditAccount] -= j.Amount
	}

	deltas := make([]BalanceDelta, 0, len(net))
	for a, d := range net {
		if d != 0 {
			deltas = append(deltas, BalanceDelta{Account: a, Delta: d})
		}
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Account < deltas[j].Account })
	return deltas
}

func updateBalances(ctx context.Context, tx *sql.Tx, deltas []BalanceDelta, seq int64) error {
	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account, balance, last_sequence)
			VALUES ($1, $2, $3)
			ON CONFLICT (account)
			DO UPDATE SET balance = projections.balances.balance + $2, last_sequence = $3
			WHERE projections.balances.last_sequence < $3
		`, string(d.Account), d.Delta, seq); err != nil {
			return err
		}
	}
	return nil
}

func upsertLottery(ctx context.Context, tx execer, l *lottery.Lottery, seq int64) error {
	var winning sql.NullInt32
	if l.Status == lottery.StatusDrawn {
		winning = sql.NullInt32{Int32: int32(l.WinningOption), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.lotteries
			(lottery_id, name, status, winning_option, total_pool, settled, end_time, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (lottery_id) DO UPDATE SET
			status = $3, winning_option = $4, total_pool = $5, settled = $6, last_sequence = $8
		WHERE projections.lotteries.last_sequence < $8
	`, l.ID, l.Name, l.Status.String(), winning, l.TotalPool, l.Settled, l.EndTime, seq)
	return err
}

func upsertListing(ctx context.Context, tx execer, l *market.Listing, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.listings
			(listing_id, token_id, lottery_id, option_id, seller, price, status, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (listing_id) DO UPDATE SET status = $7, last_sequence = $8
		WHERE projections.listings.last_sequence < $8
	`, l.ID, l.TokenID, l.LotteryID, l.OptionID, string(l.Seller), l.Price, l.Status.String(), seq)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StateSource supplies the live state projections are rebuilt from.
// Satisfied by *core.Engine.
type StateSource interface {
	ProjectionState() core.ProjectionState
}

// RebuildProjections replaces every projection table with the source's
// current state and moves the watermark to its sequence. Outputs the worker
// receives afterwards for earlier sequences are ignored row by row.
func RebuildProjections(ctx context.Context, db *sql.DB, src StateSource, logger zerolog.Logger) error {
	st := src.ProjectionState()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`TRUNCATE projections.balances, projections.lotteries, projections.listings`); err != nil {
		return fmt.Errorf("truncate projections: %w", err)
	}

	for _, b := range st.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account, balance, last_sequence)
			VALUES ($1, $2, $3)
		`, string(b.Account), b.Balance, st.Sequence); err != nil {
			return fmt.Errorf("rebuild balances: %w", err)
		}
	}
	for i := range st.Lotteries {
		if err := upsertLottery(ctx, tx, &st.Lotteries[i], st.Sequence); err != nil {
			return fmt.Errorf("rebuild lotteries: %w", err)
		}
	}
	for i := range st.Listings {
		if err := upsertListing(ctx, tx, &st.Listings[i], st.Sequence); err != nil {
			return fmt.Errorf("rebuild listings: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, workerID, st.Sequence); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().
		Int64("sequence", st.Sequence).
		Int("balances", len(st.Balances)).
		Int("lotteries", len(st.Lotteries)).
		Int("listings", len(st.Listings)).
		Msg("projection rebuild complete")
	return nil
}
