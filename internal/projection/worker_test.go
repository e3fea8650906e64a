package projection_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/ledger"
	fpmath "LotteryLedger/internal/math"
	"LotteryLedger/internal/projection"
	"LotteryLedger/internal/testutil"
)

func TestBalanceDeltas_NetsPerAccount(t *testing.T) {
	batch := &ledger.Batch{Journals: []ledger.Journal{
		{DebitAccount: "bob", CreditAccount: ledger.MarketAccount, Amount: 12},
		{DebitAccount: ledger.MarketAccount, CreditAccount: "alice", Amount: 12},
		{DebitAccount: "carol", CreditAccount: "alice", Amount: 5},
	}}

	got := projection.BalanceDeltas(batch)
	assert.Equal(t, []projection.BalanceDelta{
		{Account: "alice", Delta: -17},
		{Account: "bob", Delta: 12},
		{Account: "carol", Delta: 5},
	}, got)
}

func TestProjectionWorker_TracksCore(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	out := make(chan core.CoreOutput, 64)
	clock := core.NewManualClock(testutil.StartTime)
	c := core.NewEngine(core.Options{Resolver: testutil.Resolver, Clock: clock}, nil, out, nil, nil)

	testutil.Fund(t, c, "alice", "bob")
	id := testutil.CreateLottery(t, c, "alice")
	tk, err := c.PurchaseTicket(command.Meta{Caller: "alice"}, id, 0)
	require.NoError(t, err)
	_, err = c.ListTicket(command.Meta{Caller: "alice"}, tk.TokenID, fpmath.Points(12))
	require.NoError(t, err)
	close(out)

	worker := projection.NewProjectionWorker(db, out, nil, zerolog.Nop())
	require.NoError(t, worker.Run(context.Background()))

	ctx := context.Background()
	var alice, pool int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account = 'alice'`).Scan(&alice))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT total_pool FROM projections.lotteries WHERE lottery_id = $1`, id).Scan(&pool))
	assert.Equal(t, c.BalanceOf("alice"), alice)
	assert.Equal(t, fpmath.Points(10), pool)

	var status string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT status FROM projections.listings WHERE token_id = $1`, tk.TokenID).Scan(&status))
	assert.Equal(t, "selling", status)

	var sum int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT SUM(balance) FROM projections.balances`).Scan(&sum))
	assert.Zero(t, sum)
}

func TestRebuildProjections_FromEngineState(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	out := make(chan core.CoreOutput, 64)
	clock := core.NewManualClock(testutil.StartTime)
	c := core.NewEngine(core.Options{Resolver: testutil.Resolver, Clock: clock}, nil, out, nil, nil)

	testutil.Fund(t, c, "alice", "bob")
	id := testutil.CreateLottery(t, c, "alice")
	tk, err := c.PurchaseTicket(command.Meta{Caller: "alice"}, id, 0)
	require.NoError(t, err)
	_, err = c.ListTicket(command.Meta{Caller: "alice"}, tk.TokenID, fpmath.Points(12))
	require.NoError(t, err)

	// none of these outputs reach the tables
	var dropped []core.CoreOutput
	for len(out) > 0 {
		dropped = append(dropped, <-out)
	}
	require.NotEmpty(t, dropped)

	require.NoError(t, projection.RebuildProjections(ctx, db, c, zerolog.Nop()))

	var pool, alice, watermark int64
	var status string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT total_pool FROM projections.lotteries WHERE lottery_id = $1`, id).Scan(&pool))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT status FROM projections.listings WHERE token_id = $1`, tk.TokenID).Scan(&status))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account = 'alice'`).Scan(&alice))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'`).Scan(&watermark))
	assert.Equal(t, fpmath.Points(10), pool)
	assert.Equal(t, "selling", status)
	assert.Equal(t, c.BalanceOf("alice"), alice)
	assert.Equal(t, c.GetSequence(), watermark)

	// outputs already covered by the rebuild change nothing
	worker := projection.NewProjectionWorker(db, out, nil, zerolog.Nop())
	for _, o := range dropped {
		require.NoError(t, worker.Apply(ctx, o))
	}
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT total_pool FROM projections.lotteries WHERE lottery_id = $1`, id).Scan(&pool))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account = 'alice'`).Scan(&alice))
	assert.Equal(t, fpmath.Points(10), pool)
	assert.Equal(t, c.BalanceOf("alice"), alice)

	// later outputs still apply
	_, err = c.PurchaseTicket(command.Meta{Caller: "bob"}, id, 1)
	require.NoError(t, err)
	require.NoError(t, worker.Apply(ctx, <-out))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT total_pool FROM projections.lotteries WHERE lottery_id = $1`, id).Scan(&pool))
	assert.Equal(t, fpmath.Points(20), pool)

	var bob int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account = 'bob'`).Scan(&bob))
	assert.Equal(t, c.BalanceOf("bob"), bob)
}
