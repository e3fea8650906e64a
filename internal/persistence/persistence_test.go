package persistence_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/persistence"
	"LotteryLedger/internal/testutil"
)

// recordCommands runs a short workload and returns everything sent to the
// persist channel.
func recordCommands(t *testing.T) (*core.Engine, []core.CoreOutput) {
	t.Helper()
	out := make(chan core.CoreOutput, 64)
	c := core.NewEngine(core.Options{
		Resolver: testutil.Resolver,
		Clock:    core.NewManualClock(testutil.StartTime),
	}, out, nil, nil, nil)

	testutil.Fund(t, c, "alice", "bob")
	id := testutil.CreateLottery(t, c, "alice")
	_, err := c.PurchaseTicket(command.Meta{Caller: "bob", RequestID: "req-1"}, id, 1)
	require.NoError(t, err)

	close(out)
	var outputs []core.CoreOutput
	for o := range out {
		outputs = append(outputs, o)
	}
	return c, outputs
}

// ============================================================================
// Row mapping
// ============================================================================

func TestRowsFromOutput(t *testing.T) {
	_, outputs := recordCommands(t)
	last := outputs[len(outputs)-1]

	row, journals := persistence.RowsFromOutput(last)
	assert.Equal(t, last.Envelope.Sequence, row.Sequence)
	assert.Equal(t, "purchase_ticket", row.CommandType)
	assert.Equal(t, "req-1", row.RequestID)
	assert.Equal(t, "bob", row.Caller)
	assert.Len(t, row.StateHash, 32)

	require.Len(t, journals, 1)
	assert.Equal(t, "ticket_purchase", journals[0].JournalType)
	assert.Equal(t, "system:pool:1", journals[0].DebitAccount)
	assert.Equal(t, "bob", journals[0].CreditAccount)
	assert.Equal(t, "req-1", journals[0].EventRef)
}

func TestRowsFromOutput_NoJournals(t *testing.T) {
	_, outputs := recordCommands(t)

	// approve moves no points
	_, journals := persistence.RowsFromOutput(outputs[1])
	assert.Empty(t, journals)
}

func TestCommandRow_ReplaysFromLog(t *testing.T) {
	src, outputs := recordCommands(t)

	dst := core.NewEngine(core.Options{Resolver: testutil.Resolver}, nil, nil, nil, nil)
	for _, o := range outputs {
		row, _ := persistence.RowsFromOutput(o)
		env, err := row.Envelope()
		require.NoError(t, err)
		require.NoError(t, dst.Replay(env))
	}
	assert.Equal(t, src.GetStateHash(), dst.GetStateHash())
}

func TestCommandRow_RejectsUnknownType(t *testing.T) {
	row := persistence.CommandRow{Sequence: 1, CommandType: "draw", StateHash: make([]byte, 32), PrevHash: make([]byte, 32)}
	_, err := row.Envelope()
	assert.Error(t, err)
}

// ============================================================================
// Snapshots
// ============================================================================

func TestSnapshotEncoding_RestoresEngine(t *testing.T) {
	src, _ := recordCommands(t)

	data, err := persistence.EncodeSnapshot(src.CreateSnapshotState())
	require.NoError(t, err)
	snap, err := persistence.DecodeSnapshot(data)
	require.NoError(t, err)

	dst := core.NewEngine(core.Options{Resolver: testutil.Resolver}, nil, nil, nil, nil)
	dst.RestoreFromSnapshot(snap)

	assert.Equal(t, src.GetSequence(), dst.GetSequence())
	assert.Equal(t, src.GetStateHash(), dst.GetStateHash())
	assert.Equal(t, src.BalanceOf("bob"), dst.BalanceOf("bob"))
	assert.Len(t, dst.GetUserTickets("bob"), 1)
	require.NoError(t, dst.CheckInvariants())

	// the retried request is still recognised after restore
	_, err = dst.PurchaseTicket(command.Meta{Caller: "bob", RequestID: "req-1"}, 1, 1)
	assert.Error(t, err)
}

// ============================================================================
// Migrations
// ============================================================================

func TestPendingMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_projections.up.sql",
		"000001_event_log.up.sql",
		"000001_event_log.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}

	files, err := persistence.PendingMigrations(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_event_log.up.sql", "000002_projections.up.sql"}, files)

	files, err = persistence.PendingMigrations(dir, map[string]bool{"000001": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"000002_projections.up.sql"}, files)
}

func TestRepositoryMigrationsPaired(t *testing.T) {
	ups, err := persistence.PendingMigrations(testutil.MigrationsDir(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		_, err := os.Stat(filepath.Join(testutil.MigrationsDir(), down))
		assert.NoError(t, err, "missing %s", down)
	}
}

// ============================================================================
// Postgres (INTEGRATION_TEST=1)
// ============================================================================

func TestWorker_PersistsAndReplays(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	src, outputs := recordCommands(t)

	in := make(chan core.CoreOutput, len(outputs))
	for _, o := range outputs {
		in <- o
	}
	close(in)

	worker := persistence.NewPersistenceWorker(db, in, 4, 50*time.Millisecond, nil, zerolog.Nop())
	var flushed int64
	worker.OnFlushed(func(seq int64) { flushed = seq })
	require.NoError(t, worker.Run(context.Background()))
	assert.Equal(t, src.GetSequence(), flushed)

	ctx := context.Background()
	latest, err := worker.Writer().LatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, src.GetSequence(), latest)

	envs, err := worker.Writer().ReadCommandsAfter(ctx, 0, 1000)
	require.NoError(t, err)
	require.Len(t, envs, len(outputs))

	dst := core.NewEngine(core.Options{Resolver: testutil.Resolver}, nil, nil, nil, nil)
	for _, env := range envs {
		require.NoError(t, dst.Replay(env))
	}
	assert.Equal(t, src.GetStateHash(), dst.GetStateHash())

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("bob", "req-1")
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = checker.IsDuplicate("alice", "req-1")
	require.NoError(t, err)
	assert.False(t, dup)

	keys, err := checker.RecentKeys(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{core.CompositeKey("bob", "req-1")}, keys)
}

func TestSnapshotManager_SaveLoad(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	src, _ := recordCommands(t)
	sm := persistence.NewSnapshotManager(db, nil)
	ctx := context.Background()

	require.NoError(t, sm.SaveSnapshot(ctx, src.CreateSnapshotState(), false))
	snap, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "unverified snapshots are not loaded")

	require.NoError(t, sm.MarkVerified(ctx, src.GetSequence()))
	snap, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, src.GetSequence(), snap.Sequence)
	assert.Equal(t, src.GetStateHash(), snap.StateHash)
}
