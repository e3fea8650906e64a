package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"LotteryLedger/internal/core"
	"LotteryLedger/internal/observability"
	"LotteryLedger/internal/persistence"
)

const replayBatchSize = 1000

// recoverEngine restores the latest verified snapshot, warms the request-key
// cache and replays the command log tail. Returns the number of replayed
// commands.
func recoverEngine(
	ctx context.Context,
	engine *core.Engine,
	snapMgr *persistence.SnapshotManager,
	writer *persistence.CommandLogWriter,
	dbChecker *persistence.PostgresIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (int64, error) {
	start := time.Now()

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		engine.RestoreFromSnapshot(snap)
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	keys, err := dbChecker.RecentKeys(ctx, lruCapacity)
	if err != nil {
		return 0, fmt.Errorf("load recent request keys: %w", err)
	}
	if len(keys) > 0 {
		engine.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("warmed request-key cache")
	}

	var replayed int64
	after := engine.GetSequence()
	for {
		envs, err := writer.ReadCommandsAfter(ctx, after, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("read commands after %d: %w", after, err)
		}
		if len(envs) == 0 {
			break
		}
		for _, env := range envs {
			if err := engine.Replay(env); err != nil {
				return replayed, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
			}
			replayed++
		}
		after = envs[len(envs)-1].Sequence
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return replayed, nil
}

// snapshotter takes snapshots of live state. A snapshot is saved verified
// only when the command log already covers its sequence; otherwise it is
// marked verified once the persistence worker catches up.
type snapshotter struct {
	engine    *core.Engine
	mgr       *persistence.SnapshotManager
	logger    zerolog.Logger
	persisted atomic.Int64

	mu      sync.Mutex
	pending []int64
}

func newSnapshotter(engine *core.Engine, mgr *persistence.SnapshotManager, logger zerolog.Logger) *snapshotter {
	s := &snapshotter{engine: engine, mgr: mgr, logger: logger}
	s.persisted.Store(engine.GetSequence())
	return s
}

// flushed is the persistence worker's OnFlushed hook.
func (s *snapshotter) flushed(seq int64) {
	s.persisted.Store(seq)
}

// Take saves a snapshot of the current state and returns its sequence.
func (s *snapshotter) Take(ctx context.Context) (int64, error) {
	snap := s.engine.CreateSnapshotState()
	verified := s.persisted.Load() >= snap.Sequence
	if err := s.mgr.SaveSnapshot(ctx, snap, verified); err != nil {
		return 0, err
	}
	if !verified {
		s.mu.Lock()
		s.pending = append(s.pending, snap.Sequence)
		s.mu.Unlock()
	}
	return snap.Sequence, nil
}

// verifyPending marks every pending snapshot the command log now covers.
func (s *snapshotter) verifyPending(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted := s.persisted.Load()
	remaining := s.pending[:0]
	for _, seq := range s.pending {
		if seq > persisted {
			remaining = append(remaining, seq)
			continue
		}
		if err := s.mgr.MarkVerified(ctx, seq); err != nil {
			s.logger.Warn().Err(err).Int64("sequence", seq).Msg("mark snapshot verified failed")
			remaining = append(remaining, seq)
		}
	}
	s.pending = remaining
}

// Run takes a snapshot every interval commands, checking every tick.
func (s *snapshotter) Run(ctx context.Context, interval int64, tick time.Duration) {
	if interval <= 0 {
		interval = 100_000
	}
	lastSeq := s.engine.GetSequence()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.verifyPending(ctx)
			seq := s.engine.GetSequence()
			if seq-lastSeq < interval {
				continue
			}
			if _, err := s.Take(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSeq = seq
			s.logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}
