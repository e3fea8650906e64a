package core

import (
	"sort"

	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/market"
	"LotteryLedger/internal/ownership"
)

// SnapshotState holds the complete serializable in-memory state.
type SnapshotState struct {
	Sequence        int64                   `json:"sequence"` // last committed
	StateHash       [32]byte                `json:"state_hash"`
	Balances        []ledger.BalanceEntry   `json:"balances"`
	Allowances      []ledger.AllowanceEntry `json:"allowances"`
	Holdings        []ownership.Holding     `json:"holdings"`
	Lotteries       lottery.State           `json:"lotteries"`
	Market          market.State            `json:"market"`
	Claimed         []ledger.AccountID      `json:"claimed"`
	IdempotencyKeys []string                `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current state.
func (c *Engine) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	balances, allowances := c.balances.Snapshot()
	claimed := make([]ledger.AccountID, 0, len(c.claimed))
	for a := range c.claimed {
		claimed = append(claimed, a)
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i] < claimed[j] })

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        balances,
		Allowances:      allowances,
		Holdings:        c.owners.Snapshot(),
		Lotteries:       c.lotteries.Snapshot(),
		Market:          c.market.Snapshot(),
		Claimed:         claimed,
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
}

// RestoreFromSnapshot replaces the engine state. Replay resumes at Sequence+1.
func (c *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.balances.Restore(snap.Balances, snap.Allowances)
	c.owners.Restore(snap.Holdings)
	c.lotteries.Restore(snap.Lotteries)
	c.market.Restore(snap.Market)
	c.claimed = make(map[ledger.AccountID]bool, len(snap.Claimed))
	for _, a := range snap.Claimed {
		c.claimed[a] = true
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// WarmLRU loads recently committed request keys so retries are caught
// without a Postgres lookup.
func (c *Engine) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}
