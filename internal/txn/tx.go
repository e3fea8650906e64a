// Package txn provides the undo log that makes every core command all-or-nothing.
// Stores register an inverse operation for each mutation; Rollback replays them
// newest-first. Not thread-safe; the core serializes commands.
package txn

// Tx collects undo operations for a single command.
type Tx struct {
	undo []func()
	done bool
}

// Begin opens a new transaction.
func Begin() *Tx {
	return &Tx{undo: make([]func(), 0, 8)}
}

// OnRollback registers fn to run if the transaction is rolled back.
func (tx *Tx) OnRollback(fn func()) {
	if tx.done {
		panic("txn: OnRollback after Commit/Rollback")
	}
	tx.undo = append(tx.undo, fn)
}

// Rollback reverts every recorded mutation in reverse order. Safe to call after Commit (no-op).
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.done = true
}

// Commit discards the undo log.
func (tx *Tx) Commit() {
	tx.undo = nil
	tx.done = true
}

// Len returns the number of recorded mutations.
func (tx *Tx) Len() int {
	return len(tx.undo)
}
