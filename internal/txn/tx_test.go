package txn_test

import (
	"testing"

	"LotteryLedger/internal/txn"
)

func TestRollback_ReversesInOrder(t *testing.T) {
	state := []int{}
	tx := txn.Begin()

	state = append(state, 1)
	tx.OnRollback(func() { state = state[:len(state)-1] })
	state = append(state, 2)
	tx.OnRollback(func() { state = state[:len(state)-1] })

	tx.Rollback()
	if len(state) != 0 {
		t.Fatalf("expected empty state after rollback, got %v", state)
	}
}

func TestCommit_MakesRollbackNoop(t *testing.T) {
	counter := 10
	tx := txn.Begin()
	counter++
	tx.OnRollback(func() { counter-- })
	tx.Commit()
	tx.Rollback()

	if counter != 11 {
		t.Errorf("counter = %d, want 11", counter)
	}
}

func TestOnRollbackAfterCommit_Panics(t *testing.T) {
	tx := txn.Begin()
	tx.Commit()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	tx.OnRollback(func() {})
}
