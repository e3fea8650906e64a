package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"LotteryLedger/internal/errs"
	fpmath "LotteryLedger/internal/math"
	"LotteryLedger/internal/txn"
)

type allowanceKey struct {
	Owner   AccountID
	Spender AccountID
}

// BalanceTracker maintains in-memory point balances and spending allowances.
// Every mutation registers its inverse on the supplied txn.Tx and records a
// pending journal entry; TakeBatch drains the entries once the command commits.
type BalanceTracker struct {
	balances   map[AccountID]int64
	allowances map[allowanceKey]int64
	pending    []Journal
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances:   make(map[AccountID]int64),
		allowances: make(map[allowanceKey]int64),
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(account AccountID) int64 {
	return bt.balances[account]
}

// Allowance returns how much spender may still move out of owner's balance.
func (bt *BalanceTracker) Allowance(owner, spender AccountID) int64 {
	return bt.allowances[allowanceKey{Owner: owner, Spender: spender}]
}

// Approve sets (not adds to) the allowance of spender over owner's balance.
func (bt *BalanceTracker) Approve(tx *txn.Tx, owner, spender AccountID, amount int64) error {
	if amount < 0 {
		return errs.Wrap(errs.ErrInvalidArgument, "negative allowance: %d", amount)
	}
	if owner == "" || spender == "" {
		return errs.Wrap(errs.ErrInvalidArgument, "empty owner or spender")
	}
	bt.setAllowance(tx, allowanceKey{Owner: owner, Spender: spender}, amount)
	return nil
}

// Transfer moves amount from one account to another.
func (bt *BalanceTracker) Transfer(tx *txn.Tx, from, to AccountID, amount int64) error {
	return bt.Move(tx, from, to, amount, JournalTypeTransfer)
}

// Spend moves amount from owner to recipient on behalf of spender, consuming
// allowance. Allowance is checked before balance.
func (bt *BalanceTracker) Spend(tx *txn.Tx, owner, spender, to AccountID, amount int64, jt JournalType) error {
	if amount < 0 {
		return errs.Wrap(errs.ErrInvalidArgument, "negative amount: %d", amount)
	}
	key := allowanceKey{Owner: owner, Spender: spender}
	allowed := bt.allowances[key]
	if allowed < amount {
		return errs.Wrap(errs.ErrInsufficientAllowance, "have=%d need=%d", allowed, amount)
	}
	if err := bt.Move(tx, owner, to, amount, jt); err != nil {
		return err
	}
	if amount > 0 {
		bt.setAllowance(tx, key, allowed-amount)
	}
	return nil
}

// Issue creates new points for an account out of the issuance account.
func (bt *BalanceTracker) Issue(tx *txn.Tx, to AccountID, amount int64) error {
	return bt.Move(tx, Issuance, to, amount, JournalTypeIssue)
}

// Move is the single balance mutation primitive. Zero amounts are a no-op and
// produce no journal entry.
func (bt *BalanceTracker) Move(tx *txn.Tx, from, to AccountID, amount int64, jt JournalType) error {
	if amount < 0 {
		return errs.Wrap(errs.ErrInvalidArgument, "negative amount: %d", amount)
	}
	if from == "" || to == "" {
		return errs.Wrap(errs.ErrInvalidArgument, "empty account")
	}
	if amount == 0 || from == to {
		return nil
	}

	fromBal := bt.balances[from]
	newFrom, err := fpmath.CheckedSub(fromBal, amount)
	if err != nil {
		return errs.Wrap(errs.ErrOverflow, "debit %s", from)
	}
	if newFrom < 0 && from != Issuance {
		return errs.Wrap(errs.ErrInsufficientBalance, "have=%d need=%d", fromBal, amount)
	}

	toBal := bt.balances[to]
	newTo, err := fpmath.CheckedAdd(toBal, amount)
	if err != nil {
		return errs.Wrap(errs.ErrOverflow, "credit %s", to)
	}

	bt.balances[from] = newFrom
	bt.balances[to] = newTo
	n := len(bt.pending)
	bt.pending = append(bt.pending, Journal{
		JournalID:     uuid.New(),
		DebitAccount:  to,
		CreditAccount: from,
		Amount:        amount,
		JournalType:   jt,
	})

	tx.OnRollback(func() {
		bt.balances[from] = fromBal
		bt.balances[to] = toBal
		bt.pending = bt.pending[:n]
	})
	return nil
}

func (bt *BalanceTracker) setAllowance(tx *txn.Tx, key allowanceKey, amount int64) {
	prev, had := bt.allowances[key]
	if amount == 0 {
		delete(bt.allowances, key)
	} else {
		bt.allowances[key] = amount
	}
	tx.OnRollback(func() {
		if had {
			bt.allowances[key] = prev
		} else {
			delete(bt.allowances, key)
		}
	})
}

// PendingCount returns the number of journal entries not yet drained.
func (bt *BalanceTracker) PendingCount() int {
	return len(bt.pending)
}

// TakeBatch drains the pending journal entries into a batch stamped with the
// command's sequence and logical time. Returns nil when the command moved no points.
func (bt *BalanceTracker) TakeBatch(eventRef string, sequence, timestamp int64) *Batch {
	if len(bt.pending) == 0 {
		return nil
	}
	batch := &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  bt.pending,
	}
	for i := range batch.Journals {
		batch.Journals[i].BatchID = batch.BatchID
		batch.Journals[i].EventRef = eventRef
		batch.Journals[i].Sequence = sequence
		batch.Journals[i].Timestamp = timestamp
	}
	bt.pending = nil
	return batch
}

// DiscardPending drops journal entries of a command that did not commit.
func (bt *BalanceTracker) DiscardPending() {
	bt.pending = nil
}

// === Invariant Checks ===

// ComputeGlobalBalance sums all balances. Must be 0.
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, bal := range bt.balances {
		total += bal
	}
	return total
}

// ValidateNonNegative checks that an account balance is not negative
func (bt *BalanceTracker) ValidateNonNegative(account AccountID) error {
	if account == Issuance {
		return nil
	}
	if bal := bt.balances[account]; bal < 0 {
		return fmt.Errorf("account %s has negative balance: %d", account, bal)
	}
	return nil
}

// === Snapshot ===

// BalanceEntry is one row of a balance snapshot.
type BalanceEntry struct {
	Account AccountID `json:"account"`
	Balance int64     `json:"balance"`
}

// AllowanceEntry is one row of an allowance snapshot.
type AllowanceEntry struct {
	Owner   AccountID `json:"owner"`
	Spender AccountID `json:"spender"`
	Amount  int64     `json:"amount"`
}

// Snapshot returns all non-zero balances and allowances sorted by key for deterministic hashing.
func (bt *BalanceTracker) Snapshot() ([]BalanceEntry, []AllowanceEntry) {
	balances := make([]BalanceEntry, 0, len(bt.balances))
	for acct, bal := range bt.balances {
		if bal != 0 {
			balances = append(balances, BalanceEntry{Account: acct, Balance: bal})
		}
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Account < balances[j].Account })

	allowances := make([]AllowanceEntry, 0, len(bt.allowances))
	for k, amt := range bt.allowances {
		allowances = append(allowances, AllowanceEntry{Owner: k.Owner, Spender: k.Spender, Amount: amt})
	}
	sort.Slice(allowances, func(i, j int) bool {
		if allowances[i].Owner != allowances[j].Owner {
			return allowances[i].Owner < allowances[j].Owner
		}
		return allowances[i].Spender < allowances[j].Spender
	})
	return balances, allowances
}

// Restore replaces all state with a snapshot.
func (bt *BalanceTracker) Restore(balances []BalanceEntry, allowances []AllowanceEntry) {
	bt.balances = make(map[AccountID]int64, len(balances))
	for _, b := range balances {
		bt.balances[b.Account] = b.Balance
	}
	bt.allowances = make(map[allowanceKey]int64, len(allowances))
	for _, a := range allowances {
		bt.allowances[allowanceKey{Owner: a.Owner, Spender: a.Spender}] = a.Amount
	}
	bt.pending = nil
}
