package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}

// ValidateAllNonNegative verifies no account except issuance is overdrawn
func (v *InvariantValidator) ValidateAllNonNegative() error {
	for acct := range v.tracker.balances {
		if err := v.tracker.ValidateNonNegative(acct); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePoolBalance verifies a lottery pool account holds exactly the expected stake
func (v *InvariantValidator) ValidatePoolBalance(lotteryID uint64, expected int64) error {
	if bal := v.tracker.GetBalance(PoolAccount(lotteryID)); bal != expected {
		return fmt.Errorf("pool for lottery %d holds %d, expected %d", lotteryID, bal, expected)
	}
	return nil
}

// ValidateAll runs the global invariants
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateGlobalBalance(); err != nil {
		return err
	}
	return v.ValidateAllNonNegative()
}
