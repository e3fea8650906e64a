package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"LotteryLedger/internal/errs"
)

// AccountID identifies a balance holder. User accounts are opaque caller ids;
// system and external accounts use reserved prefixes.
type AccountID string

const (
	systemPrefix   = "system:"
	externalPrefix = "external:"
	poolPrefix     = "system:pool:"
)

const (
	// Issuance is the source of every point in circulation. It is the only
	// account allowed to carry a negative balance, so Σ balances stays 0.
	Issuance AccountID = "external:issuance"

	// LotterySpender is the spender users approve to pay for ticket purchases.
	LotterySpender AccountID = "system:lottery"

	// MarketAccount holds escrowed tickets and is the spender for listing purchases.
	MarketAccount AccountID = "system:market"
)

// PoolAccount returns the account that holds the collected stakes of a lottery.
func PoolAccount(lotteryID uint64) AccountID {
	return AccountID(poolPrefix + strconv.FormatUint(lotteryID, 10))
}

// IsSystem reports whether the account is owned by the engine.
func (a AccountID) IsSystem() bool {
	return strings.HasPrefix(string(a), systemPrefix)
}

// IsExternal reports whether the account is an external boundary account.
func (a AccountID) IsExternal() bool {
	return strings.HasPrefix(string(a), externalPrefix)
}

// IsUser reports whether the account is a participant account.
func (a AccountID) IsUser() bool {
	return a != "" && !a.IsSystem() && !a.IsExternal()
}

func (a AccountID) String() string { return string(a) }

// ValidateUser rejects empty ids and ids in the reserved namespaces.
func ValidateUser(a AccountID) error {
	if !a.IsUser() {
		return errs.Wrap(errs.ErrInvalidArgument, "invalid user account %q", a)
	}
	return nil
}

// ParsePoolAccount extracts the lottery id from a pool account.
func ParsePoolAccount(a AccountID) (uint64, error) {
	s := string(a)
	if !strings.HasPrefix(s, poolPrefix) {
		return 0, fmt.Errorf("not a pool account: %s", s)
	}
	return strconv.ParseUint(strings.TrimPrefix(s, poolPrefix), 10, 64)
}
