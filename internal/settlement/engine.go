// Package settlement resolves lotteries and distributes their pools.
//
// Resolve classifies every ticket eagerly: open listings are withdrawn and each
// ticket becomes Winning or Losing. Settle then pays winners pro rata to their
// stake, with the integer rounding remainder going to the last winning ticket in
// token id order so the pool is always paid out exactly. A lottery nobody won is
// unwound with Refund.
package settlement

import (
	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/market"
	fpmath "LotteryLedger/internal/math"
	"LotteryLedger/internal/txn"
)

// Payout is one credit made from a lottery pool.
type Payout struct {
	TokenID uint64           `json:"token_id"`
	Account ledger.AccountID `json:"account"`
	Amount  int64            `json:"amount"`
}

type Engine struct {
	balances  *ledger.BalanceTracker
	lotteries *lottery.Registry
	market    *market.Market
	resolver  ledger.AccountID
}

// NewEngine creates a settlement engine. resolver is the only account allowed to
// resolve lotteries.
func NewEngine(balances *ledger.BalanceTracker, lotteries *lottery.Registry, mkt *market.Market, resolver ledger.AccountID) *Engine {
	return &Engine{
		balances:  balances,
		lotteries: lotteries,
		market:    mkt,
		resolver:  resolver,
	}
}

// Resolver returns the configured resolver account.
func (e *Engine) Resolver() ledger.AccountID {
	return e.resolver
}

// Resolve draws a lottery whose deadline has passed. No points move.
func (e *Engine) Resolve(tx *txn.Tx, caller ledger.AccountID, lotteryID uint64, winningOption int, now int64) error {
	if caller != e.resolver {
		return errs.Wrap(errs.ErrUnauthorized, "caller %s is not the resolver", caller)
	}
	l, err := e.lotteries.Get(lotteryID)
	if err != nil {
		return err
	}
	if l.Status != lottery.StatusActive {
		return errs.Wrap(errs.ErrWrongStatus, "lottery %d is %s", lotteryID, l.Status)
	}
	if now < l.EndTime {
		return errs.Wrap(errs.ErrLotteryNotEnded, "lottery %d ends at %d, now %d", lotteryID, l.EndTime, now)
	}
	if !l.ValidOption(winningOption) {
		return errs.Wrap(errs.ErrInvalidOption, "option %d of lottery %d", winningOption, lotteryID)
	}

	if err := e.withdrawListings(tx, lotteryID); err != nil {
		return err
	}
	for _, t := range e.lotteries.TicketsOf(lotteryID) {
		status := lottery.TicketLosing
		if t.OptionID == winningOption {
			status = lottery.TicketWinning
		}
		if err := e.lotteries.SetTicketStatus(tx, t.TokenID, status); err != nil {
			return err
		}
	}
	return e.lotteries.MarkDrawn(tx, lotteryID, winningOption)
}

// Settle pays out a Drawn lottery to the owners of its winning tickets.
func (e *Engine) Settle(tx *txn.Tx, lotteryID uint64) ([]Payout, error) {
	l, err := e.lotteries.Get(lotteryID)
	if err != nil {
		return nil, err
	}
	if l.Status != lottery.StatusDrawn {
		return nil, errs.Wrap(errs.ErrWrongStatus, "lottery %d is %s", lotteryID, l.Status)
	}
	if l.Settled {
		return nil, errs.Wrap(errs.ErrAlreadySettled, "lottery %d", lotteryID)
	}
	winningStake := l.OptionAmounts[l.WinningOption]
	if winningStake == 0 {
		return nil, errs.Wrap(errs.ErrNoWinners, "lottery %d option %d", lotteryID, l.WinningOption)
	}

	payouts, err := ComputePayouts(e.lotteries.TicketsOf(lotteryID), l.WinningOption, l.TotalPool, winningStake)
	if err != nil {
		return nil, err
	}
	if err := e.pay(tx, lotteryID, payouts, ledger.JournalTypePayout); err != nil {
		return nil, err
	}
	if err := e.lotteries.MarkSettled(tx, lotteryID); err != nil {
		return nil, err
	}
	return payouts, nil
}

// Refund returns every stake of a lottery to the ticket owners. An Active lottery
// may be refunded by the resolver or its creator. A Drawn lottery whose winning
// option has no stake may be refunded by anyone.
func (e *Engine) Refund(tx *txn.Tx, caller ledger.AccountID, lotteryID uint64) ([]Payout, error) {
	l, err := e.lotteries.Get(lotteryID)
	if err != nil {
		return nil, err
	}
	switch l.Status {
	case lottery.StatusRefunded:
		return nil, errs.Wrap(errs.ErrAlreadyRefunded, "lottery %d", lotteryID)
	case lottery.StatusActive:
		if caller != e.resolver && caller != l.Creator {
			return nil, errs.Wrap(errs.ErrUnauthorized, "caller %s may not refund lottery %d", caller, lotteryID)
		}
	case lottery.StatusDrawn:
		if l.Settled || l.OptionAmounts[l.WinningOption] != 0 {
			return nil, errs.Wrap(errs.ErrWrongStatus, "lottery %d has winners", lotteryID)
		}
	}

	if err := e.withdrawListings(tx, lotteryID); err != nil {
		return nil, err
	}
	tickets := e.lotteries.TicketsOf(lotteryID)
	payouts := make([]Payout, 0, len(tickets))
	for _, t := range tickets {
		payouts = append(payouts, Payout{TokenID: t.TokenID, Account: t.Owner, Amount: t.Amount})
	}
	if err := e.pay(tx, lotteryID, payouts, ledger.JournalTypeRefund); err != nil {
		return nil, err
	}
	if err := e.lotteries.MarkRefunded(tx, lotteryID); err != nil {
		return nil, err
	}
	return payouts, nil
}

// ComputePayouts splits pool across the winning tickets in proportion to their
// stake. The result sums to pool exactly.
func ComputePayouts(tickets []lottery.Ticket, winningOption int, pool, winningStake int64) ([]Payout, error) {
	var payouts []Payout
	var paid int64
	for _, t := range tickets {
		if t.OptionID != winningOption {
			continue
		}
		amount, err := fpmath.MulDivDown(t.Amount, pool, winningStake)
		if err != nil {
			return nil, errs.Wrap(errs.ErrOverflow, "payout for ticket %d: %v", t.TokenID, err)
		}
		paid += amount
		payouts = append(payouts, Payout{TokenID: t.TokenID, Account: t.Owner, Amount: amount})
	}
	if len(payouts) == 0 {
		return nil, errs.Wrap(errs.ErrNoWinners, "no ticket on option %d", winningOption)
	}
	payouts[len(payouts)-1].Amount += pool - paid
	return payouts, nil
}

func (e *Engine) pay(tx *txn.Tx, lotteryID uint64, payouts []Payout, jt ledger.JournalType) error {
	pool := ledger.PoolAccount(lotteryID)
	for _, p := range payouts {
		if err := e.balances.Move(tx, pool, p.Account, p.Amount, jt); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) withdrawListings(tx *txn.Tx, lotteryID uint64) error {
	for _, t := range e.lotteries.TicketsOf(lotteryID) {
		if listing, ok := e.market.ActiveListingFor(t.TokenID); ok {
			if err := e.market.ForceCancel(tx, listing.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
