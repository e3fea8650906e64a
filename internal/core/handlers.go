package core

import (
	"fmt"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/settlement"
	"LotteryLedger/internal/txn"
)

func (c *Engine) dispatch(tx *txn.Tx, cmd command.Command, now int64) (*Result, error) {
	caller := cmd.Header().Caller

	switch e := cmd.(type) {
	case *command.CreateLottery:
		l, err := c.lotteries.Create(tx, caller, lottery.CreateParams{
			Name:        e.Name,
			Description: e.Description,
			Options:     e.Options,
			TicketPrice: e.TicketPrice,
			Duration:    e.Duration,
		}, now)
		if err != nil {
			return nil, err
		}
		return &Result{Lottery: &l}, nil

	case *command.PurchaseTicket:
		t, err := c.lotteries.Purchase(tx, caller, e.LotteryID, e.OptionID, now)
		if err != nil {
			return nil, err
		}
		return &Result{Ticket: &t}, nil

	case *command.ListTicket:
		l, err := c.market.List(tx, caller, e.TokenID, e.Price, now)
		if err != nil {
			return nil, err
		}
		return &Result{Listing: &l}, nil

	case *command.CancelListing:
		l, err := c.market.Cancel(tx, caller, e.ListingID)
		if err != nil {
			return nil, err
		}
		return &Result{Listing: &l}, nil

	case *command.BuyListing:
		l, err := c.market.Buy(tx, caller, e.ListingID, now)
		if err != nil {
			return nil, err
		}
		return &Result{Listing: &l}, nil

	case *command.BuyAtBestPrice:
		l, err := c.market.BuyAtBestPrice(tx, caller, e.LotteryID, e.OptionID, now)
		if err != nil {
			return nil, err
		}
		return &Result{Listing: &l}, nil

	case *command.Resolve:
		if err := c.settler.Resolve(tx, caller, e.LotteryID, e.WinningOption, now); err != nil {
			return nil, err
		}
		return c.lotteryResult(e.LotteryID, nil)

	case *command.Settle:
		payouts, err := c.settler.Settle(tx, e.LotteryID)
		if err != nil {
			return nil, err
		}
		c.recordPaidOut("settle", payouts)
		return c.lotteryResult(e.LotteryID, payouts)

	case *command.Refund:
		payouts, err := c.settler.Refund(tx, caller, e.LotteryID)
		if err != nil {
			return nil, err
		}
		c.recordPaidOut("refund", payouts)
		return c.lotteryResult(e.LotteryID, payouts)

	case *command.Approve:
		if err := ledger.ValidateUser(caller); err != nil {
			return nil, err
		}
		if err := c.balances.Approve(tx, caller, e.Spender, e.Amount); err != nil {
			return nil, err
		}
		return &Result{Amount: e.Amount}, nil

	case *command.ApproveTicket:
		if err := ledger.ValidateUser(caller); err != nil {
			return nil, err
		}
		if e.Spender != "" {
			if err := ledger.ValidateUser(e.Spender); err != nil {
				return nil, err
			}
		}
		if err := c.owners.Approve(tx, caller, e.TokenID, e.Spender); err != nil {
			return nil, err
		}
		t, err := c.lotteries.Ticket(e.TokenID)
		if err != nil {
			return nil, err
		}
		return &Result{Ticket: &t}, nil

	case *command.Transfer:
		if err := ledger.ValidateUser(caller); err != nil {
			return nil, err
		}
		if err := ledger.ValidateUser(e.To); err != nil {
			return nil, err
		}
		if err := c.balances.Transfer(tx, caller, e.To, e.Amount); err != nil {
			return nil, err
		}
		return &Result{Amount: e.Amount}, nil

	case *command.ClaimPoints:
		return c.claimPoints(tx, caller)

	case *command.MintPoints:
		if caller != c.resolver {
			return nil, errs.Wrap(errs.ErrUnauthorized, "caller %s may not mint", caller)
		}
		if e.Amount <= 0 {
			return nil, errs.Wrap(errs.ErrInvalidArgument, "mint amount must be positive: %d", e.Amount)
		}
		if err := ledger.ValidateUser(e.To); err != nil {
			return nil, err
		}
		if err := c.balances.Issue(tx, e.To, e.Amount); err != nil {
			return nil, err
		}
		return &Result{Amount: e.Amount}, nil

	default:
		return nil, errs.Wrap(errs.ErrInvalidArgument, "unknown command type: %s", fmt.Sprintf("%T", cmd))
	}
}

// claimPoints grants the one-time faucet amount.
func (c *Engine) claimPoints(tx *txn.Tx, caller ledger.AccountID) (*Result, error) {
	if err := ledger.ValidateUser(caller); err != nil {
		return nil, err
	}
	if c.claimed[caller] {
		return nil, errs.Wrap(errs.ErrAlreadyClaimed, "account %s", caller)
	}
	if err := c.balances.Issue(tx, caller, c.faucet); err != nil {
		return nil, err
	}
	c.claimed[caller] = true
	tx.OnRollback(func() { delete(c.claimed, caller) })
	return &Result{Amount: c.faucet}, nil
}

func (c *Engine) lotteryResult(id uint64, payouts []settlement.Payout) (*Result, error) {
	l, err := c.lotteries.Get(id)
	if err != nil {
		return nil, err
	}
	return &Result{Lottery: &l, Payouts: payouts}, nil
}

func (c *Engine) recordPaidOut(kind string, payouts []settlement.Payout) {
	if c.metrics == nil {
		return
	}
	var total int64
	for _, p := range payouts {
		total += p.Amount
	}
	c.metrics.PoolPaidOut.WithLabelValues(kind).Add(float64(total))
}
