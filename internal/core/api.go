package core

import (
	"LotteryLedger/internal/command"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/market"
	"LotteryLedger/internal/settlement"
)

// Typed wrappers over Execute. Each builds the command, runs it and unwraps the result.

func (c *Engine) CreateLottery(meta command.Meta, name, description string, options []string, ticketPrice, duration int64) (lottery.Lottery, error) {
	res, err := c.Execute(&command.CreateLottery{
		Meta: meta, Name: name, Description: description, Options: options,
		TicketPrice: ticketPrice, Duration: duration,
	})
	if err != nil {
		return lottery.Lottery{}, err
	}
	return *res.Lottery, nil
}

func (c *Engine) PurchaseTicket(meta command.Meta, lotteryID uint64, optionID int) (lottery.Ticket, error) {
	res, err := c.Execute(&command.PurchaseTicket{Meta: meta, LotteryID: lotteryID, OptionID: optionID})
	if err != nil {
		return lottery.Ticket{}, err
	}
	return *res.Ticket, nil
}

func (c *Engine) ListTicket(meta command.Meta, tokenID uint64, price int64) (market.Listing, error) {
	return c.listingResult(c.Execute(&command.ListTicket{Meta: meta, TokenID: tokenID, Price: price}))
}

func (c *Engine) CancelListing(meta command.Meta, listingID uint64) (market.Listing, error) {
	return c.listingResult(c.Execute(&command.CancelListing{Meta: meta, ListingID: listingID}))
}

func (c *Engine) BuyListing(meta command.Meta, listingID uint64) (market.Listing, error) {
	return c.listingResult(c.Execute(&command.BuyListing{Meta: meta, ListingID: listingID}))
}

func (c *Engine) BuyAtBestPrice(meta command.Meta, lotteryID uint64, optionID int) (market.Listing, error) {
	return c.listingResult(c.Execute(&command.BuyAtBestPrice{Meta: meta, LotteryID: lotteryID, OptionID: optionID}))
}

func (c *Engine) Resolve(meta command.Meta, lotteryID uint64, winningOption int) (lottery.Lottery, error) {
	res, err := c.Execute(&command.Resolve{Meta: meta, LotteryID: lotteryID, WinningOption: winningOption})
	if err != nil {
		return lottery.Lottery{}, err
	}
	return *res.Lottery, nil
}

func (c *Engine) Settle(meta command.Meta, lotteryID uint64) ([]settlement.Payout, error) {
	res, err := c.Execute(&command.Settle{Meta: meta, LotteryID: lotteryID})
	if err != nil {
		return nil, err
	}
	return res.Payouts, nil
}

func (c *Engine) Refund(meta command.Meta, lotteryID uint64) ([]settlement.Payout, error) {
	res, err := c.Execute(&command.Refund{Meta: meta, LotteryID: lotteryID})
	if err != nil {
		return nil, err
	}
	return res.Payouts, nil
}

func (c *Engine) Approve(meta command.Meta, spender ledger.AccountID, amount int64) error {
	_, err := c.Execute(&command.Approve{Meta: meta, Spender: spender, Amount: amount})
	return err
}

// ApproveTicket lets spender list tokenID for the caller. An empty spender
// clears the approval.
func (c *Engine) ApproveTicket(meta command.Meta, tokenID uint64, spender ledger.AccountID) error {
	_, err := c.Execute(&command.ApproveTicket{Meta: meta, TokenID: tokenID, Spender: spender})
	return err
}

func (c *Engine) Transfer(meta command.Meta, to ledger.AccountID, amount int64) error {
	_, err := c.Execute(&command.Transfer{Meta: meta, To: to, Amount: amount})
	return err
}

// ClaimPoints grants the caller the one-time faucet amount and returns it.
func (c *Engine) ClaimPoints(meta command.Meta) (int64, error) {
	res, err := c.Execute(&command.ClaimPoints{Meta: meta})
	if err != nil {
		return 0, err
	}
	return res.Amount, nil
}

func (c *Engine) MintPoints(meta command.Meta, to ledger.AccountID, amount int64) error {
	_, err := c.Execute(&command.MintPoints{Meta: meta, To: to, Amount: amount})
	return err
}

func (c *Engine) listingResult(res *Result, err error) (market.Listing, error) {
	if err != nil {
		return market.Listing{}, err
	}
	return *res.Listing, nil
}

// === Reads ===
// Reads take the engine lock so they never observe a command mid-flight.

func (c *Engine) GetOrderBook(lotteryID uint64, optionID int) []market.PriceLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.market.OrderBook(lotteryID, optionID)
}

// GetUserTickets returns the tickets whose beneficial owner is account,
// including tickets currently listed for sale.
func (c *Engine) GetUserTickets(account ledger.AccountID) []lottery.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lotteries.TicketsOwnedBy(account)
}

func (c *Engine) GetAllLotteries() []lottery.Lottery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lotteries.All()
}

func (c *Engine) GetActiveListings() []market.Listing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.market.ActiveListings()
}

func (c *Engine) GetLottery(id uint64) (lottery.Lottery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lotteries.Get(id)
}

func (c *Engine) GetTicket(tokenID uint64) (lottery.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lotteries.Ticket(tokenID)
}

func (c *Engine) GetListing(id uint64) (market.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.market.Listing(id)
}

func (c *Engine) BalanceOf(account ledger.AccountID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances.GetBalance(account)
}

func (c *Engine) Allowance(owner, spender ledger.AccountID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances.Allowance(owner, spender)
}

func (c *Engine) HasClaimed(account ledger.AccountID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed[account]
}

// OwnerOf returns the account currently holding a ticket token (the market
// account while the ticket is listed).
func (c *Engine) OwnerOf(tokenID uint64) (ledger.AccountID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners.OwnerOf(tokenID)
}

// TicketApproval returns the account approved to list a ticket, or "".
func (c *Engine) TicketApproval(tokenID uint64) ledger.AccountID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners.GetApproved(tokenID)
}

// TicketsHeld counts the tokens an account holds directly. Listed tickets
// are held by the market account.
func (c *Engine) TicketsHeld(account ledger.AccountID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners.BalanceOf(account)
}

// ProjectionState is a consistent copy of the state behind the read tables,
// taken at Sequence.
type ProjectionState struct {
	Sequence  int64
	Balances  []ledger.BalanceEntry
	Lotteries []lottery.Lottery
	Listings  []market.Listing
}

// ProjectionState copies balances, lotteries and listings under one lock.
func (c *Engine) ProjectionState() ProjectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	balances, _ := c.balances.Snapshot()
	return ProjectionState{
		Sequence:  c.sequence - 1,
		Balances:  balances,
		Lotteries: c.lotteries.All(),
		Listings:  c.market.All(),
	}
}
