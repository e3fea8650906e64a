// Package query builds client-facing read models. Live views come from the
// in-memory core; history and integrity reports come from Postgres.
package query

import (
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/market"
	fpmath "LotteryLedger/internal/math"
)

// Source is the read surface of the core engine.
type Source interface {
	GetAllLotteries() []lottery.Lottery
	GetLottery(id uint64) (lottery.Lottery, error)
	GetTicket(tokenID uint64) (lottery.Ticket, error)
	GetUserTickets(account ledger.AccountID) []lottery.Ticket
	GetListing(id uint64) (market.Listing, error)
	GetActiveListings() []market.Listing
	GetOrderBook(lotteryID uint64, optionID int) []market.PriceLevel
	BalanceOf(account ledger.AccountID) int64
	TicketApproval(tokenID uint64) ledger.AccountID
	TicketsHeld(account ledger.AccountID) int
	Allowance(owner, spender ledger.AccountID) int64
	HasClaimed(account ledger.AccountID) bool
	GetSequence() int64
	Now() int64
}

// Views renders core state into API views.
type Views struct {
	src Source
}

func NewViews(src Source) *Views {
	return &Views{src: src}
}

func (v *Views) Lotteries() []LotteryView {
	all := v.src.GetAllLotteries()
	now := v.src.Now()
	out := make([]LotteryView, 0, len(all))
	for i := range all {
		out = append(out, lotteryView(&all[i], now))
	}
	return out
}

func (v *Views) Lottery(id uint64) (LotteryView, error) {
	l, err := v.src.GetLottery(id)
	if err != nil {
		return LotteryView{}, err
	}
	return lotteryView(&l, v.src.Now()), nil
}

func (v *Views) Ticket(tokenID uint64) (TicketView, error) {
	t, err := v.src.GetTicket(tokenID)
	if err != nil {
		return TicketView{}, err
	}
	tv := ticketView(t, newNameCache(v.src))
	tv.Approved = string(v.src.TicketApproval(tokenID))
	return tv, nil
}

// UserTickets returns the tickets account beneficially owns, including
// tickets it currently has listed.
func (v *Views) UserTickets(account ledger.AccountID) []TicketView {
	tickets := v.src.GetUserTickets(account)
	names := newNameCache(v.src)
	out := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketView(t, names))
	}
	return out
}

func (v *Views) Listing(id uint64) (ListingView, error) {
	l, err := v.src.GetListing(id)
	if err != nil {
		return ListingView{}, err
	}
	return listingView(l, newNameCache(v.src)), nil
}

func (v *Views) ActiveListings() []ListingView {
	listings := v.src.GetActiveListings()
	names := newNameCache(v.src)
	out := make([]ListingView, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingView(l, names))
	}
	return out
}

func (v *Views) OrderBook(lotteryID uint64, optionID int) (OrderBookView, error) {
	l, err := v.src.GetLottery(lotteryID)
	if err != nil {
		return OrderBookView{}, err
	}
	levels := v.src.GetOrderBook(lotteryID, optionID)
	book := OrderBookView{
		LotteryID: lotteryID,
		OptionID:  optionID,
		Levels:    make([]PriceLevelView, 0, len(levels)),
	}
	if l.ValidOption(optionID) {
		book.OptionName = l.Options[optionID]
	}
	for _, lvl := range levels {
		book.Levels = append(book.Levels, PriceLevelView{
			Price:    fpmath.FormatPoints(lvl.Price),
			Quantity: lvl.Quantity,
		})
	}
	return book, nil
}

func (v *Views) Balance(account ledger.AccountID) BalanceView {
	units := v.src.BalanceOf(account)
	return BalanceView{
		Account:    string(account),
		Balance:    fpmath.FormatPoints(units),
		Units:      units,
		HasClaimed: v.src.HasClaimed(account),
		Tickets:    v.src.TicketsHeld(account),
		Sequence:   v.src.GetSequence(),
	}
}

func (v *Views) Allowance(owner, spender ledger.AccountID) AllowanceView {
	units := v.src.Allowance(owner, spender)
	return AllowanceView{
		Owner:     string(owner),
		Spender:   string(spender),
		Allowance: fpmath.FormatPoints(units),
		Units:     units,
	}
}

func lotteryView(l *lottery.Lottery, now int64) LotteryView {
	view := LotteryView{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
		Options:     make([]OptionView, len(l.Options)),
		TicketPrice: fpmath.FormatPoints(l.TicketPrice),
		EndTime:     l.EndTime,
		Status:      l.Status.String(),
		TotalPool:   fpmath.FormatPoints(l.TotalPool),
		Creator:     string(l.Creator),
		Settled:     l.Settled,
		CreatedAt:   l.CreatedAt,
		IsOpen:      l.IsOpen(now),
		AsOf:        now,
	}
	for i, name := range l.Options {
		view.Options[i] = OptionView{
			ID:      i,
			Name:    name,
			Tickets: l.OptionCounts[i],
			Amount:  fpmath.FormatPoints(l.OptionAmounts[i]),
		}
	}
	if l.Status == lottery.StatusDrawn {
		w := l.WinningOption
		view.WinningOption = &w
	}
	return view
}

func ticketView(t lottery.Ticket, names *nameCache) TicketView {
	lotteryName, optionName := names.lookup(t.LotteryID, t.OptionID)
	return TicketView{
		TokenID:      t.TokenID,
		LotteryID:    t.LotteryID,
		LotteryName:  lotteryName,
		OptionID:     t.OptionID,
		OptionName:   optionName,
		Owner:        string(t.Owner),
		Purchaser:    string(t.Purchaser),
		Amount:       fpmath.FormatPoints(t.Amount),
		PurchaseTime: t.PurchaseTime,
		Status:       t.Status.String(),
	}
}

func listingView(l market.Listing, names *nameCache) ListingView {
	lotteryName, optionName := names.lookup(l.LotteryID, l.OptionID)
	return ListingView{
		ID:           l.ID,
		TokenID:      l.TokenID,
		LotteryID:    l.LotteryID,
		LotteryName:  lotteryName,
		OptionID:     l.OptionID,
		OptionName:   optionName,
		Seller:       string(l.Seller),
		Price:        fpmath.FormatPoints(l.Price),
		TicketAmount: fpmath.FormatPoints(l.TicketAmount),
		ListingTime:  l.ListingTime,
		Status:       l.Status.String(),
	}
}

// nameCache memoizes lottery lookups while rendering one response.
type nameCache struct {
	src       Source
	lotteries map[uint64]*lottery.Lottery
}

func newNameCache(src Source) *nameCache {
	return &nameCache{src: src, lotteries: make(map[uint64]*lottery.Lottery)}
}

func (c *nameCache) lookup(lotteryID uint64, optionID int) (string, string) {
	l, ok := c.lotteries[lotteryID]
	if !ok {
		got, err := c.src.GetLottery(lotteryID)
		if err == nil {
			l = &got
		}
		c.lotteries[lotteryID] = l
	}
	if l == nil {
		return "", ""
	}
	if !l.ValidOption(optionID) {
		return l.Name, ""
	}
	return l.Name, l.Options[optionID]
}
