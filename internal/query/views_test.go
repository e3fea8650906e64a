package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/ledger"
	fpmath "LotteryLedger/internal/math"
	"LotteryLedger/internal/query"
)

func setup(t *testing.T) (*core.Engine, *core.ManualClock, uint64) {
	t.Helper()
	clock := core.NewManualClock(1000)
	c := core.NewEngine(core.Options{Resolver: "resolver", Clock: clock}, nil, nil, nil, nil)

	for _, who := range []ledger.AccountID{"alice", "bob"} {
		meta := command.Meta{Caller: who}
		_, err := c.ClaimPoints(meta)
		require.NoError(t, err)
		require.NoError(t, c.Approve(meta, ledger.LotterySpender, fpmath.Points(100)))
		require.NoError(t, c.Approve(meta, ledger.MarketAccount, fpmath.Points(100)))
	}
	l, err := c.CreateLottery(command.Meta{Caller: "alice"}, "NBA Finals", "", []string{"Lakers", "Warriors"}, fpmath.Points(10), 3600)
	require.NoError(t, err)
	return c, clock, l.ID
}

func TestLotteryView(t *testing.T) {
	c, clock, id := setup(t)
	_, err := c.PurchaseTicket(command.Meta{Caller: "bob"}, id, 1)
	require.NoError(t, err)

	v := query.NewViews(c)
	view, err := v.Lottery(id)
	require.NoError(t, err)

	assert.Equal(t, "10", view.TicketPrice)
	assert.Equal(t, "10", view.TotalPool)
	assert.Equal(t, "active", view.Status)
	assert.True(t, view.IsOpen)
	assert.Nil(t, view.WinningOption)
	require.Len(t, view.Options, 2)
	assert.Equal(t, "Warriors", view.Options[1].Name)
	assert.Equal(t, int64(1), view.Options[1].Tickets)

	clock.Advance(3600)
	_, err = c.Resolve(command.Meta{Caller: "resolver"}, id, 1)
	require.NoError(t, err)

	view, err = v.Lottery(id)
	require.NoError(t, err)
	assert.False(t, view.IsOpen)
	require.NotNil(t, view.WinningOption)
	assert.Equal(t, 1, *view.WinningOption)
}

func TestTicketAndListingViews_CarryNames(t *testing.T) {
	c, _, id := setup(t)
	tk, err := c.PurchaseTicket(command.Meta{Caller: "alice"}, id, 0)
	require.NoError(t, err)
	price, err := fpmath.ParsePoints("12.25")
	require.NoError(t, err)
	_, err = c.ListTicket(command.Meta{Caller: "alice"}, tk.TokenID, price)
	require.NoError(t, err)

	v := query.NewViews(c)

	tickets := v.UserTickets("alice")
	require.Len(t, tickets, 1)
	assert.Equal(t, "NBA Finals", tickets[0].LotteryName)
	assert.Equal(t, "Lakers", tickets[0].OptionName)
	assert.Equal(t, "on_sale", tickets[0].Status)

	listings := v.ActiveListings()
	require.Len(t, listings, 1)
	assert.Equal(t, "12.25", listings[0].Price)
	assert.Equal(t, "Lakers", listings[0].OptionName)

	book, err := v.OrderBook(id, 0)
	require.NoError(t, err)
	assert.Equal(t, "Lakers", book.OptionName)
	require.Len(t, book.Levels, 1)
	assert.Equal(t, query.PriceLevelView{Price: "12.25", Quantity: 1}, book.Levels[0])
}

func TestBalanceView(t *testing.T) {
	c, _, _ := setup(t)
	v := query.NewViews(c)

	b := v.Balance("alice")
	assert.Equal(t, "1000", b.Balance)
	assert.Equal(t, fpmath.Points(1000), b.Units)
	assert.True(t, b.HasClaimed)
	assert.Equal(t, c.GetSequence(), b.Sequence)

	a := v.Allowance("bob", ledger.MarketAccount)
	assert.Equal(t, "100", a.Allowance)

	assert.False(t, v.Balance("nobody").HasClaimed)
}

func TestTicketView_Approval(t *testing.T) {
	c, _, id := setup(t)
	tk, err := c.PurchaseTicket(command.Meta{Caller: "bob"}, id, 1)
	require.NoError(t, err)
	v := query.NewViews(c)

	view, err := v.Ticket(tk.TokenID)
	require.NoError(t, err)
	assert.Empty(t, view.Approved)
	assert.Equal(t, 1, v.Balance("bob").Tickets)

	require.NoError(t, c.ApproveTicket(command.Meta{Caller: "bob"}, tk.TokenID, "carol"))
	view, err = v.Ticket(tk.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "carol", view.Approved)
}

func TestMissingLottery(t *testing.T) {
	c, _, _ := setup(t)
	v := query.NewViews(c)

	_, err := v.Lottery(99)
	assert.Error(t, err)
	_, err = v.OrderBook(99, 0)
	assert.Error(t, err)
}
