package market_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/market"
	fpmath "LotteryLedger/internal/math"
	"LotteryLedger/internal/ownership"
	"LotteryLedger/internal/txn"
)

const (
	seller ledger.AccountID = "seller"
	buyer  ledger.AccountID = "buyer"
	other  ledger.AccountID = "other"
)

type harness struct {
	balances  *ledger.BalanceTracker
	owners    *ownership.Registry
	lotteries *lottery.Registry
	market    *market.Market
	lottery   lottery.Lottery
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{balances: ledger.NewBalanceTracker(), owners: ownership.NewRegistry()}
	h.lotteries = lottery.NewRegistry(h.balances, h.owners)
	h.market = market.New(h.balances, h.owners, h.lotteries)

	h.run(t, func(tx *txn.Tx) error {
		for _, acct := range []ledger.AccountID{seller, buyer, other} {
			if err := h.balances.Issue(tx, acct, fpmath.Points(100)); err != nil {
				return err
			}
			if err := h.balances.Approve(tx, acct, ledger.LotterySpender, fpmath.Points(100)); err != nil {
				return err
			}
			if err := h.balances.Approve(tx, acct, ledger.MarketAccount, fpmath.Points(100)); err != nil {
				return err
			}
		}
		l, err := h.lotteries.Create(tx, "creator", lottery.CreateParams{
			Name: "Finals", Options: []string{"Lakers", "Warriors"}, TicketPrice: fpmath.Points(10), Duration: 1000,
		}, 0)
		h.lottery = l
		return err
	})
	return h
}

func (h *harness) run(t *testing.T, fn func(tx *txn.Tx) error) {
	t.Helper()
	tx := txn.Begin()
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("setup: %v", err)
	}
	tx.Commit()
}

// try runs fn in its own transaction and rolls back on error, the way the core does.
func try[T any](fn func(tx *txn.Tx) (T, error)) (T, error) {
	tx := txn.Begin()
	v, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return v, err
	}
	tx.Commit()
	return v, nil
}

func (h *harness) purchase(t *testing.T, who ledger.AccountID, option int) lottery.Ticket {
	t.Helper()
	tk, err := try(func(tx *txn.Tx) (lottery.Ticket, error) {
		return h.lotteries.Purchase(tx, who, h.lottery.ID, option, 1)
	})
	require.NoError(t, err)
	return tk
}

func (h *harness) list(t *testing.T, who ledger.AccountID, tokenID uint64, price int64, now int64) market.Listing {
	t.Helper()
	l, err := try(func(tx *txn.Tx) (market.Listing, error) {
		return h.market.List(tx, who, tokenID, price, now)
	})
	require.NoError(t, err)
	return l
}

// ============================================================================
// Test: List / Cancel
// ============================================================================

func TestList_EscrowsTicket(t *testing.T) {
	h := newHarness(t)
	tk := h.purchase(t, seller, 0)

	l := h.list(t, seller, tk.TokenID, fpmath.Points(12), 5)
	require.Equal(t, uint64(1), l.ID)
	require.Equal(t, market.ListingSelling, l.Status)
	require.Equal(t, tk.Amount, l.TicketAmount)

	holder, err := h.owners.OwnerOf(tk.TokenID)
	require.NoError(t, err)
	require.Equal(t, ledger.MarketAccount, holder)

	got, err := h.lotteries.Ticket(tk.TokenID)
	require.NoError(t, err)
	require.Equal(t, lottery.TicketOnSale, got.Status)
	require.Equal(t, seller, got.Owner)
}

func TestList_Errors(t *testing.T) {
	h := newHarness(t)
	tk := h.purchase(t, seller, 0)

	_, err := try(func(tx *txn.Tx) (market.Listing, error) { return h.market.List(tx, seller, tk.TokenID, 0, 5) })
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = try(func(tx *txn.Tx) (market.Listing, error) { return h.market.List(tx, seller, 99, 1, 5) })
	require.ErrorIs(t, err, errs.ErrTicketNotFound)

	_, err = try(func(tx *txn.Tx) (market.Listing, error) { return h.market.List(tx, buyer, tk.TokenID, 1, 5) })
	require.ErrorIs(t, err, errs.ErrNotOwner)

	_, err = try(func(tx *txn.Tx) (market.Listing, error) {
		return h.market.List(tx, seller, tk.TokenID, 1, h.lottery.EndTime)
	})
	require.ErrorIs(t, err, errs.ErrLotteryNotActive)

	h.list(t, seller, tk.TokenID, 1, 5)
	// escrowed: the seller no longer holds the token
	_, err = try(func(tx *txn.Tx) (market.Listing, error) { return h.market.List(tx, seller, tk.TokenID, 1, 5) })
	require.ErrorIs(t, err, errs.ErrNotOwner)
}

func TestListCancel_RoundTrip(t *testing.T) {
	h := newHarness(t)
	tk := h.purchase(t, seller, 1)
	before := h.balances.GetBalance(seller)

	l := h.list(t, seller, tk.TokenID, fpmath.Points(12), 5)

	_, err := try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Cancel(tx, buyer, l.ID) })
	require.ErrorIs(t, err, errs.ErrNotSeller)

	cancelled, err := try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Cancel(tx, seller, l.ID) })
	require.NoError(t, err)
	require.Equal(t, market.ListingCancelled, cancelled.Status)

	holder, _ := h.owners.OwnerOf(tk.TokenID)
	require.Equal(t, seller, holder)
	got, _ := h.lotteries.Ticket(tk.TokenID)
	require.Equal(t, lottery.TicketReady, got.Status)
	require.Equal(t, before, h.balances.GetBalance(seller))
	require.Empty(t, h.market.ActiveListings())

	_, err = try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Cancel(tx, seller, l.ID) })
	require.ErrorIs(t, err, errs.ErrWrongListingStatus)

	_, err = try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Cancel(tx, seller, 42) })
	require.ErrorIs(t, err, errs.ErrListingNotFound)
}

// ============================================================================
// Test: Buy
// ============================================================================

func TestBuy_TransfersTicketAndPayment(t *testing.T) {
	h := newHarness(t)
	tk := h.purchase(t, seller, 0)
	l := h.list(t, seller, tk.TokenID, fpmath.Points(12), 5)

	sellerBefore := h.balances.GetBalance(seller)
	buyerBefore := h.balances.GetBalance(buyer)

	sold, err := try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Buy(tx, buyer, l.ID, 6) })
	require.NoError(t, err)
	require.Equal(t, market.ListingSold, sold.Status)

	require.Equal(t, sellerBefore+fpmath.Points(12), h.balances.GetBalance(seller))
	require.Equal(t, buyerBefore-fpmath.Points(12), h.balances.GetBalance(buyer))
	require.Equal(t, fpmath.Points(88), h.balances.Allowance(buyer, ledger.MarketAccount))

	holder, _ := h.owners.OwnerOf(tk.TokenID)
	require.Equal(t, buyer, holder)
	got, _ := h.lotteries.Ticket(tk.TokenID)
	require.Equal(t, buyer, got.Owner)
	require.Equal(t, seller, got.Purchaser)
	require.Equal(t, lottery.TicketReady, got.Status)

	_, err = try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Buy(tx, other, l.ID, 7) })
	require.ErrorIs(t, err, errs.ErrWrongListingStatus)
}

func TestBuy_SelfTrade(t *testing.T) {
	h := newHarness(t)
	tk := h.purchase(t, seller, 0)
	l := h.list(t, seller, tk.TokenID, fpmath.Points(12), 5)

	_, err := try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Buy(tx, seller, l.ID, 6) })
	require.ErrorIs(t, err, errs.ErrSelfTrade)
}

func TestBuy_AfterDeadline(t *testing.T) {
	h := newHarness(t)
	tk := h.purchase(t, seller, 0)
	l := h.list(t, seller, tk.TokenID, fpmath.Points(12), 5)

	_, err := try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Buy(tx, buyer, l.ID, h.lottery.EndTime) })
	require.ErrorIs(t, err, errs.ErrLotteryNotActive)
}

func TestBuy_InsufficientAllowanceRollsBack(t *testing.T) {
	h := newHarness(t)
	tk := h.purchase(t, seller, 0)
	l := h.list(t, seller, tk.TokenID, fpmath.Points(12), 5)
	h.run(t, func(tx *txn.Tx) error { return h.balances.Approve(tx, buyer, ledger.MarketAccount, fpmath.Points(1)) })

	_, err := try(func(tx *txn.Tx) (market.Listing, error) { return h.market.Buy(tx, buyer, l.ID, 6) })
	require.ErrorIs(t, err, errs.ErrInsufficientAllowance)

	got, _ := h.market.Listing(l.ID)
	require.Equal(t, market.ListingSelling, got.Status)
	holder, _ := h.owners.OwnerOf(tk.TokenID)
	require.Equal(t, ledger.MarketAccount, holder)
}

// ============================================================================
// Test: BuyAtBestPrice / OrderBook
// ============================================================================

func TestBuyAtBestPrice_SelectsLowestAsk(t *testing.T) {
	h := newHarness(t)
	prices := []string{"16.0", "15.5", "16.5"}
	var listings []market.Listing
	for _, p := range prices {
		tk := h.purchase(t, seller, 0)
		units, err := fpmath.ParsePoints(p)
		require.NoError(t, err)
		listings = append(listings, h.list(t, seller, tk.TokenID, units, 5))
	}

	bought, err := try(func(tx *txn.Tx) (market.Listing, error) {
		return h.market.BuyAtBestPrice(tx, buyer, h.lottery.ID, 0, 6)
	})
	require.NoError(t, err)
	require.Equal(t, listings[1].ID, bought.ID)
	require.Equal(t, int64(15_500_000), bought.Price)
}

func TestBuyAtBestPrice_TieBreaks(t *testing.T) {
	h := newHarness(t)
	a := h.purchase(t, seller, 0)
	b := h.purchase(t, other, 0)
	c := h.purchase(t, other, 0)

	h.list(t, seller, a.TokenID, fpmath.Points(5), 9) // later
	early := h.list(t, other, b.TokenID, fpmath.Points(5), 3)
	h.list(t, other, c.TokenID, fpmath.Points(5), 3) // same time, higher id

	bought, err := try(func(tx *txn.Tx) (market.Listing, error) {
		return h.market.BuyAtBestPrice(tx, buyer, h.lottery.ID, 0, 10)
	})
	require.NoError(t, err)
	require.Equal(t, early.ID, bought.ID)
}

func TestBuyAtBestPrice_NoListingsAndSelfTrade(t *testing.T) {
	h := newHarness(t)
	_, err := try(func(tx *txn.Tx) (market.Listing, error) {
		return h.market.BuyAtBestPrice(tx, buyer, h.lottery.ID, 1, 6)
	})
	require.ErrorIs(t, err, errs.ErrNoListings)

	tk := h.purchase(t, seller, 1)
	h.list(t, seller, tk.TokenID, fpmath.Points(5), 5)
	_, err = try(func(tx *txn.Tx) (market.Listing, error) {
		return h.market.BuyAtBestPrice(tx, seller, h.lottery.ID, 1, 6)
	})
	require.ErrorIs(t, err, errs.ErrSelfTrade)
}

func TestOrderBook_AggregatesByPrice(t *testing.T) {
	h := newHarness(t)
	for _, p := range []int64{7, 5, 7, 9} {
		tk := h.purchase(t, seller, 0)
		h.list(t, seller, tk.TokenID, fpmath.Points(p), 5)
	}
	tk := h.purchase(t, seller, 1)
	h.list(t, seller, tk.TokenID, fpmath.Points(1), 5)

	book := h.market.OrderBook(h.lottery.ID, 0)
	require.Equal(t, []market.PriceLevel{
		{Price: fpmath.Points(5), Quantity: 1},
		{Price: fpmath.Points(7), Quantity: 2},
		{Price: fpmath.Points(9), Quantity: 1},
	}, book)
	require.Len(t, h.market.ActiveListings(), 5)
}

func TestSnapshotRestore(t *testing.T) {
	h := newHarness(t)
	tk := h.purchase(t, seller, 0)
	l := h.list(t, seller, tk.TokenID, fpmath.Points(3), 5)

	restored := market.New(h.balances, h.owners, h.lotteries)
	restored.Restore(h.market.Snapshot())

	got, ok := restored.ActiveListingFor(tk.TokenID)
	require.True(t, ok)
	require.Equal(t, l.ID, got.ID)
}
