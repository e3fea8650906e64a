// Package market implements the secondary order book for unresolved tickets.
//
// A listed ticket is escrowed to the market account so that only the market can
// move it. The ticket's beneficial owner stays the seller until the listing is
// sold, so payouts and refunds still reach the seller while a ticket is on sale.
// Purchases pull the price from the buyer through the market spender allowance
// and pay the seller directly.
package market

import (
	"sort"

	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/ownership"
	"LotteryLedger/internal/txn"
)

type Market struct {
	balances  *ledger.BalanceTracker
	owners    *ownership.Registry
	lotteries *lottery.Registry

	listings map[uint64]*Listing
	active   map[uint64]uint64 // tokenID -> Selling listing id
	nextID   uint64
}

func New(balances *ledger.BalanceTracker, owners *ownership.Registry, lotteries *lottery.Registry) *Market {
	return &Market{
		balances:  balances,
		owners:    owners,
		lotteries: lotteries,
		listings:  make(map[uint64]*Listing),
		active:    make(map[uint64]uint64),
		nextID:    1,
	}
}

// List escrows a Ready ticket and opens a Selling listing for it.
func (m *Market) List(tx *txn.Tx, caller ledger.AccountID, tokenID uint64, price int64, now int64) (Listing, error) {
	if price <= 0 {
		return Listing{}, errs.Wrap(errs.ErrInvalidArgument, "price must be positive: %d", price)
	}
	ticket, err := m.lotteries.Ticket(tokenID)
	if err != nil {
		return Listing{}, err
	}
	holder, err := m.owners.OwnerOf(tokenID)
	if err != nil {
		return Listing{}, err
	}
	if caller != holder && caller != m.owners.GetApproved(tokenID) {
		return Listing{}, errs.Wrap(errs.ErrNotOwner, "caller %s does not hold ticket %d", caller, tokenID)
	}
	if ticket.Status != lottery.TicketReady {
		return Listing{}, errs.Wrap(errs.ErrWrongTicketStatus, "ticket %d is %s", tokenID, ticket.Status)
	}
	l, err := m.lotteries.Get(ticket.LotteryID)
	if err != nil {
		return Listing{}, err
	}
	if !l.IsOpen(now) {
		return Listing{}, errs.Wrap(errs.ErrLotteryNotActive, "lottery %d is %s, ends at %d", l.ID, l.Status, l.EndTime)
	}

	if err := m.owners.TransferFrom(tx, caller, holder, ledger.MarketAccount, tokenID); err != nil {
		return Listing{}, err
	}
	if err := m.lotteries.SetTicketStatus(tx, tokenID, lottery.TicketOnSale); err != nil {
		return Listing{}, err
	}

	id := m.nextID
	listing := &Listing{
		ID:           id,
		TokenID:      tokenID,
		LotteryID:    ticket.LotteryID,
		OptionID:     ticket.OptionID,
		Seller:       holder,
		Price:        price,
		TicketAmount: ticket.Amount,
		ListingTime:  now,
		Status:       ListingSelling,
	}
	m.listings[id] = listing
	m.active[tokenID] = id
	m.nextID++
	tx.OnRollback(func() {
		delete(m.listings, id)
		delete(m.active, tokenID)
		m.nextID = id
	})
	return *listing, nil
}

// Cancel withdraws a Selling listing and returns the ticket to its seller.
func (m *Market) Cancel(tx *txn.Tx, caller ledger.AccountID, listingID uint64) (Listing, error) {
	listing, err := m.listing(listingID)
	if err != nil {
		return Listing{}, err
	}
	if listing.Seller != caller {
		return Listing{}, errs.Wrap(errs.ErrNotSeller, "caller %s for listing %d", caller, listingID)
	}
	if listing.Status != ListingSelling {
		return Listing{}, errs.Wrap(errs.ErrWrongListingStatus, "listing %d is %s", listingID, listing.Status)
	}
	if err := m.unlist(tx, listing); err != nil {
		return Listing{}, err
	}
	return *listing, nil
}

// ForceCancel withdraws a Selling listing regardless of caller. Used when the
// parent lottery is resolved or refunded.
func (m *Market) ForceCancel(tx *txn.Tx, listingID uint64) error {
	listing, err := m.listing(listingID)
	if err != nil {
		return err
	}
	if listing.Status != ListingSelling {
		return errs.Wrap(errs.ErrWrongListingStatus, "listing %d is %s", listingID, listing.Status)
	}
	return m.unlist(tx, listing)
}

func (m *Market) unlist(tx *txn.Tx, listing *Listing) error {
	if err := m.owners.TransferFrom(tx, ledger.MarketAccount, ledger.MarketAccount, listing.Seller, listing.TokenID); err != nil {
		return err
	}
	if err := m.lotteries.SetTicketStatus(tx, listing.TokenID, lottery.TicketReady); err != nil {
		return err
	}
	m.close(tx, listing, ListingCancelled)
	return nil
}

// Buy fills a Selling listing: the buyer pays the seller the listed price and
// receives the ticket.
func (m *Market) Buy(tx *txn.Tx, caller ledger.AccountID, listingID uint64, now int64) (Listing, error) {
	listing, err := m.listing(listingID)
	if err != nil {
		return Listing{}, err
	}
	if listing.Status != ListingSelling {
		return Listing{}, errs.Wrap(errs.ErrWrongListingStatus, "listing %d is %s", listingID, listing.Status)
	}
	if caller == listing.Seller {
		return Listing{}, errs.Wrap(errs.ErrSelfTrade, "listing %d", listingID)
	}
	l, err := m.lotteries.Get(listing.LotteryID)
	if err != nil {
		return Listing{}, err
	}
	if !l.IsOpen(now) {
		return Listing{}, errs.Wrap(errs.ErrLotteryNotActive, "lottery %d is %s, ends at %d", l.ID, l.Status, l.EndTime)
	}
	if err := ledger.ValidateUser(caller); err != nil {
		return Listing{}, err
	}

	if err := m.balances.Spend(tx, caller, ledger.MarketAccount, listing.Seller, listing.Price, ledger.JournalTypeListingSale); err != nil {
		return Listing{}, err
	}
	if err := m.owners.TransferFrom(tx, ledger.MarketAccount, ledger.MarketAccount, caller, listing.TokenID); err != nil {
		return Listing{}, err
	}
	if err := m.lotteries.SetTicketOwner(tx, listing.TokenID, caller); err != nil {
		return Listing{}, err
	}
	if err := m.lotteries.SetTicketStatus(tx, listing.TokenID, lottery.TicketReady); err != nil {
		return Listing{}, err
	}
	m.close(tx, listing, ListingSold)
	return *listing, nil
}

// BuyAtBestPrice fills the best Selling listing for a lottery option.
// The caller's own listings are not skipped.
func (m *Market) BuyAtBestPrice(tx *txn.Tx, caller ledger.AccountID, lotteryID uint64, optionID int, now int64) (Listing, error) {
	var best *Listing
	for _, id := range m.active {
		l := m.listings[id]
		if l.LotteryID != lotteryID || l.OptionID != optionID {
			continue
		}
		if best == nil || better(l, best) {
			best = l
		}
	}
	if best == nil {
		return Listing{}, errs.Wrap(errs.ErrNoListings, "lottery %d option %d", lotteryID, optionID)
	}
	return m.Buy(tx, caller, best.ID, now)
}

func (m *Market) close(tx *txn.Tx, listing *Listing, status ListingStatus) {
	prev := listing.Status
	listing.Status = status
	delete(m.active, listing.TokenID)
	tx.OnRollback(func() {
		listing.Status = prev
		m.active[listing.TokenID] = listing.ID
	})
}

func (m *Market) listing(id uint64) (*Listing, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrListingNotFound, "listing %d", id)
	}
	return l, nil
}

// === Reads ===

// Listing returns a copy of a listing in any status.
func (m *Market) Listing(id uint64) (Listing, error) {
	l, err := m.listing(id)
	if err != nil {
		return Listing{}, err
	}
	return *l, nil
}

// ActiveListingFor returns the Selling listing for a token, if any.
func (m *Market) ActiveListingFor(tokenID uint64) (Listing, bool) {
	id, ok := m.active[tokenID]
	if !ok {
		return Listing{}, false
	}
	return *m.listings[id], true
}

// All returns every listing in any status, in id order.
func (m *Market) All() []Listing {
	return m.Snapshot().Listings
}

// ActiveListings returns every Selling listing in id order.
func (m *Market) ActiveListings() []Listing {
	out := make([]Listing, 0, len(m.active))
	for _, id := range m.active {
		out = append(out, *m.listings[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OrderBook aggregates Selling listings for a lottery option into price levels, ascending.
func (m *Market) OrderBook(lotteryID uint64, optionID int) []PriceLevel {
	qty := make(map[int64]int)
	for _, id := range m.active {
		l := m.listings[id]
		if l.LotteryID == lotteryID && l.OptionID == optionID {
			qty[l.Price]++
		}
	}
	levels := make([]PriceLevel, 0, len(qty))
	for price, n := range qty {
		levels = append(levels, PriceLevel{Price: price, Quantity: n})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

// === Snapshot ===

// State is the serializable content of the market.
type State struct {
	NextListingID uint64    `json:"next_listing_id"`
	Listings      []Listing `json:"listings"`
}

// Snapshot returns every listing in id order.
func (m *Market) Snapshot() State {
	s := State{NextListingID: m.nextID, Listings: make([]Listing, 0, len(m.listings))}
	for _, l := range m.listings {
		s.Listings = append(s.Listings, *l)
	}
	sort.Slice(s.Listings, func(i, j int) bool { return s.Listings[i].ID < s.Listings[j].ID })
	return s
}

// Restore replaces all state with a snapshot.
func (m *Market) Restore(s State) {
	m.listings = make(map[uint64]*Listing, len(s.Listings))
	m.active = make(map[uint64]uint64)
	for i := range s.Listings {
		l := s.Listings[i]
		m.listings[l.ID] = &l
		if l.Status == ListingSelling {
			m.active[l.TokenID] = l.ID
		}
	}
	m.nextID = max(s.NextListingID, 1)
}
