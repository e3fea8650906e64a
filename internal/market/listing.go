package market

import "LotteryLedger/internal/ledger"

// ListingStatus is the lifecycle state of a listing. Cancelled and Sold are terminal.
type ListingStatus int32

const (
	ListingSelling ListingStatus = iota
	ListingCancelled
	ListingSold
)

func (s ListingStatus) String() string {
	switch s {
	case ListingSelling:
		return "selling"
	case ListingCancelled:
		return "cancelled"
	case ListingSold:
		return "sold"
	default:
		return "unknown"
	}
}

// Listing is a sell order for one escrowed ticket.
type Listing struct {
	ID           uint64           `json:"id"`
	TokenID      uint64           `json:"token_id"`
	LotteryID    uint64           `json:"lottery_id"`
	OptionID     int              `json:"option_id"`
	Seller       ledger.AccountID `json:"seller"`
	Price        int64            `json:"price"`
	TicketAmount int64            `json:"ticket_amount"`
	ListingTime  int64            `json:"listing_time"`
	Status       ListingStatus    `json:"status"`
}

// PriceLevel aggregates the Selling listings at one price.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int   `json:"quantity"`
}

// better reports whether a is preferred over b for a buyer: lowest price,
// then earliest listing time, then lowest id.
func better(a, b *Listing) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if a.ListingTime != b.ListingTime {
		return a.ListingTime < b.ListingTime
	}
	return a.ID < b.ID
}
