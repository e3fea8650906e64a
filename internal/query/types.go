package query

// LotteryView is a lottery as returned to API clients.
type LotteryView struct {
	ID            uint64       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Options       []OptionView `json:"options"`
	TicketPrice   string       `json:"ticket_price"`
	EndTime       int64        `json:"end_time"`
	Status        string       `json:"status"`
	WinningOption *int         `json:"winning_option,omitempty"` // set once drawn
	TotalPool     string       `json:"total_pool"`
	Creator       string       `json:"creator"`
	Settled       bool         `json:"settled"`
	CreatedAt     int64        `json:"created_at"`
	IsOpen        bool         `json:"is_open"` // accepts purchases at AsOf
	AsOf          int64        `json:"as_of"`
}

// OptionView is one outcome of a lottery with its stake totals.
type OptionView struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Tickets int64  `json:"tickets"`
	Amount  string `json:"amount"`
}

// TicketView is a ticket enriched with its lottery and option names.
type TicketView struct {
	TokenID      uint64 `json:"token_id"`
	LotteryID    uint64 `json:"lottery_id"`
	LotteryName  string `json:"lottery_name"`
	OptionID     int    `json:"option_id"`
	OptionName   string `json:"option_name"`
	Owner        string `json:"owner"`
	Purchaser    string `json:"purchaser"`
	Amount       string `json:"amount"`
	PurchaseTime int64  `json:"purchase_time"`
	Status       string `json:"status"`
	Approved     string `json:"approved,omitempty"` // may list on the owner's behalf
}

// ListingView is a listing enriched with its lottery and option names.
type ListingView struct {
	ID           uint64 `json:"id"`
	TokenID      uint64 `json:"token_id"`
	LotteryID    uint64 `json:"lottery_id"`
	LotteryName  string `json:"lottery_name"`
	OptionID     int    `json:"option_id"`
	OptionName   string `json:"option_name"`
	Seller       string `json:"seller"`
	Price        string `json:"price"`
	TicketAmount string `json:"ticket_amount"`
	ListingTime  int64  `json:"listing_time"`
	Status       string `json:"status"`
}

// PriceLevelView aggregates Selling listings at one price.
type PriceLevelView struct {
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

// OrderBookView is the ask side for one (lottery, option).
type OrderBookView struct {
	LotteryID  uint64           `json:"lottery_id"`
	OptionID   int              `json:"option_id"`
	OptionName string           `json:"option_name"`
	Levels     []PriceLevelView `json:"levels"`
}

// BalanceView is an account's points balance and faucet state.
type BalanceView struct {
	Account    string `json:"account"`
	Balance    string `json:"balance"`
	Units      int64  `json:"units"`
	HasClaimed bool   `json:"has_claimed"`
	Tickets    int    `json:"tickets"` // held directly, excluding listed ones
	Sequence   int64  `json:"as_of_sequence"`
}

// AllowanceView is the remaining amount spender may draw from owner.
type AllowanceView struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
	Units     int64  `json:"units"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool     `json:"is_healthy"`
	HashChainBreaks  []int64  `json:"hash_chain_breaks,omitempty"`
	Imbalance        int64    `json:"imbalance"` // Σ projected balances, must be 0
	NegativeAccounts []string `json:"negative_accounts,omitempty"`
}
