package lottery

import "LotteryLedger/internal/ledger"

// Status is the lifecycle state of a lottery.
type Status int32

const (
	StatusActive Status = iota
	StatusDrawn
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDrawn:
		return "drawn"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// TicketStatus is the disposition of a ticket. Winning and Losing are terminal.
type TicketStatus int32

const (
	TicketReady TicketStatus = iota
	TicketOnSale
	TicketWinning
	TicketLosing
)

func (s TicketStatus) String() string {
	switch s {
	case TicketReady:
		return "ready"
	case TicketOnSale:
		return "on_sale"
	case TicketWinning:
		return "winning"
	case TicketLosing:
		return "losing"
	default:
		return "unknown"
	}
}

// Lottery is a multi-option wagering pool.
// Invariant: TotalPool == Σ OptionAmounts.
type Lottery struct {
	ID            uint64           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Options       []string         `json:"options"`
	TicketPrice   int64            `json:"ticket_price"`
	EndTime       int64            `json:"end_time"`
	Status        Status           `json:"status"`
	WinningOption int              `json:"winning_option"` // valid only when Drawn
	TotalPool     int64            `json:"total_pool"`
	OptionCounts  []int64          `json:"option_counts"`
	OptionAmounts []int64          `json:"option_amounts"`
	Creator       ledger.AccountID `json:"creator"`
	Settled       bool             `json:"settled"`
	CreatedAt     int64            `json:"created_at"`
}

// ValidOption reports whether optionID indexes one of the lottery's options.
func (l *Lottery) ValidOption(optionID int) bool {
	return optionID >= 0 && optionID < len(l.Options)
}

// IsOpen reports whether the lottery still accepts purchases and trading at time now.
func (l *Lottery) IsOpen(now int64) bool {
	return l.Status == StatusActive && now < l.EndTime
}

// Clone returns a deep copy.
func (l *Lottery) Clone() Lottery {
	c := *l
	c.Options = append([]string(nil), l.Options...)
	c.OptionCounts = append([]int64(nil), l.OptionCounts...)
	c.OptionAmounts = append([]int64(nil), l.OptionAmounts...)
	return c
}

// Ticket is one wager. Owner is the beneficial owner and stays the seller while
// the token is held in market escrow.
type Ticket struct {
	TokenID      uint64           `json:"token_id"`
	LotteryID    uint64           `json:"lottery_id"`
	OptionID     int              `json:"option_id"`
	Owner        ledger.AccountID `json:"owner"`
	Purchaser    ledger.AccountID `json:"purchaser"`
	Amount       int64            `json:"amount"`
	PurchaseTime int64            `json:"purchase_time"`
	Status       TicketStatus     `json:"status"`
}
