package command

import "LotteryLedger/internal/ledger"

// Type discriminator for command payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeCreateLottery
	TypePurchaseTicket
	TypeListTicket
	TypeCancelListing
	TypeBuyListing
	TypeBuyAtBestPrice
	TypeResolve
	TypeSettle
	TypeRefund
	TypeApprove
	TypeTransfer
	TypeClaimPoints
	TypeMintPoints
	TypeApproveTicket
)

var typeNames = map[Type]string{
	TypeCreateLottery:  "create_lottery",
	TypePurchaseTicket: "purchase_ticket",
	TypeListTicket:     "list_ticket",
	TypeCancelListing:  "cancel_listing",
	TypeBuyListing:     "buy_listing",
	TypeBuyAtBestPrice: "buy_at_best_price",
	TypeResolve:        "resolve",
	TypeSettle:         "settle",
	TypeRefund:         "refund",
	TypeApprove:        "approve",
	TypeTransfer:       "transfer",
	TypeClaimPoints:    "claim_points",
	TypeMintPoints:     "mint_points",
	TypeApproveTicket:  "approve_ticket",
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// ParseType maps a wire name such as "purchase_ticket" to its Type.
func ParseType(name string) (Type, bool) {
	t, ok := typesByName[name]
	return t, ok
}

// AllTypes returns every known command type in declaration order.
func AllTypes() []Type {
	out := make([]Type, 0, len(typeNames))
	for t := TypeCreateLottery; t <= TypeApproveTicket; t++ {
		out = append(out, t)
	}
	return out
}

// Meta is carried by every command.
type Meta struct {
	// RequestID is an optional caller-chosen idempotency key.
	RequestID string `json:"request_id,omitempty"`

	// Caller is the account on whose behalf the command runs.
	Caller ledger.AccountID `json:"caller"`
}

// Header returns the command metadata.
func (m Meta) Header() Meta { return m }

func (m *Meta) setRequestID(id string) { m.RequestID = id }

// SetRequestID sets the idempotency key of cmd.
func SetRequestID(cmd Command, id string) {
	if c, ok := cmd.(interface{ setRequestID(string) }); ok {
		c.setRequestID(id)
	}
}

// Command is the interface all command payloads implement
type Command interface {
	Type() Type
	Header() Meta
}

type CreateLottery struct {
	Meta
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
	TicketPrice int64    `json:"ticket_price"`
	Duration    int64    `json:"duration"` // logical seconds from now
}

type PurchaseTicket struct {
	Meta
	LotteryID uint64 `json:"lottery_id"`
	OptionID  int    `json:"option_id"`
}

type ListTicket struct {
	Meta
	TokenID uint64 `json:"token_id"`
	Price   int64  `json:"price"`
}

type CancelListing struct {
	Meta
	ListingID uint64 `json:"listing_id"`
}

type BuyListing struct {
	Meta
	ListingID uint64 `json:"listing_id"`
}

type BuyAtBestPrice struct {
	Meta
	LotteryID uint64 `json:"lottery_id"`
	OptionID  int    `json:"option_id"`
}

type Resolve struct {
	Meta
	LotteryID     uint64 `json:"lottery_id"`
	WinningOption int    `json:"winning_option"`
}

type Settle struct {
	Meta
	LotteryID uint64 `json:"lottery_id"`
}

type Refund struct {
	Meta
	LotteryID uint64 `json:"lottery_id"`
}

// Approve sets the caller's allowance for spender (absolute, not additive).
type Approve struct {
	Meta
	Spender ledger.AccountID `json:"spender"`
	Amount  int64            `json:"amount"`
}

type Transfer struct {
	Meta
	To     ledger.AccountID `json:"to"`
	Amount int64            `json:"amount"`
}

// ClaimPoints is the one-time faucet grant.
type ClaimPoints struct {
	Meta
}

// MintPoints issues points to an account. Resolver only.
type MintPoints struct {
	Meta
	To     ledger.AccountID `json:"to"`
	Amount int64            `json:"amount"`
}

// ApproveTicket names the one account that may list a ticket on the
// holder's behalf. An empty Spender clears it.
type ApproveTicket struct {
	Meta
	TokenID uint64           `json:"token_id"`
	Spender ledger.AccountID `json:"spender"`
}

func (*CreateLottery) Type() Type  { return TypeCreateLottery }
func (*PurchaseTicket) Type() Type { return TypePurchaseTicket }
func (*ListTicket) Type() Type     { return TypeListTicket }
func (*CancelListing) Type() Type  { return TypeCancelListing }
func (*BuyListing) Type() Type     { return TypeBuyListing }
func (*BuyAtBestPrice) Type() Type { return TypeBuyAtBestPrice }
func (*Resolve) Type() Type        { return TypeResolve }
func (*Settle) Type() Type         { return TypeSettle }
func (*Refund) Type() Type         { return TypeRefund }
func (*Approve) Type() Type        { return TypeApprove }
func (*Transfer) Type() Type       { return TypeTransfer }
func (*ClaimPoints) Type() Type    { return TypeClaimPoints }
func (*MintPoints) Type() Type     { return TypeMintPoints }
func (*ApproveTicket) Type() Type  { return TypeApproveTicket }

// New returns an empty command of the given type, ready to be decoded into.
func New(t Type) (Command, bool) {
	switch t {
	case TypeCreateLottery:
		return &CreateLottery{}, true
	case TypePurchaseTicket:
		return &PurchaseTicket{}, true
	case TypeListTicket:
		return &ListTicket{}, true
	case TypeCancelListing:
		return &CancelListing{}, true
	case TypeBuyListing:
		return &BuyListing{}, true
	case TypeBuyAtBestPrice:
		return &BuyAtBestPrice{}, true
	case TypeResolve:
		return &Resolve{}, true
	case TypeSettle:
		return &Settle{}, true
	case TypeRefund:
		return &Refund{}, true
	case TypeApprove:
		return &Approve{}, true
	case TypeTransfer:
		return &Transfer{}, true
	case TypeClaimPoints:
		return &ClaimPoints{}, true
	case TypeMintPoints:
		return &MintPoints{}, true
	case TypeApproveTicket:
		return &ApproveTicket{}, true
	default:
		return nil, false
	}
}
