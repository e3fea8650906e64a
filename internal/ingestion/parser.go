package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ledger"
	fpmath "LotteryLedger/internal/math"
)

// SubjectPrefix is the inbound command subject namespace: lotto.cmd.<type>
const SubjectPrefix = "lotto.cmd."

// CommandSubject returns the inbound subject for a command type.
func CommandSubject(t command.Type) string {
	return SubjectPrefix + t.String()
}

// ParseSubject maps an inbound subject to its command type. Subjects may
// carry extra tokens after the type (e.g. a partition key).
func ParseSubject(subject string) (command.Type, error) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok {
		return command.TypeUnknown, fmt.Errorf("subject %q outside %s*", subject, SubjectPrefix)
	}
	name, _, _ := strings.Cut(rest, ".")
	t, ok := command.ParseType(name)
	if !ok {
		return command.TypeUnknown, fmt.Errorf("unknown command type %q", name)
	}
	return t, nil
}

// --- JSON wire formats ---
// Point amounts are decimal strings ("15.5") so producers never round-trip
// through floats. Field names use snake_case to match upstream producers.

type metaJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
}

func (m metaJSON) meta() (command.Meta, error) {
	if m.Caller == "" {
		return command.Meta{}, errs.Wrap(errs.ErrInvalidArgument, "caller is required")
	}
	return command.Meta{RequestID: m.RequestID, Caller: ledger.AccountID(m.Caller)}, nil
}

type createLotteryJSON struct {
	metaJSON
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Options         []string `json:"options"`
	TicketPrice     string   `json:"ticket_price"`
	DurationSeconds int64    `json:"duration_seconds"`
}

type lotteryOptionJSON struct {
	metaJSON
	LotteryID uint64 `json:"lottery_id"`
	OptionID  int    `json:"option_id"`
}

type lotteryJSON struct {
	metaJSON
	LotteryID uint64 `json:"lottery_id"`
}

type listTicketJSON struct {
	metaJSON
	TokenID uint64 `json:"token_id"`
	Price   string `json:"price"`
}

type listingJSON struct {
	metaJSON
	ListingID uint64 `json:"listing_id"`
}

type resolveJSON struct {
	metaJSON
	LotteryID     uint64 `json:"lottery_id"`
	WinningOption int    `json:"winning_option"`
}

type approveJSON struct {
	metaJSON
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type approveTicketJSON struct {
	metaJSON
	TokenID uint64 `json:"token_id"`
	Spender string `json:"spender"`
}

type transferJSON struct {
	metaJSON
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ParseCommand decodes a JSON payload into the typed command for t.
func ParseCommand(t command.Type, data []byte) (command.Command, error) {
	switch t {
	case command.TypeCreateLottery:
		var j createLotteryJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		price, err := parseAmount("ticket_price", j.TicketPrice)
		if err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		return &command.CreateLottery{
			Meta:        meta,
			Name:        j.Name,
			Description: j.Description,
			Options:     j.Options,
			TicketPrice: price,
			Duration:    j.DurationSeconds,
		}, nil

	case command.TypePurchaseTicket, command.TypeBuyAtBestPrice:
		var j lotteryOptionJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		if t == command.TypePurchaseTicket {
			return &command.PurchaseTicket{Meta: meta, LotteryID: j.LotteryID, OptionID: j.OptionID}, nil
		}
		return &command.BuyAtBestPrice{Meta: meta, LotteryID: j.LotteryID, OptionID: j.OptionID}, nil

	case command.TypeListTicket:
		var j listTicketJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		price, err := parseAmount("price", j.Price)
		if err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		return &command.ListTicket{Meta: meta, TokenID: j.TokenID, Price: price}, nil

	case command.TypeCancelListing, command.TypeBuyListing:
		var j listingJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		if t == command.TypeCancelListing {
			return &command.CancelListing{Meta: meta, ListingID: j.ListingID}, nil
		}
		return &command.BuyListing{Meta: meta, ListingID: j.ListingID}, nil

	case command.TypeResolve:
		var j resolveJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		return &command.Resolve{Meta: meta, LotteryID: j.LotteryID, WinningOption: j.WinningOption}, nil

	case command.TypeSettle, command.TypeRefund:
		var j lotteryJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		if t == command.TypeSettle {
			return &command.Settle{Meta: meta, LotteryID: j.LotteryID}, nil
		}
		return &command.Refund{Meta: meta, LotteryID: j.LotteryID}, nil

	case command.TypeApprove:
		var j approveJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", j.Amount)
		if err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		return &command.Approve{Meta: meta, Spender: ledger.AccountID(j.Spender), Amount: amount}, nil

	case command.TypeApproveTicket:
		var j approveTicketJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		return &command.ApproveTicket{Meta: meta, TokenID: j.TokenID, Spender: ledger.AccountID(j.Spender)}, nil

	case command.TypeTransfer, command.TypeMintPoints:
		var j transferJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", j.Amount)
		if err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		if t == command.TypeTransfer {
			return &command.Transfer{Meta: meta, To: ledger.AccountID(j.To), Amount: amount}, nil
		}
		return &command.MintPoints{Meta: meta, To: ledger.AccountID(j.To), Amount: amount}, nil

	case command.TypeClaimPoints:
		var j metaJSON
		if err := decode(data, &j); err != nil {
			return nil, err
		}
		meta, err := j.meta()
		if err != nil {
			return nil, err
		}
		return &command.ClaimPoints{Meta: meta}, nil

	default:
		return nil, fmt.Errorf("unknown command type: %s", t)
	}
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Wrap(errs.ErrInvalidArgument, "malformed payload: %v", err)
	}
	return nil
}

func parseAmount(field, s string) (int64, error) {
	if s == "" {
		return 0, errs.Wrap(errs.ErrInvalidArgument, "%s is required", field)
	}
	v, err := fpmath.ParsePoints(s)
	if err != nil {
		return 0, errs.Wrap(errs.ErrInvalidArgument, "%s: %v", field, err)
	}
	return v, nil
}
