// Package errs defines the error taxonomy shared by every ledger component.
// Sentinels are matched with errors.Is; the Kind drives transport status codes.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindStateConflict
	KindFinancial
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindFinancial:
		return "financial"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a typed ledger error. Code is stable and safe to expose over the wire.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string { return e.Code }

func newErr(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	// Validation
	ErrInvalidArgument = newErr(KindValidation, "invalid_argument")
	ErrInvalidOption   = newErr(KindValidation, "invalid_option")
	ErrSelfTrade       = newErr(KindValidation, "self_trade")

	// NotFound
	ErrNotFound        = newErr(KindNotFound, "not_found")
	ErrLotteryNotFound = newErr(KindNotFound, "lottery_not_found")
	ErrTicketNotFound  = newErr(KindNotFound, "ticket_not_found")
	ErrListingNotFound = newErr(KindNotFound, "listing_not_found")
	ErrNoListings      = newErr(KindNotFound, "no_listings")

	// Authorization
	ErrNotOwner     = newErr(KindAuthorization, "not_owner")
	ErrNotApproved  = newErr(KindAuthorization, "not_approved")
	ErrNotSeller    = newErr(KindAuthorization, "not_seller")
	ErrUnauthorized = newErr(KindAuthorization, "unauthorized")

	// StateConflict
	ErrAlreadyExists      = newErr(KindStateConflict, "already_exists")
	ErrWrongStatus        = newErr(KindStateConflict, "wrong_status")
	ErrLotteryNotActive   = newErr(KindStateConflict, "lottery_not_active")
	ErrLotteryNotEnded    = newErr(KindStateConflict, "lottery_not_ended")
	ErrAlreadySettled     = newErr(KindStateConflict, "already_settled")
	ErrAlreadyRefunded    = newErr(KindStateConflict, "already_refunded")
	ErrWrongTicketStatus  = newErr(KindStateConflict, "wrong_ticket_status")
	ErrWrongListingStatus = newErr(KindStateConflict, "wrong_listing_status")
	ErrAlreadyClaimed     = newErr(KindStateConflict, "already_claimed")
	ErrDuplicateRequest   = newErr(KindStateConflict, "duplicate_request")

	// Financial
	ErrInsufficientBalance   = newErr(KindFinancial, "insufficient_balance")
	ErrInsufficientAllowance = newErr(KindFinancial, "insufficient_allowance")
	ErrOverflow              = newErr(KindFinancial, "overflow")
	ErrNoWinners             = newErr(KindFinancial, "no_winners")

	// Unavailable: a dependency failed; the same request may be retried.
	ErrUnavailable = newErr(KindUnavailable, "unavailable")
)

// Wrap annotates a sentinel with context while keeping errors.Is working.
func Wrap(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// ByCode looks up a sentinel by its wire code. Used when decoding remote errors.
func ByCode(code string) (*Error, bool) {
	e, ok := byCode[code]
	return e, ok
}

var byCode = func() map[string]*Error {
	all := []*Error{
		ErrInvalidArgument, ErrInvalidOption, ErrSelfTrade,
		ErrNotFound, ErrLotteryNotFound, ErrTicketNotFound, ErrListingNotFound, ErrNoListings,
		ErrNotOwner, ErrNotApproved, ErrNotSeller, ErrUnauthorized,
		ErrAlreadyExists, ErrWrongStatus, ErrLotteryNotActive, ErrLotteryNotEnded,
		ErrAlreadySettled, ErrAlreadyRefunded, ErrWrongTicketStatus, ErrWrongListingStatus,
		ErrAlreadyClaimed, ErrDuplicateRequest,
		ErrInsufficientBalance, ErrInsufficientAllowance, ErrOverflow, ErrNoWinners,
		ErrUnavailable,
	}
	m := make(map[string]*Error, len(all))
	for _, e := range all {
		m[e.Code] = e
	}
	return m
}()
