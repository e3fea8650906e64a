package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"LotteryLedger/internal/errs"
)

func TestWrap_PreservesSentinel(t *testing.T) {
	err := errs.Wrap(errs.ErrInsufficientBalance, "have=%d need=%d", 1, 2)
	if !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if errors.Is(err, errs.ErrInsufficientAllowance) {
		t.Error("matched the wrong sentinel")
	}
	if got := err.Error(); got != "insufficient_balance: have=1 need=2" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want errs.Kind
	}{
		{errs.ErrInvalidOption, errs.KindValidation},
		{fmt.Errorf("purchase: %w", errs.ErrLotteryNotFound), errs.KindNotFound},
		{errs.Wrap(errs.ErrNotSeller, "listing %d", 3), errs.KindAuthorization},
		{errs.ErrAlreadySettled, errs.KindStateConflict},
		{errs.ErrNoWinners, errs.KindFinancial},
		{errors.New("boom"), errs.KindInternal},
	}
	for _, c := range cases {
		if got := errs.KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestByCode(t *testing.T) {
	e, ok := errs.ByCode("no_listings")
	if !ok || e != errs.ErrNoListings {
		t.Errorf("ByCode(no_listings) = %v, %v", e, ok)
	}
	if _, ok := errs.ByCode("nope"); ok {
		t.Error("unknown code should not resolve")
	}
}
