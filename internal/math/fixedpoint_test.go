package math_test

import (
	"errors"
	stdmath "math"
	"testing"

	fpmath "LotteryLedger/internal/math"
)

func TestMulDivDown_Floors(t *testing.T) {
	got, err := fpmath.MulDivDown(20, 100, 60)
	if err != nil {
		t.Fatalf("MulDivDown: %v", err)
	}
	if got != 33 {
		t.Errorf("got %d, want 33", got)
	}
}

func TestMulDivDown_LargeIntermediate(t *testing.T) {
	// a*b overflows int64 but the quotient fits
	a := int64(stdmath.MaxInt64 / 2)
	got, err := fpmath.MulDivDown(a, 4, 4)
	if err != nil {
		t.Fatalf("MulDivDown: %v", err)
	}
	if got != a {
		t.Errorf("got %d, want %d", got, a)
	}
}

func TestMulDivDown_QuotientOverflow(t *testing.T) {
	_, err := fpmath.MulDivDown(stdmath.MaxInt64, 2, 1)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestDivideInt128_HalfEven(t *testing.T) {
	cases := []struct {
		num, den int64
		want     int64
	}{
		{5, 2, 2},  // 2.5 -> 2
		{7, 2, 4},  // 3.5 -> 4
		{8, 3, 3},  // 2.67 -> 3
		{10, 4, 2}, // 2.5 -> 2
	}
	for _, c := range cases {
		n := fpmath.MultiplyInt128(c.num, 1)
		got, err := fpmath.DivideInt128(n, c.den, fpmath.RoundHalfEven)
		if err != nil {
			t.Fatalf("DivideInt128(%d,%d): %v", c.num, c.den, err)
		}
		if got != c.want {
			t.Errorf("DivideInt128(%d,%d) = %d, want %d", c.num, c.den, got, c.want)
		}
	}
}

func TestCheckedAdd(t *testing.T) {
	if _, err := fpmath.CheckedAdd(stdmath.MaxInt64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
	v, err := fpmath.CheckedAdd(40, 2)
	if err != nil || v != 42 {
		t.Errorf("CheckedAdd(40,2) = %d, %v", v, err)
	}
	if _, err := fpmath.CheckedSub(stdmath.MinInt64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
}

func TestParsePoints(t *testing.T) {
	cases := map[string]int64{
		"15.5":     15_500_000,
		"16":       16_000_000,
		"0.000001": 1,
		"1000":     1_000_000_000,
	}
	for in, want := range cases {
		got, err := fpmath.ParsePoints(in)
		if err != nil {
			t.Fatalf("ParsePoints(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParsePoints(%q) = %d, want %d", in, got, want)
		}
	}

	if _, err := fpmath.ParsePoints("0.0000001"); err == nil {
		t.Error("expected error for sub-unit precision")
	}
	if _, err := fpmath.ParsePoints("abc"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestFormatPoints(t *testing.T) {
	if got := fpmath.FormatPoints(15_500_000); got != "15.5" {
		t.Errorf("got %q, want %q", got, "15.5")
	}
	if got := fpmath.FormatPoints(fpmath.Points(20)); got != "20" {
		t.Errorf("got %q, want %q", got, "20")
	}
}
