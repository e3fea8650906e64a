package math

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

// PointsConfig is the precision of every balance, price and stake in the ledger.
// 1 point == 1_000_000 units.
var PointsConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}

// ErrOverflow is returned when a fixed-point operation does not fit in int64.
var ErrOverflow = errors.New("fixed-point overflow")

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// MultiplyInt128 performs a * b without overflow. Caller must release the
// result with putInt128 when it came from this package.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator (denominator > 0, numerator >= 0)
// with the given rounding. Fails with ErrOverflow if the quotient exceeds int64.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, error) {
	if denominator <= 0 {
		return 0, fmt.Errorf("non-positive denominator %d", denominator)
	}
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.DivMod(numerator, denom, remainder)

	switch roundingMode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 || (cmp == 0 && denominator%2 == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(1))
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			quotient.Add(quotient, big.NewInt(1))
		}
	}

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// MulDivDown computes floor(a * b / c) with a 128-bit intermediate product.
// Used for proportional payouts: stake * pool / winningStake.
func MulDivDown(a, b, c int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("negative operand: a=%d b=%d", a, b)
	}
	product := MultiplyInt128(a, b)
	defer putInt128(product)
	return DivideInt128(product, c, RoundDown)
}

// CheckedAdd returns a + b, failing closed instead of wrapping.
func CheckedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// CheckedSub returns a - b, failing closed instead of wrapping.
func CheckedSub(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// ParsePoints converts a human amount such as "15.5" into fixed-point units.
// More fractional digits than the scale allows is an error, never a rounding.
func ParsePoints(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse points %q: %w", s, err)
	}
	scaled := d.Shift(int32(PointsConfig.DecimalPrecision))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("parse points %q: more than %d decimal places", s, PointsConfig.DecimalPrecision)
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, ErrOverflow
	}
	return bi.Int64(), nil
}

// FormatPoints renders fixed-point units as a decimal string ("15.5").
func FormatPoints(units int64) string {
	return decimal.New(units, -int32(PointsConfig.DecimalPrecision)).String()
}

// Points converts a whole number of points to units.
func Points(n int64) int64 {
	return n * PointsConfig.Scale
}
