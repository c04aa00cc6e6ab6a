/*
Package money provides exact minor-unit money arithmetic for installment plans.

PURPOSE:
  Amounts are stored as integer minor units (cents) so that splitting a total
  into N installments and redistributing a balance can be exact to the cent.
  Conversion to and from currency units (the "10.00" strings that travel over
  the API) goes through decimal.Decimal, never through float64.

KEY CONCEPTS:
  - Money: signed minor-unit amount (int64)
  - Split: divide a total into N parts whose sum is exactly the total
  - Redistribute: spread a new total over existing parts, proportionally

EXACT-SUM GUARANTEE:
  For every valid input, sum(Split(total, n)) == total and
  sum(Redistribute(total, weights)) == total. Tests in money_test.go
  enforce this over the whole installment-count range.

SEE ALSO:
  - split.go: Split and Redistribute
  - installments/plans.go: uses Split when generating a plan
*/
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places between currency units and minor units.
const Scale = 2

// Money is an amount in minor units (e.g. cents). Single currency only.
type Money int64

// MaxAmount bounds the magnitude of any parsed amount (10 trillion currency
// units), leaving int64 headroom for sums across many plans.
const MaxAmount Money = 1_000_000_000_000_000

var (
	// ErrInvalidAmount is returned when a string cannot be parsed as money.
	ErrInvalidAmount = errors.New("invalid money amount")

	// ErrTooPrecise is returned when a value has more decimals than Scale.
	ErrTooPrecise = errors.New("amount has more than 2 decimal places")
)

// tolerance is the smallest difference treated as a real mismatch (0.01 units).
var tolerance = decimal.New(1, -Scale)

// FromMinor builds Money from a minor-unit count.
func FromMinor(units int64) Money { return Money(units) }

// FromDecimal converts a currency-unit decimal (e.g. 10.5) to Money.
// Values with more than Scale decimal places are rejected.
func FromDecimal(d decimal.Decimal) (Money, error) {
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrTooPrecise, d.String())
	}
	if shifted.Abs().GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, d.String(), MaxAmount)
	}
	return Money(shifted.IntPart()), nil
}

// ParseMoney parses a currency-unit string such as "1234.56".
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

func (m Money) Minor() int64 { return int64(m) }
func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -Scale) }
func (m Money) String() string { return m.Decimal().StringFixed(Scale) }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }
func (m Money) IsZero() bool { return m == 0 }
func (m Money) Neg() Money { return -m }

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// WithinTolerance reports whether |m| is below 0.01 currency units.
func (m Money) WithinTolerance() bool {
	return m.Decimal().Abs().LessThan(tolerance)
}

// Sum adds all amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}
