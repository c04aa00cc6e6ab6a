package money

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidParts is returned when asked to split into fewer than one part.
	ErrInvalidParts = errors.New("parts must be at least 1")

	// ErrNegativeTotal is returned when the total to split is negative.
	ErrNegativeTotal = errors.New("total must not be negative")

	// ErrNoWeights is returned by Redistribute when there is nothing to spread over.
	ErrNoWeights = errors.New("redistribute requires at least one weight")
)

// =============================================================================
// SPLIT - Equal division with exact remainder placement
// =============================================================================

// Split divides total into parts values of floor(total/parts) minor units and
// adds one minor unit to the first total%parts entries.
//
//	Split(1000, 3) == [334, 333, 333]
func Split(total Money, parts int) ([]Money, error) {
	if parts < 1 {
		return nil, ErrInvalidParts
	}
	if total < 0 {
		return nil, ErrNegativeTotal
	}

	base := total / Money(parts)
	remainder := int(total % Money(parts))

	result := make([]Money, parts)
	for i := range result {
		result[i] = base
		if i < remainder {
			result[i]++
		}
	}
	return result, nil
}

// =============================================================================
// REDISTRIBUTE - Proportional spread of a new total
// =============================================================================

// Redistribute spreads total across len(weights) parts proportionally to the
// weights. Each share is the exact integer quotient total*w/W; the leftover
// minor units go one each to the shares with the largest remainders, ties to
// the lowest index. Callers pass weights ordered by installment number, so
// ties resolve to the lowest installment number.
//
// A zero weight sum falls back to Split.
func Redistribute(total Money, weights []Money) ([]Money, error) {
	if len(weights) == 0 {
		return nil, ErrNoWeights
	}
	if total < 0 {
		return nil, ErrNegativeTotal
	}

	var weightSum Money
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("weight %d is negative: %s", i, w)
		}
		weightSum += w
	}
	if weightSum == 0 {
		return Split(total, len(weights))
	}

	type share struct {
		index     int
		remainder decimal.Decimal
	}

	divisor := decimal.NewFromInt(int64(weightSum))
	totalDec := decimal.NewFromInt(int64(total))

	result := make([]Money, len(weights))
	shares := make([]share, len(weights))
	var allocated Money
	for i, w := range weights {
		q, r := totalDec.Mul(decimal.NewFromInt(int64(w))).QuoRem(divisor, 0)
		result[i] = Money(q.IntPart())
		shares[i] = share{index: i, remainder: r}
		allocated += result[i]
	}

	sort.SliceStable(shares, func(i, j int) bool {
		cmp := shares[i].remainder.Cmp(shares[j].remainder)
		if cmp != 0 {
			return cmp > 0
		}
		return shares[i].index < shares[j].index
	})

	leftover := int(total - allocated)
	for i := 0; i < leftover; i++ {
		result[shares[i%len(shares)].index]++
	}
	return result, nil
}
