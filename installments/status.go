package installments

import "time"

// =============================================================================
// STATUS - Stored vs effective
// =============================================================================

// StoredStatus is what gets persisted. There is no stored "overdue".
type StoredStatus string

const (
	StatusPending  StoredStatus = "pending"
	StatusSettled  StoredStatus = "settled"
	StatusCanceled StoredStatus = "canceled"
)

func (s StoredStatus) Valid() bool {
	return s == StatusPending || s == StatusSettled || s == StatusCanceled
}

// EffectiveStatus is what readers see: stored status plus derived overdue.
type EffectiveStatus string

const (
	EffectivePending  EffectiveStatus = "pending"
	EffectiveOverdue  EffectiveStatus = "overdue"
	EffectiveSettled  EffectiveStatus = "settled"
	EffectiveCanceled EffectiveStatus = "canceled"
)

func (s EffectiveStatus) Valid() bool {
	switch s {
	case EffectivePending, EffectiveOverdue, EffectiveSettled, EffectiveCanceled:
		return true
	}
	return false
}

// EffectiveStatusOf resolves the reader-visible status of an installment.
// Comparison is by calendar day: an installment due today is still pending.
func EffectiveStatusOf(stored StoredStatus, due Date, today Date) EffectiveStatus {
	switch stored {
	case StatusSettled:
		return EffectiveSettled
	case StatusCanceled:
		return EffectiveCanceled
	}
	if due.Before(today) {
		return EffectiveOverdue
	}
	return EffectivePending
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock is the engine's only source of "now".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
