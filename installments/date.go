package installments

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day without time of day or zone
// =============================================================================

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

// Years DateLayout can round-trip.
const (
	MinYear = 1
	MaxYear = 9999
)

// Date is a calendar date. Internally midnight UTC; the zone carries no meaning.
type Date struct {
	t time.Time
}

// NewDate builds a date, normalizing out-of-range values like time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as observed in loc (UTC when nil).
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals; it panics on bad input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool { return !d.t.Before(o.t) }

// Properties
func (d Date) Year() int { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int { return d.t.Day() }
func (d Date) IsZero() bool { return d.t.IsZero() }

// Storable reports whether d survives formatting and parsing with DateLayout.
func (d Date) Storable() bool { return d.Year() >= MinYear && d.Year() <= MaxYear }
func (d Date) Time() time.Time { return d.t }
func (d Date) String() string { return d.t.Format(DateLayout) }

// AddDays moves the date by n days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// AddMonthsClamped moves the date by n calendar months. When the target month
// is shorter than the source day, the result is the target month's last day:
//
//	2025-01-31 +1 -> 2025-02-28
//	2024-01-31 +1 -> 2024-02-29
//	2025-03-31 +1 -> 2025-04-30
func (d Date) AddMonthsClamped(n int) Date {
	months := d.Year()*12 + int(d.Month()-1) + n
	year := months / 12
	month := months % 12
	if month < 0 {
		month += 12
		year--
	}
	m := time.Month(month + 1)

	day := d.Day()
	if last := daysIn(year, m); day > last {
		day = last
	}
	return NewDate(year, m, day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// =============================================================================
// DATE RANGE
// =============================================================================

// DateRange is an inclusive [From, To] span of days.
type DateRange struct {
	From Date
	To   Date
}

// Contains reports whether d falls in the range, bounds included.
func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.From) && d.BeforeOrEqual(r.To)
}

// Valid reports whether From is not after To.
func (r DateRange) Valid() bool {
	return !r.From.After(r.To)
}

func (r DateRange) String() string {
	return "[" + r.From.String() + ", " + r.To.String() + "]"
}

// MonthRange returns the first through last day of the given month.
func MonthRange(year int, month time.Month) DateRange {
	return DateRange{From: NewDate(year, month, 1), To: NewDate(year, month, daysIn(year, month))}
}
