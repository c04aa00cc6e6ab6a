package installments_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/installments"
)

func TestDate_AddMonthsClamped(t *testing.T) {
	tests := []struct {
		from   string
		months int
		want   string
	}{
		{"2025-01-31", 1, "2025-02-28"},
		{"2024-01-31", 1, "2024-02-29"},
		{"2025-03-31", 1, "2025-04-30"},
		{"2025-01-31", 2, "2025-03-31"},
		{"2025-01-15", 12, "2026-01-15"},
		{"2025-11-30", 3, "2026-02-28"},
		{"2025-03-31", -1, "2025-02-28"},
		{"2025-01-10", -1, "2024-12-10"},
		{"2025-05-31", 0, "2025-05-31"},
	}
	for _, tt := range tests {
		got := date(tt.from).AddMonthsClamped(tt.months)
		assert.Equal(t, tt.want, got.String(), "%s %+d", tt.from, tt.months)
	}
}

func TestDate_DueDatesNeverCompoundClamping(t *testing.T) {
	// GIVEN: First due Jan 31, monthly
	// WHEN: Computing the 4th installment
	// THEN: Apr 30, not Apr 28 (Feb clamping does not carry over)

	plan := installments.Plan{FirstDueDate: date("2025-01-31"), IntervalMonths: 1}

	assert.Equal(t, "2025-02-28", plan.DueDateFor(2).String())
	assert.Equal(t, "2025-03-31", plan.DueDateFor(3).String())
	assert.Equal(t, "2025-04-30", plan.DueDateFor(4).String())
}

func TestDate_DateOfUsesLocation(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	instant := time.Date(2025, time.March, 1, 1, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025-03-01", installments.DateOf(instant, time.UTC).String())
	assert.Equal(t, "2025-02-28", installments.DateOf(instant, saoPaulo).String())
}

func TestDate_Parse(t *testing.T) {
	d, err := installments.ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, 2025, d.Year())
	assert.Equal(t, time.February, d.Month())
	assert.Equal(t, 28, d.Day())

	for _, bad := range []string{"", "2025-02-30", "28/02/2025", "2025-2-1"} {
		_, err := installments.ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDate_MonthRange(t *testing.T) {
	r := installments.MonthRange(2024, time.February)

	assert.Equal(t, "2024-02-01", r.From.String())
	assert.Equal(t, "2024-02-29", r.To.String())
	assert.True(t, r.Contains(date("2024-02-29")))
	assert.False(t, r.Contains(date("2024-03-01")))
}

func TestEffectiveStatusOf(t *testing.T) {
	today := date("2025-01-15")

	tests := []struct {
		stored installments.StoredStatus
		due    string
		want   installments.EffectiveStatus
	}{
		{installments.StatusPending, "2025-01-14", installments.EffectiveOverdue},
		{installments.StatusPending, "2025-01-15", installments.EffectivePending},
		{installments.StatusPending, "2025-01-16", installments.EffectivePending},
		{installments.StatusSettled, "2024-01-01", installments.EffectiveSettled},
		{installments.StatusCanceled, "2024-01-01", installments.EffectiveCanceled},
	}
	for _, tt := range tests {
		got := installments.EffectiveStatusOf(tt.stored, date(tt.due), today)
		assert.Equal(t, tt.want, got, "%s due %s", tt.stored, tt.due)
	}
}
