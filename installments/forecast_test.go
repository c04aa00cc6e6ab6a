package installments_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/installments"
)

func TestForecast_SplitsByTypeAndOverdue(t *testing.T) {
	// GIVEN: Today is Jan 15
	//        Expense 1.00 x3 due Jan 10, Feb 10, Mar 10
	//        Income  1.00 x2 due Jan 20, Feb 20
	// WHEN: Forecasting Jan 1 .. Feb 28
	// THEN: To pay 2.00 (1.00 overdue), to receive 2.00

	e, _ := newTestEngine(t)
	ctx := context.Background()
	createPlan(t, e, planInput(300, 3, 1, "2025-01-10"))
	income := planInput(200, 2, 1, "2025-01-20")
	income.Type = installments.TypeIncome
	createPlan(t, e, income)

	totals, err := e.Forecast(ctx, installments.DateRange{From: date("2025-01-01"), To: date("2025-02-28")}, now)
	require.NoError(t, err)

	assert.Equal(t, int64(200), totals.ToPay.Minor())
	assert.Equal(t, int64(100), totals.OverdueToPay.Minor())
	assert.Equal(t, int64(200), totals.ToReceive.Minor())
	assert.True(t, totals.OverdueToReceive.IsZero())
	assert.Equal(t, 3, totals.PendingCount)
	assert.Equal(t, 1, totals.OverdueCount)
}

func TestForecast_ExcludesSettledAndCanceled(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, items := createPlan(t, e, planInput(300, 3, 1, "2025-02-01"))
	_, err := e.SettleInstallment(ctx, items[0].ID, installments.SettleInput{})
	require.NoError(t, err)
	_, err = e.UpdateInstallment(ctx, items[1].ID, installments.InstallmentPatch{Status: ptr(installments.StatusCanceled)}, false)
	require.NoError(t, err)

	totals, err := e.Forecast(ctx, installments.MonthRange(2025, time.February), now)
	require.NoError(t, err)
	assert.True(t, totals.ToPay.IsZero())
	assert.Zero(t, totals.PendingCount)

	totals, err = e.Forecast(ctx, installments.DateRange{From: date("2025-01-01"), To: date("2025-12-31")}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(100), totals.ToPay.Minor())
	assert.Equal(t, 1, totals.PendingCount)
}

func TestForecast_UsesGivenNow(t *testing.T) {
	// GIVEN: One expense due Feb 10
	// WHEN: Forecasting with now = Mar 1 (engine clock still says Jan 15)
	// THEN: The installment counts as overdue

	e, _ := newTestEngine(t)
	createPlan(t, e, planInput(100, 1, 1, "2025-02-10"))

	later := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	totals, err := e.Forecast(context.Background(), installments.MonthRange(2025, time.February), later)
	require.NoError(t, err)

	assert.Equal(t, int64(100), totals.OverdueToPay.Minor())
	assert.Equal(t, 1, totals.OverdueCount)
	assert.Zero(t, totals.PendingCount)
}

func TestForecast_InvalidRange(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Forecast(context.Background(), installments.DateRange{From: date("2025-03-01"), To: date("2025-01-01")}, now)

	assert.ErrorIs(t, err, installments.ErrValidation)
}
