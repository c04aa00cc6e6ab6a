package installments_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/installments"
)

func TestReconcile_ManualEditThenSync(t *testing.T) {
	// GIVEN: A 10.00 plan whose installments sum to 9.00 after a manual edit
	// WHEN: Checking, syncing, checking again
	// THEN: -1.00 difference, total becomes 9.00, then no difference

	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan, items := createPlan(t, e, planInput(1000, 3, 1, "2025-02-10"))
	_, err := e.UpdateInstallment(ctx, items[1].ID, installments.InstallmentPatch{Amount: ptr(cents(233))}, false)
	require.NoError(t, err)

	report, err := e.CheckMismatch(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, report.Mismatched)
	assert.Equal(t, int64(900), report.Sum.Minor())
	assert.Equal(t, int64(1000), report.Declared.Minor())
	assert.Equal(t, int64(-100), report.Difference.Minor())

	synced, err := e.SyncPlanTotal(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900), synced.TotalAmount.Minor())

	report, err = e.CheckMismatch(ctx, plan.ID)
	require.NoError(t, err)
	assert.False(t, report.Mismatched)
	assert.True(t, report.Difference.IsZero())
}

func TestReconcile_SyncIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan, items := createPlan(t, e, planInput(1000, 3, 1, "2025-02-10"))
	_, err := e.UpdateInstallment(ctx, items[0].ID, installments.InstallmentPatch{Amount: ptr(cents(434))}, false)
	require.NoError(t, err)

	first, err := e.SyncPlanTotal(ctx, plan.ID)
	require.NoError(t, err)
	second, err := e.SyncPlanTotal(ctx, plan.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(1100), first.TotalAmount.Minor())
	assert.Equal(t, first.TotalAmount, second.TotalAmount)
	assert.Equal(t, first.Version, second.Version)

	trail, err := e.AuditTrail(ctx, plan.ID, 0)
	require.NoError(t, err)
	synced := 0
	for _, entry := range trail {
		if entry.Action == installments.AuditPlanTotalSynced {
			synced++
		}
	}
	assert.Equal(t, 1, synced)
}

func TestReconcile_CanceledExcludedFromSum(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan, items := createPlan(t, e, planInput(900, 3, 1, "2025-02-10"))
	_, err := e.UpdateInstallment(ctx, items[2].ID, installments.InstallmentPatch{Status: ptr(installments.StatusCanceled)}, false)
	require.NoError(t, err)

	report, err := e.CheckMismatch(ctx, plan.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(600), report.Sum.Minor())
	assert.Equal(t, int64(-300), report.Difference.Minor())
}

func TestReconcile_SyncWithNothingActiveRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan, items := createPlan(t, e, planInput(500, 1, 1, "2025-02-10"))
	_, err := e.UpdateInstallment(ctx, items[0].ID, installments.InstallmentPatch{Status: ptr(installments.StatusCanceled)}, false)
	require.NoError(t, err)

	_, err = e.SyncPlanTotal(ctx, plan.ID)

	assert.ErrorIs(t, err, installments.ErrValidation)
}

func TestReconcile_UnknownPlan(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CheckMismatch(context.Background(), "missing")

	assert.True(t, installments.IsNotFound(err))
}
