package installments

import (
	"context"

	"github.com/warp/installment-engine/money"
	"go.uber.org/zap"
)

// =============================================================================
// RECONCILIATION - Declared total vs active installment sum
// =============================================================================

// computeMismatch compares the declared total with the sum of the pending and
// settled installments. Canceled installments do not count.
func computeMismatch(plan Plan, items []Installment) MismatchReport {
	var sum money.Money
	for _, inst := range items {
		if inst.Active() {
			sum += inst.Amount
		}
	}
	diff := sum - plan.TotalAmount
	return MismatchReport{
		PlanID:     plan.ID,
		Sum:        sum,
		Declared:   plan.TotalAmount,
		Difference: diff,
		Mismatched: !diff.WithinTolerance(),
	}
}

// CheckMismatch reports whether a plan's declared total still matches its
// active installments. A mismatch is a result, not an error.
func (e *Engine) CheckMismatch(ctx context.Context, planID PlanID) (*MismatchReport, error) {
	state, err := e.loadPlanState(ctx, e.store, planID)
	if err != nil {
		return nil, err
	}
	report := computeMismatch(state.Plan, state.Installments)
	return &report, nil
}

// SyncPlanTotal sets the declared total to the active installment sum.
// Calling it on a reconciled plan writes nothing.
func (e *Engine) SyncPlanTotal(ctx context.Context, planID PlanID) (*Plan, error) {
	change, state, err := e.mutatePlan(ctx, planID, "sync_plan_total", func(state *planState) (*planChange, error) {
		report := computeMismatch(state.Plan, state.Installments)
		if report.Sum.IsZero() {
			return nil, invalid("total_amount", "plan %s has no active installments to sum", planID)
		}
		if report.Difference.IsZero() {
			return nil, nil
		}

		plan := state.Plan
		plan.TotalAmount = report.Sum
		plan.UpdatedAt = e.clock.Now().UTC()
		return &planChange{
			Plan: plan,
			Audit: []AuditEntry{e.audit(AuditPlanTotalSynced, planID, "", map[string]any{
				"old_total":  report.Declared.String(),
				"new_total":  report.Sum.String(),
				"difference": report.Difference.String(),
			})},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if change == nil {
		return &state.Plan, nil
	}

	e.logger.Info("plan total synced",
		zap.String("plan_id", string(planID)),
		zap.String("total_amount", change.Plan.TotalAmount.String()),
	)
	return &change.Plan, nil
}
