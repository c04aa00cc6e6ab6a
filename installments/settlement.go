/*
settlement.go - Installment lifecycle: settle, edit, delete, list

STATE MACHINE (stored status):

	pending --settle--> settled   (terminal, immutable)
	pending --edit----> canceled  (terminal for edits; may still be deleted)
	pending --edit----> pending

Overdue is not a state: it is pending with a due date before today, and it
settles exactly like pending.

OVERRUN GUARD:
  When the plan is reconciled (declared total equals the active sum), a
  settlement may not push the active sum above the declared total. When the
  plan is already mismatched the guard is skipped; the caller is expected to
  reconcile explicitly.

RECALCULATION ON EDIT:
  Changing one pending installment's amount with recalculateRemaining moves
  the difference onto the other pending installments, proportionally to
  their current amounts (money.Redistribute), so the plan's active sum is
  unchanged.
*/
package installments

import (
	"context"

	"github.com/warp/installment-engine/money"
	"go.uber.org/zap"
)

// =============================================================================
// SETTLE
// =============================================================================

// SettleInstallment marks a pending (or overdue) installment as paid.
// Without an explicit amount the scheduled amount is paid; without PaidAt the
// clock's now is recorded.
func (e *Engine) SettleInstallment(ctx context.Context, id InstallmentID, in SettleInput) (*Installment, error) {
	if in.Amount != nil {
		if err := validateAmount("amount", *in.Amount); err != nil {
			return nil, err
		}
	}

	planID, err := e.planOf(ctx, id)
	if err != nil {
		return nil, err
	}

	change, _, err := e.mutatePlan(ctx, planID, "settle_installment", func(state *planState) (*planChange, error) {
		inst, ok := state.find(id)
		if !ok {
			return nil, InstallmentNotFound(id)
		}
		switch inst.Status {
		case StatusSettled:
			return nil, &SettledInstallmentError{PlanID: planID, InstallmentID: id, Operation: "settle"}
		case StatusCanceled:
			return nil, invalid("status", "installment %s is canceled", id)
		}

		amount := inst.Amount
		if in.Amount != nil {
			amount = *in.Amount
		}

		report := computeMismatch(state.Plan, state.Installments)
		if !report.Mismatched {
			others := report.Sum - inst.Amount
			if others+amount > state.Plan.TotalAmount {
				return nil, &AmountExceedsPlanTotalError{
					PlanID:        planID,
					InstallmentID: id,
					Declared:      state.Plan.TotalAmount,
					OthersSum:     others,
					Requested:     amount,
				}
			}
		}

		now := e.clock.Now().UTC()
		paidAt := now
		if in.PaidAt != nil {
			paidAt = in.PaidAt.UTC()
		}
		scheduled := inst.Amount
		inst.Status = StatusSettled
		inst.Amount = amount
		inst.PaidAmount = &amount
		inst.PaidAt = &paidAt
		inst.UpdatedAt = now

		plan := state.Plan
		plan.UpdatedAt = now
		return &planChange{
			Plan:   plan,
			Update: []Installment{inst},
			Audit: []AuditEntry{e.audit(AuditInstallmentSettled, planID, id, map[string]any{
				"number":    inst.Number,
				"scheduled": scheduled.String(),
				"paid":      amount.String(),
				"paid_at":   paidAt,
			})},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	settled := change.Update[0]
	e.logger.Info("installment settled",
		zap.String("plan_id", string(planID)),
		zap.String("installment_id", string(id)),
		zap.String("amount", settled.Amount.String()),
	)
	return &settled, nil
}

// =============================================================================
// EDIT
// =============================================================================

// UpdateInstallment edits a pending installment.
func (e *Engine) UpdateInstallment(ctx context.Context, id InstallmentID, patch InstallmentPatch, recalculateRemaining bool) (*Installment, error) {
	if patch.Amount != nil {
		if err := validateAmount("amount", *patch.Amount); err != nil {
			return nil, err
		}
	}
	if patch.Status != nil && *patch.Status != StatusPending && *patch.Status != StatusCanceled {
		return nil, invalid("status", "must be pending or canceled, got %q", *patch.Status)
	}

	planID, err := e.planOf(ctx, id)
	if err != nil {
		return nil, err
	}

	var result Installment
	_, _, err = e.mutatePlan(ctx, planID, "update_installment", func(state *planState) (*planChange, error) {
		inst, ok := state.find(id)
		if !ok {
			return nil, InstallmentNotFound(id)
		}
		switch inst.Status {
		case StatusSettled:
			return nil, &SettledInstallmentError{PlanID: planID, InstallmentID: id, Operation: "update"}
		case StatusCanceled:
			return nil, invalid("status", "installment %s is canceled", id)
		}

		after := cloneInstallments(state.Installments)
		idx := indexOf(after, id)
		target := &after[idx]
		payload := map[string]any{"number": inst.Number, "recalculate": recalculateRemaining}

		if patch.Amount != nil && *patch.Amount != inst.Amount {
			payload["old_amount"] = inst.Amount.String()
			payload["new_amount"] = patch.Amount.String()
			if recalculateRemaining {
				if err := redistributeOthers(after, idx, *patch.Amount-inst.Amount); err != nil {
					return nil, err
				}
			}
			target.Amount = *patch.Amount
		}
		if patch.DueDate != nil {
			if err := validateDueDate("due_date", *patch.DueDate); err != nil {
				return nil, err
			}
			payload["due_date"] = patch.DueDate.String()
			target.DueDate = *patch.DueDate
		}
		if patch.Status != nil {
			payload["status"] = string(*patch.Status)
			target.Status = *patch.Status
		}
		result = *target

		_, update, _ := diffInstallments(state.Installments, after)
		if len(update) == 0 {
			return nil, nil
		}
		now := e.clock.Now().UTC()
		touch(update, now)
		result.UpdatedAt = now

		plan := state.Plan
		plan.UpdatedAt = now
		return &planChange{
			Plan:   plan,
			Update: update,
			Audit:  []AuditEntry{e.audit(AuditInstallmentUpdated, planID, id, payload)},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// redistributeOthers absorbs delta into the pending installments other than
// items[skip], proportionally to their current amounts.
func redistributeOthers(items []Installment, skip int, delta money.Money) error {
	var (
		indexes []int
		weights []money.Money
		sum     money.Money
	)
	for i, inst := range items {
		if i == skip || inst.Status != StatusPending {
			continue
		}
		indexes = append(indexes, i)
		weights = append(weights, inst.Amount)
		sum += inst.Amount
	}
	if len(indexes) == 0 {
		return invalid("amount", "no other pending installment can absorb the difference")
	}

	target := sum - delta
	if target < money.Money(len(indexes)) {
		return invalid("amount", "other pending installments total %s and cannot absorb a change of %s", sum, delta)
	}
	amounts, err := money.Redistribute(target, weights)
	if err != nil {
		return invalid("amount", "%v", err)
	}
	for j, i := range indexes {
		items[i].Amount = amounts[j]
	}
	return nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteInstallment removes a pending or canceled installment. The remaining
// installments are not redistributed.
func (e *Engine) DeleteInstallment(ctx context.Context, id InstallmentID) error {
	planID, err := e.planOf(ctx, id)
	if err != nil {
		return err
	}

	_, _, err = e.mutatePlan(ctx, planID, "delete_installment", func(state *planState) (*planChange, error) {
		inst, ok := state.find(id)
		if !ok {
			return nil, InstallmentNotFound(id)
		}
		if inst.Status == StatusSettled {
			return nil, &SettledInstallmentError{PlanID: planID, InstallmentID: id, Operation: "delete"}
		}
		plan := state.Plan
		plan.UpdatedAt = e.clock.Now().UTC()
		return &planChange{
			Plan:   plan,
			Delete: []InstallmentID{id},
			Audit: []AuditEntry{e.audit(AuditInstallmentDeleted, planID, id, map[string]any{
				"number": inst.Number,
				"amount": inst.Amount.String(),
				"status": string(inst.Status),
			})},
		}, nil
	})
	return err
}

// =============================================================================
// READ
// =============================================================================

// GetInstallment returns one installment with its effective status.
func (e *Engine) GetInstallment(ctx context.Context, id InstallmentID) (*InstallmentView, error) {
	inst, err := e.store.GetInstallment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InstallmentView{Installment: *inst, Effective: inst.EffectiveStatus(e.Today())}, nil
}

// ListInstallments lists installments ordered by due date. A status filter
// matches the effective status as of today.
func (e *Engine) ListInstallments(ctx context.Context, filter InstallmentFilter, page Page) ([]InstallmentView, error) {
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, invalid("type", "must be EXPENSE or INCOME, got %q", *filter.Type)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, invalid("from", "must not be after to")
	}

	today := e.Today()
	q := InstallmentQuery{
		PlanID: filter.PlanID,
		From:   filter.From,
		To:     filter.To,
		Type:   filter.Type,
		Page:   page,
	}
	if filter.Status != nil {
		switch *filter.Status {
		case EffectivePending:
			q.Statuses = []StoredStatus{StatusPending}
			if q.From == nil || q.From.Before(today) {
				q.From = &today
			}
		case EffectiveOverdue:
			q.Statuses = []StoredStatus{StatusPending}
			q.DueBefore = &today
		case EffectiveSettled:
			q.Statuses = []StoredStatus{StatusSettled}
		case EffectiveCanceled:
			q.Statuses = []StoredStatus{StatusCanceled}
		default:
			return nil, invalid("status", "unknown status %q", *filter.Status)
		}
	}

	items, err := e.store.ListInstallments(ctx, q)
	if err != nil {
		return nil, err
	}
	views := make([]InstallmentView, len(items))
	for i, inst := range items {
		views[i] = InstallmentView{Installment: inst, Effective: inst.EffectiveStatus(today)}
	}
	return views, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) planOf(ctx context.Context, id InstallmentID) (PlanID, error) {
	inst, err := e.store.GetInstallment(ctx, id)
	if err != nil {
		return "", err
	}
	return inst.PlanID, nil
}

func indexOf(items []Installment, id InstallmentID) int {
	for i, inst := range items {
		if inst.ID == id {
			return i
		}
	}
	return -1
}
