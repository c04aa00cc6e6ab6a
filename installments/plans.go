/*
plans.go - Plan lifecycle: create, update (with optional recalculation), delete

CREATE:
  1. Validate shape (count 1..240, interval 1..12, total > 0, date set)
  2. Split the total into count parts (money.Split, exact sum)
  3. Installment k is due FirstDueDate + (k-1)*interval months, clamped
  4. Insert plan and installments in one transaction

UPDATE:
  Scalar fields (description, payment type, category, card, notes, status)
  are always applied. Structural fields (total, count, interval, first due
  date) are always DECLARED on the plan; with recalculateRemaining they also
  reshape the open installments:

    locked = settled or canceled (stored)      -> never touched
    open   = pending (stored, overdue included) -> reshaped

    open target = new total - sum(settled)
    open amounts = money.Redistribute(target, uniform weights)
    open due dates recomputed only above the highest locked number

  Without recalculation the plan may now disagree with its installments;
  CheckMismatch reports it.

DELETE:
  Cascades to installments. Refused when settled installments exist unless
  the engine was configured with AllowDeleteSettledPlans.
*/
package installments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/installment-engine/money"
	"go.uber.org/zap"
)

// =============================================================================
// VALIDATION
// =============================================================================

func validateAmount(field string, m money.Money) error {
	if !m.IsPositive() {
		return invalid(field, "must be greater than zero")
	}
	if m > money.MaxAmount {
		return invalid(field, "must not exceed %s", money.MaxAmount)
	}
	return nil
}

func validateDueDate(field string, d Date) error {
	if d.IsZero() {
		return invalid(field, "is required")
	}
	if !d.Storable() {
		return invalid(field, "year %d outside %d..%d", d.Year(), MinYear, MaxYear)
	}
	return nil
}

func validateShape(total money.Money, count, interval int, first Date) error {
	if err := validateAmount("total_amount", total); err != nil {
		return err
	}
	if count < MinInstallmentCount || count > MaxInstallmentCount {
		return invalid("installment_count", "must be between %d and %d, got %d", MinInstallmentCount, MaxInstallmentCount, count)
	}
	if interval < MinIntervalMonths || interval > MaxIntervalMonths {
		return invalid("interval_months", "must be between %d and %d, got %d", MinIntervalMonths, MaxIntervalMonths, interval)
	}
	if err := validateDueDate("first_due_date", first); err != nil {
		return err
	}
	if last := first.AddMonthsClamped((count - 1) * interval); !last.Storable() {
		return invalid("installment_count", "last installment would fall due in year %d, after %d", last.Year(), MaxYear)
	}
	return nil
}

func (in PlanInput) validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return invalid("description", "must not be empty")
	}
	if !in.Type.Valid() {
		return invalid("type", "must be EXPENSE or INCOME, got %q", in.Type)
	}
	if !in.PaymentType.Valid() {
		return invalid("payment_type", "unknown payment type %q", in.PaymentType)
	}
	return validateShape(in.TotalAmount, in.InstallmentCount, in.IntervalMonths, in.FirstDueDate)
}

func (e *Engine) checkReferences(ctx context.Context, categoryID, cardID *string) error {
	if e.refs == nil {
		return nil
	}
	if categoryID != nil {
		ok, err := e.refs.CategoryExists(ctx, *categoryID)
		if err != nil {
			return fmt.Errorf("failed to look up category: %w", err)
		}
		if !ok {
			return invalid("category_id", "unknown category %q", *categoryID)
		}
	}
	if cardID != nil {
		ok, err := e.refs.CardExists(ctx, *cardID)
		if err != nil {
			return fmt.Errorf("failed to look up card: %w", err)
		}
		if !ok {
			return invalid("card_id", "unknown card %q", *cardID)
		}
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreatePlan validates input, generates its installments and persists both atomically.
func (e *Engine) CreatePlan(ctx context.Context, in PlanInput) (*Plan, []Installment, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	if err := e.checkReferences(ctx, in.CategoryID, in.CardID); err != nil {
		return nil, nil, err
	}

	amounts, err := money.Split(in.TotalAmount, in.InstallmentCount)
	if err != nil {
		return nil, nil, invalid("total_amount", "%v", err)
	}

	now := e.clock.Now().UTC()
	plan := Plan{
		ID:               PlanID(e.newID()),
		Description:      strings.TrimSpace(in.Description),
		Type:             in.Type,
		PaymentType:      in.PaymentType,
		CategoryID:       in.CategoryID,
		CardID:           in.CardID,
		TotalAmount:      in.TotalAmount,
		InstallmentCount: in.InstallmentCount,
		IntervalMonths:   in.IntervalMonths,
		FirstDueDate:     in.FirstDueDate,
		Status:           PlanActive,
		Notes:            in.Notes,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	items := make([]Installment, in.InstallmentCount)
	for k := range items {
		items[k] = e.newInstallment(plan, k+1, amounts[k], now)
	}

	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.InsertPlan(ctx, plan); err != nil {
			return err
		}
		if err := s.InsertInstallments(ctx, items); err != nil {
			return err
		}
		return s.AppendAudit(ctx, e.audit(AuditPlanCreated, plan.ID, "", map[string]any{
			"total_amount":      plan.TotalAmount.String(),
			"installment_count": plan.InstallmentCount,
			"interval_months":   plan.IntervalMonths,
			"first_due_date":    plan.FirstDueDate.String(),
		}))
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create plan: %w", err)
	}

	e.logger.Info("plan created",
		zap.String("plan_id", string(plan.ID)),
		zap.String("total_amount", plan.TotalAmount.String()),
		zap.Int("installments", plan.InstallmentCount),
	)
	return &plan, items, nil
}

func (e *Engine) newInstallment(plan Plan, number int, amount money.Money, now time.Time) Installment {
	return Installment{
		ID:          InstallmentID(e.newID()),
		PlanID:      plan.ID,
		Number:      number,
		Description: plan.Description,
		Type:        plan.Type,
		PaymentType: plan.PaymentType,
		Amount:      amount,
		DueDate:     plan.DueDateFor(number),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdatePlan applies patch to the plan. See the file header for the
// recalculation rules.
func (e *Engine) UpdatePlan(ctx context.Context, id PlanID, patch PlanPatch, recalculateRemaining bool) (*Plan, error) {
	// Cleared references are dropped, not looked up.
	categoryID, cardID := patch.CategoryID, patch.CardID
	if patch.ClearCategory {
		categoryID = nil
	}
	if patch.ClearCard {
		cardID = nil
	}
	if err := e.checkReferences(ctx, categoryID, cardID); err != nil {
		return nil, err
	}

	change, state, err := e.mutatePlan(ctx, id, "update_plan", func(state *planState) (*planChange, error) {
		return e.computePlanUpdate(state, patch, recalculateRemaining)
	})
	if err != nil {
		return nil, err
	}
	if change == nil {
		return &state.Plan, nil
	}
	return &change.Plan, nil
}

func (e *Engine) computePlanUpdate(state *planState, patch PlanPatch, recalc bool) (*planChange, error) {
	now := e.clock.Now().UTC()
	plan := state.Plan
	after := cloneInstallments(state.Installments)

	// Scalars
	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		if d == "" {
			return nil, invalid("description", "must not be empty")
		}
		plan.Description = d
	}
	if patch.PaymentType != nil {
		if !patch.PaymentType.Valid() {
			return nil, invalid("payment_type", "unknown payment type %q", *patch.PaymentType)
		}
		plan.PaymentType = *patch.PaymentType
	}
	switch {
	case patch.ClearCategory:
		plan.CategoryID = nil
	case patch.CategoryID != nil:
		plan.CategoryID = patch.CategoryID
	}
	switch {
	case patch.ClearCard:
		plan.CardID = nil
	case patch.CardID != nil:
		plan.CardID = patch.CardID
	}
	switch {
	case patch.ClearNotes:
		plan.Notes = nil
	case patch.Notes != nil:
		plan.Notes = patch.Notes
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, invalid("status", "unknown plan status %q", *patch.Status)
		}
		plan.Status = *patch.Status
	}

	// Denormalized copies follow the plan on open installments only.
	for i := range after {
		if after[i].Status == StatusPending {
			after[i].Description = plan.Description
			after[i].PaymentType = plan.PaymentType
		}
	}

	// Structural fields are always declared.
	old := state.Plan
	if patch.TotalAmount != nil {
		plan.TotalAmount = *patch.TotalAmount
	}
	if patch.InstallmentCount != nil {
		plan.InstallmentCount = *patch.InstallmentCount
	}
	if patch.IntervalMonths != nil {
		plan.IntervalMonths = *patch.IntervalMonths
	}
	if patch.FirstDueDate != nil {
		plan.FirstDueDate = *patch.FirstDueDate
	}
	if err := validateShape(plan.TotalAmount, plan.InstallmentCount, plan.IntervalMonths, plan.FirstDueDate); err != nil {
		return nil, err
	}

	scheduleChanged := plan.IntervalMonths != old.IntervalMonths || !plan.FirstDueDate.Equal(old.FirstDueDate)
	structural := plan.TotalAmount != old.TotalAmount || plan.InstallmentCount != old.InstallmentCount || scheduleChanged

	if structural && recalc {
		var err error
		after, err = e.recalculateOpen(plan, after, scheduleChanged, now)
		if err != nil {
			return nil, err
		}
	} else if n := highestNumber(after); n > plan.InstallmentCount {
		return nil, invalid("installment_count", "installment #%d exists; lowering the count requires recalculation", n)
	}

	plan.UpdatedAt = now
	change := &planChange{Plan: plan}
	change.Insert, change.Update, change.Delete = diffInstallments(state.Installments, after)
	touch(change.Update, now)
	change.Audit = append(change.Audit, e.audit(AuditPlanUpdated, plan.ID, "", map[string]any{
		"recalculate":       recalc,
		"structural":        structural,
		"total_amount":      plan.TotalAmount.String(),
		"installment_count": plan.InstallmentCount,
		"interval_months":   plan.IntervalMonths,
		"first_due_date":    plan.FirstDueDate.String(),
		"inserted":          len(change.Insert),
		"updated":           len(change.Update),
		"deleted":           len(change.Delete),
	}))
	return change, nil
}

// recalculateOpen reshapes the pending installments of plan so that the
// active installments sum to plan.TotalAmount. Settled and canceled
// installments are never modified.
func (e *Engine) recalculateOpen(plan Plan, items []Installment, scheduleChanged bool, now time.Time) ([]Installment, error) {
	// Count changes: drop open installments past the new count, append new ones.
	maxNumber := highestNumber(items)
	kept := items[:0]
	for _, inst := range items {
		if inst.Number > plan.InstallmentCount {
			if inst.Locked() {
				return nil, invalid("installment_count", "cannot drop %s installment #%d", inst.Status, inst.Number)
			}
			continue
		}
		kept = append(kept, inst)
	}
	items = kept
	for n := maxNumber + 1; n <= plan.InstallmentCount; n++ {
		items = append(items, e.newInstallment(plan, n, 0, now))
	}

	var (
		settled     money.Money
		maxLocked   int
		openIndexes []int
	)
	for i, inst := range items {
		switch {
		case inst.Status == StatusSettled:
			settled += inst.Amount
			maxLocked = max(maxLocked, inst.Number)
		case inst.Status == StatusCanceled:
			maxLocked = max(maxLocked, inst.Number)
		default:
			openIndexes = append(openIndexes, i)
		}
	}
	if len(openIndexes) == 0 {
		return items, nil
	}

	target := plan.TotalAmount - settled
	if target < money.Money(len(openIndexes)) {
		return nil, invalid("total_amount",
			"new total %s leaves %s for %d open installment(s) after %s already settled",
			plan.TotalAmount, target, len(openIndexes), settled)
	}

	weights := make([]money.Money, len(openIndexes))
	for i := range weights {
		weights[i] = 1
	}
	amounts, err := money.Redistribute(target, weights)
	if err != nil {
		return nil, invalid("total_amount", "%v", err)
	}

	for j, idx := range openIndexes {
		inst := &items[idx]
		inst.Amount = amounts[j]
		isNew := inst.Number > maxNumber
		if isNew || (scheduleChanged && inst.Number > maxLocked) {
			inst.DueDate = plan.DueDateFor(inst.Number)
		}
	}
	return items, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeletePlan removes a plan and all its installments.
func (e *Engine) DeletePlan(ctx context.Context, id PlanID) error {
	_, _, err := e.mutatePlan(ctx, id, "delete_plan", func(state *planState) (*planChange, error) {
		settled := 0
		for _, inst := range state.Installments {
			if inst.Status == StatusSettled {
				settled++
			}
		}
		if settled > 0 && !e.allowDeleteSettled {
			return nil, &SettledInstallmentError{PlanID: id, Operation: "delete", SettledCount: settled}
		}
		return &planChange{
			Plan:       state.Plan,
			DeletePlan: true,
			Audit: []AuditEntry{e.audit(AuditPlanDeleted, id, "", map[string]any{
				"installments": len(state.Installments),
				"settled":      settled,
				"total_amount": state.Plan.TotalAmount.String(),
				"description":  state.Plan.Description,
			})},
		}, nil
	})
	return err
}

// =============================================================================
// READ
// =============================================================================

// GetPlan returns the plan with its installments as of now.
func (e *Engine) GetPlan(ctx context.Context, id PlanID) (*PlanDetail, error) {
	state, err := e.loadPlanState(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	today := e.Today()

	detail := &PlanDetail{
		Plan:         state.Plan,
		Installments: make([]InstallmentView, len(state.Installments)),
		Mismatch:     computeMismatch(state.Plan, state.Installments),
	}
	for i, inst := range state.Installments {
		eff := inst.EffectiveStatus(today)
		detail.Installments[i] = InstallmentView{Installment: inst, Effective: eff}
		switch eff {
		case EffectiveSettled:
			detail.SettledCount++
			if inst.PaidAmount != nil {
				detail.PaidTotal += *inst.PaidAmount
			}
		case EffectiveOverdue:
			detail.OverdueCount++
			detail.OpenTotal += inst.Amount
		case EffectivePending:
			detail.OpenTotal += inst.Amount
		}
	}
	return detail, nil
}

// ListPlans returns plans with at least one installment due in the filter range.
func (e *Engine) ListPlans(ctx context.Context, filter PlanFilter, page Page) ([]Plan, error) {
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, invalid("type", "must be EXPENSE or INCOME, got %q", *filter.Type)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, invalid("from", "must not be after to")
	}
	return e.store.ListPlans(ctx, PlanQuery{PlanFilter: filter, Page: page})
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneInstallments(items []Installment) []Installment {
	out := make([]Installment, len(items))
	copy(out, items)
	return out
}

func highestNumber(items []Installment) int {
	n := 0
	for _, inst := range items {
		n = max(n, inst.Number)
	}
	return n
}

func touch(items []Installment, now time.Time) {
	for i := range items {
		items[i].UpdatedAt = now
	}
}
