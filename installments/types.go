/*
Package installments provides the installment plan reconciliation and
settlement engine.

PURPOSE:
  Manages "future transactions": a purchase or receivable declared once as a
  plan and split into N periodic installments. The engine creates plans,
  settles and edits individual installments, recalculates the open future
  when a plan changes, detects plan/installment total divergence and
  aggregates forecasts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Plan: the declared obligation (total, count, interval, first due date)
  - Installment: one scheduled slice of a plan
  - StoredStatus vs EffectiveStatus: "overdue" is never stored
  - Typed patches: PlanPatch and InstallmentPatch carry only the fields each
    operation may touch

DESIGN PRINCIPLES:
  1. Declared totals: Plan.TotalAmount is never recomputed automatically
  2. Precision: amounts are integer minor units (money.Money)
  3. Terminality: settled installments never change again
  4. Derived status: overdue is computed from the clock on every read

SEE ALSO:
  - engine.go: Engine construction and dependencies
  - plans.go: plan lifecycle
  - settlement.go: installment lifecycle
  - reconcile.go: mismatch detection and sync
  - forecast.go: read-side aggregates
*/
package installments

import (
	"time"

	"github.com/warp/installment-engine/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PlanID string
type InstallmentID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

type TransactionType string

const (
	TypeExpense TransactionType = "EXPENSE"
	TypeIncome  TransactionType = "INCOME"
)

func (t TransactionType) Valid() bool {
	return t == TypeExpense || t == TypeIncome
}

type PaymentType string

const (
	PaymentDebitCard  PaymentType = "DEBIT_CARD"
	PaymentCreditCard PaymentType = "CREDIT_CARD"
	PaymentPix        PaymentType = "PIX"
	PaymentBoleto     PaymentType = "BOLETO"
	PaymentTED        PaymentType = "TED"
	PaymentDOC        PaymentType = "DOC"
	PaymentMoney      PaymentType = "MONEY"
	PaymentCash       PaymentType = "CASH"
	PaymentOther      PaymentType = "OTHER"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentDebitCard, PaymentCreditCard, PaymentPix, PaymentBoleto,
		PaymentTED, PaymentDOC, PaymentMoney, PaymentCash, PaymentOther:
		return true
	}
	return false
}

type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanCanceled  PlanStatus = "canceled"
)

func (s PlanStatus) Valid() bool {
	return s == PlanActive || s == PlanCompleted || s == PlanCanceled
}

// Limits on plan shape.
const (
	MinInstallmentCount = 1
	MaxInstallmentCount = 240
	MinIntervalMonths   = 1
	MaxIntervalMonths   = 12
)

// =============================================================================
// PLAN
// =============================================================================

// Plan is a declared financial obligation split into installments.
//
// TotalAmount is the DECLARED total. It is not recomputed from the
// installments; divergence is reported by CheckMismatch and resolved only by
// an explicit SyncPlanTotal.
type Plan struct {
	ID               PlanID
	Description      string
	Type             TransactionType
	PaymentType      PaymentType
	CategoryID       *string
	CardID           *string
	TotalAmount      money.Money
	InstallmentCount int
	IntervalMonths   int
	FirstDueDate     Date
	Status           PlanStatus
	Notes            *string

	// Version is the optimistic concurrency counter. Every write touching the
	// plan or its installment set must commit against the version it read.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DueDateFor returns the scheduled due date of installment number n (1-based).
// Always computed from FirstDueDate so day-of-month clamping never compounds.
func (p Plan) DueDateFor(n int) Date {
	return p.FirstDueDate.AddMonthsClamped((n - 1) * p.IntervalMonths)
}

// =============================================================================
// INSTALLMENT
// =============================================================================

// Installment is one scheduled slice of a plan. Description, Type and
// PaymentType are copies taken from the plan when the installment was generated.
type Installment struct {
	ID          InstallmentID
	PlanID      PlanID
	Number      int
	Description string
	Type        TransactionType
	PaymentType PaymentType
	Amount      money.Money
	DueDate     Date
	Status      StoredStatus

	// Set only when Status == StatusSettled
	PaidAmount *money.Money
	PaidAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether recalculation must leave this installment alone.
func (i Installment) Locked() bool {
	return i.Status == StatusSettled || i.Status == StatusCanceled
}

// Active reports whether the installment counts toward the plan's realized sum.
func (i Installment) Active() bool {
	return i.Status == StatusPending || i.Status == StatusSettled
}

// EffectiveStatus derives the reader-visible status for the given day.
func (i Installment) EffectiveStatus(today Date) EffectiveStatus {
	return EffectiveStatusOf(i.Status, i.DueDate, today)
}

func (i Installment) sameAs(o Installment) bool {
	if i.ID != o.ID || i.Number != o.Number || i.Description != o.Description ||
		i.Type != o.Type || i.PaymentType != o.PaymentType || i.Amount != o.Amount ||
		!i.DueDate.Equal(o.DueDate) || i.Status != o.Status {
		return false
	}
	if (i.PaidAmount == nil) != (o.PaidAmount == nil) || (i.PaidAt == nil) != (o.PaidAt == nil) {
		return false
	}
	if i.PaidAmount != nil && *i.PaidAmount != *o.PaidAmount {
		return false
	}
	if i.PaidAt != nil && !i.PaidAt.Equal(*o.PaidAt) {
		return false
	}
	return true
}

// InstallmentView is an installment together with its status as of a read.
type InstallmentView struct {
	Installment
	Effective EffectiveStatus
}

// =============================================================================
// INPUTS AND PATCHES
// =============================================================================

// PlanInput is everything needed to create a plan.
type PlanInput struct {
	Description      string
	Type             TransactionType
	PaymentType      PaymentType
	CategoryID       *string
	CardID           *string
	TotalAmount      money.Money
	InstallmentCount int
	IntervalMonths   int
	FirstDueDate     Date
	Notes            *string
}

// PlanPatch lists the plan fields an update may touch. Nil means unchanged.
// The Clear* flags remove an optional reference or note.
type PlanPatch struct {
	Description   *string
	PaymentType   *PaymentType
	CategoryID    *string
	ClearCategory bool
	CardID        *string
	ClearCard     bool
	Notes         *string
	ClearNotes    bool
	Status        *PlanStatus

	// Structural fields: changing any of these can reshape open installments
	// when the update asks for recalculation.
	TotalAmount      *money.Money
	InstallmentCount *int
	IntervalMonths   *int
	FirstDueDate     *Date
}

// InstallmentPatch lists the installment fields an edit may touch.
// Status accepts only StatusPending or StatusCanceled.
type InstallmentPatch struct {
	Amount  *money.Money
	DueDate *Date
	Status  *StoredStatus
}

// SettleInput optionally overrides the paid amount and payment time.
type SettleInput struct {
	Amount *money.Money
	PaidAt *time.Time
}

// =============================================================================
// QUERIES
// =============================================================================

// Page bounds a list query. Limit 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}

// PlanFilter selects plans with at least one installment due in [From, To].
type PlanFilter struct {
	From *Date
	To   *Date
	Type *TransactionType
}

// InstallmentFilter selects installments. Status matches the EFFECTIVE status.
type InstallmentFilter struct {
	PlanID *PlanID
	From   *Date
	To     *Date
	Type   *TransactionType
	Status *EffectiveStatus
}

// =============================================================================
// RESULTS
// =============================================================================

// MismatchReport compares a plan's declared total with the sum of its active
// (pending or settled) installments. Difference = Sum - Declared.
type MismatchReport struct {
	PlanID     PlanID
	Sum        money.Money
	Declared   money.Money
	Difference money.Money
	Mismatched bool
}

// PlanDetail is a plan with its installments as of a read.
type PlanDetail struct {
	Plan         Plan
	Installments []InstallmentView
	Mismatch     MismatchReport
	SettledCount int
	OverdueCount int
	PaidTotal    money.Money
	OpenTotal    money.Money
}

// ForecastTotals summarizes open installments due within a date range.
type ForecastTotals struct {
	Range            DateRange
	ToPay            money.Money
	ToReceive        money.Money
	OverdueToPay     money.Money
	OverdueToReceive money.Money
	PendingCount     int
	OverdueCount     int
}
