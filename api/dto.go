/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the engine's
  types from the external contract.

WIRE FORMATS:
  - Amounts: decimal strings in currency units ("10.00"), never floats
  - Dates: "YYYY-MM-DD"
  - Timestamps: RFC 3339

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  DTOs only check wire formats (amount and date syntax). Business validation
  happens in the engine and surfaces as installments.ValidationError.
*/
package api

import (
	"fmt"
	"time"

	"github.com/warp/installment-engine/installments"
	"github.com/warp/installment-engine/money"
)

// =============================================================================
// PLANS
// =============================================================================

// PlanDTO represents a plan in API responses.
type PlanDTO struct {
	ID               string  `json:"id"`
	Description      string  `json:"description"`
	Type             string  `json:"type"`
	PaymentType      string  `json:"payment_type"`
	CategoryID       *string `json:"category_id,omitempty"`
	CardID           *string `json:"card_id,omitempty"`
	TotalAmount      string  `json:"total_amount"`
	InstallmentCount int     `json:"installment_count"`
	IntervalMonths   int     `json:"interval_months"`
	FirstDueDate     string  `json:"first_due_date"`
	Status           string  `json:"status"`
	Notes            *string `json:"notes,omitempty"`
	Version          int64   `json:"version"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// CreatePlanRequest is the request to create a plan.
type CreatePlanRequest struct {
	Description      string  `json:"description"`
	Type             string  `json:"type"`
	PaymentType      string  `json:"payment_type"`
	CategoryID       *string `json:"category_id"`
	CardID           *string `json:"card_id"`
	TotalAmount      string  `json:"total_amount"`
	InstallmentCount int     `json:"installment_count"`
	IntervalMonths   int     `json:"interval_months"`
	FirstDueDate     string  `json:"first_due_date"`
	Notes            *string `json:"notes"`
}

// CreatePlanResponse returns the plan with its generated installments.
type CreatePlanResponse struct {
	Plan         PlanDTO          `json:"plan"`
	Installments []InstallmentDTO `json:"installments"`
}

// UpdatePlanRequest carries only the fields to change.
type UpdatePlanRequest struct {
	Description      *string `json:"description"`
	PaymentType      *string `json:"payment_type"`
	CategoryID       *string `json:"category_id"`
	ClearCategory    bool    `json:"clear_category"`
	CardID           *string `json:"card_id"`
	ClearCard        bool    `json:"clear_card"`
	Notes            *string `json:"notes"`
	ClearNotes       bool    `json:"clear_notes"`
	Status           *string `json:"status"`
	TotalAmount      *string `json:"total_amount"`
	InstallmentCount *int    `json:"installment_count"`
	IntervalMonths   *int    `json:"interval_months"`
	FirstDueDate     *string `json:"first_due_date"`
}

// PlanDetailDTO is a plan with installments, reconciliation and progress.
type PlanDetailDTO struct {
	Plan         PlanDTO          `json:"plan"`
	Installments []InstallmentDTO `json:"installments"`
	Mismatch     MismatchDTO      `json:"mismatch"`
	SettledCount int              `json:"settled_count"`
	OverdueCount int              `json:"overdue_count"`
	PaidTotal    string           `json:"paid_total"`
	OpenTotal    string           `json:"open_total"`
}

// MismatchDTO reports declared total versus installment sum.
type MismatchDTO struct {
	PlanID     string `json:"plan_id"`
	Sum        string `json:"sum"`
	Declared   string `json:"declared"`
	Difference string `json:"difference"`
	Mismatched bool   `json:"mismatched"`
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

// InstallmentDTO represents an installment in API responses.
// Status is the effective status (pending, overdue, settled, canceled).
type InstallmentDTO struct {
	ID           string  `json:"id"`
	PlanID       string  `json:"plan_id"`
	Number       int     `json:"number"`
	Description  string  `json:"description"`
	Type         string  `json:"type"`
	PaymentType  string  `json:"payment_type"`
	Amount       string  `json:"amount"`
	DueDate      string  `json:"due_date"`
	Status       string  `json:"status"`
	StoredStatus string  `json:"stored_status"`
	PaidAmount   *string `json:"paid_amount,omitempty"`
	PaidAt       *string `json:"paid_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// SettleRequest optionally overrides the paid amount and payment time.
type SettleRequest struct {
	Amount *string `json:"amount"`
	PaidAt *string `json:"paid_at"`
}

// UpdateInstallmentRequest carries only the fields to change.
type UpdateInstallmentRequest struct {
	Amount  *string `json:"amount"`
	DueDate *string `json:"due_date"`
	Status  *string `json:"status"`
}

// =============================================================================
// FORECAST / AUDIT / ERRORS
// =============================================================================

// ForecastDTO summarizes open installments due in a range.
type ForecastDTO struct {
	From             string `json:"from"`
	To               string `json:"to"`
	ToPay            string `json:"to_pay"`
	ToReceive        string `json:"to_receive"`
	OverdueToPay     string `json:"overdue_to_pay"`
	OverdueToReceive string `json:"overdue_to_receive"`
	PendingCount     int    `json:"pending_count"`
	OverdueCount     int    `json:"overdue_count"`
}

// AuditEntryDTO represents one audit entry.
type AuditEntryDTO struct {
	ID            string         `json:"id"`
	At            string         `json:"at"`
	Action        string         `json:"action"`
	PlanID        string         `json:"plan_id"`
	InstallmentID string         `json:"installment_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUEST CONVERSION
// =============================================================================

func (req CreatePlanRequest) toInput() (installments.PlanInput, error) {
	total, err := money.ParseMoney(req.TotalAmount)
	if err != nil {
		return installments.PlanInput{}, fmt.Errorf("total_amount: %w", err)
	}
	first, err := installments.ParseDate(req.FirstDueDate)
	if err != nil {
		return installments.PlanInput{}, fmt.Errorf("first_due_date: %w", err)
	}
	return installments.PlanInput{
		Description:      req.Description,
		Type:             installments.TransactionType(req.Type),
		PaymentType:      installments.PaymentType(req.PaymentType),
		CategoryID:       req.CategoryID,
		CardID:           req.CardID,
		TotalAmount:      total,
		InstallmentCount: req.InstallmentCount,
		IntervalMonths:   req.IntervalMonths,
		FirstDueDate:     first,
		Notes:            req.Notes,
	}, nil
}

func (req UpdatePlanRequest) toPatch() (installments.PlanPatch, error) {
	patch := installments.PlanPatch{
		Description:      req.Description,
		CategoryID:       req.CategoryID,
		ClearCategory:    req.ClearCategory,
		CardID:           req.CardID,
		ClearCard:        req.ClearCard,
		Notes:            req.Notes,
		ClearNotes:       req.ClearNotes,
		InstallmentCount: req.InstallmentCount,
		IntervalMonths:   req.IntervalMonths,
	}
	if req.PaymentType != nil {
		pt := installments.PaymentType(*req.PaymentType)
		patch.PaymentType = &pt
	}
	if req.Status != nil {
		st := installments.PlanStatus(*req.Status)
		patch.Status = &st
	}
	if req.TotalAmount != nil {
		total, err := money.ParseMoney(*req.TotalAmount)
		if err != nil {
			return patch, fmt.Errorf("total_amount: %w", err)
		}
		patch.TotalAmount = &total
	}
	if req.FirstDueDate != nil {
		first, err := installments.ParseDate(*req.FirstDueDate)
		if err != nil {
			return patch, fmt.Errorf("first_due_date: %w", err)
		}
		patch.FirstDueDate = &first
	}
	return patch, nil
}

func (req SettleRequest) toInput() (installments.SettleInput, error) {
	var in installments.SettleInput
	if req.Amount != nil {
		amount, err := money.ParseMoney(*req.Amount)
		if err != nil {
			return in, fmt.Errorf("amount: %w", err)
		}
		in.Amount = &amount
	}
	if req.PaidAt != nil {
		paidAt, err := time.Parse(time.RFC3339, *req.PaidAt)
		if err != nil {
			return in, fmt.Errorf("paid_at: %w", err)
		}
		in.PaidAt = &paidAt
	}
	return in, nil
}

func (req UpdateInstallmentRequest) toPatch() (installments.InstallmentPatch, error) {
	var patch installments.InstallmentPatch
	if req.Amount != nil {
		amount, err := money.ParseMoney(*req.Amount)
		if err != nil {
			return patch, fmt.Errorf("amount: %w", err)
		}
		patch.Amount = &amount
	}
	if req.DueDate != nil {
		due, err := installments.ParseDate(*req.DueDate)
		if err != nil {
			return patch, fmt.Errorf("due_date: %w", err)
		}
		patch.DueDate = &due
	}
	if req.Status != nil {
		st := installments.StoredStatus(*req.Status)
		patch.Status = &st
	}
	return patch, nil
}

// =============================================================================
// RESPONSE CONVERSION
// =============================================================================

func toPlanDTO(p installments.Plan) PlanDTO {
	return PlanDTO{
		ID:               string(p.ID),
		Description:      p.Description,
		Type:             string(p.Type),
		PaymentType:      string(p.PaymentType),
		CategoryID:       p.CategoryID,
		CardID:           p.CardID,
		TotalAmount:      p.TotalAmount.String(),
		InstallmentCount: p.InstallmentCount,
		IntervalMonths:   p.IntervalMonths,
		FirstDueDate:     p.FirstDueDate.String(),
		Status:           string(p.Status),
		Notes:            p.Notes,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        p.UpdatedAt.Format(time.RFC3339),
	}
}

func toInstallmentDTO(v installments.InstallmentView) InstallmentDTO {
	dto := InstallmentDTO{
		ID:           string(v.ID),
		PlanID:       string(v.PlanID),
		Number:       v.Number,
		Description:  v.Description,
		Type:         string(v.Type),
		PaymentType:  string(v.PaymentType),
		Amount:       v.Amount.String(),
		DueDate:      v.DueDate.String(),
		Status:       string(v.Effective),
		StoredStatus: string(v.Status),
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    v.UpdatedAt.Format(time.RFC3339),
	}
	if v.PaidAmount != nil {
		s := v.PaidAmount.String()
		dto.PaidAmount = &s
	}
	if v.PaidAt != nil {
		s := v.PaidAt.Format(time.RFC3339)
		dto.PaidAt = &s
	}
	return dto
}

func toInstallmentDTOs(views []installments.InstallmentView) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(views))
	for i, v := range views {
		dtos[i] = toInstallmentDTO(v)
	}
	return dtos
}

func toMismatchDTO(m installments.MismatchReport) MismatchDTO {
	return MismatchDTO{
		PlanID:     string(m.PlanID),
		Sum:        m.Sum.String(),
		Declared:   m.Declared.String(),
		Difference: m.Difference.String(),
		Mismatched: m.Mismatched,
	}
}

func toPlanDetailDTO(d installments.PlanDetail) PlanDetailDTO {
	return PlanDetailDTO{
		Plan:         toPlanDTO(d.Plan),
		Installments: toInstallmentDTOs(d.Installments),
		Mismatch:     toMismatchDTO(d.Mismatch),
		SettledCount: d.SettledCount,
		OverdueCount: d.OverdueCount,
		PaidTotal:    d.PaidTotal.String(),
		OpenTotal:    d.OpenTotal.String(),
	}
}

func toForecastDTO(f installments.ForecastTotals) ForecastDTO {
	return ForecastDTO{
		From:             f.Range.From.String(),
		To:               f.Range.To.String(),
		ToPay:            f.ToPay.String(),
		ToReceive:        f.ToReceive.String(),
		OverdueToPay:     f.OverdueToPay.String(),
		OverdueToReceive: f.OverdueToReceive.String(),
		PendingCount:     f.PendingCount,
		OverdueCount:     f.OverdueCount,
	}
}

func toAuditEntryDTO(e installments.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:            e.ID,
		At:            e.At.Format(time.RFC3339Nano),
		Action:        string(e.Action),
		PlanID:        string(e.PlanID),
		InstallmentID: string(e.InstallmentID),
		Payload:       e.Payload,
	}
}
