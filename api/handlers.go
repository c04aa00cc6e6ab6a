/*
handlers.go - HTTP API handlers for the installment engine

PURPOSE:
  Exposes installments.Engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Plans:
    POST   /api/plans                  Create plan and its installments
    GET    /api/plans                  List plans (from, to, type, limit, offset)
    GET    /api/plans/{id}             Plan detail with installments and progress
    PATCH  /api/plans/{id}             Update plan (?recalculate=true reshapes open installments)
    DELETE /api/plans/{id}             Delete plan and installments
    GET    /api/plans/{id}/mismatch    Declared total versus installment sum
    POST   /api/plans/{id}/sync        Set declared total to installment sum
    GET    /api/plans/{id}/audit       Audit entries (limit)

  Installments:
    GET    /api/installments           List (plan_id, from, to, type, status, limit, offset)
    GET    /api/installments/{id}      Get installment
    POST   /api/installments/{id}/settle  Settle (optional amount, paid_at)
    PATCH  /api/installments/{id}      Edit amount, due date or status (?recalculate=true)
    DELETE /api/installments/{id}      Delete installment

  Forecast:
    GET    /api/forecast               Totals for from..to (current month by default)

ERROR HANDLING:
  Engine errors map to HTTP status in writeEngineError:
  - 400: Validation errors, malformed input
  - 404: Plan or installment not found
  - 409: Settled installment is immutable, concurrent modification
  - 422: Settlement amount exceeds plan total
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/installment-engine/installments"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *installments.Engine
	Logger *zap.Logger
}

// NewHandler creates a new handler over engine. A nil logger disables logging.
func NewHandler(engine *installments.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Logger: logger}
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// CreatePlan creates a plan and generates its installments.
// POST /api/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, items, err := h.Engine.CreatePlan(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, r, "Failed to create plan", err)
		return
	}

	today := h.Engine.Today()
	views := make([]installments.InstallmentView, len(items))
	for i, inst := range items {
		views[i] = installments.InstallmentView{Installment: inst, Effective: inst.EffectiveStatus(today)}
	}
	writeJSON(w, http.StatusCreated, CreatePlanResponse{
		Plan:         toPlanDTO(*plan),
		Installments: toInstallmentDTOs(views),
	})
}

// ListPlans returns plans with an installment due in the optional range.
// GET /api/plans?from=2025-01-01&to=2025-01-31&type=EXPENSE&limit=20&offset=0
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter installments.PlanFilter
	var err error
	if filter.From, err = optionalDate(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	if filter.To, err = optionalDate(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}
	if v := q.Get("type"); v != "" {
		t := installments.TransactionType(v)
		filter.Type = &t
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}

	plans, err := h.Engine.ListPlans(r.Context(), filter, page)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPlan returns a plan with installments, mismatch report and progress.
// GET /api/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Engine.GetPlan(r.Context(), planID(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDetailDTO(*detail))
}

// UpdatePlan applies a partial update.
// PATCH /api/plans/{id}?recalculate=true
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	recalc, err := parseRecalculate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recalculate flag", err)
		return
	}
	var req UpdatePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, err := h.Engine.UpdatePlan(r.Context(), planID(r), patch, recalc)
	if err != nil {
		h.writeEngineError(w, r, "Failed to update plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

// DeletePlan deletes a plan and all its installments.
// DELETE /api/plans/{id}
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeletePlan(r.Context(), planID(r)); err != nil {
		h.writeEngineError(w, r, "Failed to delete plan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckMismatch compares the declared total with the installment sum.
// GET /api/plans/{id}/mismatch
func (h *Handler) CheckMismatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.CheckMismatch(r.Context(), planID(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to check plan total", err)
		return
	}
	writeJSON(w, http.StatusOK, toMismatchDTO(*report))
}

// SyncPlanTotal sets the declared total to the installment sum.
// POST /api/plans/{id}/sync
func (h *Handler) SyncPlanTotal(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Engine.SyncPlanTotal(r.Context(), planID(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to sync plan total", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

// GetAuditTrail returns the audit entries of a plan, oldest first.
// GET /api/plans/{id}/audit?limit=50
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}
	entries, err := h.Engine.AuditTrail(r.Context(), planID(r), page.Limit)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get audit trail", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// ListInstallments returns installments matching the filter, by due date.
// GET /api/installments?plan_id=...&from=...&to=...&type=INCOME&status=overdue
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter installments.InstallmentFilter
	var err error
	if v := q.Get("plan_id"); v != "" {
		id := installments.PlanID(v)
		filter.PlanID = &id
	}
	if filter.From, err = optionalDate(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	if filter.To, err = optionalDate(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}
	if v := q.Get("type"); v != "" {
		t := installments.TransactionType(v)
		filter.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := installments.EffectiveStatus(v)
		filter.Status = &s
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}

	views, err := h.Engine.ListInstallments(r.Context(), filter, page)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(views))
}

// GetInstallment returns a single installment with its effective status.
// GET /api/installments/{id}
func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.GetInstallment(r.Context(), installmentID(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(*view))
}

// SettleInstallment records a payment. An empty body settles the scheduled amount now.
// POST /api/installments/{id}/settle
func (h *Handler) SettleInstallment(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inst, err := h.Engine.SettleInstallment(r.Context(), installmentID(r), in)
	if err != nil {
		h.writeEngineError(w, r, "Failed to settle installment", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(*inst))
}

// UpdateInstallment edits an unsettled installment.
// PATCH /api/installments/{id}?recalculate=true
func (h *Handler) UpdateInstallment(w http.ResponseWriter, r *http.Request) {
	recalc, err := parseRecalculate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recalculate flag", err)
		return
	}
	var req UpdateInstallmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inst, err := h.Engine.UpdateInstallment(r.Context(), installmentID(r), patch, recalc)
	if err != nil {
		h.writeEngineError(w, r, "Failed to update installment", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(*inst))
}

// DeleteInstallment removes an unsettled installment without redistributing.
// DELETE /api/installments/{id}
func (h *Handler) DeleteInstallment(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteInstallment(r.Context(), installmentID(r)); err != nil {
		h.writeEngineError(w, r, "Failed to delete installment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// FORECAST HANDLER
// =============================================================================

// Forecast returns open totals for a range, defaulting to the current month.
// GET /api/forecast?from=2025-01-01&to=2025-01-31
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	now := h.Engine.Now()
	today := installments.DateOf(now, h.Engine.Location())
	rng := installments.MonthRange(today.Year(), today.Month())

	q := r.URL.Query()
	from, err := optionalDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	to, err := optionalDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}
	if from != nil {
		rng.From = *from
	}
	if to != nil {
		rng.To = *to
	}

	totals, err := h.Engine.Forecast(r.Context(), rng, now)
	if err != nil {
		h.writeEngineError(w, r, "Failed to compute forecast", err)
		return
	}
	writeJSON(w, http.StatusOK, toForecastDTO(*totals))
}

// =============================================================================
// HELPERS
// =============================================================================

func planID(r *http.Request) installments.PlanID {
	return installments.PlanID(chi.URLParam(r, "id"))
}

func installmentID(r *http.Request) installments.InstallmentID {
	return installments.InstallmentID(chi.URLParam(r, "id"))
}

func (h *Handler) view(inst installments.Installment) InstallmentDTO {
	return toInstallmentDTO(installments.InstallmentView{
		Installment: inst,
		Effective:   inst.EffectiveStatus(h.Engine.Today()),
	})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func optionalDate(s string) (*installments.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := installments.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parsePage(r *http.Request) (installments.Page, error) {
	var page installments.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, fmt.Errorf("limit must be a non-negative integer, got %q", v)
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, fmt.Errorf("offset must be a non-negative integer, got %q", v)
		}
		page.Offset = n
	}
	return page, nil
}

func parseRecalculate(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("recalculate")
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case installments.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, installments.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, installments.ErrAmountExceedsPlanTotal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, installments.ErrImmutableSettledInstallment),
		errors.Is(err, installments.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
