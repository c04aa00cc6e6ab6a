/*
handlers_test.go - HTTP tests for the API handlers

Runs the full router over an in-memory engine with a fixed clock
(2025-01-15 12:00 UTC) and checks status codes and payloads.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-engine/api"
	"github.com/warp/installment-engine/installments"
	"github.com/warp/installment-engine/installments/store"
)

var now = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	engine := installments.New(store.NewMemory(), installments.Config{
		Clock:          installments.FixedClock{At: now},
		RetryBaseDelay: time.Millisecond,
	})
	return api.NewRouter(api.NewHandler(engine, nil), api.RouterOptions{})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createPlan(t *testing.T, h http.Handler, total string, count int, first string) api.CreatePlanResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/plans", api.CreatePlanRequest{
		Description:      "Notebook",
		Type:             "EXPENSE",
		PaymentType:      "CREDIT_CARD",
		TotalAmount:      total,
		InstallmentCount: count,
		IntervalMonths:   1,
		FirstDueDate:     first,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.CreatePlanResponse](t, rec)
}

func amounts(items []api.InstallmentDTO) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Amount
	}
	return out
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreatePlan_SplitsExactly(t *testing.T) {
	// GIVEN: A 10.00 purchase in 3 monthly installments from Jan 31
	// WHEN: Creating the plan
	// THEN: Amounts are 3.34/3.33/3.33 and due dates clamp to month ends

	h := newTestServer(t)
	resp := createPlan(t, h, "10.00", 3, "2025-01-31")

	assert.Equal(t, "10.00", resp.Plan.TotalAmount)
	assert.Equal(t, int64(1), resp.Plan.Version)
	assert.Equal(t, "active", resp.Plan.Status)
	assert.Equal(t, []string{"3.34", "3.33", "3.33"}, amounts(resp.Installments))

	var dates []string
	for _, it := range resp.Installments {
		dates = append(dates, it.DueDate)
		assert.Equal(t, "pending", it.Status)
	}
	assert.Equal(t, []string{"2025-01-31", "2025-02-28", "2025-03-31"}, dates)
}

func TestCreatePlan_BadRequests(t *testing.T) {
	h := newTestServer(t)
	tests := map[string]api.CreatePlanRequest{
		"amount not a number": {Description: "x", Type: "EXPENSE", PaymentType: "PIX", TotalAmount: "abc", InstallmentCount: 2, IntervalMonths: 1, FirstDueDate: "2025-02-01"},
		"amount beyond int64": {Description: "x", Type: "EXPENSE", PaymentType: "PIX", TotalAmount: "184467440737095516.17", InstallmentCount: 2, IntervalMonths: 1, FirstDueDate: "2025-02-01"},
		"three decimals":      {Description: "x", Type: "EXPENSE", PaymentType: "PIX", TotalAmount: "1.005", InstallmentCount: 2, IntervalMonths: 1, FirstDueDate: "2025-02-01"},
		"bad date":            {Description: "x", Type: "EXPENSE", PaymentType: "PIX", TotalAmount: "10.00", InstallmentCount: 2, IntervalMonths: 1, FirstDueDate: "01/02/2025"},
		"zero count":          {Description: "x", Type: "EXPENSE", PaymentType: "PIX", TotalAmount: "10.00", InstallmentCount: 0, IntervalMonths: 1, FirstDueDate: "2025-02-01"},
		"unknown type":        {Description: "x", Type: "GIFT", PaymentType: "PIX", TotalAmount: "10.00", InstallmentCount: 2, IntervalMonths: 1, FirstDueDate: "2025-02-01"},
		"blank description":   {Description: "  ", Type: "EXPENSE", PaymentType: "PIX", TotalAmount: "10.00", InstallmentCount: 2, IntervalMonths: 1, FirstDueDate: "2025-02-01"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/plans", req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			errResp := decode[api.ErrorResponse](t, rec)
			assert.NotEmpty(t, errResp.Details)
		})
	}
}

func TestGetPlan_NotFound(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/api/plans/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettleInstallment_Flow(t *testing.T) {
	// GIVEN: A reconciled 10.00 plan in 3 installments
	// WHEN: Settling #1 for more than the plan allows, then for its scheduled amount, then again
	// THEN: 422, then 200 with the scheduled amount, then 409

	h := newTestServer(t)
	resp := createPlan(t, h, "10.00", 3, "2025-02-01")
	first := resp.Installments[0].ID

	rec := do(t, h, http.MethodPost, "/api/installments/"+first+"/settle", api.SettleRequest{Amount: strp("5.00")})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/installments/"+first+"/settle", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decode[api.InstallmentDTO](t, rec)
	assert.Equal(t, "settled", settled.Status)
	require.NotNil(t, settled.PaidAmount)
	assert.Equal(t, "3.34", *settled.PaidAmount)
	require.NotNil(t, settled.PaidAt)
	assert.Equal(t, now.Format(time.RFC3339), *settled.PaidAt)

	rec = do(t, h, http.MethodPost, "/api/installments/"+first+"/settle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/installments/"+first, api.UpdateInstallmentRequest{Amount: strp("1.00")})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSettleInstallment_Underpayment(t *testing.T) {
	// GIVEN: 10.00 in 3 installments, #1 settled at 2.33 without recalculation
	// WHEN: Checking the mismatch
	// THEN: Sum is 8.99, difference -1.01, and the plan reports mismatched

	h := newTestServer(t)
	resp := createPlan(t, h, "10.00", 3, "2025-02-01")

	rec := do(t, h, http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/settle",
		api.SettleRequest{Amount: strp("2.33"), PaidAt: strp("2025-01-10T09:30:00Z")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decode[api.InstallmentDTO](t, rec)
	assert.Equal(t, "2.33", settled.Amount)
	assert.Equal(t, "2025-01-10T09:30:00Z", *settled.PaidAt)

	rec = do(t, h, http.MethodGet, "/api/plans/"+resp.Plan.ID+"/mismatch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[api.MismatchDTO](t, rec)
	assert.True(t, report.Mismatched)
	assert.Equal(t, "8.99", report.Sum)
	assert.Equal(t, "-1.01", report.Difference)
}

func TestUpdatePlan_Recalculate(t *testing.T) {
	// GIVEN: 9.00 in 3 installments with #1 settled
	// WHEN: Raising the total to 12.00 with recalculation
	// THEN: The two open installments share the remaining 9.00

	h := newTestServer(t)
	resp := createPlan(t, h, "9.00", 3, "2025-02-01")
	rec := do(t, h, http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/settle", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/plans/"+resp.Plan.ID+"?recalculate=true",
		api.UpdatePlanRequest{TotalAmount: strp("12.00")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plan := decode[api.PlanDTO](t, rec)
	assert.Equal(t, "12.00", plan.TotalAmount)
	assert.Equal(t, int64(3), plan.Version)

	rec = do(t, h, http.MethodGet, "/api/plans/"+resp.Plan.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[api.PlanDetailDTO](t, rec)
	assert.Equal(t, []string{"3.00", "4.50", "4.50"}, amounts(detail.Installments))
	assert.False(t, detail.Mismatch.Mismatched)
	assert.Equal(t, 1, detail.SettledCount)
	assert.Equal(t, "3.00", detail.PaidTotal)
	assert.Equal(t, "9.00", detail.OpenTotal)
}

func TestUpdatePlan_BadInput(t *testing.T) {
	h := newTestServer(t)
	resp := createPlan(t, h, "9.00", 3, "2025-02-01")

	rec := do(t, h, http.MethodPatch, "/api/plans/"+resp.Plan.ID+"?recalculate=maybe", api.UpdatePlanRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/plans/"+resp.Plan.ID, api.UpdatePlanRequest{FirstDueDate: strp("tomorrow")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/plans/missing", api.UpdatePlanRequest{Description: strp("x")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncPlanTotal(t *testing.T) {
	// GIVEN: 9.00 in 3 with #2 edited to 2.00 without recalculation
	// WHEN: Syncing the plan total
	// THEN: Declared total becomes 8.00 and the mismatch clears

	h := newTestServer(t)
	resp := createPlan(t, h, "9.00", 3, "2025-02-01")

	rec := do(t, h, http.MethodPatch, "/api/installments/"+resp.Installments[1].ID,
		api.UpdateInstallmentRequest{Amount: strp("2.00")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/plans/"+resp.Plan.ID+"/mismatch", nil)
	assert.Equal(t, "-1.00", decode[api.MismatchDTO](t, rec).Difference)

	rec = do(t, h, http.MethodPost, "/api/plans/"+resp.Plan.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "8.00", decode[api.PlanDTO](t, rec).TotalAmount)

	rec = do(t, h, http.MethodGet, "/api/plans/"+resp.Plan.ID+"/mismatch", nil)
	report := decode[api.MismatchDTO](t, rec)
	assert.False(t, report.Mismatched)
	assert.Equal(t, "0.00", report.Difference)
}

func TestDelete(t *testing.T) {
	h := newTestServer(t)
	resp := createPlan(t, h, "9.00", 3, "2025-02-01")

	rec := do(t, h, http.MethodDelete, "/api/installments/"+resp.Installments[2].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/settle", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/plans/"+resp.Plan.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/installments/"+resp.Installments[2].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListInstallments_EffectiveStatus(t *testing.T) {
	// GIVEN: Installments due Dec 15, Jan 15 and Feb 15 with today Jan 15
	// WHEN: Listing by status
	// THEN: Only Dec 15 is overdue; due-today counts as pending

	h := newTestServer(t)
	resp := createPlan(t, h, "9.00", 3, "2024-12-15")

	rec := do(t, h, http.MethodGet, "/api/installments?status=overdue", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	overdue := decode[[]api.InstallmentDTO](t, rec)
	require.Len(t, overdue, 1)
	assert.Equal(t, "2024-12-15", overdue[0].DueDate)
	assert.Equal(t, "overdue", overdue[0].Status)
	assert.Equal(t, "pending", overdue[0].StoredStatus)

	rec = do(t, h, http.MethodGet, "/api/installments?status=pending&plan_id="+resp.Plan.ID, nil)
	assert.Len(t, decode[[]api.InstallmentDTO](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/api/installments?limit=1&offset=1", nil)
	page := decode[[]api.InstallmentDTO](t, rec)
	require.Len(t, page, 1)
	assert.Equal(t, "2025-01-15", page[0].DueDate)

	rec = do(t, h, http.MethodGet, "/api/installments?status=late", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/installments?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPlans(t *testing.T) {
	h := newTestServer(t)
	createPlan(t, h, "9.00", 3, "2025-02-01")
	createPlan(t, h, "9.00", 3, "2025-06-01")

	rec := do(t, h, http.MethodGet, "/api/plans?from=2025-05-01&to=2025-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plans := decode[[]api.PlanDTO](t, rec)
	require.Len(t, plans, 1)
	assert.Equal(t, "2025-06-01", plans[0].FirstDueDate)

	rec = do(t, h, http.MethodGet, "/api/plans?from=2025-07-01&to=2025-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecast(t *testing.T) {
	// GIVEN: 9.00 in 3 installments due Dec 15, Jan 15 and Feb 15
	// WHEN: Forecasting the current month, then Dec through Jan
	// THEN: January holds one pending 3.00; the wider range adds the overdue one

	h := newTestServer(t)
	createPlan(t, h, "9.00", 3, "2024-12-15")

	rec := do(t, h, http.MethodGet, "/api/forecast", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	month := decode[api.ForecastDTO](t, rec)
	assert.Equal(t, "2025-01-01", month.From)
	assert.Equal(t, "2025-01-31", month.To)
	assert.Equal(t, "3.00", month.ToPay)
	assert.Equal(t, "0.00", month.ToReceive)
	assert.Equal(t, 1, month.PendingCount)
	assert.Equal(t, 0, month.OverdueCount)

	rec = do(t, h, http.MethodGet, "/api/forecast?from=2024-12-01&to=2025-01-31", nil)
	wide := decode[api.ForecastDTO](t, rec)
	assert.Equal(t, "6.00", wide.ToPay)
	assert.Equal(t, "3.00", wide.OverdueToPay)
	assert.Equal(t, 1, wide.OverdueCount)
	assert.Equal(t, 1, wide.PendingCount)

	rec = do(t, h, http.MethodGet, "/api/forecast?from=2025-02-01&to=2025-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditTrail(t *testing.T) {
	h := newTestServer(t)
	resp := createPlan(t, h, "9.00", 3, "2025-02-01")
	do(t, h, http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/settle", nil)

	rec := do(t, h, http.MethodGet, "/api/plans/"+resp.Plan.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]api.AuditEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "plan_created", entries[0].Action)
	assert.Equal(t, "installment_settled", entries[1].Action)
	assert.Equal(t, resp.Installments[0].ID, entries[1].InstallmentID)
}

func strp(s string) *string { return &s }
