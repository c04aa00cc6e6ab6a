package installments_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/installments"
	"github.com/warp/installment-engine/installments/store"
	"github.com/warp/installment-engine/money"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// now is mid-January 2025 for every engine test unless stated otherwise.
var now = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, configure ...func(*installments.Config)) (*installments.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	cfg := installments.Config{
		Clock:          installments.FixedClock{At: now},
		RetryBaseDelay: time.Millisecond,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	return installments.New(mem, cfg), mem
}

func ptr[T any](v T) *T { return &v }

func cents(n int64) money.Money { return money.FromMinor(n) }

func date(s string) installments.Date { return installments.MustParseDate(s) }

func planInput(total int64, count, interval int, first string) installments.PlanInput {
	return installments.PlanInput{
		Description:      "Notebook",
		Type:             installments.TypeExpense,
		PaymentType:      installments.PaymentCreditCard,
		TotalAmount:      cents(total),
		InstallmentCount: count,
		IntervalMonths:   interval,
		FirstDueDate:     date(first),
	}
}

func createPlan(t *testing.T, e *installments.Engine, in installments.PlanInput) (*installments.Plan, []installments.Installment) {
	t.Helper()
	plan, items, err := e.CreatePlan(context.Background(), in)
	require.NoError(t, err)
	return plan, items
}

func amountsOf(t *testing.T, e *installments.Engine, id installments.PlanID) []int64 {
	t.Helper()
	detail, err := e.GetPlan(context.Background(), id)
	require.NoError(t, err)
	out := make([]int64, len(detail.Installments))
	for i, inst := range detail.Installments {
		out[i] = inst.Amount.Minor()
	}
	return out
}

func datesOf(t *testing.T, e *installments.Engine, id installments.PlanID) []string {
	t.Helper()
	detail, err := e.GetPlan(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, len(detail.Installments))
	for i, inst := range detail.Installments {
		out[i] = inst.DueDate.String()
	}
	return out
}

type fakeReferences struct {
	categories map[string]bool
	cards      map[string]bool
}

func (f fakeReferences) CategoryExists(_ context.Context, id string) (bool, error) {
	return f.categories[id], nil
}

func (f fakeReferences) CardExists(_ context.Context, id string) (bool, error) {
	return f.cards[id], nil
}
