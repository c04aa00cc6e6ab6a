package installments

import (
	"context"
	"time"
)

// =============================================================================
// FORECAST - Read-side aggregates over open installments
// =============================================================================

// Forecast sums the open installments due within r as of now. Settled and
// canceled installments are excluded; overdue ones count both in the
// To* totals and in the Overdue* totals.
func (e *Engine) Forecast(ctx context.Context, r DateRange, now time.Time) (*ForecastTotals, error) {
	if !r.Valid() {
		return nil, invalid("range", "from %s is after to %s", r.From, r.To)
	}

	from, to := r.From, r.To
	items, err := e.store.ListInstallments(ctx, InstallmentQuery{
		From:     &from,
		To:       &to,
		Statuses: []StoredStatus{StatusPending},
	})
	if err != nil {
		return nil, err
	}

	today := DateOf(now, e.loc)
	totals := &ForecastTotals{Range: r}
	for _, inst := range items {
		eff := inst.EffectiveStatus(today)
		if eff != EffectivePending && eff != EffectiveOverdue {
			continue
		}

		switch inst.Type {
		case TypeExpense:
			totals.ToPay += inst.Amount
		case TypeIncome:
			totals.ToReceive += inst.Amount
		}

		if eff == EffectiveOverdue {
			totals.OverdueCount++
			switch inst.Type {
			case TypeExpense:
				totals.OverdueToPay += inst.Amount
			case TypeIncome:
				totals.OverdueToReceive += inst.Amount
			}
		} else {
			totals.PendingCount++
		}
	}
	return totals, nil
}
