package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// WeekSummary compares a week's spending against the weekly budget.
type WeekSummary struct {
	WeeklyBudget   decimal.Decimal `json:"weekly_budget"`
	WeekCommencing string          `json:"week_commencing"`
	Spent          decimal.Decimal `json:"spent"`
	Remaining      decimal.Decimal `json:"remaining"`
	Count          int             `json:"count"`
}

// Total sums expense amounts without accumulating float rounding error.
func Total(items []Expense) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range items {
		sum = sum.Add(decimal.NewFromFloat(e.Amount))
	}
	return sum
}

// Summarize builds the summary for the week containing today. Only expenses
// dated Monday through Sunday of that week count.
func Summarize(b Budget, items []Expense, today time.Time) WeekSummary {
	monday := WeekCommencing(today)
	nextMonday := monday.AddDate(0, 0, 7)

	var inWeek []Expense
	for _, e := range items {
		d, err := ParseDate(e.Date)
		if err != nil || d.Before(monday) || !d.Before(nextMonday) {
			continue
		}
		inWeek = append(inWeek, e)
	}

	budget := decimal.NewFromFloat(b.WeeklyBudget)
	spent := Total(inWeek)
	return WeekSummary{
		WeeklyBudget:   budget,
		WeekCommencing: FormatDate(monday),
		Spent:          spent,
		Remaining:      budget.Sub(spent),
		Count:          len(inWeek),
	}
}
