package core

import (
	"time"
)

// DateLayout is the canonical on-disk and wire format for calendar dates.
const DateLayout = "2006-01-02"

// DefaultWeeklyBudget is written when no budget document exists.
const DefaultWeeklyBudget = 110.0

type (
	// Expense is a single dated spend. ID is assigned once and never changes.
	Expense struct {
		ID          string  `json:"id"`
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
		Date        string  `json:"date"`
	}

	// Budget is the singleton weekly budget record.
	Budget struct {
		WeeklyBudget float64 `json:"weekly_budget"`
	}

	// Ledger is an ordered sequence of expenses (the full ledger or one shard).
	Ledger []Expense
)

// DefaultBudget returns the budget written on first start.
func DefaultBudget() Budget {
	return Budget{WeeklyBudget: DefaultWeeklyBudget}
}

// Find returns the index of the expense with the given id, or -1.
func (l Ledger) Find(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether an expense with the given id is present.
func (l Ledger) Contains(id string) bool {
	return l.Find(id) >= 0
}

// Without returns a copy of the ledger with every expense matching id removed.
func (l Ledger) Without(id string) Ledger {
	out := make(Ledger, 0, len(l))
	for _, e := range l {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a shallow copy safe to mutate independently.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	copy(out, l)
	return out
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Midnight truncates t to its calendar day in UTC, keeping the local calendar date.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekCommencing returns the Monday of the week containing t.
func WeekCommencing(t time.Time) time.Time {
	day := Midnight(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return day.AddDate(0, 0, -offset)
}
