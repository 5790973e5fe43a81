package services

import (
	"context"
	"fmt"
	"time"

	"budgetapp/internal/core"
	applog "budgetapp/internal/log"
	"budgetapp/internal/storage"
)

// BudgetService reads and replaces the weekly budget.
type BudgetService struct {
	store    *storage.Store
	expenses *ExpenseService
	logger   *applog.Logger
}

// NewBudgetService wires the service. expenses backs the weekly summary.
func NewBudgetService(store *storage.Store, expenses *ExpenseService, logger *applog.Logger) *BudgetService {
	return &BudgetService{
		store:    store,
		expenses: expenses,
		logger:   applog.OrDefault(logger, applog.ComponentBudget),
	}
}

// Get returns the current budget.
func (s *BudgetService) Get(ctx context.Context) (core.Budget, error) {
	b, err := s.store.LoadBudget()
	if err != nil {
		return core.Budget{}, fmt.Errorf("load budget: %w", err)
	}
	return b, nil
}

// Update replaces the budget record wholesale.
func (s *BudgetService) Update(ctx context.Context, in core.BudgetInput) (core.Budget, error) {
	unlock := s.store.Lock(storage.ResourceBudget)
	defer unlock()

	b := core.Budget{WeeklyBudget: in.WeeklyBudget}
	if err := s.store.SaveBudget(b); err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}
	s.logger.InfoContext(ctx, "Budget updated",
		applog.FieldOperation, applog.OpUpdate,
		"weekly_budget", b.WeeklyBudget,
	)
	return b, nil
}

// Summary totals the spending of the week containing today against the budget.
func (s *BudgetService) Summary(ctx context.Context, today time.Time) (core.WeekSummary, error) {
	b, err := s.Get(ctx)
	if err != nil {
		return core.WeekSummary{}, err
	}
	items, err := s.expenses.List(ctx, core.ListFilter{WeekContaining: &today})
	if err != nil {
		return core.WeekSummary{}, err
	}
	return core.Summarize(b, items, today), nil
}
