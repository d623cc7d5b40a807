// Package services sits between the web handlers and the REST client.
// Reads go through the query cache; mutations call the backend and then
// invalidate exactly the cached reads they affect.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fincon/internal/api"
	"fincon/internal/cache"
	"fincon/internal/core"
	"fincon/internal/log"
)

// Backend is the subset of the REST client the service uses.
type Backend interface {
	Login(ctx context.Context, creds core.Credentials) (string, error)
	SignUp(ctx context.Context, p api.SignUpParams) (string, error)
	Goals(ctx context.Context) ([]core.Goal, error)
	UpdateGoals(ctx context.Context, ps []core.GoalPercentage) ([]core.Goal, error)
	Salary(ctx context.Context) (core.Salary, error)
	UpdateSalary(ctx context.Context, amount decimal.Decimal) (core.Salary, error)
	Summary(ctx context.Context, m core.Month) (core.Summary, error)
	Expenses(ctx context.Context, goalID int64, m core.Month) ([]core.Expense, error)
	CreateExpense(ctx context.Context, e core.NewExpense) ([]core.Expense, error)
	UpdateExpense(ctx context.Context, id int64, u core.ExpenseUpdate) (core.Expense, error)
	DeleteExpense(ctx context.Context, id int64) error
	MatchingNames(ctx context.Context, query string) ([]string, error)
}

// BudgetService is the single entry point the web layer uses for data.
type BudgetService struct {
	backend Backend
	cache   *cache.QueryCache
	logger  *log.Logger
	slog    *log.StructuredLogger
}

// NewBudgetService wires a backend to a query cache.
func NewBudgetService(backend Backend, qc *cache.QueryCache, logger *log.Logger) *BudgetService {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentBudget)
	return &BudgetService{
		backend: backend,
		cache:   qc,
		logger:  logger,
		slog:    log.NewStructuredLogger(logger),
	}
}

// Scope returns the cache scope of the session carried by ctx.
func Scope(ctx context.Context) string {
	return cache.ScopeFromToken(api.TokenFrom(ctx))
}

// Login exchanges credentials for a token.
func (s *BudgetService) Login(ctx context.Context, creds core.Credentials) (string, error) {
	token, err := s.backend.Login(ctx, creds)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "User logged in", log.FieldOperation, log.OpLogin)
	return token, nil
}

// SignUp creates an account and returns its token.
func (s *BudgetService) SignUp(ctx context.Context, p api.SignUpParams) (string, error) {
	token, err := s.backend.SignUp(ctx, p)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "User signed up", log.FieldOperation, log.OpSignUp)
	return token, nil
}

// Forget drops every cached read of the session in ctx.
func (s *BudgetService) Forget(ctx context.Context) {
	s.cache.InvalidateAll(ForSession(Scope(ctx)))
}

// Goals returns the goals in display order.
func (s *BudgetService) Goals(ctx context.Context) ([]core.Goal, error) {
	goals, err := cache.Fetch(ctx, s.cache, goalsKey(Scope(ctx)), s.backend.Goals)
	if err != nil {
		return nil, fmt.Errorf("load goals: %w", err)
	}
	return core.SortGoals(goals), nil
}

// Salary returns the user's salary.
func (s *BudgetService) Salary(ctx context.Context) (core.Salary, error) {
	salary, err := cache.Fetch(ctx, s.cache, salaryKey(Scope(ctx)), s.backend.Salary)
	if err != nil {
		return core.Salary{}, fmt.Errorf("load salary: %w", err)
	}
	return salary, nil
}

// Summary returns the month aggregate with lines in display order.
func (s *BudgetService) Summary(ctx context.Context, m core.Month) (core.Summary, error) {
	summary, err := cache.Fetch(ctx, s.cache, summaryKey(Scope(ctx), m), func(ctx context.Context) (core.Summary, error) {
		return s.backend.Summary(ctx, m)
	})
	if err != nil {
		return core.Summary{}, fmt.Errorf("load summary %s: %w", m, err)
	}
	summary.Goals = core.SortGoals(summary.Goals)
	return summary, nil
}

// Expenses returns a goal's expenses for a month.
func (s *BudgetService) Expenses(ctx context.Context, goalID int64, m core.Month) ([]core.Expense, error) {
	key := expensesKey(Scope(ctx), Location{GoalID: goalID, Month: m})
	expenses, err := cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]core.Expense, error) {
		return s.backend.Expenses(ctx, goalID, m)
	})
	if err != nil {
		return nil, fmt.Errorf("load expenses of goal %d for %s: %w", goalID, m, err)
	}
	return expenses, nil
}

// FindExpense looks an expense up in its goal's month list.
func (s *BudgetService) FindExpense(ctx context.Context, id int64, at Location) (core.Expense, error) {
	expenses, err := s.Expenses(ctx, at.GoalID, at.Month)
	if err != nil {
		return core.Expense{}, err
	}
	for _, e := range expenses {
		if e.ID == id {
			return e, nil
		}
	}
	return core.Expense{}, fmt.Errorf("expense %d: %w", id, api.ErrNotFound)
}

// MatchingNames returns autocomplete suggestions; short queries yield nothing.
func (s *BudgetService) MatchingNames(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < api.MinMatchingQuery {
		return nil, nil
	}
	names, err := cache.Fetch(ctx, s.cache, matchingKey(Scope(ctx), query), func(ctx context.Context) ([]string, error) {
		return s.backend.MatchingNames(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("match names %q: %w", query, err)
	}
	return names, nil
}

// CreateExpense creates the expense (one record per installment).
func (s *BudgetService) CreateExpense(ctx context.Context, e core.NewExpense) ([]core.Expense, error) {
	created, err := s.backend.CreateExpense(ctx, e)
	s.settle(ctx, err, ForCreate(Scope(ctx), e))
	if err != nil {
		return nil, fmt.Errorf("create expense: %w", err)
	}
	s.slog.LogMutation(ctx, log.OpCreate, log.NewFields().
		WithExpense(0, e.Name, e.Value.StringFixed(2), e.GoalID).
		WithMonth(e.Date.Year(), int(e.Date.Time.Month())))
	return created, nil
}

// UpdateExpense edits an expense previously shown at from.
func (s *BudgetService) UpdateExpense(ctx context.Context, id int64, from Location, u core.ExpenseUpdate) (core.Expense, error) {
	updated, err := s.backend.UpdateExpense(ctx, id, u)
	s.settle(ctx, err, ForUpdate(Scope(ctx), from, u))
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %d: %w", id, err)
	}
	s.slog.LogMutation(ctx, log.OpUpdate, log.NewFields().
		WithExpense(id, u.Name, u.Value.StringFixed(2), u.GoalID))
	return updated, nil
}

// DeleteExpense removes an expense previously shown at from.
func (s *BudgetService) DeleteExpense(ctx context.Context, id int64, from Location) error {
	err := s.backend.DeleteExpense(ctx, id)
	s.settle(ctx, err, ForDelete(Scope(ctx), from))
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	s.slog.LogMutation(ctx, log.OpDelete, log.NewFields().WithExpense(id, "", "", from.GoalID))
	return nil
}

// UpdateGoals replaces all percentages at once. Callers validate the sum first.
func (s *BudgetService) UpdateGoals(ctx context.Context, ps []core.GoalPercentage) ([]core.Goal, error) {
	goals, err := s.backend.UpdateGoals(ctx, ps)
	s.settle(ctx, err, ForGoals(Scope(ctx)))
	if err != nil {
		return nil, fmt.Errorf("update goals: %w", err)
	}
	s.slog.LogMutation(ctx, log.OpUpdate, log.LogFields{"goals": len(ps)})
	return core.SortGoals(goals), nil
}

// UpdateSalary edits the salary in place.
func (s *BudgetService) UpdateSalary(ctx context.Context, amount decimal.Decimal) (core.Salary, error) {
	salary, err := s.backend.UpdateSalary(ctx, amount)
	s.settle(ctx, err, ForSalary(Scope(ctx)))
	if err != nil {
		return core.Salary{}, fmt.Errorf("update salary: %w", err)
	}
	s.cache.Set(salaryKey(Scope(ctx)), salary)
	s.slog.LogMutation(ctx, log.OpUpdate, log.LogFields{log.FieldAmount: amount.StringFixed(2), "entity": "salary"})
	return salary, nil
}

// settle invalidates after a mutation. Not-found and conflict answers mean
// the cached view is already stale, so those invalidate too.
func (s *BudgetService) settle(ctx context.Context, err error, inv cache.Invalidation) {
	if err == nil || errors.Is(err, api.ErrNotFound) || errors.Is(err, api.ErrConflict) {
		s.cache.InvalidateAll(inv)
	}
	if api.IsSessionExpired(err) {
		s.cache.InvalidateAll(ForSession(inv.Scope))
	}
}
