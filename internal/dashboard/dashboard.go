// Package dashboard assembles the monthly dashboard from independent reads.
//
// Goals, summary and salary load concurrently; once goals resolve, each
// goal's expense list loads with bounded parallelism. Every panel keeps its
// own error so a failure in one never blanks the others.
package dashboard

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fincon/internal/api"
	"fincon/internal/core"
	"fincon/internal/log"
)

// FirstYear is the earliest year offered by the month selector.
const FirstYear = 2025

// Reader is the read side of the budget service.
type Reader interface {
	Goals(ctx context.Context) ([]core.Goal, error)
	Salary(ctx context.Context) (core.Salary, error)
	Summary(ctx context.Context, m core.Month) (core.Summary, error)
	Expenses(ctx context.Context, goalID int64, m core.Month) ([]core.Expense, error)
}

// GoalPanel is one goal with its expenses for the month.
type GoalPanel struct {
	Goal     core.Goal
	Expenses []core.Expense
	Err      error
}

// Total sums the panel's expenses.
func (p GoalPanel) Total() core.Money {
	var currency string
	if len(p.Expenses) > 0 {
		currency = p.Expenses[0].Value.Currency
	}
	total := core.NewMoney(decimal.Zero, currency)
	for _, e := range p.Expenses {
		total = total.Add(e.Value)
	}
	return total
}

// Board is everything the dashboard page renders.
type Board struct {
	Month      core.Month
	Salary     core.Salary
	SalaryErr  error
	Summary    core.Summary
	SummaryErr error
	Goals      []GoalPanel
	GoalsErr   error
}

// SessionExpired reports whether any read was rejected with 401.
func (b Board) SessionExpired() bool {
	for _, err := range b.errs() {
		if api.IsSessionExpired(err) {
			return true
		}
	}
	return false
}

// Failed reports how many panels failed to load.
func (b Board) Failed() int {
	n := 0
	for _, err := range b.errs() {
		if err != nil {
			n++
		}
	}
	return n
}

func (b Board) errs() []error {
	out := []error{b.SalaryErr, b.SummaryErr, b.GoalsErr}
	for _, p := range b.Goals {
		out = append(out, p.Err)
	}
	return out
}

// Composer builds boards.
type Composer struct {
	reader      Reader
	maxParallel int
	logger      *log.Logger
}

// NewComposer creates a composer issuing at most maxParallel expense-list
// reads at once.
func NewComposer(reader Reader, maxParallel int, logger *log.Logger) *Composer {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Composer{reader: reader, maxParallel: maxParallel, logger: logger.WithComponent(log.ComponentDashboard)}
}

// Compose loads the board for month. It never fails as a whole; inspect
// the per-panel errors.
func (c *Composer) Compose(ctx context.Context, month core.Month) Board {
	b := Board{Month: month}

	var g errgroup.Group
	g.Go(func() error {
		b.Salary, b.SalaryErr = c.reader.Salary(ctx)
		return nil
	})
	g.Go(func() error {
		b.Summary, b.SummaryErr = c.reader.Summary(ctx, month)
		return nil
	})
	g.Go(func() error {
		goals, err := c.reader.Goals(ctx)
		if err != nil {
			b.GoalsErr = err
			return nil
		}
		b.Goals = c.loadPanels(ctx, goals, month)
		return nil
	})
	_ = g.Wait()

	if n := b.Failed(); n > 0 {
		c.logger.WarnContext(ctx, "Dashboard rendered with failed panels",
			"failed", n,
			log.FieldYear, month.Year,
			log.FieldMonth, int(month.Month),
			log.FieldError, errors.Join(b.errs()...))
	}
	return b
}

func (c *Composer) loadPanels(ctx context.Context, goals []core.Goal, month core.Month) []GoalPanel {
	panels := make([]GoalPanel, len(goals))
	var g errgroup.Group
	g.SetLimit(c.maxParallel)
	for i, goal := range goals {
		panels[i].Goal = goal
		g.Go(func() error {
			panels[i].Expenses, panels[i].Err = c.reader.Expenses(ctx, goal.ID, month)
			return nil
		})
	}
	_ = g.Wait()
	return panels
}

// ResolveMonth reads ?year=&month=, falling back to the current month for
// missing or invalid values.
func ResolveMonth(year, month string, now time.Time) core.Month {
	current := core.CurrentMonth(now)
	if year == "" && month == "" {
		return current
	}
	y, errY := strconv.Atoi(year)
	m, errM := strconv.Atoi(month)
	if errY != nil || errM != nil {
		return current
	}
	candidate := core.Month{Year: y, Month: time.Month(m)}
	if candidate.Validate() != nil {
		return current
	}
	return candidate
}

// Years lists the selectable years, FirstYear through now's year.
func Years(now time.Time) []int {
	last := now.Year()
	if last < FirstYear {
		last = FirstYear
	}
	out := make([]int, 0, last-FirstYear+1)
	for y := FirstYear; y <= last; y++ {
		out = append(out, y)
	}
	return out
}
