package http

import (
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"fincon/internal/core"
	"fincon/internal/dashboard"
	"fincon/internal/services"
)

var templateFuncs = template.FuncMap{
	"percent": core.FormatPercent,
	"monthName": func(m time.Month) string {
		return m.String()
	},
	"overspent": func(m core.Money) bool {
		return m.IsNegative()
	},
	"isZero": func(d decimal.Decimal) bool {
		return d.IsZero()
	},
	// barWidth clamps a percentage to 0-100 for progress bars.
	"barWidth": func(d decimal.Decimal) int {
		w := d.Round(0).IntPart()
		if w < 0 {
			return 0
		}
		if w > 100 {
			return 100
		}
		return int(w)
	},
	"userMessage": userMessage,
}

type monthOption struct {
	Value    int
	Name     string
	Selected bool
}

type yearOption struct {
	Value    int
	Selected bool
}

// monthNav is the header month selector.
type monthNav struct {
	Current core.Month
	Years   []yearOption
	Months  []monthOption
}

func newMonthNav(current core.Month, now time.Time) monthNav {
	nav := monthNav{Current: current}
	years := dashboard.Years(now)
	if current.Year < years[0] || current.Year > years[len(years)-1] {
		years = append(years, current.Year)
	}
	for _, y := range years {
		nav.Years = append(nav.Years, yearOption{Value: y, Selected: y == current.Year})
	}
	for m := time.January; m <= time.December; m++ {
		nav.Months = append(nav.Months, monthOption{Value: int(m), Name: m.String(), Selected: m == current.Month})
	}
	return nav
}

type dashboardPage struct {
	Title string
	Nav   monthNav
	Board dashboard.Board
}

// MonthQuery is the year/month query string of the page's month.
func (p dashboardPage) MonthQuery() string {
	return fmt.Sprintf("year=%d&month=%d", p.Board.Month.Year, int(p.Board.Month.Month))
}

func (p dashboardPage) SalaryView() salaryView {
	return salaryView{Salary: p.Board.Salary, Err: p.Board.SalaryErr}
}

func (p dashboardPage) SummaryView() summaryView {
	return summaryView{Month: p.Board.Month, Summary: p.Board.Summary, Err: p.Board.SummaryErr}
}

func (p dashboardPage) Panels() []panelView {
	out := make([]panelView, 0, len(p.Board.Goals))
	for _, g := range p.Board.Goals {
		out = append(out, panelView{Month: p.Board.Month, GoalPanel: g})
	}
	return out
}

// panelView is one goal's expense table.
type panelView struct {
	Month core.Month
	dashboard.GoalPanel
}

type summaryView struct {
	Month   core.Month
	Summary core.Summary
	Err     error
}

type salaryView struct {
	Salary core.Salary
	Err    error
}

type salaryFormView struct {
	Amount  string
	Errors  core.FieldErrors
	Message string
}

type authPage struct {
	Title   string
	Email   string
	Salary  string
	Errors  core.FieldErrors
	Message string
}

// expenseFormView drives both the create and edit dialogs.
type expenseFormView struct {
	ID      int64
	Form    core.ExpenseForm
	Goals   []core.Goal
	From    services.Location
	Errors  core.FieldErrors
	Message string
}

func (v expenseFormView) IsEdit() bool { return v.ID != 0 }

type goalRow struct {
	Goal   core.Goal
	Field  string
	Value  string
	Errors []string
}

type goalsFormView struct {
	Rows    []goalRow
	Check   goalsCheckView
	Errors  core.FieldErrors
	Message string
}

// goalsCheckView is the live sum indicator next to the save button.
type goalsCheckView struct {
	Sum     int
	CanSave bool
}

type matchingNamesView struct {
	Names []string
}
