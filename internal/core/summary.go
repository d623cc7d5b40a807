package core

import "github.com/shopspring/decimal"

// SummaryGoal is the per-goal line of a monthly summary.
type SummaryGoal struct {
	Name      string          `json:"name"`
	Spent     Money           `json:"spent"`
	MustSpend Money           `json:"must_spend"`
	Used      decimal.Decimal `json:"used"`
	Total     decimal.Decimal `json:"total"`
}

// GoalName implements Named.
func (g SummaryGoal) GoalName() string { return g.Name }

// Overspent reports whether the goal went past its allocation.
func (g SummaryGoal) Overspent() bool { return g.MustSpend.IsNegative() }

// Summary aggregates a month across all goals. It is read-only on the
// client side and always refetched after a mutation.
type Summary struct {
	Goals     []SummaryGoal   `json:"goals"`
	Spent     Money           `json:"spent"`
	MustSpend Money           `json:"must_spend"`
	Used      decimal.Decimal `json:"used"`
}

var hundred = decimal.NewFromInt(100)

// ComputeSummary derives the month summary from the salary, the goals and
// the amount spent per goal id.
//
// Per goal: allocation = salary*pct/100, must_spend = allocation - spent,
// used = spent*100/allocation, total = spent*100/salary.
// Overall: spent = sum, must_spend = salary - sum, used = sum of totals.
func ComputeSummary(salary Money, goals []Goal, spentByGoal map[int64]decimal.Decimal) Summary {
	currency := salary.Currency
	var totalSpent, totalUsed decimal.Decimal

	lines := make([]SummaryGoal, 0, len(goals))
	for _, g := range goals {
		spent := spentByGoal[g.ID]
		allocation := salary.Amount.Mul(decimal.NewFromInt(int64(g.Percentage))).Div(hundred)

		var used, total decimal.Decimal
		if !allocation.IsZero() {
			used = spent.Mul(hundred).Div(allocation).Round(2)
		}
		if !salary.Amount.IsZero() {
			total = spent.Mul(hundred).Div(salary.Amount).Round(2)
		}

		lines = append(lines, SummaryGoal{
			Name:      g.Name,
			Spent:     NewMoney(spent, currency),
			MustSpend: NewMoney(allocation.Sub(spent), currency),
			Used:      used,
			Total:     total,
		})

		totalSpent = totalSpent.Add(spent)
		totalUsed = totalUsed.Add(total)
	}

	return Summary{
		Goals:     SortGoals(lines),
		Spent:     NewMoney(totalSpent, currency),
		MustSpend: NewMoney(salary.Amount.Sub(totalSpent), currency),
		Used:      totalUsed,
	}
}
