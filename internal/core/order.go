package core

import "sort"

// Canonical goal names, in display order.
const (
	GoalFixedCosts           = "Fixed costs"
	GoalComfort              = "Comfort"
	GoalGoals                = "Goals"
	GoalPleasures            = "Pleasures"
	GoalFinancialInvestments = "Financial investments"
	GoalKnowledge            = "Knowledge"
)

// GoalOrder is the fixed display order for goals.
var GoalOrder = []string{
	GoalFixedCosts,
	GoalComfort,
	GoalGoals,
	GoalPleasures,
	GoalFinancialInvestments,
	GoalKnowledge,
}

// DefaultGoalPercentages seeds a new account; the values sum to 100.
var DefaultGoalPercentages = map[string]int{
	GoalFixedCosts:           40,
	GoalComfort:              20,
	GoalGoals:                5,
	GoalPleasures:            5,
	GoalFinancialInvestments: 25,
	GoalKnowledge:            5,
}

var goalRank = func() map[string]int {
	m := make(map[string]int, len(GoalOrder))
	for i, name := range GoalOrder {
		m[name] = i
	}
	return m
}()

// Named is anything that can be placed in goal order.
type Named interface {
	GoalName() string
}

// SortGoals returns a copy of items ordered by GoalOrder. Names outside the
// canonical list keep their relative order and come after the known ones.
// The input slice is not modified.
func SortGoals[T Named](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return rankOf(out[i].GoalName()) < rankOf(out[j].GoalName())
	})
	return out
}

func rankOf(name string) int {
	if r, ok := goalRank[name]; ok {
		return r
	}
	return len(GoalOrder)
}
