package services

import (
	"fincon/internal/cache"
	"fincon/internal/core"
)

// Location is where an expense lives in the cache: its goal and month.
// The zero Location means "unknown" and widens invalidation to every
// expense list of the scope.
type Location struct {
	GoalID int64
	Month  core.Month
}

// Known reports whether the location identifies a single list.
func (l Location) Known() bool {
	return l.GoalID != 0 && l.Month.Validate() == nil
}

// LocationOf returns the location of an existing expense.
func LocationOf(e core.Expense) Location {
	return Location{GoalID: e.GoalID, Month: e.Date.Month()}
}

func expensesKey(scope string, l Location) cache.Key {
	return cache.Key{Scope: scope, Kind: cache.KindExpenses, Year: l.Month.Year, Month: int(l.Month.Month), GoalID: l.GoalID}
}

func summaryKey(scope string, m core.Month) cache.Key {
	return cache.Key{Scope: scope, Kind: cache.KindSummary, Year: m.Year, Month: int(m.Month)}
}

func goalsKey(scope string) cache.Key {
	return cache.Key{Scope: scope, Kind: cache.KindGoals}
}

func salaryKey(scope string) cache.Key {
	return cache.Key{Scope: scope, Kind: cache.KindSalary}
}

func matchingKey(scope, query string) cache.Key {
	return cache.Key{Scope: scope, Kind: cache.KindMatchingNames, Query: query}
}

// appendUnique adds k unless an equal key is already present.
func appendUnique(keys []cache.Key, k cache.Key) []cache.Key {
	for _, existing := range keys {
		if existing == k {
			return keys
		}
	}
	return append(keys, k)
}

// locationInvalidation drops the list and month summary of every known
// location, or all lists and summaries when any location is unknown.
func locationInvalidation(scope string, locs ...Location) cache.Invalidation {
	inv := cache.Invalidation{Scope: scope}
	for _, l := range locs {
		if !l.Known() {
			return cache.Invalidation{Scope: scope, Kinds: []cache.Kind{cache.KindExpenses, cache.KindSummary}}
		}
		inv.Keys = appendUnique(inv.Keys, expensesKey(scope, l))
		inv.Keys = appendUnique(inv.Keys, summaryKey(scope, l.Month))
	}
	return inv
}

// ForCreate covers the list and summary of every month an installment
// lands in, plus the autocomplete suggestions.
func ForCreate(scope string, e core.NewExpense) cache.Invalidation {
	months := e.InstallmentMonths()
	locs := make([]Location, 0, len(months))
	for _, m := range months {
		locs = append(locs, Location{GoalID: e.GoalID, Month: m})
	}
	inv := locationInvalidation(scope, locs...)
	inv.Kinds = append(inv.Kinds, cache.KindMatchingNames)
	return inv
}

// ForUpdate covers both the old and the new location so an expense moved
// between goals or months disappears from one list and shows in the other.
func ForUpdate(scope string, from Location, u core.ExpenseUpdate) cache.Invalidation {
	to := Location{GoalID: u.GoalID, Month: u.Date.Month()}
	inv := locationInvalidation(scope, from, to)
	inv.Kinds = append(inv.Kinds, cache.KindMatchingNames)
	return inv
}

// ForDelete covers the list and summary the expense was shown in.
func ForDelete(scope string, from Location) cache.Invalidation {
	return locationInvalidation(scope, from)
}

// ForGoals covers the goal list and every summary, since allocations change.
func ForGoals(scope string) cache.Invalidation {
	return cache.Invalidation{
		Scope: scope,
		Keys:  []cache.Key{goalsKey(scope)},
		Kinds: []cache.Kind{cache.KindSummary},
	}
}

// ForSalary covers the salary and every summary.
func ForSalary(scope string) cache.Invalidation {
	return cache.Invalidation{
		Scope: scope,
		Keys:  []cache.Key{salaryKey(scope)},
		Kinds: []cache.Kind{cache.KindSummary},
	}
}

// ForSession drops everything cached for a scope, used on logout and
// session expiry.
func ForSession(scope string) cache.Invalidation {
	return cache.Invalidation{
		Scope: scope,
		Kinds: []cache.Kind{cache.KindGoals, cache.KindSalary, cache.KindSummary, cache.KindExpenses, cache.KindMatchingNames},
	}
}
