package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeSummary(t *testing.T) {
	salary := NewMoney(decimal.RequireFromString("5000.00"), "BRL")
	goals := []Goal{
		{ID: 2, Name: "Comfort", Percentage: 30},
		{ID: 1, Name: "Fixed costs", Percentage: 50},
		{ID: 3, Name: "Goals", Percentage: 20},
	}
	spent := map[int64]decimal.Decimal{
		1: decimal.RequireFromString("1500.00"),
		3: decimal.RequireFromString("1200.00"),
	}

	s := ComputeSummary(salary, goals, spent)

	if len(s.Goals) != 3 || s.Goals[0].Name != "Fixed costs" || s.Goals[1].Name != "Comfort" {
		t.Fatalf("unexpected order %v", names(s.Goals))
	}

	fixed := s.Goals[0]
	if !fixed.Spent.Amount.Equal(decimal.RequireFromString("1500")) {
		t.Errorf("spent = %s", fixed.Spent.Amount)
	}
	if !fixed.MustSpend.Amount.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("must_spend = %s", fixed.MustSpend.Amount)
	}
	if !fixed.Used.Equal(decimal.NewFromInt(60)) || !fixed.Total.Equal(decimal.NewFromInt(30)) {
		t.Errorf("used = %s total = %s", fixed.Used, fixed.Total)
	}
	if fixed.Spent.Currency != "BRL" {
		t.Errorf("currency = %q", fixed.Spent.Currency)
	}

	goalsLine := s.Goals[2]
	if !goalsLine.Overspent() || !goalsLine.MustSpend.Amount.Equal(decimal.RequireFromString("-200")) {
		t.Errorf("expected overspent goal, got %+v", goalsLine)
	}

	if !s.Spent.Amount.Equal(decimal.RequireFromString("2700")) {
		t.Errorf("total spent = %s", s.Spent.Amount)
	}
	if !s.MustSpend.Amount.Equal(decimal.RequireFromString("2300")) {
		t.Errorf("total must_spend = %s", s.MustSpend.Amount)
	}
	if !s.Used.Equal(decimal.NewFromInt(54)) {
		t.Errorf("total used = %s", s.Used)
	}
}

func TestComputeSummaryZeroSalary(t *testing.T) {
	s := ComputeSummary(NewMoney(decimal.Zero, "BRL"), []Goal{{ID: 1, Name: "Comfort", Percentage: 100}}, nil)
	if !s.Goals[0].Used.IsZero() || !s.Goals[0].Total.IsZero() {
		t.Fatalf("expected zero percentages, got %+v", s.Goals[0])
	}
}
