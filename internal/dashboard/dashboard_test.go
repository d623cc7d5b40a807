package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fincon/internal/api"
	"fincon/internal/core"
)

type stubReader struct {
	goals       []core.Goal
	goalsErr    error
	salaryErr   error
	summaryErr  error
	expenseErrs map[int64]error
	inFlight    int32
	maxInFlight int32
}

func (s *stubReader) Goals(context.Context) ([]core.Goal, error) { return s.goals, s.goalsErr }

func (s *stubReader) Salary(context.Context) (core.Salary, error) {
	return core.Salary{Amount: core.NewMoney(decimal.NewFromInt(5000), "")}, s.salaryErr
}

func (s *stubReader) Summary(context.Context, core.Month) (core.Summary, error) {
	return core.Summary{}, s.summaryErr
}

func (s *stubReader) Expenses(_ context.Context, goalID int64, m core.Month) ([]core.Expense, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		max := atomic.LoadInt32(&s.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&s.inFlight, -1)

	if err := s.expenseErrs[goalID]; err != nil {
		return nil, err
	}
	return []core.Expense{
		{ID: goalID*10 + 1, Value: core.NewMoney(decimal.NewFromInt(100), "BRL"), GoalID: goalID, Date: m.FirstDay()},
		{ID: goalID*10 + 2, Value: core.NewMoney(decimal.NewFromInt(50), "BRL"), GoalID: goalID, Date: m.FirstDay()},
	}, nil
}

func sixGoals() []core.Goal {
	out := make([]core.Goal, 0, len(core.GoalOrder))
	for i, name := range core.GoalOrder {
		out = append(out, core.Goal{ID: int64(i + 1), Name: name})
	}
	return out
}

var may = core.Month{Year: 2025, Month: time.May}

func TestComposeIsolatesPanelFailures(t *testing.T) {
	r := &stubReader{
		goals:       sixGoals(),
		expenseErrs: map[int64]error{3: &api.RequestError{Kind: api.KindNetwork}},
	}
	b := NewComposer(r, 2, nil).Compose(context.Background(), may)

	if len(b.Goals) != 6 {
		t.Fatalf("panels = %d", len(b.Goals))
	}
	for _, p := range b.Goals {
		if p.Goal.ID == 3 {
			if p.Err == nil {
				t.Fatal("goal 3 should carry its error")
			}
			continue
		}
		if p.Err != nil || len(p.Expenses) != 2 {
			t.Fatalf("panel %d: %+v", p.Goal.ID, p)
		}
		if p.Total().String() != "R$ 150,00" {
			t.Fatalf("total = %s", p.Total())
		}
	}
	if b.SalaryErr != nil || b.SummaryErr != nil || b.Failed() != 1 || b.SessionExpired() {
		t.Fatalf("board = %+v", b)
	}
}

func TestComposeBoundsParallelism(t *testing.T) {
	r := &stubReader{goals: sixGoals()}
	NewComposer(r, 2, nil).Compose(context.Background(), may)
	if max := atomic.LoadInt32(&r.maxInFlight); max > 2 {
		t.Fatalf("max in flight = %d", max)
	}
}

func TestComposeGoalsFailure(t *testing.T) {
	r := &stubReader{goalsErr: errors.New("boom"), summaryErr: &api.RequestError{Kind: api.KindSessionExpired}}
	b := NewComposer(r, 4, nil).Compose(context.Background(), may)

	if b.GoalsErr == nil || len(b.Goals) != 0 {
		t.Fatalf("board = %+v", b)
	}
	if !b.SessionExpired() {
		t.Fatal("session expiry not detected")
	}
	if b.Salary.Amount.String() != "R$ 5.000,00" {
		t.Fatalf("salary panel lost: %+v", b.Salary)
	}
}

func TestResolveMonth(t *testing.T) {
	now := time.Date(2025, time.August, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		year, month string
		want        core.Month
	}{
		{"", "", core.Month{Year: 2025, Month: time.August}},
		{"2025", "3", core.Month{Year: 2025, Month: time.March}},
		{"2025", "13", core.Month{Year: 2025, Month: time.August}},
		{"abc", "3", core.Month{Year: 2025, Month: time.August}},
		{"2025", "", core.Month{Year: 2025, Month: time.August}},
	}
	for _, tt := range tests {
		if got := ResolveMonth(tt.year, tt.month, now); got != tt.want {
			t.Errorf("ResolveMonth(%q, %q) = %v, want %v", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestYears(t *testing.T) {
	got := Years(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	if len(got) != 3 || got[0] != 2025 || got[2] != 2027 {
		t.Fatalf("years = %v", got)
	}
	if got := Years(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); len(got) != 1 {
		t.Fatalf("years before first = %v", got)
	}
}
