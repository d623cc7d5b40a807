package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fincon/internal/core"
	"fincon/internal/log"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	c, err := New(srv.URL+"/api", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestGoalsSendsBearerToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/goals" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = io.WriteString(w, `[{"id":1,"name":"Comfort","percentage":30},{"id":2,"name":"Fixed costs","percentage":70}]`)
	})

	goals, err := c.Goals(WithToken(context.Background(), "tok"))
	if err != nil {
		t.Fatalf("goals: %v", err)
	}
	if len(goals) != 2 || goals[1].Name != "Fixed costs" || goals[1].Percentage != 70 {
		t.Fatalf("unexpected goals %+v", goals)
	}
}

func TestUnauthorizedInvokesHandlerOnce(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, WithUnauthorizedHandler(func(ctx context.Context, err *RequestError) {
		atomic.AddInt32(&calls, 1)
	}))

	_, err := c.Salary(WithToken(context.Background(), "expired"))
	if !IsSessionExpired(err) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("handler called %d times", n)
	}
}

func TestLoginUnauthorizedIsCredentialError(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid email or password"}`)
	}, WithUnauthorizedHandler(func(ctx context.Context, err *RequestError) {
		atomic.AddInt32(&calls, 1)
	}))

	_, err := c.Login(context.Background(), core.Credentials{Email: "a@b.com", Password: "x"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if UserMessage(err) != "invalid email or password" {
		t.Fatalf("message = %q", UserMessage(err))
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("unauthorized handler must not run for login")
	}
}

func TestValidationErrorSurfacedVerbatim(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errors":{"name":["must have at least 2 characters"]}}`)
	})

	_, err := c.CreateExpense(context.Background(), core.NewExpense{Name: "x", Value: decimal.NewFromInt(1), Date: core.NewDate(2025, time.May, 1), GoalID: 1})
	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if re.Kind != KindValidation || re.Fields["name"][0] != "must have at least 2 characters" {
		t.Fatalf("unexpected error %+v", re)
	}

	c2, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"the sum of all percentages must be equal to 100"}`)
	})
	_, err = c2.UpdateGoals(context.Background(), []core.GoalPercentage{{ID: 1, Percentage: 10}})
	if !errors.Is(err, ErrValidation) || UserMessage(err) != "the sum of all percentages must be equal to 100" {
		t.Fatalf("unexpected %v", err)
	}
}

func TestServerErrorIsGeneric(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `panic: boom`)
	})
	_, err := c.Goals(context.Background())
	var re *RequestError
	if !errors.As(err, &re) || re.Kind != KindUnexpected || !re.Retryable() {
		t.Fatalf("unexpected %v", err)
	}
	if strings.Contains(UserMessage(err), "boom") {
		t.Fatal("internal details leaked to user message")
	}
}

func TestNotFoundAndConflict(t *testing.T) {
	status := http.StatusNotFound
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	if err := c.DeleteExpense(context.Background(), 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	status = http.StatusConflict
	if err := c.DeleteExpense(context.Background(), 9); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestNetworkError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := c.Goals(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	var re *RequestError
	if !errors.As(err, &re) || !re.Retryable() {
		t.Fatalf("network errors should be retryable: %v", err)
	}
}

func TestMatchingNamesMinimumLength(t *testing.T) {
	var requests int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if got := r.URL.Query().Get("query"); got != "groc" {
			t.Errorf("query = %q", got)
		}
		_, _ = io.WriteString(w, `["Groceries"]`)
	})

	for _, q := range []string{"", "g", " g "} {
		names, err := c.MatchingNames(context.Background(), q)
		if err != nil || names != nil {
			t.Fatalf("%q: expected no result, got %v %v", q, names, err)
		}
	}
	if n := atomic.LoadInt32(&requests); n != 0 {
		t.Fatalf("short queries issued %d requests", n)
	}

	names, err := c.MatchingNames(context.Background(), "groc")
	if err != nil || len(names) != 1 {
		t.Fatalf("unexpected %v %v", names, err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Fatalf("expected one request, got %d", n)
	}
}

func TestCreateExpenseWireFormat(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/expenses" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if string(body["value"]) != "1500.5" {
			t.Errorf("value = %s, want plain number", body["value"])
		}
		if string(body["date"]) != `"2025-05-05"` {
			t.Errorf("date = %s", body["date"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":[{"id":10,"name":"Rent","value":{"amount":1500.5,"currency":"BRL"},"date":"2025-05-05","goal_id":1}]}`)
	})

	got, err := c.CreateExpense(context.Background(), core.NewExpense{
		Name:   "Rent",
		Value:  decimal.RequireFromString("1500.50"),
		Date:   core.NewDate(2025, time.May, 5),
		GoalID: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(got) != 1 || got[0].ID != 10 || got[0].Value.String() != "R$ 1.500,50" {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestSummaryQueryUsesFirstDayOfMonth(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("date"); got != "2025-03-01" {
			t.Errorf("date = %q", got)
		}
		_, _ = io.WriteString(w, `{"goals":[{"name":"Fixed costs","spent":{"amount":1500,"currency":"BRL"},"must_spend":{"amount":1000,"currency":"BRL"},"used":60,"total":30}],"spent":{"amount":1500,"currency":"BRL"},"must_spend":{"amount":3500,"currency":"BRL"},"used":30}`)
	})

	s, err := c.Summary(context.Background(), core.Month{Year: 2025, Month: time.March})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(s.Goals) != 1 || s.Goals[0].MustSpend.String() != "R$ 1.000,00" || !s.Goals[0].Used.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("unexpected %+v", s)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("ftp://example.com"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestPingTreatsAnyAnswerAsReachable(t *testing.T) {
	status := http.StatusUnauthorized
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() with 401 = %v", err)
	}
	status = http.StatusBadGateway
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("Ping() with 502 should fail")
	}
}
