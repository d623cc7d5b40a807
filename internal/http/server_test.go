package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"fincon/internal/api"
	"fincon/internal/config"
	"fincon/internal/core"
	"fincon/internal/services"
)

type fakeBudget struct {
	mu sync.Mutex

	goals    []core.Goal
	readErr  error
	loginErr error
	token    string
	mutErr   error

	created []core.NewExpense
	deleted []int64
	updated [][]core.GoalPercentage
	forgets int
}

func newFakeBudget() *fakeBudget {
	return &fakeBudget{
		goals: []core.Goal{
			{ID: 1, Name: "Fixed costs", Percentage: 50},
			{ID: 2, Name: "Pleasures", Percentage: 50},
		},
		token: "tok",
	}
}

func brl(v int64) core.Money { return core.NewMoney(decimal.NewFromInt(v), "BRL") }

func (f *fakeBudget) Goals(context.Context) ([]core.Goal, error) { return f.goals, f.readErr }

func (f *fakeBudget) Salary(context.Context) (core.Salary, error) {
	return core.Salary{Amount: brl(5000)}, f.readErr
}

func (f *fakeBudget) Summary(_ context.Context, _ core.Month) (core.Summary, error) {
	return core.Summary{
		Goals: []core.SummaryGoal{
			{Name: "Fixed costs", Spent: brl(100), MustSpend: brl(2400), Used: decimal.NewFromInt(4), Total: decimal.NewFromInt(2)},
			{Name: "Pleasures", Spent: brl(2600), MustSpend: brl(-100), Used: decimal.NewFromInt(104), Total: decimal.NewFromInt(52)},
		},
		Spent:     brl(2700),
		MustSpend: brl(2300),
		Used:      decimal.NewFromInt(54),
	}, f.readErr
}

func (f *fakeBudget) Expenses(_ context.Context, goalID int64, m core.Month) ([]core.Expense, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return []core.Expense{{ID: goalID * 10, Name: "Groceries", Value: brl(100), Date: m.FirstDay(), GoalID: goalID}}, nil
}

func (f *fakeBudget) Login(context.Context, core.Credentials) (string, error) {
	return f.token, f.loginErr
}

func (f *fakeBudget) SignUp(context.Context, api.SignUpParams) (string, error) {
	return f.token, f.loginErr
}

func (f *fakeBudget) Forget(context.Context) {
	f.mu.Lock()
	f.forgets++
	f.mu.Unlock()
}

func (f *fakeBudget) FindExpense(_ context.Context, id int64, at services.Location) (core.Expense, error) {
	return core.Expense{ID: id, Name: "Groceries", Value: brl(100), Date: at.Month.FirstDay(), GoalID: at.GoalID}, f.readErr
}

func (f *fakeBudget) MatchingNames(context.Context, string) ([]string, error) {
	return []string{"Groceries", "Gym"}, f.readErr
}

func (f *fakeBudget) CreateExpense(_ context.Context, e core.NewExpense) ([]core.Expense, error) {
	if f.mutErr != nil {
		return nil, f.mutErr
	}
	f.mu.Lock()
	f.created = append(f.created, e)
	f.mu.Unlock()
	return e.Split("BRL"), nil
}

func (f *fakeBudget) UpdateExpense(_ context.Context, id int64, _ services.Location, u core.ExpenseUpdate) (core.Expense, error) {
	return core.Expense{ID: id, Name: u.Name, Value: core.NewMoney(u.Value, "BRL"), Date: u.Date, GoalID: u.GoalID}, f.mutErr
}

func (f *fakeBudget) DeleteExpense(_ context.Context, id int64, _ services.Location) error {
	if f.mutErr != nil {
		return f.mutErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBudget) UpdateGoals(_ context.Context, ps []core.GoalPercentage) ([]core.Goal, error) {
	if f.mutErr != nil {
		return nil, f.mutErr
	}
	f.updated = append(f.updated, ps)
	return f.goals, nil
}

func (f *fakeBudget) UpdateSalary(_ context.Context, amount decimal.Decimal) (core.Salary, error) {
	return core.Salary{Amount: core.NewMoney(amount, "BRL")}, f.mutErr
}

func newTestServer(t *testing.T, b *fakeBudget) *Server {
	t.Helper()
	cfg := config.Load()
	cfg.RateLimitPerMinute = 1000
	srv, err := NewServer(cfg, Deps{Budget: b})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2025, time.May, 20, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(srv.rateLimiter.Stop)
	return srv
}

func do(srv *Server, method, target string, form url.Values, signedIn bool, htmx bool) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if signedIn {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func triggers(t *testing.T, rr *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	raw := rr.Header().Get("HX-Trigger")
	if raw == "" {
		return nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("HX-Trigger %q: %v", raw, err)
	}
	return out
}

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func TestGuardRedirectsAnonymousUsers(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	rr := do(srv, http.MethodGet, "/dashboard", nil, false, false)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}

	rr = do(srv, http.MethodGet, "/ui/summary", nil, false, true)
	if rr.Code != http.StatusNoContent || rr.Header().Get("HX-Redirect") != "/login" {
		t.Fatalf("htmx status=%d HX-Redirect=%q", rr.Code, rr.Header().Get("HX-Redirect"))
	}

	for _, path := range []string{"/login", "/signup", "/healthz"} {
		if rr := do(srv, http.MethodGet, path, nil, false, false); rr.Code != http.StatusOK {
			t.Errorf("%s status=%d", path, rr.Code)
		}
	}
}

func TestGuardSendsSignedInUsersToDashboard(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	for _, path := range []string{"/", "/login"} {
		rr := do(srv, http.MethodGet, path, nil, true, false)
		if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/dashboard" {
			t.Errorf("%s: status=%d location=%q", path, rr.Code, rr.Header().Get("Location"))
		}
	}
}

func TestExpiredTokenIsTreatedAsAnonymous(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if rr.Header().Get("Location") != "/login" {
		t.Fatalf("location=%q", rr.Header().Get("Location"))
	}
	if c := sessionCookie(rr); c == nil || c.MaxAge >= 0 {
		t.Fatalf("stale cookie not cleared: %+v", c)
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	rr := do(srv, http.MethodPost, "/login", url.Values{"email": {"Ana@Example.com"}, "password": {"secret123"}}, false, false)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/dashboard" {
		t.Fatalf("status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}
	c := sessionCookie(rr)
	if c == nil || c.Value != "tok" || !c.HttpOnly || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie = %+v", c)
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name     string
		form     url.Values
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "invalid email",
			form:     url.Values{"email": {"nope"}, "password": {"x"}},
			wantCode: http.StatusUnprocessableEntity,
			wantBody: "must be a valid email",
		},
		{
			name:     "rejected credentials",
			form:     url.Values{"email": {"a@b.co"}, "password": {"wrong"}},
			err:      &api.RequestError{Kind: api.KindInvalidCredentials, Message: "Invalid email or password."},
			wantCode: http.StatusUnauthorized,
			wantBody: "Invalid email or password.",
		},
		{
			name:     "backend down",
			form:     url.Values{"email": {"a@b.co"}, "password": {"secret"}},
			err:      &api.RequestError{Kind: api.KindNetwork, Message: "Could not reach the server."},
			wantCode: http.StatusBadGateway,
			wantBody: "Could not reach the server.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBudget()
			b.loginErr = tt.err
			srv := newTestServer(t, b)

			rr := do(srv, http.MethodPost, "/login", tt.form, false, false)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d want %d", rr.Code, tt.wantCode)
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Fatalf("body missing %q", tt.wantBody)
			}
			if sessionCookie(rr) != nil {
				t.Fatal("failed login must not set a cookie")
			}
		})
	}
}

func TestSignUpValidation(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	rr := do(srv, http.MethodPost, "/signup", url.Values{"email": {"a@b.co"}, "password": {"short"}, "salary": {"0"}}, false, false)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"at least 8 characters", "greater than or equal to 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestDashboardRendersPanels(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	rr := do(srv, http.MethodGet, "/dashboard?year=2025&month=5", nil, true, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{`id="goal-1"`, `id="goal-2"`, "Pleasures", "R$ 5.000,00", `class="overspent"`, "104%"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestGoalPanelsReloadOnlyForTheirGoal(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	rr := do(srv, http.MethodGet, "/dashboard?year=2025&month=5", nil, true, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, id := range []string{"1", "2"} {
		want := `hx-trigger="expense:changed[detail.goals.length === 0 || detail.goals.includes(` + id + `)] from:body"`
		if !strings.Contains(body, want) {
			t.Errorf("panel %s missing filtered trigger", id)
		}
	}
	if strings.Contains(body, `hx-trigger="expense:changed from:body"`) {
		t.Error("unfiltered expense trigger still rendered")
	}
}

func TestSessionExpiryRedirectsOnce(t *testing.T) {
	b := newFakeBudget()
	b.readErr = &api.RequestError{Kind: api.KindSessionExpired, Status: http.StatusUnauthorized}
	srv := newTestServer(t, b)

	rr := do(srv, http.MethodGet, "/dashboard", nil, true, false)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}
	if c := sessionCookie(rr); c == nil || c.MaxAge >= 0 {
		t.Fatalf("cookie not cleared: %+v", c)
	}
	if b.forgets != 1 {
		t.Fatalf("forgets = %d", b.forgets)
	}

	rr = do(srv, http.MethodGet, "/ui/summary", nil, true, true)
	if rr.Header().Get("HX-Redirect") != "/login" || rr.Body.Len() != 0 {
		t.Fatalf("partial: HX-Redirect=%q body=%q", rr.Header().Get("HX-Redirect"), rr.Body.String())
	}
}

func TestCreateExpense(t *testing.T) {
	b := newFakeBudget()
	srv := newTestServer(t, b)

	form := url.Values{
		"name":         {"Groceries"},
		"value":        {"120,50"},
		"date":         {"2025-05-10"},
		"goal_id":      {"2"},
		"installments": {"3"},
	}
	rr := do(srv, http.MethodPost, "/expenses", form, true, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(b.created) != 1 || b.created[0].Installments != 3 || b.created[0].GoalID != 2 {
		t.Fatalf("created = %+v", b.created)
	}

	tr := triggers(t, rr)
	if string(tr[EventExpenseChanged]) != `{"goals":[2]}` {
		t.Errorf("expense:changed = %s", tr[EventExpenseChanged])
	}
	if string(tr[EventSummaryRefresh]) != `{"year":2025,"month":5}` {
		t.Errorf("summary:refresh = %s", tr[EventSummaryRefresh])
	}
	if !strings.Contains(string(tr[EventNotification]), "3 installments created") {
		t.Errorf("notification = %s", tr[EventNotification])
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	b := newFakeBudget()
	srv := newTestServer(t, b)

	rr := do(srv, http.MethodPost, "/expenses", url.Values{"name": {"a"}, "value": {"0"}, "date": {"2025-05-10"}, "goal_id": {"1"}}, true, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"at least 2 characters", "greater than or equal to 1", `hx-post="/expenses"`} {
		if !strings.Contains(body, want) {
			t.Errorf("form missing %q", want)
		}
	}
	if len(b.created) != 0 {
		t.Fatal("invalid expense reached the backend")
	}
	if rr.Header().Get("HX-Trigger") != "" {
		t.Fatalf("unexpected triggers %q", rr.Header().Get("HX-Trigger"))
	}
}

func TestCreateExpenseBackendRejection(t *testing.T) {
	t.Run("validation goes back into the form", func(t *testing.T) {
		b := newFakeBudget()
		b.mutErr = &api.RequestError{
			Kind:    api.KindValidation,
			Message: "Some fields are invalid.",
			Fields:  map[string][]string{"name": {"is reserved"}},
		}
		srv := newTestServer(t, b)

		rr := do(srv, http.MethodPost, "/expenses", url.Values{"name": {"Rent"}, "value": {"10"}, "date": {"2025-05-10"}, "goal_id": {"1"}}, true, true)
		if rr.Code != http.StatusUnprocessableEntity || !strings.Contains(rr.Body.String(), "is reserved") {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("server error becomes a toast", func(t *testing.T) {
		b := newFakeBudget()
		b.mutErr = &api.RequestError{Kind: api.KindUnexpected, Status: 500, Message: "Something went wrong. Please try again."}
		srv := newTestServer(t, b)

		rr := do(srv, http.MethodPost, "/expenses", url.Values{"name": {"Rent"}, "value": {"10"}, "date": {"2025-05-10"}, "goal_id": {"1"}}, true, true)
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", rr.Code)
		}
		if _, ok := triggers(t, rr)[EventNotification]; !ok {
			t.Fatal("missing error notification")
		}
	})
}

func TestDeleteExpenseRefreshesSummary(t *testing.T) {
	b := newFakeBudget()
	srv := newTestServer(t, b)

	rr := do(srv, http.MethodDelete, "/expenses/20?from_goal_id=2&from_year=2025&from_month=4", nil, true, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if len(b.deleted) != 1 || b.deleted[0] != 20 {
		t.Fatalf("deleted = %v", b.deleted)
	}
	tr := triggers(t, rr)
	if string(tr[EventSummaryRefresh]) != `{"year":2025,"month":4}` {
		t.Errorf("summary:refresh = %s", tr[EventSummaryRefresh])
	}
}

func TestGoalsCheckEnablesSave(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	tests := []struct {
		query    string
		wantSum  string
		disabled bool
	}{
		{"goal_1=60&goal_2=40", "Total: 100%", false},
		{"goal_1=60&goal_2=30", "Total: 90%", true},
		{"goal_1=101&goal_2=-1", "Total: 100%", true},
		{"goal_1=abc&goal_2=100", "Total: 100%", true},
	}
	for _, tt := range tests {
		rr := do(srv, http.MethodGet, "/goals/check?"+tt.query, nil, true, true)
		body := rr.Body.String()
		if !strings.Contains(body, tt.wantSum) {
			t.Errorf("%s: body %q missing %q", tt.query, body, tt.wantSum)
		}
		if got := strings.Contains(body, "disabled"); got != tt.disabled {
			t.Errorf("%s: disabled = %v, want %v", tt.query, got, tt.disabled)
		}
	}
}

func TestUpdateGoals(t *testing.T) {
	b := newFakeBudget()
	srv := newTestServer(t, b)

	rr := do(srv, http.MethodPost, "/goals", url.Values{"goal_1": {"70"}, "goal_2": {"20"}}, true, true)
	if rr.Code != http.StatusUnprocessableEntity || len(b.updated) != 0 {
		t.Fatalf("bad sum: status=%d updated=%v", rr.Code, b.updated)
	}

	rr = do(srv, http.MethodPost, "/goals", url.Values{"goal_1": {"70"}, "goal_2": {"30"}}, true, true)
	if rr.Code != http.StatusOK || len(b.updated) != 1 {
		t.Fatalf("status=%d updated=%v", rr.Code, b.updated)
	}
	if _, ok := triggers(t, rr)[EventGoalsRefresh]; !ok {
		t.Fatal("missing goals:refresh")
	}
}

func TestMatchingNames(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	rr := do(srv, http.MethodGet, "/expenses/matching-names?name=gy", nil, true, true)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `<option value="Gym">`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	rr := do(srv, http.MethodGet, "/healthz", nil, false, false)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(srv, http.MethodGet, "/readyz", nil, false, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rr.Code)
	}

	rr = do(srv, http.MethodGet, "/metrics", nil, false, false)
	for _, want := range []string{"http_requests_total", "budget_mutations_total", "session_expired_total", "blocked_requests_total"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestStaticAssetsArePublic(t *testing.T) {
	srv := newTestServer(t, newFakeBudget())

	rr := do(srv, http.MethodGet, "/static/app.css", nil, false, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=3600") {
		t.Fatalf("Cache-Control = %q", cc)
	}
}
