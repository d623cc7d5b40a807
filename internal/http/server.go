// Package http serves the fincon dashboard: server-rendered pages and htmx
// partials backed by the budget service.
package http

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"fincon/internal/api"
	"fincon/internal/cache"
	"fincon/internal/config"
	"fincon/internal/core"
	"fincon/internal/dashboard"
	"fincon/internal/log"
	"fincon/internal/middleware/ratelimit"
	"fincon/internal/middleware/security"
	"fincon/internal/middleware/trace"
	"fincon/internal/services"
	appweb "fincon/web"
)

// Budget is what the handlers need from the budget service.
type Budget interface {
	dashboard.Reader
	Login(ctx context.Context, creds core.Credentials) (string, error)
	SignUp(ctx context.Context, p api.SignUpParams) (string, error)
	Forget(ctx context.Context)
	FindExpense(ctx context.Context, id int64, at services.Location) (core.Expense, error)
	MatchingNames(ctx context.Context, query string) ([]string, error)
	CreateExpense(ctx context.Context, e core.NewExpense) ([]core.Expense, error)
	UpdateExpense(ctx context.Context, id int64, from services.Location, u core.ExpenseUpdate) (core.Expense, error)
	DeleteExpense(ctx context.Context, id int64, from services.Location) error
	UpdateGoals(ctx context.Context, ps []core.GoalPercentage) ([]core.Goal, error)
	UpdateSalary(ctx context.Context, amount decimal.Decimal) (core.Salary, error)
}

// Pinger checks the REST backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource reports query cache activity.
type StatsSource interface {
	Stats() cache.Stats
}

// Deps are the collaborators a Server needs. Cache, Sessions and Backend
// are optional.
type Deps struct {
	Budget   Budget
	Cache    StatsSource
	Sessions *SessionTracker
	Backend  Pinger
	Logger   *log.Logger
}

// appMetrics holds application-specific metrics
type appMetrics struct {
	mutations        atomic.Int64
	mutationFailures atomic.Int64
	uptime           time.Time
}

type Server struct {
	http.Server
	templates *template.Template
	budget    Budget
	composer  *dashboard.Composer
	cache     StatsSource
	sessions  *SessionTracker
	backend   Pinger
	cookies   sessionCookies
	logger    *log.Logger
	now       func() time.Time

	securityDetector *security.Detector
	rateLimiter      *ratelimit.Limiter
	traceMiddleware  *trace.Middleware

	appMetrics   appMetrics
	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Budget == nil {
		return nil, errors.New("budget service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionTracker(logger)
	}

	detector := security.NewDetector(logger)
	s := &Server{
		templates: t,
		budget:    deps.Budget,
		composer:  dashboard.NewComposer(deps.Budget, cfg.DashboardMaxParallel, logger),
		cache:     deps.Cache,
		sessions:  sessions,
		backend:   deps.Backend,
		cookies: sessionCookies{
			secure: cfg.SecureCookies,
			ttl:    cfg.SessionTTL,
			now:    time.Now,
		},
		logger:           logger,
		now:              time.Now,
		securityDetector: detector,
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			CleanupInterval:   5 * time.Minute,
		}, logger),
		traceMiddleware: trace.NewMiddleware(logger, detector.ExtractClientIP),
	}
	s.appMetrics.uptime = time.Now()

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.DefaultHeadersConfig()
	headers.TrustForwardedProto = cfg.IsProduction()

	var handler http.Handler = mux
	handler = s.guard(handler)
	handler = s.rateLimiter.Middleware(detector.ExtractClientIP, ratelimit.Mutating, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	})(handler)
	handler = security.NewHeadersMiddleware(headers).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	page := func(h http.HandlerFunc) http.Handler { return security.NoStore(h) }

	mux.Handle("GET /{$}", page(s.handleIndex))
	mux.Handle("GET /login", page(s.handleLoginPage))
	mux.Handle("POST /login", page(s.handleLogin))
	mux.Handle("GET /signup", page(s.handleSignUpPage))
	mux.Handle("POST /signup", page(s.handleSignUp))
	mux.Handle("POST /logout", page(s.handleLogout))

	mux.Handle("GET /dashboard", page(s.handleDashboard))
	mux.Handle("GET /ui/summary", page(s.handleSummary))
	mux.Handle("GET /ui/goals/{id}/expenses", page(s.handleGoalExpenses))
	mux.Handle("GET /ui/salary", page(s.handleSalary))
	mux.Handle("GET /ui/salary/edit", page(s.handleSalaryForm))
	mux.Handle("PATCH /salary", page(s.handleUpdateSalary))
	mux.Handle("POST /salary", page(s.handleUpdateSalary))

	mux.Handle("GET /expenses/new", page(s.handleNewExpenseForm))
	mux.Handle("POST /expenses", page(s.handleCreateExpense))
	mux.Handle("GET /expenses/matching-names", page(s.handleMatchingNames))
	mux.Handle("GET /expenses/{id}/edit", page(s.handleEditExpenseForm))
	mux.Handle("PATCH /expenses/{id}", page(s.handleUpdateExpense))
	mux.Handle("POST /expenses/{id}", page(s.handleUpdateExpense))
	mux.Handle("DELETE /expenses/{id}", page(s.handleDeleteExpense))

	mux.Handle("GET /goals/edit", page(s.handleGoalsForm))
	mux.Handle("GET /goals/check", page(s.handleGoalsCheck))
	mux.Handle("POST /goals", page(s.handleUpdateGoals))
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// respond renders a template into b's body and writes it. Templates are
// executed into a buffer first so a failure never leaves a half-written page.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, b *HTMXResponseBuilder, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err,
			"template", name,
			log.FieldOperation, log.OpRender)
		InternalServerError("Something went wrong. Please try again.").Write(w)
		return
	}
	b.BodyHTML(buf.String()).Write(w)
}

// render writes a template with the given status.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	s.respond(w, r, NewHTMXResponse().Status(status), name, data)
}
