// Package devapi is a development implementation of the fincon REST backend
// over sqlite. It serves the same contract the web app consumes, so the
// dashboard can run and be tested end to end without the production API.
package devapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fincon/internal/core"
	"fincon/internal/log"
	"fincon/internal/storage"
)

// Store is the persistence the handlers need.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string, salary decimal.Decimal) (storage.User, error)
	UserByEmail(ctx context.Context, email string) (storage.User, error)
	Goals(ctx context.Context, userID string) ([]core.Goal, error)
	UpdateGoals(ctx context.Context, userID string, ps []core.GoalPercentage) ([]core.Goal, error)
	Salary(ctx context.Context, userID string) (core.Salary, error)
	UpdateSalary(ctx context.Context, userID string, amount decimal.Decimal) (core.Salary, error)
	CreateExpenses(ctx context.Context, userID string, es []core.Expense) ([]core.Expense, error)
	UpdateExpense(ctx context.Context, userID string, id int64, u core.ExpenseUpdate) (core.Expense, error)
	DeleteExpense(ctx context.Context, userID string, id int64) error
	ExpensesByGoal(ctx context.Context, userID string, goalID int64, m core.Month) ([]core.Expense, error)
	SpentByGoal(ctx context.Context, userID string, m core.Month) (map[int64]decimal.Decimal, error)
	MatchingNames(ctx context.Context, userID, query string, limit int) ([]string, error)
}

type Options struct {
	Secret            string
	TokenTTL          time.Duration
	Currency          string
	RequestsPerMinute int
	AllowedOrigins    []string
	// PasswordCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	PasswordCost int
	Logger       *log.Logger
}

type Server struct {
	router       chi.Router
	store        Store
	tokens       *Tokens
	currency     string
	passwordCost int
	logger       *log.Logger
	now          func() time.Time
}

// New builds the backend router. Every route lives under /api.
func New(store Store, opts Options) (*Server, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if len(opts.Secret) < 16 {
		return nil, errors.New("token secret must be at least 16 characters")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 7 * 24 * time.Hour
	}
	if opts.Currency == "" {
		opts.Currency = core.DefaultCurrency
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 300
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.PasswordCost == 0 {
		opts.PasswordCost = bcrypt.DefaultCost
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		store:        store,
		tokens:       NewTokens(opts.Secret, opts.TokenTTL),
		currency:     opts.Currency,
		passwordCost: opts.PasswordCost,
		logger:       logger.WithComponent(log.ComponentDevAPI),
		now:          time.Now,
	}
	s.router = s.routes(opts)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(func(r *http.Request) string {
		return middleware.GetReqID(r.Context())
	}))
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httprate.Limit(
		opts.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
		}),
	))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", s.handleSignUp)
		r.Post("/sessions", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/goals", s.handleGoals)
			r.Post("/goals", s.handleUpdateGoals)
			r.Get("/goals/{id}/expenses", s.handleGoalExpenses)

			r.Get("/salary", s.handleSalary)
			r.Patch("/salary", s.handleUpdateSalary)

			r.Post("/expenses", s.handleCreateExpense)
			r.Get("/expenses/summary", s.handleSummary)
			r.Get("/expenses/matching-names", s.handleMatchingNames)
			r.Patch("/expenses/{id}", s.handleUpdateExpense)
			r.Delete("/expenses/{id}", s.handleDeleteExpense)
		})
	})

	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.FromContext(r.Context()).DebugContext(r.Context(), "Request handled",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, ww.Status(),
			log.FieldDuration, time.Since(start).Milliseconds())
	})
}
