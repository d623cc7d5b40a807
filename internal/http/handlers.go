package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fincon/internal/api"
	"fincon/internal/core"
	"fincon/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if s.backend != nil {
		if err := s.backend.Ping(ctx); err != nil {
			checks["rest_api"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["rest_api"] = "ok"
		}
	} else {
		checks["rest_api"] = "not_configured"
	}

	if s.cache != nil {
		stats := s.cache.Stats()
		checks["cache"] = map[string]any{
			"entries": stats.Entries,
			"status":  "ok",
		}
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	response := map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}

	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(response)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()
	uptime := time.Since(s.appMetrics.uptime)

	w.WriteHeader(http.StatusOK)

	counter := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %v\n\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n\n", name, help, name, name, v)
	}

	counter("http_requests_total", "Total number of HTTP requests", traceMetrics.TotalRequests)
	fmt.Fprintf(w, "# HELP http_responses_total HTTP responses by status class\n# TYPE http_responses_total counter\n")
	fmt.Fprintf(w, "http_responses_total{class=\"2xx\"} %d\n", traceMetrics.Status2xx)
	fmt.Fprintf(w, "http_responses_total{class=\"3xx\"} %d\n", traceMetrics.Status3xx)
	fmt.Fprintf(w, "http_responses_total{class=\"4xx\"} %d\n", traceMetrics.Status4xx)
	fmt.Fprintf(w, "http_responses_total{class=\"5xx\"} %d\n\n", traceMetrics.Status5xx)
	gauge("http_requests_in_flight", "Requests currently being served", traceMetrics.InFlight)

	counter("budget_mutations_total", "Successful expense, goal and salary mutations", s.appMetrics.mutations.Load())
	counter("budget_mutation_failures_total", "Mutations rejected by validation or the backend", s.appMetrics.mutationFailures.Load())
	counter("session_expired_total", "Backend calls rejected with 401", s.sessions.Expired())

	if s.cache != nil {
		stats := s.cache.Stats()
		counter("cache_hits_total", "Total query cache hits", stats.Hits)
		counter("cache_misses_total", "Total query cache misses", stats.Misses)
		counter("cache_invalidations_total", "Total query cache invalidations", stats.Invalidations)
		gauge("cache_entries", "Current query cache entries", stats.Entries)
	}

	counter("rate_limit_rejections_total", "Requests refused by the rate limiter", s.rateLimiter.Rejected())
	gauge("active_rate_limit_clients", "Currently tracked rate limit clients", s.rateLimiter.ActiveClients())
	counter("suspicious_requests_total", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	counter("blocked_requests_total", "Total requests blocked by the detector", securityMetrics.BlockedRequests)
	gauge("uptime_seconds", "Application uptime in seconds", fmt.Sprintf("%.0f", uptime.Seconds()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	redirect(w, r, "/dashboard")
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login.html", authPage{Title: "Log in"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	creds := core.Credentials{Email: strings.ToLower(p.Get("email")), Password: p.Get("password")}
	page := authPage{Title: "Log in", Email: creds.Email}

	if fe := core.ValidateCredentials(creds); !fe.Empty() {
		page.Errors = fe
		s.render(w, r, http.StatusUnprocessableEntity, "login.html", page)
		return
	}

	token, err := s.budget.Login(r.Context(), creds)
	if err != nil {
		page.Errors, page.Message = authFailure(err)
		s.render(w, r, statusFor(err), "login.html", page)
		return
	}

	s.cookies.set(w, token)
	redirect(w, r, "/dashboard")
}

func (s *Server) handleSignUpPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "signup.html", authPage{Title: "Sign up"})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	creds := core.Credentials{Email: strings.ToLower(p.Get("email")), Password: p.Get("password")}
	page := authPage{Title: "Sign up", Email: creds.Email, Salary: p.Get("salary")}

	salary, fe := core.ValidateSignUp(creds, page.Salary)
	if !fe.Empty() {
		page.Errors = fe
		s.render(w, r, http.StatusUnprocessableEntity, "signup.html", page)
		return
	}

	token, err := s.budget.SignUp(r.Context(), api.SignUpParams{Email: creds.Email, Password: creds.Password, Salary: salary})
	if err != nil {
		page.Errors, page.Message = authFailure(err)
		s.render(w, r, statusFor(err), "signup.html", page)
		return
	}

	s.cookies.set(w, token)
	redirect(w, r, "/dashboard")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.budget.Forget(r.Context())
	s.cookies.clear(w)
	redirect(w, r, "/login")
}

// authFailure turns a login or sign-up error into form errors. Backend
// messages are shown verbatim.
func authFailure(err error) (core.FieldErrors, string) {
	var re *api.RequestError
	if errors.As(err, &re) && len(re.Fields) > 0 {
		return core.FieldErrors(re.Fields), re.Message
	}
	return nil, api.UserMessage(err)
}

// statusFor maps a backend failure to the status of our own response.
func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrInvalidCredentials), errors.Is(err, api.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, api.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, api.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func userMessage(err error) string {
	if err == nil {
		return ""
	}
	return api.UserMessage(err)
}

// mutationFailed answers a failed mutation. A rejected session redirects to
// the login page once; backend validation errors go back into the form
// through rerender; anything else becomes an error toast.
func (s *Server) mutationFailed(w http.ResponseWriter, r *http.Request, err error, op string, rerender func(fe core.FieldErrors, message string)) {
	s.appMetrics.mutationFailures.Add(1)

	if api.IsSessionExpired(err) {
		s.expireSession(w, r)
		return
	}

	var re *api.RequestError
	if errors.As(err, &re) && re.Kind == api.KindValidation && rerender != nil {
		rerender(core.FieldErrors(re.Fields), re.Message)
		return
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "Budget mutation failed", err, op, nil)

	msg := api.UserMessage(err)
	ErrorResponse(statusFor(err), msg).TriggerErrorNotification(msg).Write(w)
}

// readFailed answers a failed read of a partial.
func (s *Server) readFailed(w http.ResponseWriter, r *http.Request, err error) bool {
	if api.IsSessionExpired(err) {
		s.expireSession(w, r)
		return true
	}
	return false
}
