package http

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fincon/internal/api"
	"fincon/internal/log"
)

// SessionCookieName holds the backend bearer token.
const SessionCookieName = "fincon_token"

// sessionCookies writes and clears the session cookie.
type sessionCookies struct {
	secure bool
	ttl    time.Duration
	now    func() time.Time
}

// tokenExpiry reads the exp claim without verifying the signature; the
// backend is the one that verifies tokens.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (c sessionCookies) set(w http.ResponseWriter, token string) {
	expires := c.now().Add(c.ttl)
	if exp, ok := tokenExpiry(token); ok {
		expires = exp
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(expires.Sub(c.now()).Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c sessionCookies) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// token returns the usable token from the request cookie. Tokens whose
// exp already passed are treated as absent.
func (c sessionCookies) token(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return ""
	}
	if exp, ok := tokenExpiry(cookie.Value); ok && !exp.After(c.now()) {
		return ""
	}
	return cookie.Value
}

// publicPath reports whether path is served without a session.
func publicPath(path string) bool {
	switch path {
	case "/login", "/signup", "/healthz", "/readyz", "/metrics", "/favicon.ico":
		return true
	}
	return strings.HasPrefix(path, "/static/")
}

// guard puts the session token in the request context and keeps
// anonymous users on the public pages. Signed-in users landing on / or
// /login go straight to the dashboard.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cookies.token(r)

		if token == "" {
			if publicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := r.Cookie(SessionCookieName); err == nil {
				s.cookies.clear(w)
			}
			redirect(w, r, "/login")
			return
		}

		if r.Method == http.MethodGet && (r.URL.Path == "/" || r.URL.Path == "/login") {
			redirect(w, r, "/dashboard")
			return
		}

		next.ServeHTTP(w, r.WithContext(api.WithToken(r.Context(), token)))
	})
}

// expireSession ends a session the backend rejected: cookie cleared, cached
// reads dropped, one redirect to the login page.
func (s *Server) expireSession(w http.ResponseWriter, r *http.Request) {
	s.budget.Forget(r.Context())
	s.cookies.clear(w)
	redirect(w, r, "/login")
}

// redirect navigates the browser. htmx requests get HX-Redirect so the
// whole page changes instead of a fragment swap.
func redirect(w http.ResponseWriter, r *http.Request, location string) {
	if r.Header.Get("HX-Request") == "true" {
		NewHTMXResponse().Redirect(location).Status(http.StatusNoContent).Write(w)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// SessionTracker is the API client's unauthorized hook. It counts and logs
// backend session rejections; the handlers do the redirect.
type SessionTracker struct {
	expired atomic.Int64
	logger  *log.Logger
}

// NewSessionTracker creates a tracker.
func NewSessionTracker(logger *log.Logger) *SessionTracker {
	if logger == nil {
		logger = log.Discard()
	}
	return &SessionTracker{logger: logger.WithComponent(log.ComponentSession)}
}

// OnUnauthorized implements api.UnauthorizedFunc.
func (t *SessionTracker) OnUnauthorized(ctx context.Context, err *api.RequestError) {
	t.expired.Add(1)
	t.logger.InfoContext(ctx, "Session expired",
		log.FieldMethod, err.Method,
		log.FieldPath, err.Path)
}

// Expired returns how many requests the backend rejected with 401.
func (t *SessionTracker) Expired() int64 {
	return t.expired.Load()
}
