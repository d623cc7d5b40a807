package log

import (
	"context"
	"log/slog"
	"net/http"
)

type ctxKey struct{}

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or one over slog.Default with
// component "unknown" when none was attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{Logger: slog.Default(), component: "unknown"}
}

// Middleware attaches logger to every request context.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return Enrich(func(*http.Request, *Logger) *Logger { return logger })
}

// RequestIDMiddleware tags the request logger with the id extract returns.
func RequestIDMiddleware(extract func(*http.Request) string) func(http.Handler) http.Handler {
	return Enrich(func(r *http.Request, l *Logger) *Logger {
		return l.With(FieldRequestID, extract(r))
	})
}

// Enrich replaces the request logger with the one derive returns.
func Enrich(derive func(r *http.Request, current *Logger) *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			next.ServeHTTP(w, r.WithContext(NewContext(ctx, derive(r, FromContext(ctx)))))
		})
	}
}

// StructuredLogger writes the recurring records (HTTP lifecycle, mutations,
// failures) with a fixed field layout.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func (sl *StructuredLogger) LogHTTPStart(ctx context.Context, r *http.Request, requestID, clientIP string) {
	f := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent(), r.Referer()).
		WithClientIP(clientIP).
		WithRequestID(requestID)
	sl.logger.DebugContext(ctx, "HTTP request started", f.ToSlice()...)
}

// LogHTTPEnd logs at warn for 4xx and error for 5xx.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, requestID string, status int, durationMs int64, clientIP string) {
	f := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", "").
		WithHTTPResponse(status, durationMs, status < 400).
		WithClientIP(clientIP).
		WithRequestID(requestID)
	sl.logger.emit(ctx, statusLevel(status), "HTTP request completed", f.ToSlice())
}

// LogMutation records a successful budget mutation.
func (sl *StructuredLogger) LogMutation(ctx context.Context, op string, f LogFields) {
	sl.logger.InfoContext(ctx, "Budget mutation succeeded", f.WithOperation(op).ToSlice()...)
}

func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, op string, f LogFields) {
	if f == nil {
		f = NewFields()
	}
	sl.logger.ErrorContext(ctx, msg, f.WithError(err).WithOperation(op).ToSlice()...)
}
