// Package trace assigns request IDs, logs request start and end, and
// counts responses for the metrics endpoint.
package trace

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fincon/internal/log"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// Incoming IDs are reused only when they look like something we would
// generate ourselves.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_\-]{8,64}$`)

// Metrics is a snapshot of request counters.
type Metrics struct {
	TotalRequests  int64
	InFlight       int64
	Status2xx      int64
	Status3xx      int64
	Status4xx      int64
	Status5xx      int64
	TotalLatencyMs int64
}

type Middleware struct {
	clientIP func(*http.Request) string
	logger   *log.Logger
	http     *log.StructuredLogger

	total    atomic.Int64
	inFlight atomic.Int64
	latency  atomic.Int64
	// byClass[0] counts 2xx (and anything below 300), byClass[3] counts 5xx.
	byClass [4]atomic.Int64
}

func NewMiddleware(logger *log.Logger, clientIP func(*http.Request) string) *Middleware {
	if logger == nil {
		logger = log.Discard()
	}
	if clientIP == nil {
		clientIP = func(*http.Request) string { return "" }
	}
	logger = logger.WithComponent(log.ComponentTrace)
	return &Middleware{clientIP: clientIP, logger: logger, http: log.NewStructuredLogger(logger)}
}

// Middleware stores the request ID and a logger carrying it in the request
// context before calling next.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ip := m.clientIP(r)

		id := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = log.NewContext(ctx, m.logger.With(log.FieldRequestID, id))
		r = r.WithContext(ctx)

		m.total.Add(1)
		m.inFlight.Add(1)
		m.http.LogHTTPStart(ctx, r, id, ip)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.inFlight.Add(-1)
		elapsed := time.Since(started).Milliseconds()
		m.latency.Add(elapsed)
		m.byClass[statusClass(rec.status)].Add(1)
		m.http.LogHTTPEnd(ctx, r, id, rec.status, elapsed, ip)
	})
}

func statusClass(status int) int {
	c := status/100 - 2
	return min(max(c, 0), 3)
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.status, s.written = code, true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.written = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// GenerateRequestID returns "req_" followed by 16 hex characters.
func GenerateRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// GetRequestID returns the ID assigned by Middleware, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:  m.total.Load(),
		InFlight:       m.inFlight.Load(),
		Status2xx:      m.byClass[0].Load(),
		Status3xx:      m.byClass[1].Load(),
		Status4xx:      m.byClass[2].Load(),
		Status5xx:      m.byClass[3].Load(),
		TotalLatencyMs: m.latency.Load(),
	}
}
