// Package ratelimit throttles requests per client with a fixed one-minute
// window.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"fincon/internal/log"
)

const window = time.Minute

// Config controls the per-client budget and how often idle clients are
// forgotten.
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60, CleanupInterval: 5 * time.Minute}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = d.RequestsPerMinute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}

// bucket counts the requests a client made since start.
type bucket struct {
	start time.Time
	used  int
}

func (b *bucket) expired(now time.Time) bool {
	return now.Sub(b.start) >= window
}

// Limiter keeps one bucket per client key.
type Limiter struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	rejected atomic.Int64
	quit     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a limiter and starts sweeping idle clients in the
// background until Stop.
func NewLimiter(cfg Config, logger *log.Logger) *Limiter {
	if logger == nil {
		logger = log.Discard()
	}
	l := &Limiter{
		cfg:     cfg.withDefaults(),
		logger:  logger.WithComponent(log.ComponentRateLimit),
		now:     time.Now,
		buckets: map[string]*bucket{},
		quit:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow spends one request of key's budget. When the budget is gone it
// returns false and the time left until the window resets.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.buckets[key]
	switch {
	case b == nil || b.expired(now):
		l.buckets[key] = &bucket{start: now, used: 1}
		return true, 0
	case b.used < l.cfg.RequestsPerMinute:
		b.used++
		return true, 0
	default:
		return false, b.start.Add(window).Sub(now)
	}
}

func (l *Limiter) sweep() {
	t := time.NewTicker(l.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-l.quit:
			return
		case <-t.C:
			if n := l.cleanupStaleEntries(); n > 0 {
				l.logger.Debug("Rate limit clients expired", "removed", n)
			}
		}
	}
}

// cleanupStaleEntries forgets clients whose window is over and reports how
// many went.
func (l *Limiter) cleanupStaleEntries() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	before := len(l.buckets)
	for key, b := range l.buckets {
		if b.expired(now) {
			delete(l.buckets, key)
		}
	}
	return before - len(l.buckets)
}

func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Rejected counts refused requests since start.
func (l *Limiter) Rejected() int64 { return l.rejected.Load() }

// Stop ends the sweeper. Calling it again is a no-op.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

// Middleware limits requests for which applies returns true; the rest pass
// through. onLimit renders the refusal; a plain 429 is used when nil.
func (l *Limiter) Middleware(clientKey func(*http.Request) string, applies func(*http.Request) bool, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	if onLimit == nil {
		onLimit = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if applies == nil || applies(r) {
				key := clientKey(r)
				if ok, wait := l.Allow(key); !ok {
					l.rejected.Add(1)
					l.logger.WarnContext(r.Context(), "Rate limit exceeded",
						log.FieldClientIP, key,
						log.FieldPath, r.URL.Path)
					w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)+1))
					onLimit(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Mutating matches requests that change data.
func Mutating(r *http.Request) bool {
	return r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions
}
