package security

import (
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync/atomic"

	"fincon/internal/log"
)

// Verdict is the outcome of inspecting a request.
type Verdict int

const (
	VerdictClean Verdict = iota
	// VerdictSuspicious is logged but served.
	VerdictSuspicious
	// VerdictBlocked is refused.
	VerdictBlocked
)

const maxURLLength = 2048

// rule flags a request when any needle occurs in the text it inspects.
type rule struct {
	verdict Verdict
	in      func(r *http.Request) string
	needles []string
}

func lowerPath(r *http.Request) string { return strings.ToLower(r.URL.Path) }

func lowerTarget(r *http.Request) string {
	query, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil {
		query = r.URL.RawQuery
	}
	return strings.ToLower(r.URL.Path + "?" + query)
}

func lowerAgent(r *http.Request) string { return strings.ToLower(r.UserAgent()) }

// Blocking rules come first so a request matching both kinds is refused.
var rules = []rule{
	{VerdictBlocked, lowerPath, []string{
		"../", "..\\", ".env", ".git", ".ssh", "etc/passwd", "cmd.exe",
		"wp-admin", "phpmyadmin", "admin.php", "config.php",
	}},
	{VerdictSuspicious, lowerTarget, []string{"<script", "javascript:", "eval(", "union select"}},
	{VerdictSuspicious, lowerAgent, []string{"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan"}},
}

var blockedMethods = map[string]struct{}{
	"TRACE": {}, "TRACK": {}, "DEBUG": {}, "CONNECT": {},
}

// Forwarded headers are honored only from these peers.
var trustedProxies = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
}

// DetectionMetrics counts flagged requests.
type DetectionMetrics struct {
	SuspiciousRequests int64
	BlockedRequests    int64
}

// Detector flags and blocks obviously hostile requests.
type Detector struct {
	logger     *log.Logger
	suspicious atomic.Int64
	blocked    atomic.Int64
}

func NewDetector(logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.Discard()
	}
	return &Detector{logger: logger.WithComponent(log.ComponentSecurity)}
}

// Inspect classifies a request.
func (d *Detector) Inspect(r *http.Request) Verdict {
	if _, bad := blockedMethods[r.Method]; bad || len(r.URL.String()) > maxURLLength {
		return VerdictBlocked
	}
	for _, rl := range rules {
		text := rl.in(r)
		for _, n := range rl.needles {
			if strings.Contains(text, n) {
				return rl.verdict
			}
		}
	}
	if strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5 {
		return VerdictSuspicious
	}
	return VerdictClean
}

// Middleware logs suspicious requests and answers blocked ones with 404.
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verdict := d.Inspect(r)
		if verdict == VerdictClean {
			next.ServeHTTP(w, r)
			return
		}

		attrs := []any{
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, d.ExtractClientIP(r),
		}
		if verdict == VerdictBlocked {
			d.blocked.Add(1)
			d.logger.WarnContext(r.Context(), "Blocked request", attrs...)
			http.NotFound(w, r)
			return
		}
		d.suspicious.Add(1)
		d.logger.WarnContext(r.Context(), "Suspicious request", append(attrs, log.FieldUserAgent, r.UserAgent())...)
		next.ServeHTTP(w, r)
	})
}

// ExtractClientIP returns the peer address, or the first forwarded address
// when the peer is a trusted proxy.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !trusted(addr.Unmap()) {
		return peer
	}

	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	for _, candidate := range []string{first, r.Header.Get("X-Real-IP")} {
		candidate = strings.TrimSpace(candidate)
		if _, err := netip.ParseAddr(candidate); err == nil {
			return candidate
		}
	}
	return peer
}

func trusted(addr netip.Addr) bool {
	for _, p := range trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: d.suspicious.Load(),
		BlockedRequests:    d.blocked.Load(),
	}
}
