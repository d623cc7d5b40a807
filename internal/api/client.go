// Package api is the typed client for the fincon REST backend.
//
// Every method performs exactly one HTTP call and returns a typed result or
// a *RequestError. The bearer token travels in the context (see WithToken);
// a 401 on an authenticated call is reported once to the configured
// unauthorized handler so the web layer can clear the session.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fincon/internal/log"
)

const maxErrorBody = 1 << 20

type tokenKey struct{}

// WithToken returns a context carrying the bearer token for outgoing calls.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the bearer token stored in ctx, if any.
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

// UnauthorizedFunc is invoked once for every authenticated request that
// the backend rejected with 401.
type UnauthorizedFunc func(ctx context.Context, err *RequestError)

// Client talks to the REST backend.
type Client struct {
	baseURL        string
	http           *http.Client
	onUnauthorized UnauthorizedFunc
	logger         *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithUnauthorizedHandler registers the single 401 interception point.
func WithUnauthorizedHandler(fn UnauthorizedFunc) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithLogger sets the client logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL, which includes any path prefix
// such as "/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q: must be http or https", u.Scheme)
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  log.New(log.DefaultConfig()).WithComponent(log.ComponentAPI),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

type call struct {
	method string
	path   string
	query  url.Values
	in     any
	out    any
	// credential calls (login, sign-up) never trigger the unauthorized handler.
	credential bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	start := time.Now()
	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.in != nil {
		b, err := json.Marshal(cl.in)
		if err != nil {
			return &RequestError{Kind: KindUnexpected, Method: cl.method, Path: cl.path, Message: msgTryAgain, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return &RequestError{Kind: KindUnexpected, Method: cl.method, Path: cl.path, Message: msgTryAgain, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if cl.in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Backend request failed",
			log.FieldMethod, cl.method,
			log.FieldPath, cl.path,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
		return &RequestError{Kind: KindNetwork, Method: cl.method, Path: cl.path, Message: msgNetwork, Err: errors.Join(ErrNetwork, err)}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Backend request completed",
		log.FieldMethod, cl.method,
		log.FieldPath, cl.path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if cl.out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil && !errors.Is(err, io.EOF) {
			return &RequestError{Kind: KindUnexpected, Method: cl.method, Path: cl.path, Status: resp.StatusCode, Message: msgTryAgain, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}

	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &eb)

	re := classify(resp.StatusCode, eb, cl.credential)
	re.Method = cl.method
	re.Path = cl.path

	if re.Kind == KindSessionExpired {
		c.logger.InfoContext(ctx, "Session rejected by backend",
			log.FieldPath, cl.path,
			log.FieldErrorType, log.ErrorTypeAuth)
		if c.onUnauthorized != nil {
			c.onUnauthorized(ctx, re)
		}
	} else if re.Kind == KindUnexpected {
		c.logger.ErrorContext(ctx, "Unexpected backend response",
			log.FieldMethod, cl.method,
			log.FieldPath, cl.path,
			log.FieldStatusCode, resp.StatusCode,
			"body", truncate(string(raw), 256))
	}
	return re
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Ping checks the backend answers HTTP at all. Any response, including
// 401, counts as reachable; transport failures and 5xx do not.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, call{method: http.MethodGet, path: "/goals", credential: true})
	var re *RequestError
	if err == nil || !errors.As(err, &re) {
		return err
	}
	if re.Kind == KindNetwork || (re.Kind == KindUnexpected && re.Status >= 500) {
		return err
	}
	return nil
}
