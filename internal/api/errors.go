package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies a failed request by how the caller should react.
type Kind int

const (
	// KindUnexpected covers 5xx and anything unclassified.
	KindUnexpected Kind = iota
	// KindNetwork is a transport failure; the request may be retried by the user.
	KindNetwork
	// KindSessionExpired is a 401 on an authenticated call.
	KindSessionExpired
	// KindInvalidCredentials is a 401 on login or sign-up.
	KindInvalidCredentials
	// KindValidation is a 4xx with a structured error body.
	KindValidation
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindSessionExpired:
		return "session_expired"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unexpected"
	}
}

// Sentinels matched through RequestError.Is.
var (
	ErrNetwork            = errors.New("network error")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrUnexpected         = errors.New("unexpected response")
)

const (
	msgNetwork    = "Could not reach the server. Check your connection and try again."
	msgSession    = "Your session has expired. Please log in again."
	msgTryAgain   = "Something went wrong. Please try again."
	msgNotFound   = "The requested item no longer exists."
	msgConflict   = "This item was changed elsewhere. Reload and try again."
	msgBadLogin   = "Invalid email or password."
	msgValidation = "Some fields are invalid."
)

// RequestError is returned by every Client method on failure.
type RequestError struct {
	Kind   Kind
	Method string
	Path   string
	Status int
	// Message is safe to show to the user. Validation messages come
	// verbatim from the server.
	Message string
	// Fields holds per-field validation messages, when the server sent them.
	Fields map[string][]string
	Err    error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Method, e.Path)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }

// Is lets errors.Is match a RequestError against the Kind sentinels.
func (e *RequestError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Retryable reports whether retrying the same request could succeed.
func (e *RequestError) Retryable() bool {
	return e.Kind == KindNetwork || (e.Kind == KindUnexpected && e.Status >= 500)
}

// FieldNames returns the fields with messages in sorted order.
func (e *RequestError) FieldNames() []string {
	out := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindSessionExpired:
		return ErrSessionExpired
	case KindInvalidCredentials:
		return ErrInvalidCredentials
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	default:
		return ErrUnexpected
	}
}

// UserMessage extracts a user-facing message from any error returned by
// the client, falling back to a generic one.
func UserMessage(err error) string {
	var re *RequestError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return msgTryAgain
}

// IsSessionExpired reports whether err requires logging the user out.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// errorBody is the backend's error envelope:
// {"error": "msg"} or {"errors": {"field": ["msg"]}}.
type errorBody struct {
	Error  string              `json:"error"`
	Errors map[string][]string `json:"errors"`
}

// classify maps a non-2xx status and decoded body to a RequestError.
func classify(status int, body errorBody, credentialCall bool) *RequestError {
	re := &RequestError{Status: status}

	switch {
	case status == http.StatusUnauthorized && credentialCall:
		re.Kind = KindInvalidCredentials
		re.Message = msgBadLogin
		if body.Error != "" {
			re.Message = body.Error
		}
	case status == http.StatusUnauthorized:
		re.Kind = KindSessionExpired
		re.Message = msgSession
	case status == http.StatusNotFound:
		re.Kind = KindNotFound
		re.Message = msgNotFound
	case status == http.StatusConflict:
		re.Kind = KindConflict
		re.Message = msgConflict
	case status >= 400 && status < 500 && (body.Error != "" || len(body.Errors) > 0):
		re.Kind = KindValidation
		re.Message = body.Error
		re.Fields = body.Errors
		if re.Message == "" {
			re.Message = msgValidation
		}
	default:
		re.Kind = KindUnexpected
		re.Message = msgTryAgain
	}
	return re
}
