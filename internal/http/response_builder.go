package http

import (
	"encoding/json"
	"html/template"
	"net/http"
)

// Client-side events. Panels listen for them with hx-trigger="... from:body".
const (
	EventExpenseChanged = "expense:changed"
	EventSummaryRefresh = "summary:refresh"
	EventGoalsRefresh   = "goals:refresh"
	EventSalaryRefresh  = "salary:refresh"
	EventFormReset      = "form:reset"
	EventModalClose     = "modal:close"
	EventNotification   = "show-notification"
)

// NotificationType selects the toast style in app.js.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

const (
	successToastMs = 3000
	errorToastMs   = 5000
	msgRateLimited = "Too many requests. Please wait a moment."
)

type monthEvent struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

type notification struct {
	Type     NotificationType `json:"type"`
	Message  string           `json:"message"`
	Duration int              `json:"duration"`
}

var noPayload = struct{}{}

// HTMXResponseBuilder assembles a response out of a status, extra headers,
// HX-Trigger events and a body. Nothing reaches the client until Write.
type HTMXResponseBuilder struct {
	status  int
	header  http.Header
	events  map[string]any
	payload []byte
}

func NewHTMXResponse() *HTMXResponseBuilder {
	return &HTMXResponseBuilder{
		status: http.StatusOK,
		header: http.Header{},
		events: map[string]any{},
	}
}

func (b *HTMXResponseBuilder) Status(code int) *HTMXResponseBuilder {
	b.status = code
	return b
}

// Trigger queues a client event. A second trigger with the same name
// replaces the first.
func (b *HTMXResponseBuilder) Trigger(name string, data any) *HTMXResponseBuilder {
	b.events[name] = data
	return b
}

// TriggerExpenseChanged tells the goal panels of the given goals to reload.
// Panels filter on the goals list; an empty list reloads every panel.
func (b *HTMXResponseBuilder) TriggerExpenseChanged(goalIDs ...int64) *HTMXResponseBuilder {
	ids := append([]int64{}, goalIDs...)
	return b.Trigger(EventExpenseChanged, map[string][]int64{"goals": ids})
}

func (b *HTMXResponseBuilder) TriggerSummaryRefresh(year, month int) *HTMXResponseBuilder {
	return b.Trigger(EventSummaryRefresh, monthEvent{Year: year, Month: month})
}

func (b *HTMXResponseBuilder) TriggerGoalsRefresh() *HTMXResponseBuilder {
	return b.Trigger(EventGoalsRefresh, noPayload)
}

func (b *HTMXResponseBuilder) TriggerSalaryRefresh() *HTMXResponseBuilder {
	return b.Trigger(EventSalaryRefresh, noPayload)
}

func (b *HTMXResponseBuilder) TriggerFormReset() *HTMXResponseBuilder {
	return b.Trigger(EventFormReset, noPayload)
}

func (b *HTMXResponseBuilder) TriggerModalClose() *HTMXResponseBuilder {
	return b.Trigger(EventModalClose, noPayload)
}

// TriggerNotification shows a toast for durationMs milliseconds.
func (b *HTMXResponseBuilder) TriggerNotification(kind NotificationType, message string, durationMs int) *HTMXResponseBuilder {
	return b.Trigger(EventNotification, notification{Type: kind, Message: message, Duration: durationMs})
}

func (b *HTMXResponseBuilder) TriggerSuccessNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationSuccess, message, successToastMs)
}

func (b *HTMXResponseBuilder) TriggerErrorNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationError, message, errorToastMs)
}

func (b *HTMXResponseBuilder) Header(name, value string) *HTMXResponseBuilder {
	b.header.Set(name, value)
	return b
}

// Redirect makes htmx perform a full client-side navigation.
func (b *HTMXResponseBuilder) Redirect(location string) *HTMXResponseBuilder {
	return b.Header("HX-Redirect", location)
}

func (b *HTMXResponseBuilder) Body(content []byte) *HTMXResponseBuilder {
	b.payload = content
	return b
}

func (b *HTMXResponseBuilder) BodyHTML(html string) *HTMXResponseBuilder {
	return b.Header("Content-Type", "text/html; charset=utf-8").Body([]byte(html))
}

func (b *HTMXResponseBuilder) Write(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	if len(b.events) > 0 {
		if encoded, err := json.Marshal(b.events); err == nil {
			dst.Set("HX-Trigger", string(encoded))
		}
	}

	w.WriteHeader(b.status)
	if len(b.payload) > 0 {
		_, _ = w.Write(b.payload)
	}
}

// ErrorResponse renders message, escaped, as an inline alert.
func ErrorResponse(statusCode int, message string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(statusCode).
		BodyHTML(`<div class="error" role="alert">` + template.HTMLEscapeString(message) + `</div>`)
}

func BadRequestError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func NotFoundError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func InternalServerError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// TooManyRequestsError is written by the rate limiter.
func TooManyRequestsError() *HTMXResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, msgRateLimited).TriggerErrorNotification(msgRateLimited)
}
