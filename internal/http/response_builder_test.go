package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func triggersOf(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	raw := w.Header().Get("HX-Trigger")
	if raw == "" {
		return nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("HX-Trigger %q is not JSON: %v", raw, err)
	}
	return out
}

func TestPlainBodyHasNoTriggers(t *testing.T) {
	w := httptest.NewRecorder()
	NewHTMXResponse().Status(http.StatusAccepted).Body([]byte("ok")).Write(w)

	if w.Code != http.StatusAccepted || w.Body.String() != "ok" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
	if got := triggersOf(t, w); got != nil {
		t.Errorf("unexpected triggers %v", got)
	}
}

func TestTriggerPayloads(t *testing.T) {
	w := httptest.NewRecorder()
	NewHTMXResponse().
		TriggerExpenseChanged(1, 4).
		TriggerSummaryRefresh(2025, 5).
		TriggerFormReset().
		TriggerModalClose().
		TriggerSuccessNotification("Expense created").
		Write(w)

	got := triggersOf(t, w)
	for name, want := range map[string]string{
		EventExpenseChanged: `{"goals":[1,4]}`,
		EventSummaryRefresh: `{"year":2025,"month":5}`,
		EventFormReset:      `{}`,
		EventModalClose:     `{}`,
		EventNotification:   `{"type":"success","message":"Expense created","duration":3000}`,
	} {
		if string(got[name]) != want {
			t.Errorf("%s = %s, want %s", name, got[name], want)
		}
	}
}

func TestExpenseChangedWithoutGoalsIsEmptyList(t *testing.T) {
	w := httptest.NewRecorder()
	NewHTMXResponse().TriggerExpenseChanged().Write(w)

	if got := w.Header().Get("HX-Trigger"); got != `{"expense:changed":{"goals":[]}}` {
		t.Errorf("HX-Trigger = %s", got)
	}
}

func TestRedirectWithNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NewHTMXResponse().Redirect("/login").Status(http.StatusNoContent).Write(w)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("HX-Redirect"); got != "/login" {
		t.Errorf("HX-Redirect = %q", got)
	}
}

func TestErrorHelpers(t *testing.T) {
	cases := map[int]*HTMXResponseBuilder{
		http.StatusBadRequest:          BadRequestError("Bad input"),
		http.StatusNotFound:            NotFoundError("Bad input"),
		http.StatusInternalServerError: InternalServerError("Bad input"),
	}
	for status, b := range cases {
		w := httptest.NewRecorder()
		b.Write(w)
		if w.Code != status {
			t.Errorf("status = %d, want %d", w.Code, status)
		}
		if w.Body.String() != `<div class="error" role="alert">Bad input</div>` {
			t.Errorf("%d body = %q", status, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%d content type = %q", status, ct)
		}
	}
}

func TestErrorResponseEscapesMessage(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorResponse(http.StatusUnprocessableEntity, "<b>Rent</b>").Write(w)

	if strings.Contains(w.Body.String(), "<b>") {
		t.Errorf("message not escaped: %s", w.Body.String())
	}
}

func TestTooManyRequestsCarriesToast(t *testing.T) {
	w := httptest.NewRecorder()
	TooManyRequestsError().Write(w)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(string(triggersOf(t, w)[EventNotification]), `"type":"error"`) {
		t.Errorf("missing error toast: %s", w.Header().Get("HX-Trigger"))
	}
}
