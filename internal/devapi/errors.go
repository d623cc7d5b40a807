package devapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"fincon/internal/core"
	"fincon/internal/log"
	"fincon/internal/storage"
)

// ValidationError is a rejected request body. It renders as
// {"errors": {...}} when Fields is set, {"error": "..."} otherwise.
type ValidationError struct {
	Message string
	Fields  core.FieldErrors
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return e.Fields.Error()
	}
	return e.Message
}

func invalid(fe core.FieldErrors) error {
	return &ValidationError{Fields: fe}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail maps an error to its HTTP response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		if len(ve.Fields) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string]core.FieldErrors{"errors": ve.Fields})
			return
		}
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrAmountOutOfRange):
		writeError(w, http.StatusBadRequest, "amount out of range")
	case errors.Is(err, storage.ErrEmailTaken):
		writeJSON(w, http.StatusBadRequest, map[string]core.FieldErrors{"errors": {"email": {"has already been taken"}}})
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
