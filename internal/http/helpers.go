package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"fatura/internal/core"
	"fatura/internal/log"
	"fatura/internal/middleware/trace"
)

// problem is the error body every failing request gets.
type problem struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, problem{Status: status, Error: msg, RequestID: trace.GetRequestID(r.Context())})
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the caller. Internal failures are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError || !core.IsUserFacing(err) {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path, log.FieldError, err)
		writeProblem(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	p := problem{Status: status, Error: err.Error(), RequestID: trace.GetRequestID(r.Context())}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		p.Field = ve.Field
		p.Error = ve.Message
	}
	writeJSON(w, status, p)
}
