package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"fatura/internal/core"
	"fatura/internal/storage"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and trailing data. Failures come back as validation errors.
func decodeJSON(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return core.NewValidationError("body", "content type must be application/json")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return core.NewValidationError("body", "request body is empty")
		}
		return core.NewValidationError("body", "%v", err)
	}
	if dec.More() {
		return core.NewValidationError("body", "unexpected data after JSON object")
	}
	return nil
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// parseInvoiceFilter reads ?status=a,b&from=YYYY-MM for one card.
func parseInvoiceFilter(r *http.Request, cardID string) (storage.InvoiceFilter, error) {
	f := storage.InvoiceFilter{CardID: cardID}
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := core.InvoiceStatus(strings.TrimSpace(part))
			if !st.IsValid() {
				return f, core.NewValidationError("status", "unknown invoice status %q", part)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		m, err := core.ParseMonth(v)
		if err != nil {
			return f, core.NewValidationError("from", "expected YYYY-MM")
		}
		f.From = m
	}
	return f, nil
}

func requireDate(field string, d core.Date) error {
	if d.IsZero() {
		return core.NewValidationError(field, "is required (YYYY-MM-DD)")
	}
	if err := d.Validate(); err != nil {
		return core.NewValidationError(field, "%v", err)
	}
	return nil
}

func requireString(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return core.NewValidationError(field, "is required")
	}
	return nil
}
