package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
	"fatura/internal/events"
	"fatura/internal/log"
	"fatura/internal/services"
	"fatura/internal/storage/memory"
)

type testServer struct {
	*Server
	clock    *core.FixedClock
	recorder *events.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := core.NewFixedClock(time.Date(2025, time.January, 5, 12, 0, 0, 0, time.UTC))
	rec := &events.Recorder{}
	engine := services.NewEngine(memory.New(),
		services.WithClock(clock),
		services.WithPublisher(rec),
		services.WithAuditSink(rec),
		services.WithLogger(log.Discard()))
	s := NewServer(":0", engine, Options{RateLimitRPM: 1000, Logger: log.Discard()})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return &testServer{Server: s, clock: clock, recorder: rec}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.1:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func (s *testServer) saveCard(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPut, "/cards/card-1", map[string]any{
		"name": "Gold", "closing_day": 10, "due_day": 20, "credit_limit": "5000.00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save card: %d %s", rec.Code, rec.Body.String())
	}
}

func (s *testServer) createPurchase(t *testing.T, value string, n int) purchaseResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/purchases", map[string]any{
		"card_id": "card-1", "description": "TV", "date": "2025-01-05", "value": value, "installments": n,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create purchase: %d %s", rec.Code, rec.Body.String())
	}
	return decode[purchaseResponse](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("health: %d headers %v", rec.Code, rec.Header())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestServerLimits(t *testing.T) {
	s := newTestServer(t)
	if s.ReadHeaderTimeout != 5*time.Second || s.ReadTimeout != 15*time.Second ||
		s.WriteTimeout != 30*time.Second || s.IdleTimeout != 60*time.Second {
		t.Fatalf("unexpected timeouts %s/%s/%s/%s", s.ReadHeaderTimeout, s.ReadTimeout, s.WriteTimeout, s.IdleTimeout)
	}
	if s.MaxHeaderBytes != 1<<16 {
		t.Errorf("MaxHeaderBytes = %d", s.MaxHeaderBytes)
	}
}

func TestPurchaseInvoicePaymentFlow(t *testing.T) {
	s := newTestServer(t)
	s.saveCard(t)

	created := s.createPurchase(t, "300.00", 3)
	if len(created.Installments) != 3 {
		t.Fatalf("got %d installments", len(created.Installments))
	}

	rec := s.do(t, http.MethodGet, "/cards/card-1/invoices/current", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("current invoice: %d %s", rec.Code, rec.Body.String())
	}
	inv := decode[core.Invoice](t, rec)
	if inv.ReferenceMonth.String() != "2025-01" || !inv.TotalValue.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected current invoice %+v", inv)
	}

	rec = s.do(t, http.MethodGet, "/invoices/"+inv.ID+"/statement", nil)
	st := decode[services.Statement](t, rec)
	if rec.Code != http.StatusOK || len(st.Items) != 1 || st.Items[0].Description != "TV" {
		t.Fatalf("statement: %d %+v", rec.Code, st)
	}

	rec = s.do(t, http.MethodPost, "/invoices/"+inv.ID+"/payments", map[string]any{"amount": "100.00", "account_ref": "checking"})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment: %d %s", rec.Code, rec.Body.String())
	}
	if paid := decode[core.Invoice](t, rec); paid.Status != core.InvoicePaid {
		t.Fatalf("status after payment = %s", paid.Status)
	}

	rec = s.do(t, http.MethodGet, "/accounts/checking/movements", nil)
	if moves := decode[[]core.LedgerMovement](t, rec); len(moves) != 1 {
		t.Fatalf("movements = %+v", moves)
	}

	rec = s.do(t, http.MethodGet, "/cards/card-1/limit", nil)
	limit := decode[core.CardLimit](t, rec)
	if !limit.Used.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("used = %s, want 200", limit.Used)
	}

	rec = s.do(t, http.MethodGet, "/cards/card-1/invoices?status=open", nil)
	if open := decode[[]core.Invoice](t, rec); len(open) != 2 {
		t.Fatalf("open invoices = %d, want 2", len(open))
	}
	if len(s.recorder.EventsOfType(events.InvoicePaid)) != 1 {
		t.Fatal("expected one paid event")
	}
}

func TestPurchaseAdjustments(t *testing.T) {
	s := newTestServer(t)
	s.saveCard(t)
	created := s.createPurchase(t, "300.00", 3)
	id := created.Purchase.ID

	rec := s.do(t, http.MethodPatch, "/purchases/"+id, map[string]any{"value": "600.00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", rec.Code, rec.Body.String())
	}
	edited := decode[purchaseResponse](t, rec)
	if !edited.Purchase.Value.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("edited value %s", edited.Purchase.Value)
	}

	rec = s.do(t, http.MethodPost, "/purchases/"+id+"/refund", map[string]any{"keep": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("refund: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodDelete, "/purchases/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/purchases/"+id+"/installments", nil)
	for _, it := range decode[[]core.Installment](t, rec) {
		if it.Status != core.InstallmentReversed {
			t.Fatalf("installment %d still %s", it.Number, it.Status)
		}
	}
}

func TestAnticipateEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.saveCard(t)
	created := s.createPurchase(t, "300.00", 3)
	last := created.Installments[2].ID

	rec := s.do(t, http.MethodPost, "/purchases/"+created.Purchase.ID+"/anticipate", map[string]any{
		"installment_ids": []string{last}, "discount": "15.00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("anticipate: %d %s", rec.Code, rec.Body.String())
	}
	current := decode[core.Invoice](t, s.do(t, http.MethodGet, "/cards/card-1/invoices/current", nil))
	if !current.TotalValue.Equal(decimal.RequireFromString("185")) {
		t.Fatalf("current total = %s, want 185", current.TotalValue)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.saveCard(t)
	created := s.createPurchase(t, "100.00", 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		field  string
	}{
		{"unknown card", http.MethodGet, "/cards/nope/limit", nil, http.StatusNotFound, ""},
		{"unknown invoice", http.MethodGet, "/invoices/nope", nil, http.StatusNotFound, ""},
		{"missing date", http.MethodPost, "/purchases", map[string]any{"card_id": "card-1", "description": "x", "value": "1"}, http.StatusBadRequest, "date"},
		{"unknown field", http.MethodPost, "/purchases", map[string]any{"card": "card-1"}, http.StatusBadRequest, "body"},
		{"empty body", http.MethodPost, "/invoices/x/payments", "", http.StatusBadRequest, "body"},
		{"bad status filter", http.MethodGet, "/cards/card-1/invoices?status=lost", nil, http.StatusBadRequest, "status"},
		{"negative payment", http.MethodPost, "/invoices/x/payments", map[string]any{"amount": "-1", "account_ref": "a"}, http.StatusBadRequest, "amount"},
		{"refund keeps all", http.MethodPost, "/purchases/" + created.Purchase.ID + "/refund", map[string]any{"keep": 1}, http.StatusBadRequest, "keep"},
		{"anticipate own invoice", http.MethodPost, "/purchases/" + created.Purchase.ID + "/anticipate", map[string]any{"installment_ids": []string{created.Installments[0].ID}}, http.StatusConflict, ""},
		{"unknown route", http.MethodGet, "/nowhere", nil, http.StatusNotFound, ""},
		{"wrong method", http.MethodDelete, "/cards", nil, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			p := decode[problem](t, rec)
			if p.Error == "" || p.Status != tt.status {
				t.Errorf("unexpected problem %+v", p)
			}
			if tt.field != "" && p.Field != tt.field {
				t.Errorf("field = %q, want %q", p.Field, tt.field)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	clock := core.NewFixedClock(time.Now())
	engine := services.NewEngine(memory.New(), services.WithClock(clock), services.WithLogger(log.Discard()))
	s := &testServer{Server: NewServer(":0", engine, Options{RateLimitRPM: 2, Logger: log.Discard()})}
	defer s.Shutdown(context.Background())

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, s.do(t, http.MethodGet, "/healthz", nil).Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestDecodeJSONContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	var v map[string]any
	if err := decodeJSON(req, &v); err == nil {
		t.Fatal("expected content type error")
	}
}
