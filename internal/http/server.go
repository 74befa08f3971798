// Package http exposes the invoice engine as a JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fatura/internal/log"
	"fatura/internal/middleware/ratelimit"
	"fatura/internal/middleware/security"
	"fatura/internal/middleware/trace"
	"fatura/internal/services"
)

type Server struct {
	http.Server
	engine  *services.Engine
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	logger  *log.Logger
}

// Options tune the server; zero values fall back to defaults.
type Options struct {
	RateLimitRPM int
	Logger       *log.Logger
}

func NewServer(addr string, engine *services.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		engine:  engine,
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitRPM}),
		tracer:  trace.NewMiddleware(),
		logger:  logger,
	}
	s.Addr = addr
	s.Handler = s.routes()
	s.ReadHeaderTimeout = 5 * time.Second
	s.ReadTimeout = 15 * time.Second
	s.WriteTimeout = 30 * time.Second
	s.IdleTimeout = 60 * time.Second
	s.MaxHeaderBytes = 1 << 16
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(
		s.tracer.Handler,
		log.Middleware(s.logger),
		log.RequestIDMiddleware(trace.FromRequest),
		log.AccessLog,
		security.Headers(security.DefaultHeadersConfig()),
		s.limiter.Middleware(security.ClientIP, s.rateLimited),
	)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/cards", s.handleListCards).Methods(http.MethodGet)
	r.HandleFunc("/cards/{id}", s.handleGetCard).Methods(http.MethodGet)
	r.HandleFunc("/cards/{id}", s.handleSaveCard).Methods(http.MethodPut)
	r.HandleFunc("/cards/{id}/limit", s.handleCardLimit).Methods(http.MethodGet)
	r.HandleFunc("/cards/{id}/reprocess", s.handleReprocess).Methods(http.MethodPost)
	r.HandleFunc("/cards/{id}/invoices", s.handleListInvoices).Methods(http.MethodGet)
	r.HandleFunc("/cards/{id}/invoices", s.handleInvoiceForDate).Methods(http.MethodPost)
	r.HandleFunc("/cards/{id}/invoices/current", s.handleCurrentInvoice).Methods(http.MethodGet)

	r.HandleFunc("/purchases", s.handleCreatePurchase).Methods(http.MethodPost)
	r.HandleFunc("/purchases/{id}", s.handleGetPurchase).Methods(http.MethodGet)
	r.HandleFunc("/purchases/{id}", s.handleEditPurchase).Methods(http.MethodPatch)
	r.HandleFunc("/purchases/{id}", s.handleRemovePurchase).Methods(http.MethodDelete)
	r.HandleFunc("/purchases/{id}/installments", s.handlePurchaseInstallments).Methods(http.MethodGet)
	r.HandleFunc("/purchases/{id}/installments", s.handleReparcel).Methods(http.MethodPost)
	r.HandleFunc("/purchases/{id}/refund", s.handlePartialRefund).Methods(http.MethodPost)
	r.HandleFunc("/purchases/{id}/anticipate", s.handleAnticipate).Methods(http.MethodPost)

	r.HandleFunc("/invoices/{id}", s.handleGetInvoice).Methods(http.MethodGet)
	r.HandleFunc("/invoices/{id}/statement", s.handleStatement).Methods(http.MethodGet)
	r.HandleFunc("/invoices/{id}/recalculate", s.handleRecalculate).Methods(http.MethodPost)
	r.HandleFunc("/invoices/{id}/payments", s.handlePayment).Methods(http.MethodPost)

	r.HandleFunc("/accounts/{ref}/movements", s.handleMovements).Methods(http.MethodGet)
	return r
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, r, http.StatusTooManyRequests, "rate limit exceeded, retry in a minute")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"time":     s.engine.Clock().Now().UTC(),
		"requests": s.tracer.TotalRequests(),
	})
}

// Shutdown stops accepting requests, waits for in-flight ones and then
// stops the limiter's cleanup loop.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.limiter.Stop()
	return err
}
