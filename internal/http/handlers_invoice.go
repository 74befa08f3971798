package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
)

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	f, err := parseInvoiceFilter(r, pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.engine.GetCard(r.Context(), f.CardID); err != nil {
		writeError(w, r, err)
		return
	}
	invoices, err := s.engine.ListInvoices(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []core.Invoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) handleCurrentInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.engine.GetCurrentInvoice(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleInvoiceForDate returns, creating it if needed, the invoice a
// purchase on the given date would land on.
func (s *Server) handleInvoiceForDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date core.Date `json:"date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := requireDate("date", req.Date); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.engine.GetOrCreateInvoice(r.Context(), pathVar(r, "id"), req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.engine.GetInvoice(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.InvoiceStatement(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	inv, err := s.engine.Recalculate(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount     decimal.Decimal `json:"amount"`
		AccountRef string          `json:"account_ref"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.engine.ApplyPayment(r.Context(), pathVar(r, "id"), req.Amount, req.AccountRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleMovements(w http.ResponseWriter, r *http.Request) {
	moves, err := s.engine.Movements(r.Context(), pathVar(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if moves == nil {
		moves = []core.LedgerMovement{}
	}
	writeJSON(w, http.StatusOK, moves)
}
