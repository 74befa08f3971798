package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
)

type cardRequest struct {
	Name        string          `json:"name"`
	ClosingDay  int             `json:"closing_day"`
	DueDay      int             `json:"due_day"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.engine.ListCards(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cards == nil {
		cards = []core.Card{}
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.engine.GetCard(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// handleSaveCard creates or replaces a card. Changing the cycle days moves
// the dates of the card's open invoices.
func (s *Server) handleSaveCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	card := core.Card{
		ID:          pathVar(r, "id"),
		Name:        req.Name,
		ClosingDay:  req.ClosingDay,
		DueDay:      req.DueDay,
		CreditLimit: req.CreditLimit,
	}
	if err := s.engine.SaveCard(r.Context(), card); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.engine.GetCard(r.Context(), card.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleCardLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := s.engine.CardLimit(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ReprocessOpenInvoices(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reprocessed": n})
}
