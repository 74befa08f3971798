package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
	"fatura/internal/services"
)

type purchaseRequest struct {
	CardID       string          `json:"card_id"`
	Description  string          `json:"description"`
	Date         core.Date       `json:"date"`
	Value        decimal.Decimal `json:"value"`
	Installments int             `json:"installments"`
}

type purchaseResponse struct {
	Purchase     core.Purchase      `json:"purchase"`
	Installments []core.Installment `json:"installments"`
}

func (s *Server) purchaseWithInstallments(w http.ResponseWriter, r *http.Request, status int, p core.Purchase) {
	items, err := s.engine.PurchaseInstallments(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []core.Installment{}
	}
	writeJSON(w, status, purchaseResponse{Purchase: p, Installments: items})
}

func (s *Server) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := requireString("card_id", req.CardID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := requireDate("date", req.Date); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.engine.CreateInstallments(r.Context(), core.Purchase{
		CardID:       req.CardID,
		Description:  req.Description,
		Date:         req.Date,
		Value:        req.Value,
		Installments: req.Installments,
		Kind:         core.KindPurchase,
	}, 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.purchaseWithInstallments(w, r, http.StatusCreated, p)
}

func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetPurchase(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.purchaseWithInstallments(w, r, http.StatusOK, p)
}

func (s *Server) handlePurchaseInstallments(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.PurchaseInstallments(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []core.Installment{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleReparcel recreates installments of an existing purchase from a
// given installment number on.
func (s *Server) handleReparcel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start int `json:"start"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.engine.CreateInstallments(r.Context(), core.Purchase{ID: pathVar(r, "id")}, req.Start)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.purchaseWithInstallments(w, r, http.StatusOK, p)
}

func (s *Server) handleEditPurchase(w http.ResponseWriter, r *http.Request) {
	var edit services.PurchaseEdit
	if err := decodeJSON(r, &edit); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.engine.EditPurchase(r.Context(), pathVar(r, "id"), edit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.purchaseWithInstallments(w, r, http.StatusOK, p)
}

func (s *Server) handleRemovePurchase(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveInstallments(r.Context(), pathVar(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePartialRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keep int `json:"keep"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.engine.PartialRefund(r.Context(), pathVar(r, "id"), req.Keep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.purchaseWithInstallments(w, r, http.StatusOK, p)
}

func (s *Server) handleAnticipate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstallmentIDs []string        `json:"installment_ids"`
		Discount       decimal.Decimal `json:"discount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := pathVar(r, "id")
	if err := s.engine.AnticipateInstallments(r.Context(), id, req.InstallmentIDs, req.Discount); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.engine.GetPurchase(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.purchaseWithInstallments(w, r, http.StatusOK, p)
}
