package services

import (
	"context"

	"fatura/internal/core"
	"fatura/internal/storage"
)

// Read-only views over committed state. None of them take invoice locks.

func (e *Engine) ListInvoices(ctx context.Context, f storage.InvoiceFilter) ([]core.Invoice, error) {
	var out []core.Invoice
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListInvoices(ctx, f)
		return err
	})
	return out, err
}

func (e *Engine) ListCards(ctx context.Context) ([]core.Card, error) {
	var out []core.Card
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListCards(ctx)
		return err
	})
	return out, err
}

// GetCard goes through the card reader, so it may be served from cache.
func (e *Engine) GetCard(ctx context.Context, id string) (core.Card, error) {
	return e.cards.GetCard(ctx, id)
}

func (e *Engine) GetPurchase(ctx context.Context, id string) (core.Purchase, error) {
	var p core.Purchase
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		p, err = tx.GetPurchase(ctx, id)
		return err
	})
	return p, err
}

// Statement is an invoice with its lines.
type Statement struct {
	Invoice   core.Invoice       `json:"invoice"`
	Remaining string             `json:"remaining"`
	Items     []core.InvoiceItem `json:"items"`
}

// InvoiceStatement returns an invoice with every installment attached to it,
// reversed ones included.
func (e *Engine) InvoiceStatement(ctx context.Context, invoiceID string) (Statement, error) {
	var st Statement
	err := e.view(ctx, func(tx storage.Tx) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		items, err := tx.ListInstallmentsByInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		purchases := make(map[string]core.Purchase, len(items))
		for _, it := range items {
			if _, ok := purchases[it.PurchaseID]; ok {
				continue
			}
			p, err := tx.GetPurchase(ctx, it.PurchaseID)
			if err != nil {
				return core.NewInvariantViolation("installment %s points at missing purchase %s", it.ID, it.PurchaseID)
			}
			purchases[p.ID] = p
		}
		st = Statement{
			Invoice:   inv,
			Remaining: inv.Remaining().StringFixed(core.MoneyScale),
			Items:     core.Items(items, purchases),
		}
		return nil
	})
	return st, err
}

// CardLimit reports how much of a card's credit limit is committed.
func (e *Engine) CardLimit(ctx context.Context, cardID string) (core.CardLimit, error) {
	var out core.CardLimit
	err := e.view(ctx, func(tx storage.Tx) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		items, err := tx.ListInstallmentsByCard(ctx, cardID)
		if err != nil {
			return err
		}
		out = core.ComputeCardLimit(card, items)
		return nil
	})
	return out, err
}
