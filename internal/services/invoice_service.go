package services

import (
	"context"
	"errors"
	"fmt"

	"fatura/internal/core"
	"fatura/internal/storage"
)

// GetOrCreateInvoice returns the invoice a purchase made on date would land
// on, creating it when it does not exist yet.
func (e *Engine) GetOrCreateInvoice(ctx context.Context, cardID string, date core.Date) (core.Invoice, error) {
	if err := date.Validate(); err != nil {
		return core.Invoice{}, core.NewValidationError("date", "%v", err)
	}
	card, res, err := e.card(ctx, cardID)
	if err != nil {
		return core.Invoice{}, err
	}
	cycle := res.Resolve(date, 0)

	var inv core.Invoice
	err = e.run(ctx, "get_or_create_invoice", []string{InvoiceKey(card.ID, cycle.ReferenceMonth)}, func(u *unit) error {
		var err error
		inv, err = u.invoiceFor(card, cycle)
		return err
	})
	return inv, err
}

// GetCurrentInvoice returns the invoice of the cycle today falls in.
func (e *Engine) GetCurrentInvoice(ctx context.Context, cardID string) (core.Invoice, error) {
	return e.GetOrCreateInvoice(ctx, cardID, e.today())
}

func (e *Engine) GetInvoice(ctx context.Context, id string) (core.Invoice, error) {
	var inv core.Invoice
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		return err
	})
	return inv, err
}

// Recalculate recomputes an invoice's total and status from its installments.
func (e *Engine) Recalculate(ctx context.Context, invoiceID string) (core.Invoice, error) {
	inv, err := e.GetInvoice(ctx, invoiceID)
	if err != nil {
		return core.Invoice{}, err
	}
	card, _, err := e.card(ctx, inv.CardID)
	if err != nil {
		return core.Invoice{}, err
	}
	err = e.run(ctx, "recalculate", []string{InvoiceKey(inv.CardID, inv.ReferenceMonth)}, func(u *unit) error {
		u.useCard(card)
		var err error
		inv, err = u.recalculate(invoiceID)
		return err
	})
	return inv, err
}

// SaveCard creates or updates a card. When the closing or due day of an
// existing card changes, its open invoices get their dates recomputed.
func (e *Engine) SaveCard(ctx context.Context, card core.Card) error {
	if err := card.Validate(); err != nil {
		return core.NewValidationError("card", "%v", err)
	}
	card.CreditLimit = core.RoundMoney(card.CreditLimit)

	var previous core.Card
	found := true
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		previous, err = tx.GetCard(ctx, card.ID)
		return err
	})
	if errors.Is(err, core.ErrNotFound) {
		found = false
	} else if err != nil {
		return err
	}

	err = e.run(ctx, "save_card", nil, func(u *unit) error {
		if err := u.tx.SaveCard(ctx, card); err != nil {
			return fmt.Errorf("save card: %w", err)
		}
		var before any
		if found {
			before = previous
		}
		u.record("save", "card", card.ID, before, card)
		return nil
	})
	if err != nil {
		return err
	}
	if inv, ok := e.cards.(interface{ Invalidate(id string) }); ok {
		inv.Invalidate(card.ID)
	}

	if found && (previous.ClosingDay != card.ClosingDay || previous.DueDay != card.DueDay) {
		if _, err := e.ReprocessOpenInvoices(ctx, card.ID); err != nil {
			return fmt.Errorf("reprocess invoices: %w", err)
		}
	}
	return nil
}

// ReprocessOpenInvoices recomputes the cycle dates of a card's open invoices
// from its current closing and due days, then recalculates them. Settled
// invoices keep the dates they were settled with.
func (e *Engine) ReprocessOpenInvoices(ctx context.Context, cardID string) (int, error) {
	card, res, err := e.card(ctx, cardID)
	if err != nil {
		return 0, err
	}
	open, err := e.ListInvoices(ctx, storage.InvoiceFilter{CardID: cardID, Statuses: []core.InvoiceStatus{core.InvoiceOpen}})
	if err != nil {
		return 0, err
	}
	if len(open) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(open))
	for _, inv := range open {
		keys = append(keys, InvoiceKey(inv.CardID, inv.ReferenceMonth))
	}

	count := 0
	err = e.run(ctx, "reprocess_invoices", keys, func(u *unit) error {
		u.useCard(card)
		for _, stale := range open {
			inv, err := u.loadInvoice(stale.ID)
			if err != nil {
				return err
			}
			if inv.IsSettled() {
				continue
			}
			c := res.ForReference(inv.ReferenceMonth)
			inv.PeriodStart, inv.PeriodEnd = c.PeriodStart, c.PeriodEnd
			inv.ClosingDate, inv.DueDate = c.ClosingDate, c.DueDate
			items, err := u.tx.ListInstallmentsByInvoice(ctx, inv.ID)
			if err != nil {
				return fmt.Errorf("list installments: %w", err)
			}
			prev := inv.Status
			inv.Recalculate(items, u.today)
			if err := u.saveInvoice(inv, prev); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
