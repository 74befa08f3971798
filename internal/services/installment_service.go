package services

import (
	"context"
	"fmt"

	"fatura/internal/billing"
	"fatura/internal/core"
	"fatura/internal/events"
	"fatura/internal/storage"
)

// purchaseState is a committed read of a purchase and where its
// installments currently sit, taken before locks are acquired.
type purchaseState struct {
	purchase     core.Purchase
	installments []core.Installment
	invoices     map[string]core.Invoice
}

func (e *Engine) readPurchase(ctx context.Context, purchaseID string) (purchaseState, error) {
	st := purchaseState{invoices: map[string]core.Invoice{}}
	err := e.view(ctx, func(tx storage.Tx) error {
		p, err := tx.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		items, err := tx.ListInstallmentsByPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if _, ok := st.invoices[it.InvoiceID]; ok {
				continue
			}
			inv, err := tx.GetInvoice(ctx, it.InvoiceID)
			if err != nil {
				return core.NewInvariantViolation("installment %s points at missing invoice %s", it.ID, it.InvoiceID)
			}
			st.invoices[inv.ID] = inv
		}
		st.purchase, st.installments = p, items
		return nil
	})
	return st, err
}

func (st purchaseState) keys() []string {
	keys := make([]string, 0, len(st.invoices))
	for _, inv := range st.invoices {
		keys = append(keys, InvoiceKey(inv.CardID, inv.ReferenceMonth))
	}
	return keys
}

// allocationKeys are the lock keys of the invoices installments start..n of
// a purchase dated date resolve to.
func allocationKeys(card core.Card, res *billing.Resolver, date core.Date, start, n int) []string {
	keys := make([]string, 0, n-start+1)
	for i := start; i <= n; i++ {
		keys = append(keys, InvoiceKey(card.ID, res.Resolve(date, i-start).ReferenceMonth))
	}
	return keys
}

// CreateInstallments splits a purchase into installments and attaches each
// to the invoice its cycle resolves to. A purchase without an ID is stored
// first. start > 1 re-parcels an existing purchase from that installment on;
// earlier installments are history and are never created.
func (e *Engine) CreateInstallments(ctx context.Context, p core.Purchase, start int) (core.Purchase, error) {
	if start < 1 {
		start = 1
	}
	isNew := p.ID == ""
	if !isNew {
		st, err := e.readPurchase(ctx, p.ID)
		if err != nil {
			return core.Purchase{}, err
		}
		p = st.purchase
	} else {
		if p.Kind == "" {
			p.Kind = core.KindPurchase
		}
		if p.Kind != core.KindPurchase {
			return core.Purchase{}, core.NewValidationError("kind", "only purchases can be created directly")
		}
		if err := p.Validate(); err != nil {
			return core.Purchase{}, core.NewValidationError("purchase", "%v", err)
		}
		p.ID = e.newID()
		p.Value = core.RoundMoney(p.Value)
		p.Installments = p.InstallmentCount()
		p.CreatedAt = e.clock.Now()
	}
	n := p.InstallmentCount()
	if start > n {
		return core.Purchase{}, core.NewValidationError("start", "installment %d is past the last one (%d)", start, n)
	}

	card, res, err := e.card(ctx, p.CardID)
	if err != nil {
		return core.Purchase{}, err
	}

	keys := allocationKeys(card, res, p.Date, start, n)
	err = e.run(ctx, "create_installments", keys, func(u *unit) error {
		if isNew {
			if err := u.tx.CreatePurchase(ctx, p); err != nil {
				return fmt.Errorf("create purchase: %w", err)
			}
		} else {
			existing, err := u.tx.ListInstallmentsByPurchase(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("list installments: %w", err)
			}
			for _, it := range existing {
				if it.IsLive() && it.Number >= start {
					return core.NewConflictError("purchase %s already has installment %d", p.ID, it.Number)
				}
			}
		}
		created, err := u.allocate(card, res, p, start, false)
		if err != nil {
			return err
		}
		u.record("create", "purchase", p.ID, nil, map[string]any{
			"value":        p.Value.StringFixed(core.MoneyScale),
			"installments": n,
			"start":        start,
		})
		first := u.latest[created[0].InvoiceID]
		u.emit(events.InstallmentsCreated, first, p.Value)
		return nil
	})
	if err != nil {
		return core.Purchase{}, err
	}
	return p, nil
}

// allocate creates installments start..N of p. Installment i goes to the
// cycle at offset i-start from the purchase date. With redirectSettled, an
// installment whose natural invoice is already settled goes to the
// adjustment target instead.
func (u *unit) allocate(card core.Card, res *billing.Resolver, p core.Purchase, start int, redirectSettled bool) ([]core.Installment, error) {
	n := p.InstallmentCount()
	values := core.SplitValue(p.Value, n)
	created := make([]core.Installment, 0, n-start+1)
	for i := start; i <= n; i++ {
		inv, err := u.invoiceFor(card, res.Resolve(p.Date, i-start))
		if err != nil {
			return nil, err
		}
		if redirectSettled && inv.IsSettled() {
			if inv, err = u.adjustmentTarget(card, res); err != nil {
				return nil, err
			}
		}
		in := core.Installment{
			ID:                u.e.newID(),
			PurchaseID:        p.ID,
			InvoiceID:         inv.ID,
			Number:            i,
			TotalInstallments: n,
			Value:             values[i-1],
			Status:            core.InstallmentInInvoice,
			CreatedAt:         u.now,
			UpdatedAt:         u.now,
		}
		if err := u.tx.CreateInstallment(u.ctx, in); err != nil {
			return nil, fmt.Errorf("create installment %d/%d: %w", i, n, err)
		}
		if _, err := u.recalculate(inv.ID); err != nil {
			return nil, err
		}
		created = append(created, in)
	}
	return created, nil
}

// PurchaseInstallments lists every installment of a purchase, reversed ones
// included.
func (e *Engine) PurchaseInstallments(ctx context.Context, purchaseID string) ([]core.Installment, error) {
	var out []core.Installment
	err := e.view(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetPurchase(ctx, purchaseID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListInstallmentsByPurchase(ctx, purchaseID)
		return err
	})
	return out, err
}
