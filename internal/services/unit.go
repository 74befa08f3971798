package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fatura/internal/billing"
	"fatura/internal/core"
	"fatura/internal/events"
	"fatura/internal/storage"
)

// maxTargetOffset bounds how many cycles past the current one an adjustment
// may be pushed when the current invoice is already settled.
const maxTargetOffset = 2

// unit is the state of one engine operation inside its transaction.
type unit struct {
	ctx     context.Context
	e       *Engine
	tx      storage.Tx
	today   core.Date
	now     time.Time
	held    map[string]bool
	cards   map[string]core.Card
	before  map[string]core.Invoice
	latest  map[string]core.Invoice
	created map[string]bool
	touched []string
	events  []events.Event
	audits  []events.AuditRecord
}

func newUnit(ctx context.Context, e *Engine, tx storage.Tx, keys []string) *unit {
	now := e.clock.Now()
	held := make(map[string]bool, len(keys))
	for _, k := range keys {
		held[k] = true
	}
	return &unit{
		ctx:     ctx,
		e:       e,
		tx:      tx,
		today:   core.DateOf(now),
		now:     now,
		held:    held,
		cards:   map[string]core.Card{},
		before:  map[string]core.Invoice{},
		latest:  map[string]core.Invoice{},
		created: map[string]bool{},
	}
}

func (u *unit) useCard(c core.Card) {
	u.cards[c.ID] = c
}

// requireLock fails when the operation reaches an invoice it did not lock,
// which only happens when a concurrent operation moved data under it.
func (u *unit) requireLock(cardID string, ref core.Month) error {
	if !u.held[InvoiceKey(cardID, ref)] {
		return core.NewConflictError("invoice %s of card %s changed concurrently, retry", ref, cardID)
	}
	return nil
}

func (u *unit) track(inv core.Invoice) {
	if _, ok := u.before[inv.ID]; !ok {
		u.before[inv.ID] = inv
		u.touched = append(u.touched, inv.ID)
	}
	u.latest[inv.ID] = inv
}

// invoiceFor returns the invoice of cycle c, creating it when absent.
func (u *unit) invoiceFor(card core.Card, c billing.Cycle) (core.Invoice, error) {
	u.useCard(card)
	if err := u.requireLock(card.ID, c.ReferenceMonth); err != nil {
		return core.Invoice{}, err
	}
	inv, ok, err := u.tx.FindInvoice(u.ctx, card.ID, c.ReferenceMonth)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("find invoice: %w", err)
	}
	if !ok {
		inv = core.Invoice{
			ID:             u.e.newID(),
			CardID:         card.ID,
			ReferenceMonth: c.ReferenceMonth,
			PeriodStart:    c.PeriodStart,
			PeriodEnd:      c.PeriodEnd,
			ClosingDate:    c.ClosingDate,
			DueDate:        c.DueDate,
			TotalValue:     decimal.Zero,
			PaidValue:      decimal.Zero,
			CreatedAt:      u.now,
			UpdatedAt:      u.now,
		}
		inv.Recalculate(nil, u.today)
		inv, err = u.tx.CreateInvoice(u.ctx, inv)
		if err != nil {
			return core.Invoice{}, fmt.Errorf("create invoice: %w", err)
		}
		if _, seen := u.before[inv.ID]; !seen {
			u.created[inv.ID] = true
		}
		u.track(inv)
		return inv, nil
	}
	u.track(inv)
	return u.refresh(inv)
}

func (u *unit) loadInvoice(id string) (core.Invoice, error) {
	inv, err := u.tx.GetInvoice(u.ctx, id)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("load invoice: %w", err)
	}
	if err := u.requireLock(inv.CardID, inv.ReferenceMonth); err != nil {
		return core.Invoice{}, err
	}
	u.track(inv)
	return u.refresh(inv)
}

// refresh brings a stored invoice's status up to today before anyone asks
// whether it is settled. A status only moves with the calendar when some
// operation recalculates the invoice, so the stored one may lag behind its
// closing or due date.
func (u *unit) refresh(inv core.Invoice) (core.Invoice, error) {
	prev := inv.Status
	inv.UpdateStatus(u.today)
	if inv.Status == prev {
		return inv, nil
	}
	if err := u.saveInvoice(inv, prev); err != nil {
		return core.Invoice{}, err
	}
	return u.latest[inv.ID], nil
}

// recalculate recomputes an invoice from its installments and stores it.
func (u *unit) recalculate(id string) (core.Invoice, error) {
	inv, err := u.loadInvoice(id)
	if err != nil {
		return core.Invoice{}, err
	}
	items, err := u.tx.ListInstallmentsByInvoice(u.ctx, id)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("list installments: %w", err)
	}
	prev := inv.Status
	inv.Recalculate(items, u.today)
	if err := u.saveInvoice(inv, prev); err != nil {
		return core.Invoice{}, err
	}
	return inv, nil
}

func (u *unit) saveInvoice(inv core.Invoice, prev core.InvoiceStatus) error {
	inv.UpdatedAt = u.now
	if err := u.tx.UpdateInvoice(u.ctx, inv); err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	u.latest[inv.ID] = inv
	u.statusChanged(inv, prev)
	return nil
}

func (u *unit) statusChanged(inv core.Invoice, prev core.InvoiceStatus) {
	if inv.Status == prev {
		return
	}
	// Leaving open on or after the closing date is a close, even when the
	// first recalculation past it already finds the invoice overdue or paid.
	if prev == core.InvoiceOpen && !inv.ClosingDate.After(u.today) {
		u.emit(events.InvoiceClosed, inv, inv.TotalValue)
	}
	switch inv.Status {
	case core.InvoiceOverdue:
		u.emit(events.InvoiceOverdue, inv, inv.Remaining())
	case core.InvoicePaid:
		u.emit(events.InvoicePaid, inv, inv.PaidValue)
	}
}

func (u *unit) emit(t events.Type, inv core.Invoice, amount decimal.Decimal) {
	u.events = append(u.events, events.Event{
		ID:             u.e.newID(),
		Type:           t,
		CardID:         inv.CardID,
		CardName:       u.cards[inv.CardID].Name,
		InvoiceID:      inv.ID,
		ReferenceMonth: inv.ReferenceMonth.String(),
		Amount:         amount,
		DueDate:        inv.DueDate,
		OccurredAt:     u.now,
	})
}

// adjustmentTarget is the invoice corrections and anticipations land on:
// the current cycle's invoice, or the next one still open when the current
// one is already settled.
func (u *unit) adjustmentTarget(card core.Card, res *billing.Resolver) (core.Invoice, error) {
	for k := 0; k <= maxTargetOffset; k++ {
		inv, err := u.invoiceFor(card, res.Resolve(u.today, k))
		if err != nil {
			return core.Invoice{}, err
		}
		if !inv.IsSettled() {
			return inv, nil
		}
	}
	return core.Invoice{}, core.NewConflictError("card %s has no open invoice within %d cycles", card.ID, maxTargetOffset+1)
}

// postAdjustment books an adjustment entry: a one-installment purchase dated
// today, attached to inv. The caller recalculates inv.
func (u *unit) postAdjustment(origin core.Purchase, desc string, value decimal.Decimal, reversalOf string, inv core.Invoice) (core.Installment, error) {
	adj := core.Purchase{
		ID:               u.e.newID(),
		CardID:           origin.CardID,
		Description:      desc,
		Date:             u.today,
		Value:            core.RoundMoney(value),
		Installments:     1,
		Kind:             core.KindAdjustment,
		OriginPurchaseID: origin.ID,
		CreatedAt:        u.now,
	}
	if err := u.tx.CreatePurchase(u.ctx, adj); err != nil {
		return core.Installment{}, fmt.Errorf("create adjustment purchase: %w", err)
	}
	in := core.Installment{
		ID:                u.e.newID(),
		PurchaseID:        adj.ID,
		InvoiceID:         inv.ID,
		Number:            1,
		TotalInstallments: 1,
		Value:             adj.Value,
		Status:            core.InstallmentInInvoice,
		ReversalOf:        reversalOf,
		CreatedAt:         u.now,
		UpdatedAt:         u.now,
	}
	if err := u.tx.CreateInstallment(u.ctx, in); err != nil {
		return core.Installment{}, fmt.Errorf("create adjustment installment: %w", err)
	}
	return in, nil
}

// creditedInstallments returns the ids of a purchase's installments that
// already have a live reversing credit.
func (u *unit) creditedInstallments(purchaseID string) (map[string]bool, error) {
	adjs, err := u.tx.ListAdjustments(u.ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	credited := map[string]bool{}
	for _, adj := range adjs {
		items, err := u.tx.ListInstallmentsByPurchase(u.ctx, adj.ID)
		if err != nil {
			return nil, fmt.Errorf("list adjustment installments: %w", err)
		}
		for _, it := range items {
			if it.ReversalOf != "" && it.IsLive() {
				credited[it.ReversalOf] = true
			}
		}
	}
	return credited, nil
}

func (u *unit) record(action, entity, id string, before, after any) {
	u.audits = append(u.audits, events.AuditRecord{
		Action:   action,
		Entity:   entity,
		EntityID: id,
		Before:   before,
		After:    after,
		At:       u.now,
	})
}

type invoiceSnapshot struct {
	ReferenceMonth string             `json:"reference_month"`
	TotalValue     string             `json:"total_value"`
	PaidValue      string             `json:"paid_value"`
	Status         core.InvoiceStatus `json:"status"`
}

func snapshotInvoice(inv core.Invoice) invoiceSnapshot {
	return invoiceSnapshot{
		ReferenceMonth: inv.ReferenceMonth.String(),
		TotalValue:     inv.TotalValue.StringFixed(core.MoneyScale),
		PaidValue:      inv.PaidValue.StringFixed(core.MoneyScale),
		Status:         inv.Status,
	}
}

// auditInvoices records one entry per invoice the unit created or changed.
func (u *unit) auditInvoices() {
	for _, id := range u.touched {
		after := snapshotInvoice(u.latest[id])
		if u.created[id] {
			u.record("create", "invoice", id, nil, after)
			continue
		}
		before := snapshotInvoice(u.before[id])
		if before != after {
			u.record("update", "invoice", id, before, after)
		}
	}
}
