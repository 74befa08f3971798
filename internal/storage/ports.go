// Package storage defines the transactional persistence ports of the engine
// and provides the SQLite implementation. An in-memory implementation lives
// in storage/memory.
package storage

import (
	"context"

	"fatura/internal/core"
)

// Store runs units of work. Every mutating engine operation happens inside a
// single WithTx call: if fn returns an error nothing it wrote is kept.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against committed state without opening a write transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the repository surface available inside a unit of work. Lookups of
// unknown ids return *core.NotFoundError.
type Tx interface {
	CardRepository
	InvoiceRepository
	InstallmentRepository
	PurchaseRepository
	LedgerRepository
}

type (
	CardRepository interface {
		GetCard(ctx context.Context, id string) (core.Card, error)
		SaveCard(ctx context.Context, c core.Card) error
		ListCards(ctx context.Context) ([]core.Card, error)
	}

	InvoiceRepository interface {
		GetInvoice(ctx context.Context, id string) (core.Invoice, error)
		// FindInvoice looks an invoice up by its identity key.
		FindInvoice(ctx context.Context, cardID string, ref core.Month) (core.Invoice, bool, error)
		// CreateInvoice inserts inv unless one already exists for its
		// (card, reference month); either way the stored invoice is returned.
		CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error)
		UpdateInvoice(ctx context.Context, inv core.Invoice) error
		ListInvoices(ctx context.Context, f InvoiceFilter) ([]core.Invoice, error)
	}

	InstallmentRepository interface {
		GetInstallment(ctx context.Context, id string) (core.Installment, error)
		CreateInstallment(ctx context.Context, in core.Installment) error
		UpdateInstallment(ctx context.Context, in core.Installment) error
		ListInstallmentsByInvoice(ctx context.Context, invoiceID string) ([]core.Installment, error)
		ListInstallmentsByPurchase(ctx context.Context, purchaseID string) ([]core.Installment, error)
		ListInstallmentsByCard(ctx context.Context, cardID string) ([]core.Installment, error)
	}

	PurchaseRepository interface {
		GetPurchase(ctx context.Context, id string) (core.Purchase, error)
		CreatePurchase(ctx context.Context, p core.Purchase) error
		UpdatePurchase(ctx context.Context, p core.Purchase) error
		// ListAdjustments returns the adjustment entries created for a purchase.
		ListAdjustments(ctx context.Context, originPurchaseID string) ([]core.Purchase, error)
	}

	LedgerRepository interface {
		PostMovement(ctx context.Context, m core.LedgerMovement) error
		ListMovements(ctx context.Context, accountRef string) ([]core.LedgerMovement, error)
	}
)

// InvoiceFilter narrows ListInvoices. Zero values match everything; results
// are ordered by card then reference month.
type InvoiceFilter struct {
	CardID   string
	Statuses []core.InvoiceStatus
	From     core.Month
}

// Matches reports whether inv passes the filter.
func (f InvoiceFilter) Matches(inv core.Invoice) bool {
	if f.CardID != "" && inv.CardID != f.CardID {
		return false
	}
	if !f.From.IsZero() && inv.ReferenceMonth.Before(f.From) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if inv.Status == s {
			return true
		}
	}
	return false
}
