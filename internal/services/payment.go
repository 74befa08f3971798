package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
	"fatura/internal/storage"
)

// ApplyPayment adds amount to an invoice's paid value, moves its status and
// posts the matching debit on the paying account, all in one transaction.
// Once the invoice is fully paid its installments are marked paid.
func (e *Engine) ApplyPayment(ctx context.Context, invoiceID string, amount decimal.Decimal, accountRef string) (core.Invoice, error) {
	amount = core.RoundMoney(amount)
	if !amount.IsPositive() {
		return core.Invoice{}, core.NewValidationError("amount", "payment must be positive, got %s", amount.StringFixed(core.MoneyScale))
	}
	accountRef = strings.TrimSpace(accountRef)
	if accountRef == "" {
		return core.Invoice{}, core.NewValidationError("account_ref", "a source account is required")
	}

	inv, err := e.GetInvoice(ctx, invoiceID)
	if err != nil {
		return core.Invoice{}, err
	}
	card, _, err := e.card(ctx, inv.CardID)
	if err != nil {
		return core.Invoice{}, err
	}

	var paid core.Invoice
	err = e.run(ctx, "apply_payment", []string{InvoiceKey(inv.CardID, inv.ReferenceMonth)}, func(u *unit) error {
		u.useCard(card)
		inv, err := u.loadInvoice(invoiceID)
		if err != nil {
			return err
		}
		prev := inv.Status
		inv.PaidValue = core.RoundMoney(inv.PaidValue.Add(amount))
		inv.UpdateStatus(u.today)
		if err := u.saveInvoice(inv, prev); err != nil {
			return err
		}
		if inv.Status == core.InvoicePaid {
			if err := u.settleInstallments(inv.ID); err != nil {
				return err
			}
		}

		err = u.tx.PostMovement(ctx, core.LedgerMovement{
			ID:          u.e.newID(),
			AccountRef:  accountRef,
			Kind:        core.MovementDebit,
			Amount:      amount,
			Description: fmt.Sprintf("Pagamento fatura %s %s", card.Name, inv.ReferenceMonth),
			InvoiceID:   inv.ID,
			Date:        u.today,
			CreatedAt:   u.now,
		})
		if err != nil {
			return fmt.Errorf("post ledger movement: %w", err)
		}
		u.record("pay", "invoice", inv.ID, nil, map[string]string{
			"amount":      amount.StringFixed(core.MoneyScale),
			"account_ref": accountRef,
		})
		paid = inv
		return nil
	})
	if err != nil {
		return core.Invoice{}, err
	}
	return paid, nil
}

// settleInstallments marks the live installments of a paid invoice as paid.
func (u *unit) settleInstallments(invoiceID string) error {
	items, err := u.tx.ListInstallmentsByInvoice(u.ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("list installments: %w", err)
	}
	for _, it := range items {
		if it.Status != core.InstallmentInInvoice && it.Status != core.InstallmentAnticipated {
			continue
		}
		it.Status = core.InstallmentPaid
		it.UpdatedAt = u.now
		if err := u.tx.UpdateInstallment(u.ctx, it); err != nil {
			return fmt.Errorf("settle installment: %w", err)
		}
	}
	return nil
}

// Movements lists the ledger postings of an account.
func (e *Engine) Movements(ctx context.Context, accountRef string) ([]core.LedgerMovement, error) {
	var out []core.LedgerMovement
	err := e.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListMovements(ctx, accountRef)
		return err
	})
	return out, err
}
