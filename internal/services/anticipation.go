package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
)

// AnticipateInstallments moves future installments of a purchase into the
// current invoice. A positive discount is booked as a credit on that invoice.
// Either every installment moves or none does.
func (e *Engine) AnticipateInstallments(ctx context.Context, purchaseID string, installmentIDs []string, discount decimal.Decimal) error {
	discount = core.RoundMoney(discount)
	if discount.IsNegative() {
		return core.NewValidationError("discount", "must not be negative, got %s", discount.StringFixed(core.MoneyScale))
	}
	ids := dedupe(installmentIDs)
	if len(ids) == 0 {
		return core.NewValidationError("installment_ids", "at least one installment is required")
	}

	st, card, res, err := e.adjustablePurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	p := st.purchase
	keys := append(st.keys(), targetKeys(card, res, e.today())...)

	return e.run(ctx, "anticipate_installments", keys, func(u *unit) error {
		current, err := u.adjustmentTarget(card, res)
		if err != nil {
			return err
		}
		moved := decimal.Zero
		for _, id := range ids {
			it, err := u.tx.GetInstallment(ctx, id)
			if err != nil {
				return err
			}
			if it.PurchaseID != p.ID {
				return core.NewNotFoundError("installment", id)
			}
			switch {
			case !it.IsLive():
				return core.NewConflictError("installment %d/%d was reversed", it.Number, it.TotalInstallments)
			case it.Status == core.InstallmentPaid:
				return core.NewConflictError("installment %d/%d is already paid", it.Number, it.TotalInstallments)
			case it.InvoiceID == current.ID:
				return core.NewConflictError("installment %d/%d is already on the current invoice", it.Number, it.TotalInstallments)
			}
			origin, err := u.loadInvoice(it.InvoiceID)
			if err != nil {
				return err
			}
			if origin.IsSettled() {
				return core.NewConflictError("installment %d/%d sits on a %s invoice", it.Number, it.TotalInstallments, origin.Status)
			}

			it.InvoiceID = current.ID
			it.Status = core.InstallmentAnticipated
			it.UpdatedAt = u.now
			if err := u.tx.UpdateInstallment(ctx, it); err != nil {
				return fmt.Errorf("move installment: %w", err)
			}
			if _, err := u.recalculate(origin.ID); err != nil {
				return err
			}
			if _, err := u.recalculate(current.ID); err != nil {
				return err
			}
			moved = moved.Add(it.Value)
		}

		if discount.IsPositive() {
			desc := "Desconto Antecipação - " + p.Description
			if _, err := u.postAdjustment(p, desc, discount.Neg(), "", current); err != nil {
				return err
			}
		}
		if _, err := u.recalculate(current.ID); err != nil {
			return err
		}
		u.record("anticipate", "purchase", p.ID, nil, map[string]any{
			"invoice_id":   current.ID,
			"installments": ids,
			"moved":        moved.StringFixed(core.MoneyScale),
			"discount":     discount.StringFixed(core.MoneyScale),
		})
		return nil
	})
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
