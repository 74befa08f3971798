package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fatura/internal/billing"
	"fatura/internal/core"
)

// PurchaseEdit carries the fields of a purchase a caller may change.
// Nil fields are left as they are.
type PurchaseEdit struct {
	Description  *string          `json:"description,omitempty"`
	Value        *decimal.Decimal `json:"value,omitempty"`
	Installments *int             `json:"installments,omitempty"`
}

// reverse takes one live installment out of its purchase. On an open invoice
// it is marked reversed in place. On a settled invoice it stays untouched and
// a credit of the opposite sign is posted on the adjustment target instead.
// It reports whether a credit was posted.
func (u *unit) reverse(card core.Card, res *billing.Resolver, p core.Purchase, it core.Installment) (bool, error) {
	inv, err := u.loadInvoice(it.InvoiceID)
	if err != nil {
		return false, err
	}
	if !inv.IsSettled() {
		it.Status = core.InstallmentReversed
		it.UpdatedAt = u.now
		if err := u.tx.UpdateInstallment(u.ctx, it); err != nil {
			return false, fmt.Errorf("reverse installment: %w", err)
		}
		_, err := u.recalculate(inv.ID)
		return false, err
	}

	target, err := u.adjustmentTarget(card, res)
	if err != nil {
		return false, err
	}
	desc := fmt.Sprintf("Estorno Parc. %d/%d - %s", it.Number, it.TotalInstallments, p.Description)
	if _, err := u.postAdjustment(p, desc, it.Value.Neg(), it.ID, target); err != nil {
		return false, err
	}
	_, err = u.recalculate(target.ID)
	return true, err
}

// reverseWhere reverses every live installment of p selected by keep that
// has not been credited already. It returns how many were reversed in place
// and how many got a credit.
func (u *unit) reverseWhere(card core.Card, res *billing.Resolver, p core.Purchase, keep func(core.Installment) bool) (inPlace, credited int, err error) {
	done, err := u.creditedInstallments(p.ID)
	if err != nil {
		return 0, 0, err
	}
	items, err := u.tx.ListInstallmentsByPurchase(u.ctx, p.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("list installments: %w", err)
	}
	for _, it := range items {
		if !it.IsLive() || done[it.ID] || !keep(it) {
			continue
		}
		viaCredit, err := u.reverse(card, res, p, it)
		if err != nil {
			return 0, 0, err
		}
		if viaCredit {
			credited++
		} else {
			inPlace++
		}
	}
	return inPlace, credited, nil
}

func (e *Engine) adjustablePurchase(ctx context.Context, purchaseID string) (purchaseState, core.Card, *billing.Resolver, error) {
	st, err := e.readPurchase(ctx, purchaseID)
	if err != nil {
		return purchaseState{}, core.Card{}, nil, err
	}
	if st.purchase.Kind == core.KindAdjustment {
		return purchaseState{}, core.Card{}, nil, core.NewValidationError("purchase", "adjustment entries cannot be changed")
	}
	card, res, err := e.card(ctx, st.purchase.CardID)
	if err != nil {
		return purchaseState{}, core.Card{}, nil, err
	}
	return st, card, res, nil
}

// RemoveInstallments cancels a purchase. Installments on open invoices are
// reversed; installments on settled invoices are credited back on the
// current invoice. The purchase record itself is kept. Removing an already
// removed purchase changes nothing.
func (e *Engine) RemoveInstallments(ctx context.Context, purchaseID string) error {
	st, card, res, err := e.adjustablePurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	keys := append(st.keys(), targetKeys(card, res, e.today())...)
	return e.run(ctx, "remove_installments", keys, func(u *unit) error {
		u.useCard(card)
		inPlace, credited, err := u.reverseWhere(card, res, st.purchase, func(core.Installment) bool { return true })
		if err != nil {
			return err
		}
		u.record("remove", "purchase", st.purchase.ID, nil, map[string]int{
			"reversed": inPlace,
			"credited": credited,
		})
		return nil
	})
}

// EditPurchase changes a purchase. A description change alone is recorded
// as is. A change of value or installment count reverses the current
// installments under the open/settled rule, then allocates the corrected
// purchase again; corrected installments whose natural invoice is settled
// land on the current invoice.
func (e *Engine) EditPurchase(ctx context.Context, purchaseID string, edit PurchaseEdit) (core.Purchase, error) {
	st, card, res, err := e.adjustablePurchase(ctx, purchaseID)
	if err != nil {
		return core.Purchase{}, err
	}
	before := st.purchase
	after := before
	if edit.Description != nil {
		after.Description = strings.TrimSpace(*edit.Description)
	}
	if edit.Value != nil {
		after.Value = core.RoundMoney(*edit.Value)
	}
	if edit.Installments != nil {
		after.Installments = *edit.Installments
	}
	after.Installments = after.InstallmentCount()
	if err := after.Validate(); err != nil {
		return core.Purchase{}, core.NewValidationError("purchase", "%v", err)
	}
	realloc := !after.Value.Equal(before.Value) || after.Installments != before.InstallmentCount()

	keys := st.keys()
	if realloc {
		keys = append(keys, targetKeys(card, res, e.today())...)
		keys = append(keys, allocationKeys(card, res, after.Date, 1, after.Installments)...)
	}
	err = e.run(ctx, "edit_purchase", keys, func(u *unit) error {
		u.useCard(card)
		if realloc {
			if _, _, err := u.reverseWhere(card, res, before, func(core.Installment) bool { return true }); err != nil {
				return err
			}
		}
		if err := u.tx.UpdatePurchase(ctx, after); err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}
		if realloc {
			if _, err := u.allocate(card, res, after, 1, true); err != nil {
				return err
			}
		}
		u.record("edit", "purchase", after.ID, purchaseSnapshot(before), purchaseSnapshot(after))
		return nil
	})
	if err != nil {
		return core.Purchase{}, err
	}
	return after, nil
}

// PartialRefund keeps the first keep installments of a purchase and reverses
// the rest under the open/settled rule. The purchase value shrinks to what
// the kept installments add up to.
func (e *Engine) PartialRefund(ctx context.Context, purchaseID string, keep int) (core.Purchase, error) {
	st, card, res, err := e.adjustablePurchase(ctx, purchaseID)
	if err != nil {
		return core.Purchase{}, err
	}
	before := st.purchase
	n := before.InstallmentCount()
	if keep < 1 || keep >= n {
		return core.Purchase{}, core.NewValidationError("keep", "must be between 1 and %d, got %d", n-1, keep)
	}
	after := before
	after.Installments = keep
	after.Value = decimal.Sum(decimal.Zero, core.SplitValue(before.Value, n)[:keep]...)

	keys := append(st.keys(), targetKeys(card, res, e.today())...)
	err = e.run(ctx, "partial_refund", keys, func(u *unit) error {
		u.useCard(card)
		_, _, err := u.reverseWhere(card, res, before, func(it core.Installment) bool {
			return it.Number > keep
		})
		if err != nil {
			return err
		}
		if err := u.tx.UpdatePurchase(ctx, after); err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}
		u.record("refund", "purchase", after.ID, purchaseSnapshot(before), purchaseSnapshot(after))
		return nil
	})
	if err != nil {
		return core.Purchase{}, err
	}
	return after, nil
}

func purchaseSnapshot(p core.Purchase) map[string]any {
	return map[string]any{
		"description":  p.Description,
		"value":        p.Value.StringFixed(core.MoneyScale),
		"installments": p.Installments,
	}
}
