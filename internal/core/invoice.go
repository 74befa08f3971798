package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Recalculate recomputes the invoice total from the installments currently
// attached to it, then its status. It never accumulates: calling it again
// with the same inputs yields the same result.
func (inv *Invoice) Recalculate(items []Installment, today Date) {
	inv.TotalValue = SumLive(items)
	inv.UpdateStatus(today)
}

// UpdateStatus derives the status from stored totals and dates. The checks
// run in priority order, so a fully paid invoice stays paid after its due
// date has passed.
func (inv *Invoice) UpdateStatus(today Date) {
	switch {
	case inv.TotalValue.IsPositive() && inv.PaidValue.GreaterThanOrEqual(inv.TotalValue):
		inv.Status = InvoicePaid
	case inv.PaidValue.IsPositive():
		inv.Status = InvoicePartiallyPaid
	case inv.DueDate.Before(today) && inv.PaidValue.LessThan(inv.TotalValue):
		inv.Status = InvoiceOverdue
	case !inv.ClosingDate.After(today):
		inv.Status = InvoiceClosed
	default:
		inv.Status = InvoiceOpen
	}
}

// Remaining is the amount still owed.
func (inv Invoice) Remaining() decimal.Decimal {
	return RoundMoney(inv.TotalValue.Sub(inv.PaidValue))
}

// IsSettled reports whether the invoice's history is frozen. Only open
// invoices may have installments reversed in place.
func (inv Invoice) IsSettled() bool {
	return inv.Status != InvoiceOpen
}

// InvoiceItem is one statement line: an installment with its purchase.
type InvoiceItem struct {
	InstallmentID     string            `json:"installment_id"`
	PurchaseID        string            `json:"purchase_id"`
	Description       string            `json:"description"`
	Date              Date              `json:"date"`
	Number            int               `json:"number"`
	TotalInstallments int               `json:"total_installments"`
	Value             decimal.Decimal   `json:"value"`
	Status            InstallmentStatus `json:"status"`
	Adjustment        bool              `json:"adjustment"`
}

// Items builds the statement lines for the given installments, ordered by
// purchase date then installment number. Reversed installments are kept so
// callers decide whether to hide them.
func Items(installments []Installment, purchases map[string]Purchase) []InvoiceItem {
	out := make([]InvoiceItem, 0, len(installments))
	for _, in := range installments {
		p := purchases[in.PurchaseID]
		out = append(out, InvoiceItem{
			InstallmentID:     in.ID,
			PurchaseID:        in.PurchaseID,
			Description:       p.Description,
			Date:              p.Date,
			Number:            in.Number,
			TotalInstallments: in.TotalInstallments,
			Value:             in.Value,
			Status:            in.Status,
			Adjustment:        p.Kind == KindAdjustment,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].PurchaseID != out[j].PurchaseID {
			return out[i].PurchaseID < out[j].PurchaseID
		}
		return out[i].Number < out[j].Number
	})
	return out
}
