// Package sheets exports closed invoice statements to a spreadsheet.
package sheets

import (
	"context"
	"fmt"

	"fatura/internal/core"
)

// StatementWriter appends one statement block and returns where it landed.
type StatementWriter interface {
	AppendStatement(ctx context.Context, card core.Card, inv core.Invoice, items []core.InvoiceItem) (rowRef string, err error)
}

// StatementRows lays a statement out as spreadsheet rows: a title row, one
// row per live line and a footer with totals. Reversed lines are left out
// since they no longer count towards the invoice.
func StatementRows(card core.Card, inv core.Invoice, items []core.InvoiceItem) [][]any {
	rows := make([][]any, 0, len(items)+2)
	rows = append(rows, []any{
		fmt.Sprintf("Fatura %s %s", card.Name, inv.ReferenceMonth),
		inv.ClosingDate.String(),
		inv.DueDate.String(),
		"", "",
		string(inv.Status),
	})
	for _, it := range items {
		if it.Status == core.InstallmentReversed {
			continue
		}
		rows = append(rows, []any{
			it.Date.String(),
			it.Description,
			fmt.Sprintf("%d/%d", it.Number, it.TotalInstallments),
			it.Value.StringFixed(core.MoneyScale),
			kindLabel(it),
			string(it.Status),
		})
	}
	rows = append(rows, []any{
		"Total",
		"",
		"",
		inv.TotalValue.StringFixed(core.MoneyScale),
		"Pago " + inv.PaidValue.StringFixed(core.MoneyScale),
		"Restante " + inv.Remaining().StringFixed(core.MoneyScale),
	})
	return rows
}

func kindLabel(it core.InvoiceItem) string {
	if it.Adjustment {
		return "ajuste"
	}
	return "compra"
}
