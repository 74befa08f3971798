package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
)

func TestStoreAppendStatement(t *testing.T) {
	s := New()
	card := core.Card{ID: "card-1", Name: "Gold"}
	inv := core.Invoice{
		ID:             "inv-1",
		CardID:         "card-1",
		ReferenceMonth: core.NewMonth(2025, 1),
		TotalValue:     decimal.RequireFromString("100.00"),
		Status:         core.InvoiceClosed,
	}
	items := []core.InvoiceItem{
		{Description: "TV", Number: 1, TotalInstallments: 3, Value: decimal.RequireFromString("100.00"), Status: core.InstallmentInInvoice},
		{Description: "Old", Number: 1, TotalInstallments: 1, Value: decimal.RequireFromString("50.00"), Status: core.InstallmentReversed},
	}

	ref, err := s.AppendStatement(context.Background(), card, inv, items)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	blocks := s.Blocks()
	if len(blocks) != 1 || len(blocks[0]) != 3 {
		t.Fatalf("expected title, one line and footer, got %v", blocks)
	}
	if s.Exports("inv-1") != 1 {
		t.Fatalf("exports = %d", s.Exports("inv-1"))
	}

	if _, err := s.AppendStatement(context.Background(), card, core.Invoice{}, nil); err == nil {
		t.Fatal("expected error for statement without invoice")
	}
}
