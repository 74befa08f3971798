package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
)

func TestAnticipateMovesInstallmentToCurrentInvoice(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)
	items := h.installments(t, p.ID)

	janBefore := h.invoice(t, "2025-01").TotalValue
	marBefore := h.invoice(t, "2025-03").TotalValue

	if err := h.engine.AnticipateInstallments(ctx, p.ID, []string{items[2].ID}, decimal.Zero); err != nil {
		t.Fatalf("AnticipateInstallments: %v", err)
	}

	jan := h.invoice(t, "2025-01")
	mar := h.invoice(t, "2025-03")
	if !jan.TotalValue.Sub(janBefore).Equal(items[2].Value) {
		t.Errorf("current invoice grew by %s, want %s", jan.TotalValue.Sub(janBefore), items[2].Value)
	}
	if !marBefore.Sub(mar.TotalValue).Equal(items[2].Value) {
		t.Errorf("origin invoice shrank by %s, want %s", marBefore.Sub(mar.TotalValue), items[2].Value)
	}

	moved := h.installments(t, p.ID)[2]
	if moved.InvoiceID != jan.ID || moved.Status != core.InstallmentAnticipated {
		t.Fatalf("unexpected installment after anticipation %+v", moved)
	}
}

func TestAnticipateWithDiscount(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)
	items := h.installments(t, p.ID)

	ids := []string{items[1].ID, items[2].ID, items[2].ID}
	if err := h.engine.AnticipateInstallments(ctx, p.ID, ids, dec("15.00")); err != nil {
		t.Fatalf("AnticipateInstallments: %v", err)
	}

	jan := h.invoice(t, "2025-01")
	assertMoney(t, "current total", jan.TotalValue, "285.00")
	assertMoney(t, "2025-02 total", h.invoice(t, "2025-02").TotalValue, "0.00")
	assertMoney(t, "2025-03 total", h.invoice(t, "2025-03").TotalValue, "0.00")

	adjs := adjustmentsOn(t, h, jan.ID)
	if len(adjs) != 1 {
		t.Fatalf("expected one discount entry, got %+v", adjs)
	}
	assertMoney(t, "discount", adjs[0].Value, "-15.00")
	if adjs[0].Description != "Desconto Antecipação - TV" {
		t.Errorf("discount description = %q", adjs[0].Description)
	}
}

func TestAnticipateIsAllOrNothing(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)
	items := h.installments(t, p.ID)
	h.recorder.Reset()

	// the second id is already on the current invoice
	err := h.engine.AnticipateInstallments(ctx, p.ID, []string{items[1].ID, items[0].ID}, dec("5"))
	var ce *core.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	assertMoney(t, "2025-01 total", h.invoice(t, "2025-01").TotalValue, "100.00")
	assertMoney(t, "2025-02 total", h.invoice(t, "2025-02").TotalValue, "100.00")
	if got := h.installments(t, p.ID)[1]; got.Status != core.InstallmentInInvoice {
		t.Errorf("rolled back installment has status %s", got.Status)
	}
	if len(h.recorder.Audits()) != 0 || len(h.recorder.Events()) != 0 {
		t.Error("a rolled back operation must not emit anything")
	}
}

func TestAnticipateRejectsBadInput(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)
	other := h.purchase(t, core.NewDate(2025, 1, 5), "20.00", 2)
	items := h.installments(t, p.ID)
	otherItems := h.installments(t, other.ID)

	tests := []struct {
		name     string
		ids      []string
		discount string
		check    func(error) bool
	}{
		{"negative discount", []string{items[2].ID}, "-1", func(err error) bool { return errors.Is(err, core.ErrValidation) }},
		{"no installments", nil, "0", func(err error) bool { return errors.Is(err, core.ErrValidation) }},
		{"unknown installment", []string{"missing"}, "0", func(err error) bool { return errors.Is(err, core.ErrNotFound) }},
		{"installment of another purchase", []string{otherItems[1].ID}, "0", func(err error) bool { return errors.Is(err, core.ErrNotFound) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.engine.AnticipateInstallments(ctx, p.ID, tt.ids, dec(tt.discount))
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}

	if err := h.engine.RemoveInstallments(ctx, p.ID); err != nil {
		t.Fatalf("RemoveInstallments: %v", err)
	}
	err := h.engine.AnticipateInstallments(ctx, p.ID, []string{items[2].ID}, decimal.Zero)
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict for a reversed installment, got %v", err)
	}
}

func TestAnticipateFromInvoiceClosedWithoutSweep(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)
	items := h.installments(t, p.ID)
	jan := h.invoice(t, "2025-01")

	h.clock.Set(at(2025, time.January, 15))
	err := h.engine.AnticipateInstallments(ctx, p.ID, []string{items[0].ID}, decimal.Zero)
	var ce *core.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	assertMoney(t, "2025-01 total", h.invoice(t, "2025-01").TotalValue, "100.00")
	if got := h.installments(t, p.ID)[0]; got.InvoiceID != jan.ID || got.Status != core.InstallmentInInvoice {
		t.Fatalf("installment 1/3 moved off the closed invoice: %+v", got)
	}
}
