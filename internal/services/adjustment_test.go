package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
)

// settledPurchase books a single-installment purchase on the 2024-12 invoice,
// pays that invoice in full and moves the clock into the next cycle.
func settledPurchase(t *testing.T, value string) (*harness, core.Purchase, core.Invoice) {
	t.Helper()
	h := newHarness(t, at(2024, time.December, 5))
	p := h.purchase(t, core.NewDate(2024, 12, 5), value, 1)
	dec2024 := h.invoice(t, "2024-12")
	paid, err := h.engine.ApplyPayment(context.Background(), dec2024.ID, dec(value), "checking")
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if paid.Status != core.InvoicePaid {
		t.Fatalf("status = %s, want paid", paid.Status)
	}
	h.clock.Set(at(2025, time.January, 5))
	h.recorder.Reset()
	return h, p, paid
}

func assertUnchanged(t *testing.T, h *harness, want core.Invoice) {
	t.Helper()
	got, err := h.engine.GetInvoice(context.Background(), want.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if !got.TotalValue.Equal(want.TotalValue) || !got.PaidValue.Equal(want.PaidValue) || got.Status != want.Status {
		t.Fatalf("settled invoice changed: before %s/%s %s, after %s/%s %s",
			want.TotalValue, want.PaidValue, want.Status, got.TotalValue, got.PaidValue, got.Status)
	}
}

func adjustmentsOn(t *testing.T, h *harness, invoiceID string) []core.InvoiceItem {
	t.Helper()
	st, err := h.engine.InvoiceStatement(context.Background(), invoiceID)
	if err != nil {
		t.Fatalf("InvoiceStatement: %v", err)
	}
	var out []core.InvoiceItem
	for _, it := range st.Items {
		if it.Adjustment {
			out = append(out, it)
		}
	}
	return out
}

func TestRemoveInstallmentsOnOpenInvoices(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)

	if err := h.engine.RemoveInstallments(ctx, p.ID); err != nil {
		t.Fatalf("RemoveInstallments: %v", err)
	}
	for _, it := range h.installments(t, p.ID) {
		if it.Status != core.InstallmentReversed {
			t.Errorf("installment %d status = %s, want reversed", it.Number, it.Status)
		}
	}
	for _, ref := range []string{"2025-01", "2025-02", "2025-03"} {
		inv := h.invoice(t, ref)
		assertMoney(t, ref+" total", inv.TotalValue, "0.00")
		if len(adjustmentsOn(t, h, inv.ID)) != 0 {
			t.Errorf("%s got adjustment entries for an open invoice", ref)
		}
	}

	if err := h.engine.RemoveInstallments(ctx, p.ID); err != nil {
		t.Fatalf("second RemoveInstallments: %v", err)
	}
	if len(h.installments(t, p.ID)) != 3 {
		t.Fatal("installments must never be physically removed or duplicated")
	}
}

func TestRemoveInstallmentsOnSettledInvoiceCreditsCurrent(t *testing.T) {
	h, p, paid := settledPurchase(t, "100.00")
	ctx := context.Background()

	if err := h.engine.RemoveInstallments(ctx, p.ID); err != nil {
		t.Fatalf("RemoveInstallments: %v", err)
	}
	assertUnchanged(t, h, paid)

	current, err := h.engine.GetCurrentInvoice(ctx, testCard.ID)
	if err != nil {
		t.Fatalf("GetCurrentInvoice: %v", err)
	}
	if current.ReferenceMonth.String() != "2025-01" {
		t.Fatalf("current invoice = %s", current.ReferenceMonth)
	}
	assertMoney(t, "current total", current.TotalValue, "-100.00")

	adjs := adjustmentsOn(t, h, current.ID)
	if len(adjs) != 1 {
		t.Fatalf("expected one credit, got %+v", adjs)
	}
	assertMoney(t, "credit", adjs[0].Value, "-100.00")
	if !strings.HasPrefix(adjs[0].Description, "Estorno Parc. 1/1") {
		t.Errorf("credit description = %q", adjs[0].Description)
	}
	if adjs[0].Date != core.NewDate(2025, 1, 5) {
		t.Errorf("credit dated %s, want today", adjs[0].Date)
	}

	original := h.installments(t, p.ID)[0]
	if original.InvoiceID != paid.ID || !original.IsLive() {
		t.Errorf("original installment was touched: %+v", original)
	}

	if err := h.engine.RemoveInstallments(ctx, p.ID); err != nil {
		t.Fatalf("second RemoveInstallments: %v", err)
	}
	assertMoney(t, "current total after repeat", h.invoice(t, "2025-01").TotalValue, "-100.00")
}

func TestEditPurchaseOnOpenInvoices(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "200.00", 2)

	value := dec("300.00")
	edited, err := h.engine.EditPurchase(ctx, p.ID, PurchaseEdit{Value: &value})
	if err != nil {
		t.Fatalf("EditPurchase: %v", err)
	}
	assertMoney(t, "purchase value", edited.Value, "300.00")

	var reversed, live []core.Installment
	for _, it := range h.installments(t, p.ID) {
		if it.IsLive() {
			live = append(live, it)
		} else {
			reversed = append(reversed, it)
		}
	}
	if len(reversed) != 2 || len(live) != 2 {
		t.Fatalf("expected 2 reversed and 2 new installments, got %d and %d", len(reversed), len(live))
	}
	sum := decimal.Zero
	for _, it := range live {
		sum = sum.Add(it.Value)
	}
	assertMoney(t, "live sum", sum, "300.00")
	assertMoney(t, "2025-01 total", h.invoice(t, "2025-01").TotalValue, "150.00")
	assertMoney(t, "2025-02 total", h.invoice(t, "2025-02").TotalValue, "150.00")
}

func TestEditPurchaseDescriptionOnly(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "200.00", 2)

	desc := "  Television "
	edited, err := h.engine.EditPurchase(ctx, p.ID, PurchaseEdit{Description: &desc})
	if err != nil {
		t.Fatalf("EditPurchase: %v", err)
	}
	if edited.Description != "Television" {
		t.Errorf("description = %q", edited.Description)
	}
	for _, it := range h.installments(t, p.ID) {
		if !it.IsLive() {
			t.Fatalf("description change reversed installment %d", it.Number)
		}
	}
}

func TestEditPurchaseOnPaidInvoiceCorrectsCurrent(t *testing.T) {
	h, p, paid := settledPurchase(t, "100.00")
	ctx := context.Background()

	value := dec("50.00")
	if _, err := h.engine.EditPurchase(ctx, p.ID, PurchaseEdit{Value: &value}); err != nil {
		t.Fatalf("EditPurchase: %v", err)
	}
	assertUnchanged(t, h, paid)

	current := h.invoice(t, "2025-01")
	assertMoney(t, "current total", current.TotalValue, "-50.00")

	st, err := h.engine.InvoiceStatement(ctx, current.ID)
	if err != nil {
		t.Fatalf("InvoiceStatement: %v", err)
	}
	var credit, fresh decimal.Decimal
	for _, it := range st.Items {
		if it.Adjustment {
			credit = credit.Add(it.Value)
		} else if it.PurchaseID == p.ID {
			fresh = fresh.Add(it.Value)
		}
	}
	assertMoney(t, "credit", credit, "-100.00")
	assertMoney(t, "fresh installment", fresh, "50.00")
}

func TestPartialRefund(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "100.00", 3)

	refunded, err := h.engine.PartialRefund(ctx, p.ID, 1)
	if err != nil {
		t.Fatalf("PartialRefund: %v", err)
	}
	if refunded.Installments != 1 {
		t.Errorf("installments = %d, want 1", refunded.Installments)
	}
	assertMoney(t, "purchase value", refunded.Value, "33.33")
	assertMoney(t, "2025-01 total", h.invoice(t, "2025-01").TotalValue, "33.33")
	assertMoney(t, "2025-02 total", h.invoice(t, "2025-02").TotalValue, "0.00")
	assertMoney(t, "2025-03 total", h.invoice(t, "2025-03").TotalValue, "0.00")

	var ve *core.ValidationError
	if _, err := h.engine.PartialRefund(ctx, p.ID, 1); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError when nothing is left to refund, got %v", err)
	}
}

func TestAdjustmentEntriesCannotBeChanged(t *testing.T) {
	h, p, _ := settledPurchase(t, "100.00")
	ctx := context.Background()
	if err := h.engine.RemoveInstallments(ctx, p.ID); err != nil {
		t.Fatalf("RemoveInstallments: %v", err)
	}
	adjs := adjustmentsOn(t, h, h.invoice(t, "2025-01").ID)
	if len(adjs) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(adjs))
	}

	var ve *core.ValidationError
	if err := h.engine.RemoveInstallments(ctx, adjs[0].PurchaseID); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := h.engine.RemoveInstallments(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// closedWithoutSweep books a single-installment purchase on the 2025-01
// invoice and moves the clock past its closing date without any sweep, so
// the stored status still reads open.
func closedWithoutSweep(t *testing.T, value string) (*harness, core.Purchase) {
	t.Helper()
	h := newHarness(t, at(2025, time.January, 5))
	p := h.purchase(t, core.NewDate(2025, 1, 5), value, 1)
	h.clock.Set(at(2025, time.January, 15))
	h.recorder.Reset()
	if h.invoice(t, "2025-01").Status != core.InvoiceOpen {
		t.Fatal("stored status should still be open before any operation")
	}
	return h, p
}

func TestRemoveInstallmentsAfterClosingWithoutSweep(t *testing.T) {
	h, p := closedWithoutSweep(t, "300.00")

	if err := h.engine.RemoveInstallments(context.Background(), p.ID); err != nil {
		t.Fatalf("RemoveInstallments: %v", err)
	}
	jan := h.invoice(t, "2025-01")
	assertMoney(t, "2025-01 total", jan.TotalValue, "300.00")
	if jan.Status != core.InvoiceClosed {
		t.Errorf("2025-01 status = %s, want closed", jan.Status)
	}
	if !h.installments(t, p.ID)[0].IsLive() {
		t.Error("installment on the closed invoice was reversed in place")
	}

	feb := h.invoice(t, "2025-02")
	assertMoney(t, "2025-02 total", feb.TotalValue, "-300.00")
	adjs := adjustmentsOn(t, h, feb.ID)
	if len(adjs) != 1 || !strings.HasPrefix(adjs[0].Description, "Estorno Parc. 1/1") {
		t.Fatalf("expected one credit on 2025-02, got %+v", adjs)
	}
}

func TestEditPurchaseAfterClosingWithoutSweep(t *testing.T) {
	h, p := closedWithoutSweep(t, "300.00")

	value := dec("200.00")
	if _, err := h.engine.EditPurchase(context.Background(), p.ID, PurchaseEdit{Value: &value}); err != nil {
		t.Fatalf("EditPurchase: %v", err)
	}
	assertMoney(t, "2025-01 total", h.invoice(t, "2025-01").TotalValue, "300.00")
	assertMoney(t, "2025-02 total", h.invoice(t, "2025-02").TotalValue, "-100.00")

	feb := h.invoice(t, "2025-02")
	for _, it := range h.installments(t, p.ID) {
		if it.IsLive() && it.Number == 1 && it.Value.Equal(value) && it.InvoiceID != feb.ID {
			t.Fatalf("corrected installment landed on %s, want 2025-02", it.InvoiceID)
		}
	}
}

func TestEditPurchaseRejectsBadSplit(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "0.50", 1)

	tooMany := core.MaxInstallments + 1
	tooFew := 60
	for _, edit := range []PurchaseEdit{
		{Installments: &tooMany},
		{Installments: &tooFew},
	} {
		var ve *core.ValidationError
		if _, err := h.engine.EditPurchase(ctx, p.ID, edit); !errors.As(err, &ve) {
			t.Fatalf("installments %d: expected ValidationError, got %v", *edit.Installments, err)
		}
	}
	if len(h.installments(t, p.ID)) != 1 {
		t.Fatal("rejected edit touched the installments")
	}
}
