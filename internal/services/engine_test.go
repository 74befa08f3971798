package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
	"fatura/internal/events"
	"fatura/internal/log"
	"fatura/internal/storage"
	"fatura/internal/storage/memory"
)

var testCard = core.Card{
	ID:          "card-1",
	Name:        "Gold",
	ClosingDay:  10,
	DueDay:      20,
	CreditLimit: decimal.RequireFromString("5000.00"),
}

type harness struct {
	engine   *Engine
	store    *memory.Store
	clock    *core.FixedClock
	recorder *events.Recorder
}

func at(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		clock:    core.NewFixedClock(now),
		recorder: &events.Recorder{},
	}
	h.engine = NewEngine(h.store,
		WithClock(h.clock),
		WithPublisher(h.recorder),
		WithAuditSink(h.recorder),
		WithLogger(log.Discard()),
	)
	if err := h.engine.SaveCard(context.Background(), testCard); err != nil {
		t.Fatalf("SaveCard: %v", err)
	}
	h.recorder.Reset()
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (h *harness) purchase(t *testing.T, date core.Date, value string, n int) core.Purchase {
	t.Helper()
	p, err := h.engine.CreateInstallments(context.Background(), core.Purchase{
		CardID:       testCard.ID,
		Description:  "TV",
		Date:         date,
		Value:        dec(value),
		Installments: n,
	}, 1)
	if err != nil {
		t.Fatalf("CreateInstallments: %v", err)
	}
	return p
}

func (h *harness) invoice(t *testing.T, ref string) core.Invoice {
	t.Helper()
	invs, err := h.engine.ListInvoices(context.Background(), storage.InvoiceFilter{CardID: testCard.ID})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	for _, inv := range invs {
		if inv.ReferenceMonth.String() == ref {
			return inv
		}
	}
	t.Fatalf("no invoice for %s", ref)
	return core.Invoice{}
}

func (h *harness) installments(t *testing.T, purchaseID string) []core.Installment {
	t.Helper()
	items, err := h.engine.PurchaseInstallments(context.Background(), purchaseID)
	if err != nil {
		t.Fatalf("PurchaseInstallments: %v", err)
	}
	return items
}

func assertMoney(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", what, got.StringFixed(2), want)
	}
}

func TestCreateInstallmentsPlacesEachInstallment(t *testing.T) {
	tests := []struct {
		name   string
		date   core.Date
		value  string
		n      int
		refs   []string
		values []string
	}{
		{
			name:   "three even installments",
			date:   core.NewDate(2025, 1, 5),
			value:  "300.00",
			n:      3,
			refs:   []string{"2025-01", "2025-02", "2025-03"},
			values: []string{"100.00", "100.00", "100.00"},
		},
		{
			name:   "last installment absorbs remainder",
			date:   core.NewDate(2025, 1, 5),
			value:  "100.00",
			n:      3,
			refs:   []string{"2025-01", "2025-02", "2025-03"},
			values: []string{"33.33", "33.33", "33.34"},
		},
		{
			name:   "purchase after closing day",
			date:   core.NewDate(2025, 1, 15),
			value:  "50.00",
			n:      1,
			refs:   []string{"2025-02"},
			values: []string{"50.00"},
		},
		{
			name:   "crosses year boundary",
			date:   core.NewDate(2024, 11, 20),
			value:  "90.00",
			n:      3,
			refs:   []string{"2024-12", "2025-01", "2025-02"},
			values: []string{"30.00", "30.00", "30.00"},
		},
		{
			name:   "count below one is clamped",
			date:   core.NewDate(2025, 1, 5),
			value:  "10.00",
			n:      0,
			refs:   []string{"2025-01"},
			values: []string{"10.00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, at(2024, time.November, 1))
			p := h.purchase(t, tt.date, tt.value, tt.n)

			items := h.installments(t, p.ID)
			if len(items) != len(tt.refs) {
				t.Fatalf("got %d installments, want %d", len(items), len(tt.refs))
			}
			sum := decimal.Zero
			for i, it := range items {
				inv, err := h.engine.GetInvoice(context.Background(), it.InvoiceID)
				if err != nil {
					t.Fatalf("GetInvoice: %v", err)
				}
				if inv.ReferenceMonth.String() != tt.refs[i] {
					t.Errorf("installment %d on %s, want %s", it.Number, inv.ReferenceMonth, tt.refs[i])
				}
				assertMoney(t, "installment value", it.Value, tt.values[i])
				if it.Status != core.InstallmentInInvoice {
					t.Errorf("installment %d status = %s", it.Number, it.Status)
				}
				if it.TotalInstallments != len(tt.refs) {
					t.Errorf("total installments = %d", it.TotalInstallments)
				}
				sum = sum.Add(it.Value)
			}
			assertMoney(t, "sum", sum, tt.value)

			for i, ref := range tt.refs {
				assertMoney(t, "invoice "+ref+" total", h.invoice(t, ref).TotalValue, tt.values[i])
			}
		})
	}
}

func TestCreateInstallmentsValidation(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()

	_, err := h.engine.CreateInstallments(ctx, core.Purchase{
		CardID: testCard.ID, Description: "TV", Date: core.NewDate(2025, 1, 5), Value: dec("-1"),
	}, 1)
	var ve *core.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	_, err = h.engine.CreateInstallments(ctx, core.Purchase{
		CardID: "missing", Description: "TV", Date: core.NewDate(2025, 1, 5), Value: dec("10"),
	}, 1)
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for unknown card, got %v", err)
	}

	_, err = h.engine.CreateInstallments(ctx, core.Purchase{
		CardID: testCard.ID, Description: "TV", Date: core.NewDate(2025, 1, 5), Value: dec("10"), Installments: 2,
	}, 3)
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for start past the end, got %v", err)
	}

	for _, tc := range []struct {
		value string
		n     int
	}{
		{"300.00", 3000},
		{"0.02", 3},
	} {
		_, err = h.engine.CreateInstallments(ctx, core.Purchase{
			CardID: testCard.ID, Description: "TV", Date: core.NewDate(2025, 1, 5), Value: dec(tc.value), Installments: tc.n,
		}, 1)
		if !errors.As(err, &ve) || !errors.Is(err, core.ErrValidation) {
			t.Fatalf("%s in %d installments: expected ValidationError, got %v", tc.value, tc.n, err)
		}
	}

	invs, _ := h.engine.ListInvoices(ctx, storage.InvoiceFilter{})
	if len(invs) != 0 {
		t.Fatalf("rejected purchases created %d invoices", len(invs))
	}
}

func TestCreateInstallmentsFromStartNumber(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	p := h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)

	_, err := h.engine.CreateInstallments(ctx, core.Purchase{ID: p.ID}, 2)
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict while installments 2..3 are live, got %v", err)
	}

	if err := h.engine.RemoveInstallments(ctx, p.ID); err != nil {
		t.Fatalf("RemoveInstallments: %v", err)
	}
	if _, err := h.engine.CreateInstallments(ctx, core.Purchase{ID: p.ID}, 2); err != nil {
		t.Fatalf("CreateInstallments from 2: %v", err)
	}

	var live []core.Installment
	for _, it := range h.installments(t, p.ID) {
		if it.IsLive() {
			live = append(live, it)
		}
	}
	if len(live) != 2 || live[0].Number != 2 || live[1].Number != 3 {
		t.Fatalf("expected live installments 2 and 3, got %+v", live)
	}
	assertMoney(t, "2025-01 total", h.invoice(t, "2025-01").TotalValue, "100.00")
	assertMoney(t, "2025-02 total", h.invoice(t, "2025-02").TotalValue, "100.00")
	assertMoney(t, "2025-03 total", h.invoice(t, "2025-03").TotalValue, "0.00")
}

func TestInvoiceLookups(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()

	current, err := h.engine.GetCurrentInvoice(ctx, testCard.ID)
	if err != nil {
		t.Fatalf("GetCurrentInvoice: %v", err)
	}
	if current.ReferenceMonth.String() != "2025-01" || current.Status != core.InvoiceOpen {
		t.Fatalf("unexpected current invoice %+v", current)
	}
	if current.ClosingDate != core.NewDate(2025, 1, 10) || current.DueDate != core.NewDate(2025, 1, 20) {
		t.Errorf("unexpected cycle dates %s / %s", current.ClosingDate, current.DueDate)
	}
	if current.PeriodStart != core.NewDate(2024, 12, 11) || current.PeriodEnd != core.NewDate(2025, 1, 10) {
		t.Errorf("unexpected period %s..%s", current.PeriodStart, current.PeriodEnd)
	}

	again, err := h.engine.GetCurrentInvoice(ctx, testCard.ID)
	if err != nil || again.ID != current.ID {
		t.Fatalf("second lookup returned %s (%v), want %s", again.ID, err, current.ID)
	}

	feb, err := h.engine.GetOrCreateInvoice(ctx, testCard.ID, core.NewDate(2025, 1, 11))
	if err != nil {
		t.Fatalf("GetOrCreateInvoice: %v", err)
	}
	if feb.ReferenceMonth.String() != "2025-02" {
		t.Fatalf("2025-01-11 resolved to %s", feb.ReferenceMonth)
	}

	creates := 0
	for _, a := range h.recorder.Audits() {
		if a.Action == "create" && a.Entity == "invoice" {
			creates++
		}
	}
	if creates != 2 {
		t.Errorf("expected 2 invoice create audits, got %d", creates)
	}

	if _, err := h.engine.GetCurrentInvoice(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRecalculateIsIdempotentAndFollowsTheClock(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)
	jan := h.invoice(t, "2025-01")

	first, err := h.engine.Recalculate(ctx, jan.ID)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	second, err := h.engine.Recalculate(ctx, jan.ID)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if !first.TotalValue.Equal(second.TotalValue) || first.Status != second.Status {
		t.Fatalf("recalculate not idempotent: %+v vs %+v", first, second)
	}

	h.clock.Set(at(2025, time.January, 10))
	closed, err := h.engine.Recalculate(ctx, jan.ID)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if closed.Status != core.InvoiceClosed {
		t.Fatalf("status on closing day = %s, want closed", closed.Status)
	}
	if got := h.recorder.EventsOfType(events.InvoiceClosed); len(got) != 1 || got[0].InvoiceID != jan.ID {
		t.Fatalf("expected one invoice.closed event, got %+v", got)
	}

	h.clock.Set(at(2025, time.January, 21))
	overdue, err := h.engine.Recalculate(ctx, jan.ID)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if overdue.Status != core.InvoiceOverdue {
		t.Fatalf("status after due date = %s, want overdue", overdue.Status)
	}
	if len(h.recorder.EventsOfType(events.InvoiceOverdue)) != 1 {
		t.Fatal("expected one invoice.overdue event")
	}

	if _, err := h.engine.Recalculate(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusEventsWhenRecalculatedLate(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 1)
	h.purchase(t, core.NewDate(2025, 1, 15), "80.00", 1)
	jan := h.invoice(t, "2025-01")
	feb := h.invoice(t, "2025-02")

	// paying off before the closing date is not a close
	if _, err := h.engine.ApplyPayment(ctx, feb.ID, dec("80.00"), "checking"); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if got := h.recorder.EventsOfType(events.InvoiceClosed); len(got) != 0 {
		t.Fatalf("early payoff emitted invoice.closed: %+v", got)
	}

	h.clock.Set(at(2025, time.January, 21))
	overdue, err := h.engine.Recalculate(ctx, jan.ID)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if overdue.Status != core.InvoiceOverdue {
		t.Fatalf("status = %s, want overdue", overdue.Status)
	}
	closed := h.recorder.EventsOfType(events.InvoiceClosed)
	if len(closed) != 1 || closed[0].InvoiceID != jan.ID {
		t.Fatalf("expected one invoice.closed event for 2025-01, got %+v", closed)
	}
	assertMoney(t, "closed amount", closed[0].Amount, "300.00")
	if len(h.recorder.EventsOfType(events.InvoiceOverdue)) != 1 {
		t.Fatal("expected one invoice.overdue event")
	}

	if _, err := h.engine.Recalculate(ctx, jan.ID); err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if len(h.recorder.EventsOfType(events.InvoiceClosed)) != 1 {
		t.Fatal("second recalculation repeated invoice.closed")
	}
}

func TestConcurrentPurchasesKeepTotalsConsistent(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.CreateInstallments(ctx, core.Purchase{
				CardID: testCard.ID, Description: "Coffee", Date: core.NewDate(2025, 1, 5),
				Value: dec("10.00"), Installments: 2,
			}, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CreateInstallments: %v", err)
		}
	}

	assertMoney(t, "2025-01 total", h.invoice(t, "2025-01").TotalValue, "100.00")
	assertMoney(t, "2025-02 total", h.invoice(t, "2025-02").TotalValue, "100.00")
}

func TestCardLimit(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)

	limit, err := h.engine.CardLimit(ctx, testCard.ID)
	if err != nil {
		t.Fatalf("CardLimit: %v", err)
	}
	assertMoney(t, "used", limit.Used, "300.00")
	assertMoney(t, "available", limit.Available, "4700.00")

	jan := h.invoice(t, "2025-01")
	if _, err := h.engine.ApplyPayment(ctx, jan.ID, dec("100.00"), "checking"); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	limit, err = h.engine.CardLimit(ctx, testCard.ID)
	if err != nil {
		t.Fatalf("CardLimit: %v", err)
	}
	assertMoney(t, "used after payment", limit.Used, "200.00")
}

func TestSaveCardReprocessesOpenInvoices(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)

	changed := testCard
	changed.DueDay = 25
	if err := h.engine.SaveCard(ctx, changed); err != nil {
		t.Fatalf("SaveCard: %v", err)
	}
	for _, ref := range []string{"2025-01", "2025-02", "2025-03"} {
		inv := h.invoice(t, ref)
		if inv.DueDate.Day() != 25 {
			t.Errorf("%s due date = %s, want day 25", ref, inv.DueDate)
		}
	}
	assertMoney(t, "2025-02 total", h.invoice(t, "2025-02").TotalValue, "100.00")

	bad := testCard
	bad.ClosingDay = 0
	var ve *core.ValidationError
	if err := h.engine.SaveCard(ctx, bad); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
