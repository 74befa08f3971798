package services

import (
	"context"
	"testing"
	"time"

	"fatura/internal/core"
	"fatura/internal/events"
	"fatura/internal/log"
)

func TestCycleProcessorSweep(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	ctx := context.Background()
	h.purchase(t, core.NewDate(2025, 1, 5), "300.00", 3)
	h.recorder.Reset()

	p := NewCycleProcessor(h.engine, DefaultCycleProcessorConfig(), log.Discard())

	h.clock.Set(at(2025, time.January, 18))
	res, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Cards != 1 || res.Invoices != 3 || res.Changed != 1 || res.DueSoon != 1 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result %+v", res)
	}
	if h.invoice(t, "2025-01").Status != core.InvoiceClosed {
		t.Fatal("2025-01 should be closed")
	}
	dueSoon := h.recorder.EventsOfType(events.InvoiceDueSoon)
	if len(dueSoon) != 1 || dueSoon[0].DaysUntilDue != 2 || dueSoon[0].CardName != "Gold" {
		t.Fatalf("unexpected due soon events %+v", dueSoon)
	}
	assertMoney(t, "due soon amount", dueSoon[0].Amount, "100.00")

	res, err = p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Changed != 0 || res.DueSoon != 0 {
		t.Fatalf("second sweep on the same day repeated work: %+v", res)
	}

	h.clock.Set(at(2025, time.January, 21))
	if _, err := p.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if h.invoice(t, "2025-01").Status != core.InvoiceOverdue {
		t.Fatal("2025-01 should be overdue")
	}
	if len(h.recorder.EventsOfType(events.InvoiceOverdue)) != 1 {
		t.Fatal("expected one overdue event")
	}
}

func TestCycleProcessorStartStop(t *testing.T) {
	h := newHarness(t, at(2025, time.January, 5))
	p := NewCycleProcessor(h.engine, CycleProcessorConfig{Interval: time.Hour, Concurrency: 2}, log.Discard())
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
	if !p.IsRunning() {
		t.Fatal("processor should be running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("processor should be stopped")
	}
}
