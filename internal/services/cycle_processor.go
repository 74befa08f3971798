package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fatura/internal/cache"
	"fatura/internal/core"
	"fatura/internal/events"
	"fatura/internal/log"
	"fatura/internal/storage"
)

// CycleProcessorConfig holds configuration for the cycle processor
type CycleProcessorConfig struct {
	// Interval is how often invoices are swept (default: 1h)
	Interval time.Duration

	// DueSoonDays is how many days before the due date a reminder goes out (default: 3)
	DueSoonDays int

	// Concurrency bounds how many cards are swept at once (default: 4)
	Concurrency int
}

func DefaultCycleProcessorConfig() CycleProcessorConfig {
	return CycleProcessorConfig{
		Interval:    time.Hour,
		DueSoonDays: 3,
		Concurrency: 4,
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Cards    int `json:"cards"`
	Invoices int `json:"invoices"`
	Changed  int `json:"changed"`
	DueSoon  int `json:"due_soon"`
	Failed   int `json:"failed"`
}

func (r *SweepResult) add(o SweepResult) {
	r.Cards += o.Cards
	r.Invoices += o.Invoices
	r.Changed += o.Changed
	r.DueSoon += o.DueSoon
	r.Failed += o.Failed
}

// CycleProcessor moves invoices through their time-driven statuses as days
// pass (open to closed, closed to overdue) and sends due-soon reminders.
type CycleProcessor struct {
	engine   *Engine
	config   CycleProcessorConfig
	reminded *cache.LRUCache[struct{}]
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewCycleProcessor(engine *Engine, config CycleProcessorConfig, logger *log.Logger) *CycleProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultCycleProcessorConfig().Interval
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if logger == nil {
		logger = engine.logger
	}
	return &CycleProcessor{
		engine:   engine,
		config:   config,
		reminded: cache.NewLRUCache[struct{}](10000, 48*time.Hour).WithClock(engine.clock.Now),
		logger:   logger.WithComponent(log.ComponentCycle),
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *CycleProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("cycle processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Cycle processor started",
		"interval", p.config.Interval,
		"due_soon_days", p.config.DueSoonDays)
	return nil
}

// Stop signals the loop and waits for the current sweep to finish.
func (p *CycleProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Cycle processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Cycle processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *CycleProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *CycleProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.sweepAndLog(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepAndLog(ctx)
		}
	}
}

func (p *CycleProcessor) sweepAndLog(ctx context.Context) {
	start := time.Now()
	res, err := p.Sweep(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Cycle sweep failed", log.FieldError, err)
		return
	}
	p.logger.InfoContext(ctx, "Cycle sweep complete",
		"cards", res.Cards,
		"invoices", res.Invoices,
		"changed", res.Changed,
		"due_soon", res.DueSoon,
		"failed", res.Failed,
		log.FieldDuration, time.Since(start).Milliseconds())
}

// Sweep recalculates every unpaid invoice of every card against today and
// emits reminders for invoices coming due. A failing invoice is logged and
// counted; only listing failures abort the sweep.
func (p *CycleProcessor) Sweep(ctx context.Context) (SweepResult, error) {
	cards, err := p.engine.ListCards(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list cards: %w", err)
	}

	var (
		mu    sync.Mutex
		total SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for _, card := range cards {
		g.Go(func() error {
			r, err := p.sweepCard(gctx, card)
			mu.Lock()
			total.add(r)
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

var sweepStatuses = []core.InvoiceStatus{
	core.InvoiceOpen,
	core.InvoiceClosed,
	core.InvoicePartiallyPaid,
	core.InvoiceOverdue,
}

func (p *CycleProcessor) sweepCard(ctx context.Context, card core.Card) (SweepResult, error) {
	res := SweepResult{Cards: 1}
	invoices, err := p.engine.ListInvoices(ctx, storage.InvoiceFilter{CardID: card.ID, Statuses: sweepStatuses})
	if err != nil {
		return res, fmt.Errorf("list invoices of card %s: %w", card.ID, err)
	}
	today := p.engine.today()
	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Invoices++
		updated, err := p.engine.Recalculate(ctx, inv.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return res, err
			}
			res.Failed++
			p.logger.ErrorContext(ctx, "Failed to recalculate invoice",
				log.FieldInvoiceID, inv.ID, log.FieldError, err)
			continue
		}
		if updated.Status != inv.Status {
			res.Changed++
		}
		if p.remind(ctx, card, updated, today) {
			res.DueSoon++
		}
	}
	return res, nil
}

// remind publishes a due-soon event for a closed, unpaid invoice whose due
// date is at most DueSoonDays away, once per invoice and day.
func (p *CycleProcessor) remind(ctx context.Context, card core.Card, inv core.Invoice, today core.Date) bool {
	if inv.Status != core.InvoiceClosed && inv.Status != core.InvoicePartiallyPaid {
		return false
	}
	if !inv.Remaining().IsPositive() {
		return false
	}
	days := int(inv.DueDate.Sub(today.Time).Hours() / 24)
	if days < 0 || days > p.config.DueSoonDays {
		return false
	}
	if !p.reminded.Add(inv.ID+"/"+today.String(), struct{}{}) {
		return false
	}

	p.engine.publish(ctx, events.Event{
		ID:             p.engine.newID(),
		Type:           events.InvoiceDueSoon,
		CardID:         card.ID,
		CardName:       card.Name,
		InvoiceID:      inv.ID,
		ReferenceMonth: inv.ReferenceMonth.String(),
		Amount:         inv.Remaining(),
		DueDate:        inv.DueDate,
		DaysUntilDue:   days,
		OccurredAt:     p.engine.clock.Now(),
	})
	return true
}
