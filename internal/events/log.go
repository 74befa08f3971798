package events

import (
	"context"
	"log/slog"
	"sync"
)

// LogPublisher writes events and audit records to the structured log. It is
// the default when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.InfoContext(ctx, "Domain event",
		"type", e.Type,
		"card_id", e.CardID,
		"invoice_id", e.InvoiceID,
		"reference_month", e.ReferenceMonth,
		"amount", e.Amount.StringFixed(2))
	return nil
}

func (p *LogPublisher) Record(ctx context.Context, r AuditRecord) error {
	p.logger.InfoContext(ctx, "Audit",
		"action", r.Action,
		"entity", r.Entity,
		"entity_id", r.EntityID)
	return nil
}

// Recorder keeps everything in memory. Tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	audits []AuditRecord
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Record(_ context.Context, a AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, a)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Audits() []AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditRecord(nil), r.audits...)
}

// EventsOfType filters recorded events.
func (r *Recorder) EventsOfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.audits = nil
}
