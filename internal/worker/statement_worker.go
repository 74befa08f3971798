package worker

import (
	"context"
	"fmt"
	"time"

	"fatura/internal/cache"
	"fatura/internal/core"
	"fatura/internal/events"
	"fatura/internal/log"
	"fatura/internal/services"
	"fatura/internal/sheets"
)

// StatementSource is the read side the worker needs from the engine.
type StatementSource interface {
	GetCard(ctx context.Context, id string) (core.Card, error)
	InvoiceStatement(ctx context.Context, invoiceID string) (services.Statement, error)
}

// StatementWorker exports the statement of every invoice that closes to a
// spreadsheet. Redelivered events for an invoice already exported by this
// process are skipped.
type StatementWorker struct {
	source   StatementSource
	writer   sheets.StatementWriter
	exported *cache.LRUCache[string]
	logger   *log.Logger
}

func NewStatementWorker(source StatementSource, writer sheets.StatementWriter, logger *log.Logger) *StatementWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &StatementWorker{
		source:   source,
		writer:   writer,
		exported: cache.NewLRUCache[string](4096, 7*24*time.Hour),
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent processes one event off the queue. Anything but invoice.closed
// is acknowledged and ignored.
func (w *StatementWorker) HandleEvent(ctx context.Context, ev events.Event) error {
	if ev.Type != events.InvoiceClosed {
		w.logger.DebugContext(ctx, "Ignoring event", log.FieldEventType, ev.Type)
		return nil
	}
	if ev.InvoiceID == "" {
		w.logger.WarnContext(ctx, "Closed event without invoice id", "event_id", ev.ID)
		return nil
	}
	if ref, ok := w.exported.Get(ev.InvoiceID); ok {
		w.logger.InfoContext(ctx, "Statement already exported",
			log.FieldInvoiceID, ev.InvoiceID,
			log.FieldSheetsRef, ref)
		return nil
	}

	ref, err := w.Export(ctx, ev.InvoiceID)
	if err != nil {
		return err
	}
	w.exported.Set(ev.InvoiceID, ref)
	return nil
}

// Export writes the current statement of an invoice regardless of status.
func (w *StatementWorker) Export(ctx context.Context, invoiceID string) (string, error) {
	st, err := w.source.InvoiceStatement(ctx, invoiceID)
	if err != nil {
		return "", fmt.Errorf("load statement: %w", err)
	}
	card, err := w.source.GetCard(ctx, st.Invoice.CardID)
	if err != nil {
		return "", fmt.Errorf("load card: %w", err)
	}

	ref, err := w.writer.AppendStatement(ctx, card, st.Invoice, st.Items)
	if err != nil {
		return "", fmt.Errorf("append statement: %w", err)
	}

	w.logger.InfoContext(ctx, "Exported statement",
		log.FieldInvoiceID, invoiceID,
		log.FieldCardID, card.ID,
		log.FieldReferenceMonth, st.Invoice.ReferenceMonth.String(),
		log.FieldSheetsRef, ref,
		"items", len(st.Items))
	return ref, nil
}

// ExportClosed is the startup catch-up: it exports every closed invoice not
// yet seen by this process, covering events missed while the worker was down.
func (w *StatementWorker) ExportClosed(ctx context.Context, invoices []core.Invoice) (int, error) {
	exported := 0
	for _, inv := range invoices {
		if inv.Status != core.InvoiceClosed {
			continue
		}
		if _, ok := w.exported.Get(inv.ID); ok {
			continue
		}
		ref, err := w.Export(ctx, inv.ID)
		if err != nil {
			w.logger.ErrorContext(ctx, "Catch-up export failed",
				log.FieldInvoiceID, inv.ID, log.FieldError, err)
			continue
		}
		w.exported.Set(inv.ID, ref)
		exported++
	}
	return exported, ctx.Err()
}
