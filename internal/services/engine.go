package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fatura/internal/billing"
	"fatura/internal/core"
	"fatura/internal/events"
	"fatura/internal/log"
	"fatura/internal/storage"
)

// Engine is the installment and invoice core. Every mutating method runs as
// one storage transaction while holding the locks of every invoice it may
// touch; audit records and events go out only after commit.
type Engine struct {
	store     storage.Store
	cards     CardReader
	clock     core.Clock
	locks     *InvoiceLocker
	publisher events.Publisher
	audit     events.AuditSink
	logger    *log.Logger
	newID     func() string
}

type Option func(*Engine)

func WithClock(c core.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithCardReader(r CardReader) Option {
	return func(e *Engine) { e.cards = r }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithAuditSink(a events.AuditSink) Option {
	return func(e *Engine) { e.audit = a }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		clock: core.SystemClock{},
		locks: NewInvoiceLocker(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cards == nil {
		e.cards = NewStoreCardReader(store)
	}
	if e.logger == nil {
		e.logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentEngine)
	}
	if e.publisher == nil || e.audit == nil {
		lp := events.NewLogPublisher(e.logger.WithComponent(log.ComponentEvents).Slog())
		if e.publisher == nil {
			e.publisher = lp
		}
		if e.audit == nil {
			e.audit = lp
		}
	}
	return e
}

// Clock returns the engine's time source.
func (e *Engine) Clock() core.Clock { return e.clock }

func (e *Engine) today() core.Date { return core.Today(e.clock) }

// card loads a card together with its cycle resolver.
func (e *Engine) card(ctx context.Context, id string) (core.Card, *billing.Resolver, error) {
	c, err := e.cards.GetCard(ctx, id)
	if err != nil {
		return core.Card{}, nil, err
	}
	res, err := billing.NewResolver(c)
	if err != nil {
		return core.Card{}, nil, core.NewInvariantViolation("card %s has an invalid cycle: %v", c.ID, err)
	}
	return c, res, nil
}

// targetKeys are the lock keys of the invoices adjustments may land on:
// the current cycle and the two after it.
func targetKeys(card core.Card, res *billing.Resolver, today core.Date) []string {
	keys := make([]string, 0, maxTargetOffset+1)
	for k := 0; k <= maxTargetOffset; k++ {
		keys = append(keys, InvoiceKey(card.ID, res.Resolve(today, k).ReferenceMonth))
	}
	return keys
}

// run executes fn in a transaction holding the given invoice locks.
func (e *Engine) run(ctx context.Context, op string, keys []string, fn func(u *unit) error) error {
	unlock := e.locks.Lock(keys...)
	defer unlock()

	start := time.Now()
	var u *unit
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		u = newUnit(ctx, e, tx, keys)
		if err := fn(u); err != nil {
			return err
		}
		u.auditInvoices()
		return nil
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Operation rolled back",
			log.FieldOperation, op,
			log.FieldError, err.Error(),
			log.FieldErrorType, errorType(err))
		return err
	}

	e.logger.DebugContext(ctx, "Operation committed",
		log.FieldOperation, op,
		log.FieldInvoices, len(u.touched),
		log.FieldDuration, time.Since(start).Milliseconds())
	e.emit(ctx, u)
	return nil
}

// emit delivers what a committed unit produced. Delivery failures are logged
// and never undo the committed work.
func (e *Engine) emit(ctx context.Context, u *unit) {
	for _, r := range u.audits {
		if err := e.audit.Record(ctx, r); err != nil {
			e.logger.ErrorContext(ctx, "Failed to record audit entry",
				"action", r.Action, "entity_id", r.EntityID, log.FieldError, err)
		}
	}
	for _, ev := range u.events {
		e.publish(ctx, ev)
	}
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			log.FieldEventType, ev.Type, log.FieldInvoiceID, ev.InvoiceID, log.FieldError, err)
	}
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrValidation):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict):
		return log.ErrorTypeConflict
	case errors.Is(err, core.ErrInvariant):
		return log.ErrorTypeInvariant
	default:
		return log.ErrorTypeDatabase
	}
}

// view runs a read-only query against committed state.
func (e *Engine) view(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := e.store.View(ctx, fn); err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	return nil
}
