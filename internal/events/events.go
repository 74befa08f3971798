// Package events defines the domain events and audit records the engine emits
// after a unit of work commits, and the ports they are delivered through.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fatura/internal/core"
)

const (
	InvoiceClosed       Type = "invoice.closed"
	InvoiceDueSoon      Type = "invoice.due_soon"
	InvoiceOverdue      Type = "invoice.overdue"
	InvoicePaid         Type = "invoice.paid"
	InstallmentsCreated Type = "installments.created"
)

// AuditRoutingKey is the routing key / message key audit records travel under.
const AuditRoutingKey = "audit"

type Type string

// Event is a notification-worthy state change. Delivery is somebody else's job.
type Event struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	CardID         string          `json:"card_id"`
	CardName       string          `json:"card_name,omitempty"`
	InvoiceID      string          `json:"invoice_id,omitempty"`
	ReferenceMonth string          `json:"reference_month,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        core.Date       `json:"due_date,omitempty"`
	DaysUntilDue   int             `json:"days_until_due,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if e.Type == "" {
		return Event{}, errors.New("event without type")
	}
	return e, nil
}

// AuditRecord captures one mutating call: what was done to which entity,
// with its state before and after.
type AuditRecord struct {
	Action   string    `json:"action"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	Before   any       `json:"before,omitempty"`
	After    any       `json:"after,omitempty"`
	At       time.Time `json:"at"`
}

func (r AuditRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// Ports for outbound delivery.
type (
	Publisher interface {
		Publish(ctx context.Context, e Event) error
	}

	AuditSink interface {
		Record(ctx context.Context, r AuditRecord) error
	}
)
