package amqp

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"fatura/internal/events"
)

// newPublishing wraps a JSON body as a persistent message.
func newPublishing(id, msgType string, body []byte, at time.Time) amqp091.Publishing {
	if at.IsZero() {
		at = time.Now()
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    id,
		Type:         msgType,
		Timestamp:    at,
		Body:         body,
	}
}

func eventFromDelivery(d amqp091.Delivery) (events.Event, error) {
	if d.ContentType != "" && d.ContentType != "application/json" {
		return events.Event{}, fmt.Errorf("unexpected content type %q", d.ContentType)
	}
	ev, err := events.EventFromJSON(d.Body)
	if err != nil {
		return events.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if d.Type != "" && d.Type != string(ev.Type) {
		return events.Event{}, fmt.Errorf("message type %q does not match event type %q", d.Type, ev.Type)
	}
	return ev, nil
}
