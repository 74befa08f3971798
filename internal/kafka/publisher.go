// Package kafka delivers domain events and audit records to Kafka topics.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"fatura/internal/events"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events keyed by invoice (or card when no invoice is
// involved) so one invoice's events stay ordered within a partition.
type Publisher struct {
	writer     messageWriter
	topic      string
	auditTopic string
}

var (
	_ events.Publisher = (*Publisher)(nil)
	_ events.AuditSink = (*Publisher)(nil)
)

func NewPublisher(brokers []string, topic, auditTopic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic:      topic,
		auditTopic: auditTopic,
	}
}

func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	data, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := e.InvoiceID
	if key == "" {
		key = e.CardID
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: data,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
			{Key: "id", Value: []byte(e.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", e.Type, p.topic, err)
	}
	return nil
}

func (p *Publisher) Record(ctx context.Context, r events.AuditRecord) error {
	data, err := r.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	msg := kafka.Message{
		Topic: p.auditTopic,
		Key:   []byte(r.Entity + "/" + r.EntityID),
		Value: data,
		Time:  r.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(events.AuditRoutingKey)},
			{Key: "action", Value: []byte(r.Action)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write audit to %s: %w", p.auditTopic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
