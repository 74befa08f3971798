// Package backend builds the storage and event delivery backends selected
// by configuration.
package backend

import (
	"context"

	"fatura/internal/events"
	"fatura/internal/storage"
)

// CleanupFunc releases what a backend holds open.
type CleanupFunc func() error

// StoreResult is a ready store plus its cleanup.
type StoreResult struct {
	Store   storage.Store
	Cleanup CleanupFunc
}

// EventsResult carries where events and audit records go. Both are often the
// same client.
type EventsResult struct {
	Publisher events.Publisher
	Audit     events.AuditSink
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateStore(ctx context.Context, config Config) (*StoreResult, error)
	CreateEvents(ctx context.Context, config Config) (*EventsResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type       BackendType
	EventsType EventsType

	SQLiteDBPath string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaAuditTopic string
}

type (
	BackendType string
	EventsType  string
)

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

const (
	LogEvents   EventsType = "log"
	AMQPEvents  EventsType = "amqp"
	KafkaEvents EventsType = "kafka"
)

func (bt BackendType) String() string { return string(bt) }

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

func (et EventsType) String() string { return string(et) }

func (et EventsType) IsValid() bool {
	switch et {
	case LogEvents, AMQPEvents, KafkaEvents:
		return true
	default:
		return false
	}
}
