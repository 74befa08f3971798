package backend

import (
	"context"
	"fmt"

	"fatura/internal/amqp"
	"fatura/internal/events"
	"fatura/internal/kafka"
	"fatura/internal/log"
	"fatura/internal/storage"
	"fatura/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

func (f *DefaultFactory) CreateStore(ctx context.Context, config Config) (*StoreResult, error) {
	switch config.Type {
	case SQLiteBackend:
		store, err := storage.NewSQLiteStore(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return &StoreResult{Store: store, Cleanup: store.Close}, nil
	case MemoryBackend:
		store := memory.New()
		f.logger.InfoContext(ctx, "Initialized memory backend")
		return &StoreResult{Store: store, Cleanup: store.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) CreateEvents(ctx context.Context, config Config) (*EventsResult, error) {
	switch config.EventsType {
	case AMQPEvents:
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized AMQP events",
			"exchange", config.AMQPExchange,
			"queue", config.AMQPQueue)
		return &EventsResult{Publisher: client, Audit: client, Cleanup: client.Close}, nil
	case KafkaEvents:
		p := kafka.NewPublisher(config.KafkaBrokers, config.KafkaTopic, config.KafkaAuditTopic)
		f.logger.InfoContext(ctx, "Initialized Kafka events",
			"brokers", config.KafkaBrokers,
			"topic", config.KafkaTopic,
			"audit_topic", config.KafkaAuditTopic)
		return &EventsResult{Publisher: p, Audit: p, Cleanup: p.Close}, nil
	case LogEvents, "":
		p := events.NewLogPublisher(f.logger.WithComponent(log.ComponentEvents).Slog())
		return &EventsResult{Publisher: p, Audit: p}, nil
	default:
		return nil, fmt.Errorf("unsupported events type: %s", config.EventsType)
	}
}
