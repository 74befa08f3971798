package backend

import (
	"errors"
	"fmt"

	"fatura/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}
	c := Config{
		Type:            BackendType(appConfig.DataBackend),
		EventsType:      EventsType(appConfig.EventsBackend),
		SQLiteDBPath:    appConfig.SQLiteDBPath,
		AMQPURL:         appConfig.AMQPURL,
		AMQPExchange:    appConfig.AMQPExchange,
		AMQPQueue:       appConfig.AMQPQueue,
		KafkaBrokers:    appConfig.KafkaBrokers,
		KafkaTopic:      appConfig.KafkaTopic,
		KafkaAuditTopic: appConfig.KafkaAuditTopic,
	}
	if c.EventsType == "" {
		c.EventsType = LogEvents
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return errors.New("SQLite database path is required for sqlite backend")
	}

	if !c.EventsType.IsValid() {
		return fmt.Errorf("invalid events type: %s", c.EventsType)
	}
	switch c.EventsType {
	case AMQPEvents:
		if c.AMQPURL == "" || c.AMQPExchange == "" || c.AMQPQueue == "" {
			return errors.New("AMQP URL, exchange and queue are required for amqp events")
		}
	case KafkaEvents:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("at least one Kafka broker is required for kafka events")
		}
		if c.KafkaTopic == "" || c.KafkaAuditTopic == "" {
			return errors.New("Kafka event and audit topics are required for kafka events")
		}
	}
	return nil
}
