package broker

import (
	"fmt"

	"brokerops/internal/config"
	"brokerops/internal/logger"
)

// NewAlertProducer builds the operator alert publisher. Returns nil
// when the broker is disabled or no alert topic is configured; callers
// fall back to log-only alerting.
func NewAlertProducer(cfg config.BrokerConfig, log logger.Logger) (AlertProducer, error) {
	if !cfg.Enabled || cfg.Kafka.AlertTopic == "" {
		return nil, nil
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("broker enabled but no kafka brokers configured")
	}
	return NewKafkaAlerter(cfg.Kafka, log), nil
}

// NewInboundConsumer builds the inbound message consumer. Returns nil
// when the broker is disabled or no input topic is configured.
func NewInboundConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if !cfg.Enabled || cfg.Kafka.InputTopic == "" {
		return nil, nil
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("broker enabled but no kafka brokers configured")
	}
	return NewKafkaConsumer(cfg.Kafka, log), nil
}
