package broker

import (
	"context"

	"brokerops/internal/intake"
	"brokerops/internal/orchestrator"
)

// AlertProducer publishes operator alerts for failed or escalated
// batches.
type AlertProducer interface {
	Alert(ctx context.Context, alert orchestrator.Alert) error
	Close() error
}

// Consumer pulls inbound messages forwarded by edge gateways and feeds
// them to a handler, typically the batching queue.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, msg intake.InboundMessage) error
