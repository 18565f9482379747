package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"brokerops/internal/config"
	"brokerops/internal/constants"
	"brokerops/internal/intake"
	"brokerops/internal/logger"
	"brokerops/internal/orchestrator"
	"brokerops/pkg/errors"
	"brokerops/pkg/logging"
	"brokerops/pkg/metrics"
	"brokerops/pkg/retry"
	"brokerops/pkg/tracing"
)

// KafkaAlerter publishes operator alerts to the configured alert topic.
type KafkaAlerter struct {
	writer *kafka.Writer
	topic  string
	logger logger.Logger
}

func NewKafkaAlerter(cfg config.KafkaConfig, log logger.Logger) *KafkaAlerter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaAlerter{writer: w, topic: cfg.AlertTopic, logger: log}
}

func (p *KafkaAlerter) Alert(ctx context.Context, alert orchestrator.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	headers := []kafka.Header{}
	headers = tracing.InjectTraceContext(ctx, headers)

	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   p.topic,
			Key:     []byte(alert.BatchID),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write alert: %w", err)
	}

	metrics.OperatorAlertsTotal.WithLabelValues(alert.Reason).Inc()
	p.logger.InfowCtx(ctx, "Operator alert published",
		"topic", p.topic,
		"batch_id", alert.BatchID,
		"reason", alert.Reason,
	)
	return nil
}

func (p *KafkaAlerter) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads inbound messages forwarded over the broker by
// edge gateways that do not speak HTTP to this service directly.
type KafkaConsumer struct {
	cfg    config.KafkaConfig
	wg     sync.WaitGroup
	reader *kafka.Reader
	logger logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{cfg: cfg, logger: log}
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, "intake-service")
		c.logger.InfowCtx(consumeCtx, "Started consuming",
			"topic", topic,
		)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			var msg intake.InboundMessage
			if err := json.Unmarshal(m.Value, &msg); err != nil {
				c.logger.ErrorwCtx(consumeCtx, "Failed to unmarshal inbound message",
					"error", err,
					"topic", topic,
				)
				_ = c.reader.CommitMessages(ctx, m)
				continue
			}

			if msg.ReceivedAt.IsZero() {
				msg.ReceivedAt = m.Time
			}

			msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)

			if err := c.processWithRetry(msgCtx, msg, handler, topic); err != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to process inbound message after retries",
					"error", err,
					"topic", topic,
					"external_id", msg.ExternalID,
				)
			}
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
					"error", err,
					"topic", topic,
				)
			}
			span.End()
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, msg intake.InboundMessage, handler HandlerFunc, topic string) error {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("broker").Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}
