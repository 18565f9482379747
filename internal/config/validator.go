package config

import (
	"fmt"

	"brokerops/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func applyDefaults(cfg *Config) {
	if cfg.Intake.DebounceIntervalMs == 0 {
		cfg.Intake.DebounceIntervalMs = 2000
	}
	if cfg.Intake.MaxWindowMs == 0 {
		cfg.Intake.MaxWindowMs = 10000
	}
	if cfg.Intake.MaxBatchSize == 0 {
		cfg.Intake.MaxBatchSize = 10
	}
	if cfg.Intake.HandoffRetries == 0 {
		cfg.Intake.HandoffRetries = 3
	}
	if cfg.Intake.DedupTTLSeconds == 0 {
		cfg.Intake.DedupTTLSeconds = 3600
	}
	if cfg.Classifier.TimeoutMs == 0 {
		cfg.Classifier.TimeoutMs = 10000
	}
	if cfg.Classifier.ConfidenceThreshold == 0 {
		cfg.Classifier.ConfidenceThreshold = 0.5
	}
	if cfg.Pipeline.MaxConcurrentBatches == 0 {
		cfg.Pipeline.MaxConcurrentBatches = 4
	}
	if cfg.Ack.MaxRetries == 0 {
		cfg.Ack.MaxRetries = 3
	}
	if cfg.Ack.InitialBackoffMs == 0 {
		cfg.Ack.InitialBackoffMs = 500
	}
	if cfg.Ack.SentTTLSeconds == 0 {
		cfg.Ack.SentTTLSeconds = 86400
	}
	if cfg.Database.Postgres.MaxOpenConns == 0 {
		cfg.Database.Postgres.MaxOpenConns = 25
	}
	if cfg.Database.Postgres.MaxIdleConns == 0 {
		cfg.Database.Postgres.MaxIdleConns = 5
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "migrations"
	}
	if len(cfg.Intake.FilterRules) == 0 {
		cfg.Intake.FilterRules = []string{constants.BotSenderRule}
	}
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateIntake(cfg.Intake); err != nil {
		errors = append(errors, err)
	}

	if err := validateClassifier(cfg.Classifier); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if cfg.Broker.Enabled {
		if err := validateBroker(cfg.Broker); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateIntake(cfg IntakeConfig) error {
	if cfg.DebounceIntervalMs <= 0 {
		return &ValidationError{
			Field:   "intake.debounce_interval_ms",
			Message: "debounce interval must be positive",
		}
	}

	if cfg.MaxWindowMs < cfg.DebounceIntervalMs {
		return &ValidationError{
			Field:   "intake.max_window_ms",
			Message: fmt.Sprintf("max window (%dms) must not be shorter than the debounce interval (%dms)", cfg.MaxWindowMs, cfg.DebounceIntervalMs),
		}
	}

	if cfg.MaxBatchSize < 1 {
		return &ValidationError{
			Field:   "intake.max_batch_size",
			Message: "max batch size must be at least 1",
		}
	}

	return nil
}

func validateClassifier(cfg ClassifierConfig) error {
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return &ValidationError{
			Field:   "classifier.confidence_threshold",
			Message: fmt.Sprintf("confidence threshold must be in [0,1], got %g", cfg.ConfidenceThreshold),
		}
	}

	if cfg.TimeoutMs <= 0 {
		return &ValidationError{
			Field:   "classifier.timeout_ms",
			Message: "classifier timeout must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "postgres host is required",
		}
	}

	if cfg.Redis.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "redis host is required",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one kafka broker is required when the broker is enabled",
		}
	}

	if cfg.Kafka.InputTopic == "" && cfg.Kafka.AlertTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka",
			Message: "an input topic or alert topic is required when the broker is enabled",
		}
	}

	return nil
}
