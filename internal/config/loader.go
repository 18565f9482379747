package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envBoundKeys are the config keys operators commonly override per
// environment. Each key binds to its SCREAMING_SNAKE form, so
// `classifier.api_key` reads CLASSIFIER_API_KEY.
var envBoundKeys = []string{
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.dbname",
	"database.postgres.sslmode",
	"database.redis.host",
	"database.redis.port",
	"database.redis.password",
	"database.redis.db",
	"database.mongodb.uri",
	"database.mongodb.database",
	"broker.kafka.brokers",
	"broker.kafka.group_id",
	"broker.kafka.input_topic",
	"broker.kafka.alert_topic",
	"server.port",
	"server.read_timeout_seconds",
	"server.write_timeout_seconds",
	"classifier.api_key",
	"classifier.base_url",
	"classifier.model",
	"slack.bot_token",
	"slack.signing_secret",
	"slack.bypass_verify",
	"logging.level",
	"logging.format",
	"tracing.otlp.endpoint",
	"tracing.otlp.insecure",
	"tracing.enabled",
	"tracing.service_name",
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for _, key := range envBoundKeys {
		viper.BindEnv(key, envName(key))
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides handles the overrides viper's scalar binding cannot:
// the broker list is comma-separated in one variable.
func applyEnvOverrides(cfg *Config) {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}
}
