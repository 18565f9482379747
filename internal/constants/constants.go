package constants

import "time"

const (
	DefaultAckMaxRetries     = 3
	DefaultAckInitialBackoff = 500 * time.Millisecond
	DefaultAckSentTTL        = 24 * time.Hour
)

const (
	CacheKeyPrefixEvent = "event:"
	CacheKeyPrefixAck   = "ack:"
)

const (
	DefaultEventDedupTTL = time.Hour
)

const (
	SourceSlack = "slack"
	SourceSMS   = "sms"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	SlackRequestMaxSkew = 5 * time.Minute
)

// BotSenderRule is the built-in sender filter: Slack bot user IDs start
// with "B".
const BotSenderRule = `sender_id.startsWith("B")`
