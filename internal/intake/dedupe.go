package intake

import (
	"context"
	"time"

	"brokerops/internal/constants"
	"brokerops/internal/logger"
)

// Claimer claims a key exactly once within a TTL. *store.RedisClaimer
// satisfies it.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// EventDeduper screens out transport-level redeliveries (Slack retries
// the webhook with the same event_id on slow responses). This is
// separate from batching: it prevents the same event entering the queue
// twice, while the batch idempotency key prevents duplicate entities.
type EventDeduper struct {
	claimer Claimer
	ttl     time.Duration
	logger  logger.Logger
}

func NewEventDeduper(claimer Claimer, ttl time.Duration, log logger.Logger) *EventDeduper {
	if ttl <= 0 {
		ttl = constants.DefaultEventDedupTTL
	}
	return &EventDeduper{claimer: claimer, ttl: ttl, logger: log}
}

// FirstDelivery reports whether this is the first time the event has
// been seen. On store errors the event is allowed through: the batch
// idempotency key downstream still prevents duplicate entities, so
// letting a duplicate in is safer than dropping a real message.
func (d *EventDeduper) FirstDelivery(ctx context.Context, source, eventID string) bool {
	if eventID == "" {
		return true
	}

	key := constants.CacheKeyPrefixEvent + source + ":" + eventID
	claimed, err := d.claimer.Claim(ctx, key, d.ttl)
	if err != nil {
		d.logger.WarnwCtx(ctx, "Event dedup check failed, allowing event",
			"source", source,
			"event_id", eventID,
			"error", err,
		)
		return true
	}
	return claimed
}
