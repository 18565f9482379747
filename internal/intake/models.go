package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// InboundMessage is one raw message unit as delivered by a transport
// adapter. Immutable once received.
type InboundMessage struct {
	ExternalID   string    `json:"external_id"`
	SourceUserID string    `json:"source_user_id"`
	ChannelID    string    `json:"channel_id"`
	Source       string    `json:"source"`
	Text         string    `json:"text"`
	ThreadRef    string    `json:"thread_ref,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// QueueKey identifies one logical batching queue. Messages from the same
// sender in the same channel coalesce into one batch.
type QueueKey struct {
	SourceUserID string
	ChannelID    string
}

func (k QueueKey) String() string {
	return fmt.Sprintf("%s:%s", k.SourceUserID, k.ChannelID)
}

func KeyFor(msg InboundMessage) QueueKey {
	return QueueKey{SourceUserID: msg.SourceUserID, ChannelID: msg.ChannelID}
}

// FlushReason records why a batch left the queue.
type FlushReason string

const (
	FlushQuiescent FlushReason = "quiescent"
	FlushWindowCap FlushReason = "window_cap"
	FlushMaxSize   FlushReason = "max_size"
	FlushShutdown  FlushReason = "shutdown"
)

// MessageBatch is an ordered group of messages sharing one queue key,
// accumulated within a single debounce window. Message order is arrival
// order and is never changed after the batch closes.
type MessageBatch struct {
	ID              string           `json:"id"`
	Key             QueueKey         `json:"-"`
	Messages        []InboundMessage `json:"messages"`
	FirstReceivedAt time.Time        `json:"first_received_at"`
	FlushedAt       time.Time        `json:"flushed_at"`
	Reason          FlushReason      `json:"reason"`
}

// IdempotencyKey derives a deterministic key from the sorted set of
// external message IDs, so re-processing the same batch after a crash
// maps to the same stored records.
func (b *MessageBatch) IdempotencyKey() string {
	ids := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		ids = append(ids, m.Source+"/"+m.ExternalID)
	}
	sort.Strings(ids)

	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

// ThreadRef returns the thread reference of the first threaded message,
// or empty if none of the messages belong to a thread.
func (b *MessageBatch) ThreadRef() string {
	for _, m := range b.Messages {
		if m.ThreadRef != "" {
			return m.ThreadRef
		}
	}
	return ""
}

// Source returns the transport the batch arrived on. Batches never mix
// sources because the external ID namespace is per source and the queue
// key includes the source user ID.
func (b *MessageBatch) Source() string {
	if len(b.Messages) == 0 {
		return ""
	}
	return b.Messages[0].Source
}

// QueueStats is a point-in-time snapshot of the open-batch index.
type QueueStats struct {
	OpenBatches   int              `json:"open_batches"`
	TotalMessages int              `json:"total_messages"`
	Queues        []QueueStatEntry `json:"queues"`
}

type QueueStatEntry struct {
	Key          string    `json:"key"`
	MessageCount int       `json:"message_count"`
	OldestAt     time.Time `json:"oldest_at"`
}
