package intake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"brokerops/internal/logger"
	"brokerops/pkg/logging"
	"brokerops/pkg/metrics"
	"brokerops/pkg/retry"
)

// Handler receives a closed batch exactly once.
type BatchHandler func(ctx context.Context, batch *MessageBatch) error

type Options struct {
	DebounceInterval time.Duration
	MaxWindow        time.Duration
	MaxBatchSize     int
	HandoffRetries   int
}

func DefaultOptions() Options {
	return Options{
		DebounceInterval: 2 * time.Second,
		MaxWindow:        10 * time.Second,
		MaxBatchSize:     10,
		HandoffRetries:   3,
	}
}

// BatchQueue coalesces bursts of messages from the same sender/channel
// into one classification unit. The open-batch index is the only shared
// mutable state; every mutation goes through q.mu, which is what makes
// a timer-driven flush mutually exclusive with a concurrent append for
// the same key.
type BatchQueue struct {
	mu     sync.Mutex
	open   map[QueueKey]*openBatch
	opts   Options
	handle BatchHandler
	logger logger.Logger

	handoffs sync.WaitGroup
	closed   bool
}

type openBatch struct {
	batch   *MessageBatch
	timer   *time.Timer
	capTime time.Time

	// gen distinguishes the live timer from stale ones that fired while
	// an append was rescheduling; only the latest generation may flush.
	gen uint64
}

var ErrQueueClosed = fmt.Errorf("batch queue is closed")

func NewBatchQueue(opts Options, handle BatchHandler, log logger.Logger) *BatchQueue {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = DefaultOptions().DebounceInterval
	}
	if opts.MaxWindow < opts.DebounceInterval {
		opts.MaxWindow = DefaultOptions().MaxWindow
	}
	if opts.MaxBatchSize < 1 {
		opts.MaxBatchSize = DefaultOptions().MaxBatchSize
	}
	if opts.HandoffRetries < 1 {
		opts.HandoffRetries = DefaultOptions().HandoffRetries
	}

	return &BatchQueue{
		open:   make(map[QueueKey]*openBatch),
		opts:   opts,
		handle: handle,
		logger: log,
	}
}

// Enqueue adds a message to the open batch for its key, creating the
// batch if needed. Each arrival resets the debounce timer; the reset is
// capped so a batch never lives past firstReceivedAt + MaxWindow. A
// batch that reaches MaxBatchSize is flushed immediately.
func (q *BatchQueue) Enqueue(msg InboundMessage) error {
	key := KeyFor(msg)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	metrics.InboundMessagesTotal.WithLabelValues(msg.Source).Inc()

	ob, ok := q.open[key]
	if !ok {
		batch := &MessageBatch{
			ID:              uuid.New().String(),
			Key:             key,
			Messages:        []InboundMessage{msg},
			FirstReceivedAt: msg.ReceivedAt,
		}
		ob = &openBatch{
			batch:   batch,
			capTime: msg.ReceivedAt.Add(q.opts.MaxWindow),
		}
		q.open[key] = ob
		metrics.OpenBatches.Set(float64(len(q.open)))

		batchID := batch.ID
		gen := ob.gen
		ob.timer = time.AfterFunc(q.opts.DebounceInterval, func() {
			q.flush(key, batchID, gen, FlushQuiescent)
		})

		q.mu.Unlock()
		q.logger.Debugw("Opened batch",
			"queue_key", key.String(),
			"batch_id", batch.ID,
		)
		return nil
	}

	ob.batch.Messages = append(ob.batch.Messages, msg)

	if len(ob.batch.Messages) >= q.opts.MaxBatchSize {
		ob.timer.Stop()
		batch := q.removeLocked(key)
		q.mu.Unlock()

		q.logger.Infow("Batch hit max size, flushing immediately",
			"queue_key", key.String(),
			"batch_id", batch.ID,
			"size", len(batch.Messages),
		)
		q.dispatch(batch, FlushMaxSize)
		return nil
	}

	// Reset the rolling debounce timer, but never past the window cap.
	delay := q.opts.DebounceInterval
	reason := FlushQuiescent
	if remaining := time.Until(ob.capTime); remaining < delay {
		if remaining < 0 {
			remaining = 0
		}
		delay = remaining
		reason = FlushWindowCap
	}

	ob.timer.Stop()
	ob.gen++
	batchID := ob.batch.ID
	gen := ob.gen
	ob.timer = time.AfterFunc(delay, func() {
		q.flush(key, batchID, gen, reason)
	})

	size := len(ob.batch.Messages)
	q.mu.Unlock()

	q.logger.Debugw("Appended to batch",
		"queue_key", key.String(),
		"batch_id", batchID,
		"size", size,
	)
	return nil
}

// flush closes the batch for key and hands it off, provided the batch
// identified by batchID is still open and the firing timer is the live
// generation. The checks make the hand-off at most once: a stale timer
// that fired while an append was rescheduling, or after a max-size
// flush already removed the batch, is a no-op.
func (q *BatchQueue) flush(key QueueKey, batchID string, gen uint64, reason FlushReason) {
	q.mu.Lock()
	ob, ok := q.open[key]
	if !ok || ob.batch.ID != batchID || ob.gen != gen {
		q.mu.Unlock()
		return
	}
	batch := q.removeLocked(key)
	q.mu.Unlock()

	q.dispatch(batch, reason)
}

// removeLocked detaches the open batch for key. Callers hold q.mu.
func (q *BatchQueue) removeLocked(key QueueKey) *MessageBatch {
	ob := q.open[key]
	delete(q.open, key)
	metrics.OpenBatches.Set(float64(len(q.open)))
	return ob.batch
}

// dispatch hands a closed batch to the handler on its own goroutine,
// retrying with bounded backoff. A batch that still cannot be handed
// off is logged and dropped, never silently swallowed.
func (q *BatchQueue) dispatch(batch *MessageBatch, reason FlushReason) {
	batch.FlushedAt = time.Now()
	batch.Reason = reason

	metrics.BatchFlushesTotal.WithLabelValues(string(reason)).Inc()
	metrics.BatchSize.Observe(float64(len(batch.Messages)))

	q.handoffs.Add(1)
	go func() {
		defer q.handoffs.Done()

		ctx := logging.WithBatchID(context.Background(), batch.ID)
		ctx = logging.WithQueueKey(ctx, batch.Key.String())

		policy := retry.Policy{
			MaxAttempts:     q.opts.HandoffRetries,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		}

		err := retry.RetryWithCallback(ctx, policy, func() error {
			return q.handle(ctx, batch)
		}, func(attempt int, err error, nextDelay time.Duration) {
			metrics.RetryAttemptsTotal.WithLabelValues("intake_handoff").Inc()
			q.logger.WarnwCtx(ctx, "Retrying batch hand-off",
				"attempt", attempt,
				"next_delay", nextDelay,
				"error", err,
			)
		})
		if err != nil {
			metrics.BatchHandoffFailuresTotal.Inc()
			q.logger.ErrorwCtx(ctx, "Dropping batch after failed hand-off",
				"message_count", len(batch.Messages),
				"reason", string(reason),
				"error", err,
			)
		}
	}()
}

// Stats snapshots the open-batch index.
func (q *BatchQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{
		OpenBatches: len(q.open),
		Queues:      make([]QueueStatEntry, 0, len(q.open)),
	}
	for key, ob := range q.open {
		stats.TotalMessages += len(ob.batch.Messages)
		stats.Queues = append(stats.Queues, QueueStatEntry{
			Key:          key.String(),
			MessageCount: len(ob.batch.Messages),
			OldestAt:     ob.batch.FirstReceivedAt,
		})
	}
	return stats
}

// Close stops accepting messages, flushes all open batches with the
// shutdown reason and waits for in-flight hand-offs until ctx expires.
func (q *BatchQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	var remaining []*MessageBatch
	for key, ob := range q.open {
		ob.timer.Stop()
		remaining = append(remaining, ob.batch)
		delete(q.open, key)
	}
	metrics.OpenBatches.Set(0)
	q.mu.Unlock()

	for _, batch := range remaining {
		q.dispatch(batch, FlushShutdown)
	}

	done := make(chan struct{})
	go func() {
		q.handoffs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batch queue close: %w", ctx.Err())
	}
}
