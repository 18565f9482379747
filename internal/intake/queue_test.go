package intake

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerops/internal/logger"
)

type batchCollector struct {
	mu      sync.Mutex
	batches []*MessageBatch
	fail    int // fail the first N hand-off attempts
	calls   int
}

func (c *batchCollector) handle(_ context.Context, batch *MessageBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.fail {
		return fmt.Errorf("handler unavailable")
	}
	c.batches = append(c.batches, batch)
	return nil
}

func (c *batchCollector) collected() []*MessageBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*MessageBatch, len(c.batches))
	copy(out, c.batches)
	return out
}

func (c *batchCollector) waitFor(t *testing.T, n int, within time.Duration) []*MessageBatch {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if got := c.collected(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := c.collected()
	require.Len(t, got, n, "expected %d flushed batches", n)
	return got
}

func testMessage(user, channel, text string) InboundMessage {
	return InboundMessage{
		ExternalID:   fmt.Sprintf("%s-%s-%s", user, channel, text),
		SourceUserID: user,
		ChannelID:    channel,
		Source:       "slack",
		Text:         text,
		ReceivedAt:   time.Now(),
	}
}

func TestBatchQueueCoalescesRapidMessages(t *testing.T) {
	collector := &batchCollector{}
	q := NewBatchQueue(Options{
		DebounceInterval: 40 * time.Millisecond,
		MaxWindow:        400 * time.Millisecond,
		MaxBatchSize:     10,
		HandoffRetries:   1,
	}, collector.handle, logger.NopLogger())
	defer q.Close(context.Background())

	require.NoError(t, q.Enqueue(testMessage("U1", "C1", "first")))
	require.NoError(t, q.Enqueue(testMessage("U1", "C1", "second")))
	require.NoError(t, q.Enqueue(testMessage("U1", "C1", "third")))

	batches := collector.waitFor(t, 1, time.Second)
	require.Len(t, batches, 1)

	batch := batches[0]
	assert.Equal(t, FlushQuiescent, batch.Reason)
	require.Len(t, batch.Messages, 3)
	assert.Equal(t, "first", batch.Messages[0].Text)
	assert.Equal(t, "second", batch.Messages[1].Text)
	assert.Equal(t, "third", batch.Messages[2].Text)
}

func TestBatchQueueDebounceExtendsOnEachArrival(t *testing.T) {
	collector := &batchCollector{}
	q := NewBatchQueue(Options{
		DebounceInterval: 60 * time.Millisecond,
		MaxWindow:        2 * time.Second,
		MaxBatchSize:     10,
		HandoffRetries:   1,
	}, collector.handle, logger.NopLogger())
	defer q.Close(context.Background())

	// Keep arrivals inside the debounce interval; nothing should flush
	// until the sender goes quiet.
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(testMessage("U1", "C1", fmt.Sprintf("m%d", i))))
		time.Sleep(25 * time.Millisecond)
	}
	assert.Empty(t, collector.collected(), "batch flushed while sender was still active")

	batches := collector.waitFor(t, 1, time.Second)
	require.Len(t, batches[0].Messages, 4)
}

func TestBatchQueueWindowCapBoundsSteadyStream(t *testing.T) {
	collector := &batchCollector{}
	q := NewBatchQueue(Options{
		DebounceInterval: 50 * time.Millisecond,
		MaxWindow:        150 * time.Millisecond,
		MaxBatchSize:     100,
		HandoffRetries:   1,
	}, collector.handle, logger.NopLogger())
	defer q.Close(context.Background())

	// A stream that never goes quiet must still flush at the window cap.
	stop := time.Now().Add(300 * time.Millisecond)
	for i := 0; time.Now().Before(stop); i++ {
		_ = q.Enqueue(testMessage("U1", "C1", fmt.Sprintf("m%d", i)))
		time.Sleep(20 * time.Millisecond)
	}

	batches := collector.waitFor(t, 1, time.Second)
	assert.Equal(t, FlushWindowCap, batches[0].Reason)

	elapsed := batches[0].FlushedAt.Sub(batches[0].FirstReceivedAt)
	assert.LessOrEqual(t, elapsed, 300*time.Millisecond,
		"batch lived well past the window cap")
}

func TestBatchQueueIsolatesKeys(t *testing.T) {
	collector := &batchCollector{}
	q := NewBatchQueue(Options{
		DebounceInterval: 40 * time.Millisecond,
		MaxWindow:        400 * time.Millisecond,
		MaxBatchSize:     10,
		HandoffRetries:   1,
	}, collector.handle, logger.NopLogger())
	defer q.Close(context.Background())

	require.NoError(t, q.Enqueue(testMessage("U1", "C1", "from alice")))
	require.NoError(t, q.Enqueue(testMessage("U2", "C1", "from bob")))
	require.NoError(t, q.Enqueue(testMessage("U1", "C2", "alice elsewhere")))

	batches := collector.waitFor(t, 3, time.Second)

	byKey := map[string]int{}
	for _, b := range batches {
		byKey[b.Key.String()] = len(b.Messages)
	}
	assert.Equal(t, map[string]int{
		"U1:C1": 1,
		"U2:C1": 1,
		"U1:C2": 1,
	}, byKey)
}

func TestBatchQueueFlushesAtMaxSize(t *testing.T) {
	collector := &batchCollector{}
	q := NewBatchQueue(Options{
		DebounceInterval: time.Second,
		MaxWindow:        10 * time.Second,
		MaxBatchSize:     3,
		HandoffRetries:   1,
	}, collector.handle, logger.NopLogger())
	defer q.Close(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(testMessage("U1", "C1", fmt.Sprintf("m%d", i))))
	}

	// The debounce timer is a full second out; the flush must come from
	// the size limit.
	batches := collector.waitFor(t, 1, 500*time.Millisecond)
	assert.Equal(t, FlushMaxSize, batches[0].Reason)
	assert.Len(t, batches[0].Messages, 3)
}

func TestBatchQueueHandsOffEachBatchOnce(t *testing.T) {
	collector := &batchCollector{}
	q := NewBatchQueue(Options{
		DebounceInterval: 20 * time.Millisecond,
		MaxWindow:        200 * time.Millisecond,
		MaxBatchSize:     5,
		HandoffRetries:   1,
	}, collector.handle, logger.NopLogger())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = q.Enqueue(testMessage(fmt.Sprintf("U%d", w), "C1", fmt.Sprintf("m%d", i)))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, q.Close(context.Background()))

	seen := map[string]bool{}
	total := 0
	for _, b := range collector.collected() {
		assert.False(t, seen[b.ID], "batch %s handed off twice", b.ID)
		seen[b.ID] = true
		total += len(b.Messages)
	}
	assert.Equal(t, 100, total, "messages lost or duplicated across batches")
}

func TestBatchQueueCloseFlushesAndRejects(t *testing.T) {
	collector := &batchCollector{}
	q := NewBatchQueue(Options{
		DebounceInterval: time.Second,
		MaxWindow:        10 * time.Second,
		MaxBatchSize:     10,
		HandoffRetries:   1,
	}, collector.handle, logger.NopLogger())

	require.NoError(t, q.Enqueue(testMessage("U1", "C1", "pending")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))

	batches := collector.collected()
	require.Len(t, batches, 1)
	assert.Equal(t, FlushShutdown, batches[0].Reason)

	err := q.Enqueue(testMessage("U1", "C1", "too late"))
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Close is idempotent.
	require.NoError(t, q.Close(ctx))
}

func TestBatchQueueRetriesFailedHandoff(t *testing.T) {
	collector := &batchCollector{fail: 2}
	q := NewBatchQueue(Options{
		DebounceInterval: 20 * time.Millisecond,
		MaxWindow:        200 * time.Millisecond,
		MaxBatchSize:     10,
		HandoffRetries:   3,
	}, collector.handle, logger.NopLogger())

	require.NoError(t, q.Enqueue(testMessage("U1", "C1", "eventually delivered")))

	batches := collector.waitFor(t, 1, 3*time.Second)
	require.Len(t, batches[0].Messages, 1)

	require.NoError(t, q.Close(context.Background()))
}

func TestBatchQueueDropsAfterExhaustedRetries(t *testing.T) {
	collector := &batchCollector{fail: 100}
	q := NewBatchQueue(Options{
		DebounceInterval: 20 * time.Millisecond,
		MaxWindow:        200 * time.Millisecond,
		MaxBatchSize:     10,
		HandoffRetries:   2,
	}, collector.handle, logger.NopLogger())

	require.NoError(t, q.Enqueue(testMessage("U1", "C1", "doomed")))
	require.NoError(t, q.Close(context.Background()))

	assert.Empty(t, collector.collected())
	collector.mu.Lock()
	defer collector.mu.Unlock()
	assert.Equal(t, 2, collector.calls, "hand-off should stop after the retry budget")
}

func TestIdempotencyKeyIgnoresMessageOrder(t *testing.T) {
	a := testMessage("U1", "C1", "a")
	b := testMessage("U1", "C1", "b")

	forward := &MessageBatch{Messages: []InboundMessage{a, b}}
	reverse := &MessageBatch{Messages: []InboundMessage{b, a}}
	other := &MessageBatch{Messages: []InboundMessage{a}}

	assert.Equal(t, forward.IdempotencyKey(), reverse.IdempotencyKey())
	assert.NotEqual(t, forward.IdempotencyKey(), other.IdempotencyKey())
}
