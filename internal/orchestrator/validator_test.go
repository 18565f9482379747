package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerops/internal/intake"
)

func filterBatch(senders ...string) *intake.MessageBatch {
	msgs := make([]intake.InboundMessage, 0, len(senders))
	for _, sender := range senders {
		msgs = append(msgs, intake.InboundMessage{
			SourceUserID: sender,
			ChannelID:    "C1",
			Source:       "slack",
			Text:         "hello",
			ReceivedAt:   time.Now(),
		})
	}
	return &intake.MessageBatch{ID: "batch-1", Messages: msgs}
}

func TestNewValidatorRejectsBadRule(t *testing.T) {
	_, err := NewValidator([]string{`sender_id.startsWith(`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter rule")
}

func TestShouldSkipBotSenders(t *testing.T) {
	v, err := NewValidator([]string{`sender_id.startsWith("B")`})
	require.NoError(t, err)

	assert.True(t, v.ShouldSkip(context.Background(), filterBatch("B042", "B077")))
	assert.False(t, v.ShouldSkip(context.Background(), filterBatch("U1")))
}

func TestShouldSkipRequiresEveryMessageFiltered(t *testing.T) {
	v, err := NewValidator([]string{`sender_id.startsWith("B")`})
	require.NoError(t, err)

	// One human message keeps the whole batch.
	assert.False(t, v.ShouldSkip(context.Background(), filterBatch("B042", "U1")))
}

func TestShouldSkipMatchesAnyRule(t *testing.T) {
	v, err := NewValidator([]string{
		`sender_id.startsWith("B")`,
		`channel_id == "C-system"`,
	})
	require.NoError(t, err)

	batch := filterBatch("U1")
	batch.Messages[0].ChannelID = "C-system"
	assert.True(t, v.ShouldSkip(context.Background(), batch))
}

func TestShouldSkipWithNoRulesOrMessages(t *testing.T) {
	v, err := NewValidator(nil)
	require.NoError(t, err)
	assert.False(t, v.ShouldSkip(context.Background(), filterBatch("B042")))

	v, err = NewValidator([]string{`sender_id.startsWith("B")`})
	require.NoError(t, err)
	assert.False(t, v.ShouldSkip(context.Background(), &intake.MessageBatch{}))
}
