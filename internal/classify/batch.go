package classify

import (
	"fmt"
	"strings"

	"brokerops/internal/intake"
)

// CombineMessages builds the single classifier input for a batch. A lone
// message passes through unchanged; multiple messages are enumerated with
// their receive timestamps so the model sees the temporal context.
func CombineMessages(batch *intake.MessageBatch) string {
	if len(batch.Messages) == 0 {
		return ""
	}
	if len(batch.Messages) == 1 {
		return batch.Messages[0].Text
	}

	var b strings.Builder
	b.WriteString("User sent the following messages in quick succession. ")
	b.WriteString("Classify these as a single unit (they are related):\n\n")
	for i, msg := range batch.Messages {
		fmt.Fprintf(&b, "Message %d [%s]: %s\n", i+1, msg.ReceivedAt.UTC().Format("2006-01-02T15:04:05Z"), msg.Text)
	}
	return b.String()
}

// ContextFor derives the classifier context from a closed batch.
func ContextFor(batch *intake.MessageBatch) BatchContext {
	ctx := BatchContext{
		BatchID:      batch.ID,
		Source:       batch.Source(),
		ChannelID:    batch.Key.ChannelID,
		SourceUserID: batch.Key.SourceUserID,
		MessageCount: len(batch.Messages),
	}
	if len(batch.Messages) > 0 {
		ctx.FirstAt = batch.Messages[0].ReceivedAt
		ctx.LastAt = batch.Messages[len(batch.Messages)-1].ReceivedAt
	}
	return ctx
}
