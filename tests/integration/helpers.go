package integration

import (
	"encoding/json"
	"fmt"
	"time"

	"brokerops/internal/intake"
	"brokerops/internal/logger"
	"brokerops/internal/store"
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestBatch(id, user, channel string, texts ...string) *intake.MessageBatch {
	now := time.Now()
	msgs := make([]intake.InboundMessage, 0, len(texts))
	for i, text := range texts {
		msgs = append(msgs, intake.InboundMessage{
			ExternalID:   fmt.Sprintf("%s-%d", id, i),
			SourceUserID: user,
			ChannelID:    channel,
			Source:       "slack",
			Text:         text,
			ReceivedAt:   now.Add(time.Duration(i) * time.Second),
		})
	}
	return &intake.MessageBatch{
		ID:              id,
		Key:             intake.QueueKey{SourceUserID: user, ChannelID: channel},
		Messages:        msgs,
		FirstReceivedAt: now,
	}
}

func createTestClassification(idempotencyKey, batchID, messageType string, confidence float64) *store.ClassificationRecord {
	return &store.ClassificationRecord{
		IdempotencyKey: idempotencyKey,
		BatchID:        batchID,
		QueueKey:       "U1:C1",
		Source:         "slack",
		MessageType:    messageType,
		Confidence:     confidence,
		Fields:         json.RawMessage(`{}`),
		RawBatch:       json.RawMessage(`{"messages":[]}`),
	}
}
