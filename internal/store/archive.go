package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"brokerops/internal/intake"
)

// Archiver records closed batches verbatim before classification, for
// audit and replay. Archival is best-effort: a write failure never
// blocks the pipeline.
type Archiver interface {
	ArchiveBatch(ctx context.Context, batch *intake.MessageBatch) error
}

type MongoArchiver struct {
	collection *mongo.Collection
}

func NewMongoArchiver(db *mongo.Database) *MongoArchiver {
	return &MongoArchiver{
		collection: db.Collection("raw_batches"),
	}
}

type archivedBatch struct {
	BatchID        string                  `bson:"batch_id"`
	IdempotencyKey string                  `bson:"idempotency_key"`
	QueueKey       string                  `bson:"queue_key"`
	Source         string                  `bson:"source"`
	Reason         string                  `bson:"reason"`
	Messages       []intake.InboundMessage `bson:"messages"`
	FlushedAt      time.Time               `bson:"flushed_at"`
	ArchivedAt     time.Time               `bson:"archived_at"`
}

func (a *MongoArchiver) ArchiveBatch(ctx context.Context, batch *intake.MessageBatch) error {
	doc := archivedBatch{
		BatchID:        batch.ID,
		IdempotencyKey: batch.IdempotencyKey(),
		QueueKey:       batch.Key.String(),
		Source:         batch.Source(),
		Reason:         string(batch.Reason),
		Messages:       batch.Messages,
		FlushedAt:      batch.FlushedAt,
		ArchivedAt:     time.Now(),
	}

	filter := bson.M{"batch_id": batch.ID}
	update := bson.M{"$setOnInsert": doc}
	opts := options.Update().SetUpsert(true)

	if _, err := a.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to archive batch: %w", err)
	}
	return nil
}

// NopArchiver is used when no archive database is configured.
type NopArchiver struct{}

func (NopArchiver) ArchiveBatch(context.Context, *intake.MessageBatch) error { return nil }
