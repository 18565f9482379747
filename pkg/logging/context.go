package logging

import (
	"context"
)

const (
	BatchIDKey     = "batch_id"
	QueueKeyKey    = "queue_key"
	ServiceNameKey = "service_name"
)

func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

func WithQueueKey(ctx context.Context, queueKey string) context.Context {
	return context.WithValue(ctx, QueueKeyKey, queueKey)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetBatchID(ctx context.Context) string {
	if batchID, ok := ctx.Value(BatchIDKey).(string); ok {
		return batchID
	}
	return ""
}

func GetQueueKey(ctx context.Context) string {
	if queueKey, ok := ctx.Value(QueueKeyKey).(string); ok {
		return queueKey
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if batchID := GetBatchID(ctx); batchID != "" {
		fields = append(fields, "batch_id", batchID)
	}

	if queueKey := GetQueueKey(ctx); queueKey != "" {
		fields = append(fields, "queue_key", queueKey)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
