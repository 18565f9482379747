package store

import (
	"encoding/json"
	"time"
)

// ClassificationRecord is the audit row persisted for every classified
// batch: the structured result alongside the raw batch content, keyed
// by the batch idempotency key so crash-and-retry never duplicates it.
type ClassificationRecord struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	BatchID        string          `json:"batch_id"`
	QueueKey       string          `json:"queue_key"`
	Source         string          `json:"source"`
	MessageType    string          `json:"message_type"`
	Confidence     float64         `json:"confidence"`
	Fields         json.RawMessage `json:"fields"`
	RawBatch       json.RawMessage `json:"raw_batch"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Listing struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Address        string    `json:"address"`
	ListingType    string    `json:"listing_type"`
	AssigneeHint   string    `json:"assignee_hint,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type Activity struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"idempotency_key"`
	Title          string     `json:"title"`
	Category       string     `json:"category,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	AssigneeHint   string     `json:"assignee_hint,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

const (
	EntityKindListing = "listing"
	EntityKindTask    = "task"
)

// BatchRun is the orchestrator checkpoint for one batch. It records the
// last completed stage plus enough state to resume from the failed
// stage without re-running earlier ones.
type BatchRun struct {
	BatchID        string          `json:"batch_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Stage          string          `json:"stage"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	RawBatch       json.RawMessage `json:"raw_batch"`
	Classification json.RawMessage `json:"classification,omitempty"`
	EntityKind     string          `json:"entity_kind,omitempty"`
	EntityID       string          `json:"entity_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
