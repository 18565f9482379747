package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "brokerops/pkg/errors"
)

// Repository is the persistence contract consumed by the orchestrator
// and the entity service. Every write that can race a retry takes a
// caller-supplied idempotency key.
type Repository interface {
	StoreClassification(ctx context.Context, rec *ClassificationRecord) (string, error)

	CreateListing(ctx context.Context, listing *Listing) error
	CreateActivity(ctx context.Context, activity *Activity) error
	CreateTask(ctx context.Context, task *Task) error
	FindListingByKey(ctx context.Context, idempotencyKey string) (*Listing, error)
	FindTaskByKey(ctx context.Context, idempotencyKey string) (*Task, error)
	ListActivities(ctx context.Context, listingID string) ([]Activity, error)

	SaveBatchRun(ctx context.Context, run *BatchRun) error
	LoadBatchRun(ctx context.Context, batchID string) (*BatchRun, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

// StoreClassification persists the classification with the raw batch.
// Re-storing the same idempotency key returns the existing record id
// instead of inserting a duplicate.
func (r *PostgresRepository) StoreClassification(ctx context.Context, rec *ClassificationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO classifications (id, idempotency_key, batch_id, queue_key, source, message_type, confidence, fields, raw_batch, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.IdempotencyKey, rec.BatchID, rec.QueueKey, rec.Source,
		rec.MessageType, rec.Confidence, []byte(rec.Fields), []byte(rec.RawBatch), rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to store classification: %w", err)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		var existing string
		err := r.db.QueryRowContext(ctx,
			`SELECT id FROM classifications WHERE idempotency_key = $1`, rec.IdempotencyKey,
		).Scan(&existing)
		if err != nil {
			return "", fmt.Errorf("failed to load existing classification: %w", err)
		}
		return existing, nil
	}
	return rec.ID, nil
}

func (r *PostgresRepository) CreateListing(ctx context.Context, listing *Listing) error {
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO listings (id, idempotency_key, address, listing_type, assignee_hint, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		listing.ID, listing.IdempotencyKey, listing.Address,
		listing.ListingType, listing.AssigneeHint, listing.Status, listing.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("listing already exists for key %s", listing.IdempotencyKey))
		}
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateActivity(ctx context.Context, activity *Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO activities (id, listing_id, name, position, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (listing_id, position) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		activity.ID, activity.ListingID, activity.Name,
		activity.Position, activity.Status, activity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO tasks (id, idempotency_key, title, category, due_date, assignee_hint, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.IdempotencyKey, task.Title, task.Category,
		task.DueDate, task.AssigneeHint, task.Status, task.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("task already exists for key %s", task.IdempotencyKey))
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindListingByKey(ctx context.Context, idempotencyKey string) (*Listing, error) {
	query := `
		SELECT id, idempotency_key, address, listing_type, assignee_hint, status, created_at
		FROM listings
		WHERE idempotency_key = $1
	`

	var listing Listing
	err := r.db.QueryRowContext(ctx, query, idempotencyKey).Scan(
		&listing.ID, &listing.IdempotencyKey, &listing.Address,
		&listing.ListingType, &listing.AssigneeHint, &listing.Status, &listing.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}
	return &listing, nil
}

func (r *PostgresRepository) FindTaskByKey(ctx context.Context, idempotencyKey string) (*Task, error) {
	query := `
		SELECT id, idempotency_key, title, category, due_date, assignee_hint, status, created_at
		FROM tasks
		WHERE idempotency_key = $1
	`

	var task Task
	err := r.db.QueryRowContext(ctx, query, idempotencyKey).Scan(
		&task.ID, &task.IdempotencyKey, &task.Title, &task.Category,
		&task.DueDate, &task.AssigneeHint, &task.Status, &task.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

func (r *PostgresRepository) ListActivities(ctx context.Context, listingID string) ([]Activity, error) {
	query := `
		SELECT id, listing_id, name, position, status, created_at
		FROM activities
		WHERE listing_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.ListingID, &a.Name, &a.Position, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return activities, nil
}

// SaveBatchRun upserts the orchestrator checkpoint for a batch.
func (r *PostgresRepository) SaveBatchRun(ctx context.Context, run *BatchRun) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `
		INSERT INTO batch_runs (batch_id, idempotency_key, stage, attempts, last_error, raw_batch, classification, entity_kind, entity_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (batch_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			classification = EXCLUDED.classification,
			entity_kind = EXCLUDED.entity_kind,
			entity_id = EXCLUDED.entity_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		run.BatchID, run.IdempotencyKey, run.Stage, run.Attempts, run.LastError,
		[]byte(run.RawBatch), nullableBytes(run.Classification),
		run.EntityKind, run.EntityID, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch run: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LoadBatchRun(ctx context.Context, batchID string) (*BatchRun, error) {
	query := `
		SELECT batch_id, idempotency_key, stage, attempts, last_error, raw_batch, classification, entity_kind, entity_id, created_at, updated_at
		FROM batch_runs
		WHERE batch_id = $1
	`

	var run BatchRun
	var classification []byte
	err := r.db.QueryRowContext(ctx, query, batchID).Scan(
		&run.BatchID, &run.IdempotencyKey, &run.Stage, &run.Attempts, &run.LastError,
		(*[]byte)(&run.RawBatch), &classification,
		&run.EntityKind, &run.EntityID, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch run: %w", err)
	}
	run.Classification = classification
	return &run, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
