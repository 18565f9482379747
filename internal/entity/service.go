package entity

import (
	"context"
	"fmt"
	"time"

	"brokerops/internal/classify"
	"brokerops/internal/logger"
	"brokerops/internal/store"
	pkgerrors "brokerops/pkg/errors"
	"brokerops/pkg/metrics"
)

// TaskCategory is the closed set of task categories. External strings
// outside this set are an error, never defaulted.
var taskCategories = map[string]struct{}{
	"MARKETING": {},
	"ADMIN":     {},
	"PHOTO":     {},
	"SHOWING":   {},
}

// ParseTaskCategory validates an external category string. Empty means
// uncategorized and maps to ADMIN; anything else must be a known value.
func ParseTaskCategory(raw string) (string, error) {
	if raw == "" {
		return "ADMIN", nil
	}
	if _, ok := taskCategories[raw]; !ok {
		return "", fmt.Errorf("unknown task category %q", raw)
	}
	return raw, nil
}

// Resolution describes the outcome of entity resolution for one batch.
type Resolution struct {
	Kind    string // "", store.EntityKindListing, or store.EntityKindTask
	ID      string
	Summary string // human-readable detail for the acknowledgment

	// Existing is set when the idempotency check found an entity created
	// by an earlier attempt.
	Existing bool

	// Partial activity creation: listing exists, enrichment incomplete.
	Partial            bool
	ActivitiesCreated  int
	ActivitiesExpected int
}

// None reports whether no entity was (or should have been) created.
func (r *Resolution) None() bool { return r.Kind == "" }

// Service deterministically maps a classification to zero or one domain
// entities, idempotent on the batch idempotency key.
type Service struct {
	repo   store.Repository
	agents store.AgentDirectory
	logger logger.Logger
}

func NewService(repo store.Repository, agents store.AgentDirectory, log logger.Logger) *Service {
	return &Service{repo: repo, agents: agents, logger: log}
}

// Resolve dispatches on message type. Ignore, Question, StatusUpdate and
// Escalation resolve to no entity without error; NewListing and
// TaskRequest must produce exactly one entity.
func (s *Service) Resolve(ctx context.Context, result *classify.Result, idempotencyKey string) (*Resolution, error) {
	switch result.MessageType {
	case classify.TypeNewListing:
		return s.CreateListing(ctx, result, idempotencyKey)
	case classify.TypeTaskRequest:
		return s.CreateTask(ctx, result, idempotencyKey)
	default:
		return &Resolution{}, nil
	}
}

// CreateListing creates the listing record plus its templated follow-on
// activities. If activity creation fails partway the listing survives
// and the partial state is reported, not swallowed.
func (s *Service) CreateListing(ctx context.Context, result *classify.Result, idempotencyKey string) (*Resolution, error) {
	if existing, err := s.repo.FindListingByKey(ctx, idempotencyKey); err == nil {
		s.logger.InfowCtx(ctx, "Listing already exists for batch, reusing",
			"listing_id", existing.ID,
		)
		return &Resolution{
			Kind:     store.EntityKindListing,
			ID:       existing.ID,
			Summary:  listingSummary(existing.ListingType, existing.Address),
			Existing: true,
		}, nil
	} else if !pkgerrors.IsNotFound(err) {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}

	listing := &store.Listing{
		IdempotencyKey: idempotencyKey,
		Address:        result.ExtractedFields.String("address"),
		ListingType:    result.ExtractedFields.String("listing_type"),
		Status:         "new",
	}
	if listing.Address == "" {
		listing.Address = "Unknown Address"
	}
	listing.AssigneeHint = s.resolveAssignee(ctx, result.ExtractedFields.String("assignee_hint"))

	if err := s.repo.CreateListing(ctx, listing); err != nil {
		if pkgerrors.IsConflict(err) {
			// Lost a race with a concurrent attempt for the same key.
			return s.CreateListing(ctx, result, idempotencyKey)
		}
		metrics.EntitiesCreatedTotal.WithLabelValues(store.EntityKindListing, "error").Inc()
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	template := TemplateFor(listing.ListingType)
	created := 0
	for i, name := range template {
		activity := &store.Activity{
			ListingID: listing.ID,
			Name:      name,
			Position:  i + 1,
			Status:    "open",
		}
		if err := s.repo.CreateActivity(ctx, activity); err != nil {
			s.logger.ErrorwCtx(ctx, "Templated activity creation incomplete",
				"listing_id", listing.ID,
				"created", created,
				"expected", len(template),
				"error", err,
			)
			metrics.EntitiesCreatedTotal.WithLabelValues(store.EntityKindListing, "partial").Inc()
			return &Resolution{
				Kind:               store.EntityKindListing,
				ID:                 listing.ID,
				Summary:            listingSummary(listing.ListingType, listing.Address),
				Partial:            true,
				ActivitiesCreated:  created,
				ActivitiesExpected: len(template),
			}, nil
		}
		created++
	}

	metrics.EntitiesCreatedTotal.WithLabelValues(store.EntityKindListing, "created").Inc()
	s.logger.InfowCtx(ctx, "Listing created",
		"listing_id", listing.ID,
		"listing_type", listing.ListingType,
		"activities", created,
	)
	return &Resolution{
		Kind:               store.EntityKindListing,
		ID:                 listing.ID,
		Summary:            listingSummary(listing.ListingType, listing.Address),
		ActivitiesCreated:  created,
		ActivitiesExpected: len(template),
	}, nil
}

// CreateTask creates a standalone task from extracted fields.
func (s *Service) CreateTask(ctx context.Context, result *classify.Result, idempotencyKey string) (*Resolution, error) {
	if existing, err := s.repo.FindTaskByKey(ctx, idempotencyKey); err == nil {
		s.logger.InfowCtx(ctx, "Task already exists for batch, reusing",
			"task_id", existing.ID,
		)
		return &Resolution{
			Kind:     store.EntityKindTask,
			ID:       existing.ID,
			Summary:  existing.Title,
			Existing: true,
		}, nil
	} else if !pkgerrors.IsNotFound(err) {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}

	title := result.ExtractedFields.String("title")
	if title == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "task request has no title")
	}

	category, err := ParseTaskCategory(result.ExtractedFields.String("category"))
	if err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
	}

	task := &store.Task{
		IdempotencyKey: idempotencyKey,
		Title:          title,
		Category:       category,
		Status:         "open",
	}
	task.AssigneeHint = s.resolveAssignee(ctx, result.ExtractedFields.String("assignee_hint"))

	if raw := result.ExtractedFields.String("due_date"); raw != "" {
		due, err := time.Parse("2006-01-02", raw)
		if err != nil {
			// Optional field, a bad extraction drops the date, not the task.
			s.logger.WarnwCtx(ctx, "Unparseable due date on task, skipping",
				"due_date", raw,
			)
		} else {
			task.DueDate = &due
		}
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		if pkgerrors.IsConflict(err) {
			return s.CreateTask(ctx, result, idempotencyKey)
		}
		metrics.EntitiesCreatedTotal.WithLabelValues(store.EntityKindTask, "error").Inc()
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	metrics.EntitiesCreatedTotal.WithLabelValues(store.EntityKindTask, "created").Inc()
	s.logger.InfowCtx(ctx, "Task created",
		"task_id", task.ID,
		"category", task.Category,
	)
	return &Resolution{
		Kind:    store.EntityKindTask,
		ID:      task.ID,
		Summary: task.Title,
	}, nil
}

// resolveAssignee maps a hint to a known agent id. Resolution is
// best-effort: an unmatched or errored lookup keeps the raw hint so the
// entity still records who was mentioned.
func (s *Service) resolveAssignee(ctx context.Context, hint string) string {
	if hint == "" || s.agents == nil {
		return hint
	}
	id, err := s.agents.ResolveAgent(ctx, hint)
	if err != nil {
		if !pkgerrors.IsNotFound(err) {
			s.logger.WarnwCtx(ctx, "Agent resolution failed", "hint", hint, "error", err)
		}
		return hint
	}
	return id
}

func listingSummary(listingType, address string) string {
	if listingType == "" {
		return address
	}
	return listingType + " - " + address
}
