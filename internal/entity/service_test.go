package entity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerops/internal/classify"
	"brokerops/internal/logger"
	"brokerops/internal/store"
	pkgerrors "brokerops/pkg/errors"
)

// fakeRepository is an in-memory store.Repository for exercising the
// entity service without a database.
type fakeRepository struct {
	mu         sync.Mutex
	listings   map[string]*store.Listing // by idempotency key
	tasks      map[string]*store.Task
	activities []*store.Activity
	runs       map[string]*store.BatchRun

	failActivityAfter int // fail CreateActivity once this many exist; -1 disables
	nextID            int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		listings:          map[string]*store.Listing{},
		tasks:             map[string]*store.Task{},
		runs:              map[string]*store.BatchRun{},
		failActivityAfter: -1,
	}
}

func (r *fakeRepository) id() string {
	r.nextID++
	return fmt.Sprintf("id-%d", r.nextID)
}

func (r *fakeRepository) StoreClassification(_ context.Context, rec *store.ClassificationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = r.id()
	}
	return rec.ID, nil
}

func (r *fakeRepository) CreateListing(_ context.Context, listing *store.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.listings[listing.IdempotencyKey]; exists {
		return pkgerrors.ErrConflict
	}
	listing.ID = r.id()
	copied := *listing
	r.listings[listing.IdempotencyKey] = &copied
	return nil
}

func (r *fakeRepository) CreateActivity(_ context.Context, activity *store.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failActivityAfter >= 0 && len(r.activities) >= r.failActivityAfter {
		return fmt.Errorf("activities table unavailable")
	}
	activity.ID = r.id()
	copied := *activity
	r.activities = append(r.activities, &copied)
	return nil
}

func (r *fakeRepository) CreateTask(_ context.Context, task *store.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.IdempotencyKey]; exists {
		return pkgerrors.ErrConflict
	}
	task.ID = r.id()
	copied := *task
	r.tasks[task.IdempotencyKey] = &copied
	return nil
}

func (r *fakeRepository) FindListingByKey(_ context.Context, key string) (*store.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.listings[key]; ok {
		return l, nil
	}
	return nil, pkgerrors.ErrNotFound
}

func (r *fakeRepository) FindTaskByKey(_ context.Context, key string) (*store.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[key]; ok {
		return t, nil
	}
	return nil, pkgerrors.ErrNotFound
}

func (r *fakeRepository) ListActivities(_ context.Context, listingID string) ([]store.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Activity
	for _, a := range r.activities {
		if a.ListingID == listingID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepository) SaveBatchRun(_ context.Context, run *store.BatchRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *run
	r.runs[run.BatchID] = &copied
	return nil
}

func (r *fakeRepository) LoadBatchRun(_ context.Context, batchID string) (*store.BatchRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[batchID]; ok {
		copied := *run
		return &copied, nil
	}
	return nil, pkgerrors.ErrNotFound
}

type fakeAgents struct {
	byHint map[string]string
}

func (d *fakeAgents) ResolveAgent(_ context.Context, hint string) (string, error) {
	if id, ok := d.byHint[hint]; ok {
		return id, nil
	}
	return "", pkgerrors.ErrNotFound
}

func listingResult(fields classify.Fields) *classify.Result {
	return &classify.Result{
		MessageType:     classify.TypeNewListing,
		Confidence:      0.95,
		ExtractedFields: fields,
	}
}

func taskResult(fields classify.Fields) *classify.Result {
	return &classify.Result{
		MessageType:     classify.TypeTaskRequest,
		Confidence:      0.9,
		ExtractedFields: fields,
	}
}

func TestCreateListingWithSaleTemplate(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	res, err := svc.Resolve(context.Background(), listingResult(classify.Fields{
		"address":      classify.StringValue("42 Main St"),
		"listing_type": classify.StringValue("SALE"),
	}), "key-1")
	require.NoError(t, err)

	assert.Equal(t, store.EntityKindListing, res.Kind)
	assert.Equal(t, "SALE - 42 Main St", res.Summary)
	assert.False(t, res.Existing)
	assert.False(t, res.Partial)
	assert.Equal(t, 4, res.ActivitiesCreated)

	activities, err := repo.ListActivities(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, activities, 4)
	assert.Equal(t, "Schedule photos", activities[0].Name)
	assert.Equal(t, "Create MLS listing", activities[1].Name)
	assert.Equal(t, "Schedule open house", activities[2].Name)
	assert.Equal(t, "Order yard sign", activities[3].Name)
	for i, a := range activities {
		assert.Equal(t, i+1, a.Position)
		assert.Equal(t, "open", a.Status)
	}
}

func TestCreateListingLeaseTemplateAndDefaults(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	res, err := svc.Resolve(context.Background(), listingResult(classify.Fields{
		"listing_type": classify.StringValue("LEASE"),
	}), "key-1")
	require.NoError(t, err)

	assert.Equal(t, 3, res.ActivitiesCreated)
	assert.Equal(t, "LEASE - Unknown Address", res.Summary)
}

func TestCreateListingUnknownTypeGetsNoActivities(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	res, err := svc.Resolve(context.Background(), listingResult(classify.Fields{
		"address":      classify.StringValue("7 Pine Rd"),
		"listing_type": classify.StringValue("TIMESHARE"),
	}), "key-1")
	require.NoError(t, err)

	assert.Equal(t, 0, res.ActivitiesExpected)
	assert.Empty(t, repo.activities)
}

func TestCreateListingIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())
	result := listingResult(classify.Fields{
		"address":      classify.StringValue("42 Main St"),
		"listing_type": classify.StringValue("SALE"),
	})

	first, err := svc.Resolve(context.Background(), result, "key-1")
	require.NoError(t, err)

	second, err := svc.Resolve(context.Background(), result, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Existing)
	assert.Len(t, repo.listings, 1)
	assert.Len(t, repo.activities, 4, "activities must not be duplicated on replay")
}

func TestCreateListingPartialActivityFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.failActivityAfter = 2
	svc := NewService(repo, nil, logger.NopLogger())

	res, err := svc.Resolve(context.Background(), listingResult(classify.Fields{
		"address":      classify.StringValue("42 Main St"),
		"listing_type": classify.StringValue("SALE"),
	}), "key-1")
	require.NoError(t, err, "a partial template is reported, not fatal")

	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.ActivitiesCreated)
	assert.Equal(t, 4, res.ActivitiesExpected)
	assert.NotEmpty(t, res.ID, "listing survives the activity failure")
}

func TestCreateListingResolvesAssignee(t *testing.T) {
	repo := newFakeRepository()
	agents := &fakeAgents{byHint: map[string]string{"dana@example.com": "agent-7"}}
	svc := NewService(repo, agents, logger.NopLogger())

	_, err := svc.Resolve(context.Background(), listingResult(classify.Fields{
		"address":       classify.StringValue("42 Main St"),
		"listing_type":  classify.StringValue("SALE"),
		"assignee_hint": classify.StringValue("dana@example.com"),
	}), "key-1")
	require.NoError(t, err)

	assert.Equal(t, "agent-7", repo.listings["key-1"].AssigneeHint)
}

func TestCreateListingKeepsUnresolvedHint(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeAgents{}, logger.NopLogger())

	_, err := svc.Resolve(context.Background(), listingResult(classify.Fields{
		"address":       classify.StringValue("42 Main St"),
		"listing_type":  classify.StringValue("SALE"),
		"assignee_hint": classify.StringValue("somebody new"),
	}), "key-1")
	require.NoError(t, err)

	assert.Equal(t, "somebody new", repo.listings["key-1"].AssigneeHint)
}

func TestCreateTask(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	res, err := svc.Resolve(context.Background(), taskResult(classify.Fields{
		"title":    classify.StringValue("Order yard sign"),
		"category": classify.StringValue("MARKETING"),
		"due_date": classify.StringValue("2026-09-15"),
	}), "key-1")
	require.NoError(t, err)

	assert.Equal(t, store.EntityKindTask, res.Kind)
	assert.Equal(t, "Order yard sign", res.Summary)

	task := repo.tasks["key-1"]
	require.NotNil(t, task)
	assert.Equal(t, "MARKETING", task.Category)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), *task.DueDate)
}

func TestCreateTaskDefaultsEmptyCategory(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	_, err := svc.Resolve(context.Background(), taskResult(classify.Fields{
		"title": classify.StringValue("File paperwork"),
	}), "key-1")
	require.NoError(t, err)

	assert.Equal(t, "ADMIN", repo.tasks["key-1"].Category)
}

func TestCreateTaskRejectsUnknownCategory(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	_, err := svc.Resolve(context.Background(), taskResult(classify.Fields{
		"title":    classify.StringValue("Do something"),
		"category": classify.StringValue("JANITORIAL"),
	}), "key-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task category")
	assert.Empty(t, repo.tasks)
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	_, err := svc.Resolve(context.Background(), taskResult(classify.Fields{
		"category": classify.StringValue("ADMIN"),
	}), "key-1")
	require.Error(t, err)
	assert.Empty(t, repo.tasks)
}

func TestCreateTaskSkipsBadDueDate(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	_, err := svc.Resolve(context.Background(), taskResult(classify.Fields{
		"title":    classify.StringValue("Call vendor"),
		"due_date": classify.StringValue("next tuesday"),
	}), "key-1")
	require.NoError(t, err, "a bad optional field drops the field, not the task")

	assert.Nil(t, repo.tasks["key-1"].DueDate)
}

func TestCreateTaskIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())
	result := taskResult(classify.Fields{"title": classify.StringValue("Order sign")})

	first, err := svc.Resolve(context.Background(), result, "key-1")
	require.NoError(t, err)
	second, err := svc.Resolve(context.Background(), result, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Existing)
	assert.Len(t, repo.tasks, 1)
}

func TestResolveNonEntityTypes(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, nil, logger.NopLogger())

	for _, mt := range []classify.MessageType{
		classify.TypeIgnore,
		classify.TypeQuestion,
		classify.TypeStatusUpdate,
		classify.TypeEscalation,
	} {
		res, err := svc.Resolve(context.Background(), &classify.Result{MessageType: mt}, "key-1")
		require.NoError(t, err)
		assert.True(t, res.None(), "%s must not create an entity", mt)
	}
	assert.Empty(t, repo.listings)
	assert.Empty(t, repo.tasks)
}

func TestParseTaskCategory(t *testing.T) {
	for _, valid := range []string{"MARKETING", "ADMIN", "PHOTO", "SHOWING"} {
		got, err := ParseTaskCategory(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, got)
	}

	got, err := ParseTaskCategory("")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", got)

	_, err = ParseTaskCategory("marketing")
	assert.Error(t, err)
}
