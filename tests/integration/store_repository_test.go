package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerops/internal/store"
	pkgerrors "brokerops/pkg/errors"
)

func TestStoreClassificationIsIdempotent(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := store.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	first, err := repo.StoreClassification(ctx, createTestClassification("key-1", "batch-1", "new_listing", 0.95))
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Replaying the same batch after a crash maps to the same record.
	second, err := repo.StoreClassification(ctx, createTestClassification("key-1", "batch-1", "new_listing", 0.95))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := repo.StoreClassification(ctx, createTestClassification("key-2", "batch-2", "ignore", 0.3))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestListingCreateAndFindByKey(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := store.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	_, err := repo.FindListingByKey(ctx, "key-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))

	listing := &store.Listing{
		IdempotencyKey: "key-1",
		Address:        "42 Main St",
		ListingType:    "SALE",
		Status:         "new",
	}
	require.NoError(t, repo.CreateListing(ctx, listing))
	require.NotEmpty(t, listing.ID)

	found, err := repo.FindListingByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, listing.ID, found.ID)
	assert.Equal(t, "42 Main St", found.Address)
	assert.Equal(t, "SALE", found.ListingType)

	// Same key again surfaces a conflict for the caller to resolve.
	dup := &store.Listing{IdempotencyKey: "key-1", Address: "42 Main St", ListingType: "SALE", Status: "new"}
	err = repo.CreateListing(ctx, dup)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestActivitiesOrderedAndDedupedByPosition(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := store.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	listing := &store.Listing{IdempotencyKey: "key-1", Address: "42 Main St", ListingType: "SALE", Status: "new"}
	require.NoError(t, repo.CreateListing(ctx, listing))

	names := []string{"Schedule photos", "Create MLS listing", "Schedule open house"}
	for i, name := range names {
		require.NoError(t, repo.CreateActivity(ctx, &store.Activity{
			ListingID: listing.ID,
			Name:      name,
			Position:  i + 1,
			Status:    "open",
		}))
	}

	// Replaying a position is a no-op, not a second row.
	require.NoError(t, repo.CreateActivity(ctx, &store.Activity{
		ListingID: listing.ID,
		Name:      "Schedule photos",
		Position:  1,
		Status:    "open",
	}))

	activities, err := repo.ListActivities(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, activities, 3)
	for i, a := range activities {
		assert.Equal(t, i+1, a.Position)
		assert.Equal(t, names[i], a.Name)
	}
}

func TestTaskCreateAndFindByKey(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := store.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	task := &store.Task{
		IdempotencyKey: "key-1",
		Title:          "Order yard sign",
		Category:       "MARKETING",
		DueDate:        &due,
		Status:         "open",
	}
	require.NoError(t, repo.CreateTask(ctx, task))

	found, err := repo.FindTaskByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, found.ID)
	assert.Equal(t, "Order yard sign", found.Title)
	assert.Equal(t, "MARKETING", found.Category)
	require.NotNil(t, found.DueDate)
	assert.Equal(t, due.Format("2006-01-02"), found.DueDate.Format("2006-01-02"))
}

func TestBatchRunCheckpointLifecycle(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := store.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	batch := createTestBatch("batch-1", "U1", "C1", "new listing at 42 Main St")
	run := &store.BatchRun{
		BatchID:        "batch-1",
		IdempotencyKey: batch.IdempotencyKey(),
		Stage:          "received",
		Attempts:       1,
		RawBatch:       []byte(`{"messages":[]}`),
	}
	require.NoError(t, repo.SaveBatchRun(ctx, run))

	loaded, err := repo.LoadBatchRun(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "received", loaded.Stage)
	assert.Equal(t, 1, loaded.Attempts)

	// Checkpointing is an upsert keyed by batch id.
	loaded.Stage = "classified"
	loaded.Attempts = 2
	loaded.Classification = []byte(`{"message_type":"new_listing","confidence":0.95}`)
	require.NoError(t, repo.SaveBatchRun(ctx, loaded))

	reloaded, err := repo.LoadBatchRun(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "classified", reloaded.Stage)
	assert.Equal(t, 2, reloaded.Attempts)
	assert.JSONEq(t, `{"message_type":"new_listing","confidence":0.95}`, string(reloaded.Classification))

	_, err = repo.LoadBatchRun(ctx, "missing")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}
