package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerops/internal/classify"
	"brokerops/internal/entity"
	"brokerops/internal/store"
)

func TestEntityServiceCreatesListingWithTemplate(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := store.NewRepository(infra.PostgresDB)
	svc := entity.NewService(repo, store.NewAgentDirectory(infra.PostgresDB), createTestLogger())
	ctx := context.Background()

	result := &classify.Result{
		MessageType: classify.TypeNewListing,
		Confidence:  0.95,
		ExtractedFields: classify.Fields{
			"address":      classify.StringValue("42 Main St"),
			"listing_type": classify.StringValue("SALE"),
		},
	}

	res, err := svc.Resolve(ctx, result, "key-1")
	require.NoError(t, err)
	assert.Equal(t, store.EntityKindListing, res.Kind)
	assert.False(t, res.Partial)

	activities, err := repo.ListActivities(ctx, res.ID)
	require.NoError(t, err)
	assert.Len(t, activities, 4)
}

func TestEntityServiceReplaySameBatch(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := store.NewRepository(infra.PostgresDB)
	svc := entity.NewService(repo, nil, createTestLogger())
	ctx := context.Background()

	result := &classify.Result{
		MessageType: classify.TypeTaskRequest,
		Confidence:  0.9,
		ExtractedFields: classify.Fields{
			"title":    classify.StringValue("Order yard sign"),
			"category": classify.StringValue("MARKETING"),
		},
	}

	first, err := svc.Resolve(ctx, result, "key-1")
	require.NoError(t, err)

	second, err := svc.Resolve(ctx, result, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "replay must reuse the entity")
	assert.True(t, second.Existing)

	var count int
	require.NoError(t, infra.PostgresDB.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEntityServiceConcurrentSameKey(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := store.NewRepository(infra.PostgresDB)
	svc := entity.NewService(repo, nil, createTestLogger())
	ctx := context.Background()

	result := &classify.Result{
		MessageType: classify.TypeNewListing,
		Confidence:  0.95,
		ExtractedFields: classify.Fields{
			"address":      classify.StringValue("9 Oak Ave"),
			"listing_type": classify.StringValue("LEASE"),
		},
	}

	type outcome struct {
		res *entity.Resolution
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := svc.Resolve(ctx, result, "key-race")
			results <- outcome{res, err}
		}()
	}

	a := <-results
	b := <-results
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Equal(t, a.res.ID, b.res.ID, "racing attempts converge on one listing")

	var count int
	require.NoError(t, infra.PostgresDB.QueryRow(`SELECT COUNT(*) FROM listings`).Scan(&count))
	assert.Equal(t, 1, count)
}
