package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerops/internal/intake"
	"brokerops/internal/store"
)

// The webhook deduper declares its own claimer contract; the Redis
// claimer must keep satisfying it.
var _ intake.Claimer = (*store.RedisClaimer)(nil)

func TestRedisClaimerClaimsOnce(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	claimer := store.NewRedisClaimer(infra.RedisClient)
	ctx := context.Background()

	claimed, err := claimer.Claim(ctx, "ack:batch-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = claimer.Claim(ctx, "ack:batch-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim for the same key must lose")

	claimed, err = claimer.Claim(ctx, "ack:batch-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "claims are per key")
}

func TestRedisClaimerReleaseReopensKey(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	claimer := store.NewRedisClaimer(infra.RedisClient)
	ctx := context.Background()

	claimed, err := claimer.Claim(ctx, "ack:batch-release", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, claimer.Release(ctx, "ack:batch-release"))

	claimed, err = claimer.Claim(ctx, "ack:batch-release", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "released key must be claimable again")
}

func TestRedisClaimerExpires(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	claimer := store.NewRedisClaimer(infra.RedisClient)
	ctx := context.Background()

	claimed, err := claimer.Claim(ctx, "event:slack:Ev001", 500*time.Millisecond)
	require.NoError(t, err)
	require.True(t, claimed)

	time.Sleep(700 * time.Millisecond)

	claimed, err = claimer.Claim(ctx, "event:slack:Ev001", 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, claimed, "expired claim is available again")
}

func TestEventDeduperScreensRedeliveries(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	deduper := intake.NewEventDeduper(store.NewRedisClaimer(infra.RedisClient), time.Minute, createTestLogger())
	ctx := context.Background()

	assert.True(t, deduper.FirstDelivery(ctx, "slack", "Ev100"))
	assert.False(t, deduper.FirstDelivery(ctx, "slack", "Ev100"))

	// Same id on a different source is a different event.
	assert.True(t, deduper.FirstDelivery(ctx, "sms", "Ev100"))

	// Events without an id are never blocked.
	assert.True(t, deduper.FirstDelivery(ctx, "slack", ""))
	assert.True(t, deduper.FirstDelivery(ctx, "slack", ""))
}
