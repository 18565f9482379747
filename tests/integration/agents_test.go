package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerops/internal/store"
	pkgerrors "brokerops/pkg/errors"
)

func seedAgent(t *testing.T, infra *TestInfra, name, email, phone string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := infra.PostgresDB.Exec(
		`INSERT INTO agents (id, name, email, phone) VALUES ($1, $2, $3, $4)`,
		id, name, email, phone,
	)
	require.NoError(t, err)
	return id
}

func TestResolveAgentByEmail(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	dir := store.NewAgentDirectory(infra.PostgresDB)

	want := seedAgent(t, infra, "Dana Reyes", "dana@brokerage.example", "+15550001111")
	seedAgent(t, infra, "Sam Ortiz", "sam@brokerage.example", "+15550002222")

	got, err := dir.ResolveAgent(context.Background(), "dana@brokerage.example")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveAgentByPhoneSuffix(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	dir := store.NewAgentDirectory(infra.PostgresDB)

	want := seedAgent(t, infra, "Dana Reyes", "dana@brokerage.example", "+15550001111")

	// Formatting differences must not matter, only the last ten digits.
	got, err := dir.ResolveAgent(context.Background(), "(555) 000-1111")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveAgentByName(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	dir := store.NewAgentDirectory(infra.PostgresDB)

	want := seedAgent(t, infra, "Dana Reyes", "dana@brokerage.example", "")
	ctx := context.Background()

	got, err := dir.ResolveAgent(ctx, "Dana Reyes")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Mentions arrive with an @ prefix and often just a first name.
	got, err = dir.ResolveAgent(ctx, "@dana")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveAgentUnknownHint(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	dir := store.NewAgentDirectory(infra.PostgresDB)

	seedAgent(t, infra, "Dana Reyes", "dana@brokerage.example", "")

	_, err := dir.ResolveAgent(context.Background(), "nobody we know")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}
