package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/repository"
)

func TestSeed_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	require.NoError(t, seed(ctx, store, "acme.com", logging.Nop()))
	require.NoError(t, seed(ctx, store, "acme.com", logging.Nop()))

	org, err := store.GetOrgByDomain(ctx, "acme.com")
	require.NoError(t, err)

	rules, err := store.FindEscalationRulesByOrg(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, rules, len(defaultRules))
	for _, r := range rules {
		assert.Equal(t, org.ID, r.OrgID)
		assert.NotEmpty(t, r.ID)
	}
}
