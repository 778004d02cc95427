package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("container-registry")
	require.NoError(t, err)
	assert.Equal(t, KindContainerRegistry, k)

	_, err = ParseKind("queue")
	assert.Error(t, err)
}

func TestParseCriticality(t *testing.T) {
	c, err := ParseCriticality("best-effort")
	require.NoError(t, err)
	assert.Equal(t, BestEffort, c)

	c, err = ParseCriticality("")
	require.NoError(t, err)
	assert.Equal(t, Required, c, "unset criticality means required")

	_, err = ParseCriticality("optional")
	assert.Error(t, err)
}

func TestNodeIdentity(t *testing.T) {
	n := &Node{ID: "cache", Kind: KindCache, Name: "talentradar-cache"}
	assert.Equal(t, "cache.talentradar-cache", n.Identity())
	assert.False(t, n.BestEffort())

	n.Criticality = BestEffort
	assert.True(t, n.BestEffort())
}

func TestRef(t *testing.T) {
	assert.Equal(t, "${cache.connectionString}", Ref("cache", SecretConnectionString))
}

func TestOutcomeHelpers(t *testing.T) {
	outcome := &DeploymentOutcome{
		RunState: RunPartiallyFailed,
		PerNode: []*ExecutionResult{
			{NodeID: "app", Status: StatusCreated},
			{NodeID: "autoscale", Status: StatusFailed},
		},
	}

	assert.False(t, outcome.Succeeded())
	failed := outcome.FailedNodes()
	require.Len(t, failed, 1)
	assert.Equal(t, "autoscale", failed[0].NodeID)
}
