package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-io/slipway/internal/ir"
)

func TestFromOutcome_CapturesRunSummary(t *testing.T) {
	outcome := sampleOutcome()

	rec := FromOutcome(outcome, "talentradar", "aws", "eu-west-1")

	assert.Equal(t, Version, rec.Version)
	assert.Equal(t, "talentradar", rec.App)
	assert.Equal(t, "v42", rec.VersionTag)
	assert.Equal(t, "aws", rec.Provider)
	assert.Equal(t, "eu-west-1", rec.Region)
	assert.Equal(t, ir.RunSucceeded, rec.RunState)
	assert.Equal(t, ir.HealthHealthy, rec.HealthStatus)
	assert.Len(t, rec.PerNode, 2)
	assert.False(t, rec.RecordedAt.IsZero())
}

// Secret values travel through ExecutionResult in memory only. The
// persisted form must carry the key names and nothing else.
func TestMarshal_OmitsSecretValues(t *testing.T) {
	rec := FromOutcome(sampleOutcome(), "talentradar", "aws", "eu-west-1")

	data, err := rec.Marshal()
	require.NoError(t, err)

	assert.Contains(t, string(data), "connectionString")
	assert.NotContains(t, string(data), "redis://10.0.0.5:6379")
	assert.NotContains(t, string(data), "hunter2-registry-password")
	assert.NotContains(t, string(data), "producedSecrets")
}

func TestMarshalRoundTrip(t *testing.T) {
	rec := FromOutcome(sampleOutcome(), "talentradar", "aws", "eu-west-1")

	data, err := rec.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, rec.App, got.App)
	assert.Equal(t, rec.RunState, got.RunState)
	assert.Equal(t, rec.HealthStatus, got.HealthStatus)
	require.Len(t, got.PerNode, 2)
	assert.Equal(t, "cache", got.PerNode[0].NodeID)
	assert.Equal(t, []string{"connectionString"}, got.PerNode[0].SecretKeys)
	assert.Empty(t, got.PerNode[0].ProducedSecrets)
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("{not json"))
	assert.Error(t, err)
}

func sampleOutcome() *ir.DeploymentOutcome {
	started := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	return &ir.DeploymentOutcome{
		PlanVersionTag: "v42",
		RunState:       ir.RunSucceeded,
		HealthStatus:   ir.HealthHealthy,
		StartedAt:      started,
		FinishedAt:     started.Add(3 * time.Minute),
		PerNode: []*ir.ExecutionResult{
			{
				NodeID:   "cache",
				Identity: "cache.talentradar-cache",
				Status:   ir.StatusCreated,
				ProducedSecrets: map[string]string{
					"connectionString": "redis://10.0.0.5:6379",
				},
				SecretKeys: []string{"connectionString"},
				Duration:   90 * time.Second,
			},
			{
				NodeID:   "registry",
				Identity: "registry.talentradaracr",
				Status:   ir.StatusAlreadyExists,
				ProducedSecrets: map[string]string{
					"password": "hunter2-registry-password",
				},
				SecretKeys: []string{"password"},
				Duration:   2 * time.Second,
			},
		},
	}
}
