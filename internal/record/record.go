// Package record persists the outcome of each deployment run. Records
// are informational: the status command and notifications read them,
// but the engine never does. What exists is always re-probed from the
// provider, so a lost or stale record costs nothing. Secret values are
// never written, only the names of the secrets a node produced.
package record

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/slipway-io/slipway/internal/ir"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is bumped when the record layout changes incompatibly.
const Version = 1

// Record is one run's persisted summary.
type Record struct {
	Version    int    `json:"version"`
	App        string `json:"app"`
	VersionTag string `json:"versionTag,omitempty"`
	Provider   string `json:"provider"`
	Region     string `json:"region,omitempty"`

	RunState     ir.RunState           `json:"runState"`
	HealthStatus ir.HealthState        `json:"healthStatus"`
	PerNode      []*ir.ExecutionResult `json:"perNode"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	RecordedAt time.Time `json:"recordedAt"`
}

// FromOutcome builds the record for a finished run.
func FromOutcome(outcome *ir.DeploymentOutcome, app, provider, region string) *Record {
	return &Record{
		Version:      Version,
		App:          app,
		VersionTag:   outcome.PlanVersionTag,
		Provider:     provider,
		Region:       region,
		RunState:     outcome.RunState,
		HealthStatus: outcome.HealthStatus,
		PerNode:      outcome.PerNode,
		StartedAt:    outcome.StartedAt,
		FinishedAt:   outcome.FinishedAt,
		RecordedAt:   time.Now().UTC(),
	}
}

// Marshal renders the record as indented JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Unmarshal parses a stored record.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
