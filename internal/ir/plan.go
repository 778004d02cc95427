package ir

import "time"

// RunPlan is the topologically ordered execution sequence for one run.
// It is built once per invocation and never mutated afterwards.
type RunPlan struct {
	// Nodes in execution order. Ties between unordered nodes are broken
	// by declaration order.
	Nodes []*Node

	// Edges maps a node id to the ids that depend on it (forward edges).
	Edges map[string][]string
}

// Node returns the planned node with the given id, or nil.
func (p *RunPlan) Node(id string) *Node {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Position returns the execution index of a node id, or -1.
func (p *RunPlan) Position(id string) int {
	for i, n := range p.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Status is the terminal classification of one node action.
type Status string

const (
	StatusAlreadyExists Status = "already-exists"
	StatusCreated       Status = "created"
	StatusUpdated       Status = "updated"
	StatusFailed        Status = "failed"
	// StatusPending marks nodes never started because the run stopped.
	StatusPending Status = "pending"
)

// ExecutionResult records what happened to one node.
type ExecutionResult struct {
	NodeID   string `json:"nodeId"`
	Identity string `json:"identity"`
	Status   Status `json:"status"`

	// ChangedKeys lists the config keys that drove an update decision.
	ChangedKeys []string `json:"changedKeys,omitempty"`

	// ProducedSecrets holds what the node contributed to the envelope.
	// Persisted reports redact the values and keep only the key names.
	ProducedSecrets map[string]string `json:"-"`
	SecretKeys      []string          `json:"secretKeys,omitempty"`

	Duration    time.Duration `json:"duration"`
	ErrorKind   string        `json:"errorKind,omitempty"`
	ErrorDetail string        `json:"errorDetail,omitempty"`
}

// RunState is the orchestrator's global state.
type RunState string

const (
	RunPlanning        RunState = "planning"
	RunExecuting       RunState = "executing"
	RunConverging      RunState = "converging"
	RunSucceeded       RunState = "succeeded"
	RunFailed          RunState = "failed"
	RunPartiallyFailed RunState = "partially-failed"
)

// NodeState tracks a node through the orchestrator's state machine.
type NodeState string

const (
	NodePending  NodeState = "pending"
	NodeProbing  NodeState = "probing"
	NodeSkipping NodeState = "skipping"
	NodeApplying NodeState = "applying"
	NodeDone     NodeState = "done"
	NodeFailed   NodeState = "failed"
)

// HealthState is the reported application health after convergence.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	// HealthUnknown covers both "convergence timed out" and "never polled".
	HealthUnknown HealthState = "unknown"
)

// DeploymentOutcome is the final aggregate for one run.
type DeploymentOutcome struct {
	// PlanVersionTag identifies the rollout, conventionally the image tag.
	PlanVersionTag string             `json:"planVersionTag"`
	RunState       RunState           `json:"runState"`
	PerNode        []*ExecutionResult `json:"perNode"`
	HealthStatus   HealthState        `json:"healthStatus"`
	StartedAt      time.Time          `json:"startedAt"`
	FinishedAt     time.Time          `json:"finishedAt"`
}

// Succeeded reports whether the infrastructure run fully succeeded.
func (o *DeploymentOutcome) Succeeded() bool {
	return o.RunState == RunSucceeded
}

// FailedNodes returns the results that ended in StatusFailed.
func (o *DeploymentOutcome) FailedNodes() []*ExecutionResult {
	var out []*ExecutionResult
	for _, r := range o.PerNode {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}
