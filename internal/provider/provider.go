// Package provider defines the boundary between the engine and anything
// that can materialize resources. Two operations only: a read-only
// describe and an idempotent create-or-update. Adapters are selected by
// resource kind, not by inheritance.
package provider

import (
	"context"

	"github.com/slipway-io/slipway/internal/ir"
)

// Request carries everything an adapter needs to act on one node. Config
// is fully resolved: no ${node.secret} placeholders survive past the
// credential propagator.
type Request struct {
	Kind   ir.Kind
	Name   string
	Config map[string]string
}

// Observation is the result of a describe. Exists=false is the normal
// not-found signal, never an error. Attrs uses the same keyspace as the
// desired config so the executor can diff them key by key; adapters omit
// keys they cannot observe.
//
// Secrets carries whatever the resource produces that dependents may
// reference (endpoints, credentials). Describe must fill it for existing
// resources: on a re-run nothing is applied, yet downstream nodes still
// need the values.
type Observation struct {
	Exists  bool
	Attrs   map[string]string
	Secrets map[string]string
}

// NotFound is the zero observation.
func NotFound() Observation {
	return Observation{}
}

// Found builds an existing observation with the given attributes.
func Found(attrs map[string]string) Observation {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return Observation{Exists: true, Attrs: attrs}
}

// FoundWithSecrets builds an existing observation carrying secrets.
func FoundWithSecrets(attrs, secrets map[string]string) Observation {
	o := Found(attrs)
	o.Secrets = secrets
	return o
}

// Result reports a completed create or update. Secrets become envelope
// entries under the node's id; they never leave the process.
type Result struct {
	Secrets map[string]string
}

// Adapter is implemented once per resource kind per provider.
type Adapter interface {
	// Describe queries current state without creating anything.
	Describe(ctx context.Context, req Request) (Observation, error)

	// CreateOrUpdate makes reality match req.Config. The observed state
	// from the immediately preceding Describe is passed through so
	// adapters can choose the create or the update call path.
	CreateOrUpdate(ctx context.Context, req Request, observed Observation) (Result, error)
}
