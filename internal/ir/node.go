package ir

import "fmt"

// Kind identifies what a node provisions. The topology is fixed: one kind
// maps to exactly one provider adapter.
type Kind string

const (
	KindResourceGroup     Kind = "resource-group"
	KindContainerRegistry Kind = "container-registry"
	KindContainerImage    Kind = "container-image"
	KindComputePlan       Kind = "compute-plan"
	KindApplication       Kind = "application"
	KindCache             Kind = "cache"
	KindAutoscalePolicy   Kind = "autoscale-policy"
)

// Kinds lists every supported kind in topology order.
func Kinds() []Kind {
	return []Kind{
		KindResourceGroup,
		KindContainerRegistry,
		KindContainerImage,
		KindComputePlan,
		KindApplication,
		KindCache,
		KindAutoscalePolicy,
	}
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Criticality controls whether a node's failure aborts the run.
type Criticality string

const (
	// Required failures stop the run; remaining nodes are not started.
	Required Criticality = "required"
	// BestEffort failures are logged and the run continues.
	BestEffort Criticality = "best-effort"
)

// ParseCriticality converts a string into a Criticality.
func ParseCriticality(s string) (Criticality, error) {
	switch Criticality(s) {
	case Required, BestEffort:
		return Criticality(s), nil
	case "":
		return Required, nil
	}
	return "", fmt.Errorf("unknown criticality %q", s)
}

// Node describes one provisionable unit.
//
// ID is the short handle other nodes use in DependsOn and in
// ${id.secret} config placeholders. Identity for uniqueness checks is
// both ID and (Kind, Name).
type Node struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	Name        string            `json:"name"`
	DependsOn   []string          `json:"dependsOn,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Criticality Criticality       `json:"criticality"`
}

// Identity returns the (kind, name) pair as a printable address.
func (n *Node) Identity() string {
	return fmt.Sprintf("%s.%s", n.Kind, n.Name)
}

// BestEffort reports whether the node may fail without aborting the run.
func (n *Node) BestEffort() bool {
	return n.Criticality == BestEffort
}
