package engine

import (
	"fmt"
	"strings"

	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/ir"
)

// BuildPlan validates the declared nodes and produces the immutable,
// topologically ordered RunPlan. Dependencies come from two places: the
// explicit dependsOn list and implicit ${nodeId.secret} references inside
// desired config values. No side effects happen here; any error aborts
// the run before a single provider call.
func BuildPlan(nodes []*ir.Node) (*ir.RunPlan, error) {
	if len(nodes) == 0 {
		return nil, apperrors.New(apperrors.CodeConfigValidation, "no nodes declared")
	}

	byID := make(map[string]*ir.Node, len(nodes))
	declared := make(map[string]int, len(nodes))
	identities := make(map[string]string, len(nodes))

	for i, n := range nodes {
		if n.ID == "" {
			return nil, apperrors.Newf(apperrors.CodeConfigValidation, "node %d has no id", i)
		}
		if _, dup := byID[n.ID]; dup {
			return nil, apperrors.NewUserFacing(apperrors.CodeDuplicateIdentity,
				fmt.Sprintf("duplicate node id %q", n.ID),
				"every node needs a unique id")
		}
		if prev, dup := identities[n.Identity()]; dup {
			return nil, apperrors.NewUserFacing(apperrors.CodeDuplicateIdentity,
				fmt.Sprintf("nodes %q and %q share identity %s", prev, n.ID, n.Identity()),
				"kind and name together must be unique")
		}
		byID[n.ID] = n
		declared[n.ID] = i
		identities[n.Identity()] = n.ID
	}

	// Dependency edges per node, deduplicated, validated against the
	// declared set. Implicit references to undeclared ids fail here
	// rather than at resolve time: the reference can never be satisfied.
	deps := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		seen := make(map[string]bool)
		add := func(dep, origin string) error {
			if _, ok := byID[dep]; !ok {
				return apperrors.NewUserFacing(apperrors.CodeUnknownDependency,
					fmt.Sprintf("node %q %s references undeclared node %q", n.ID, origin, dep),
					"declare the node or fix the reference")
			}
			if !seen[dep] {
				seen[dep] = true
				deps[n.ID] = append(deps[n.ID], dep)
			}
			return nil
		}

		for _, dep := range n.DependsOn {
			if err := add(dep, "dependsOn"); err != nil {
				return nil, err
			}
		}
		for _, dep := range ReferencedNodes(n.Config) {
			if dep == n.ID {
				// Self references surface as a one-node cycle below.
				seen[dep] = true
				deps[n.ID] = append(deps[n.ID], dep)
				continue
			}
			if err := add(dep, "config"); err != nil {
				return nil, err
			}
		}
	}

	order, err := sortNodes(nodes, deps, declared)
	if err != nil {
		return nil, err
	}

	edges := make(map[string][]string)
	for _, n := range nodes {
		for _, dep := range deps[n.ID] {
			edges[dep] = append(edges[dep], n.ID)
		}
	}

	// Planned nodes are copies carrying the merged dependency list, so
	// implicit config edges are visible downstream and the caller's
	// declarations stay untouched.
	plan := &ir.RunPlan{Edges: edges}
	for _, id := range order {
		n := byID[id]
		merged := make([]string, len(deps[id]))
		copy(merged, deps[id])
		plan.Nodes = append(plan.Nodes, &ir.Node{
			ID:          n.ID,
			Kind:        n.Kind,
			Name:        n.Name,
			DependsOn:   merged,
			Config:      n.Config,
			Criticality: n.Criticality,
		})
	}
	return plan, nil
}

// sortNodes runs Kahn's algorithm picking, among ready nodes, the one
// declared earliest. That gives the stable declaration-order tie-break
// for nodes with no ordering constraint between them.
func sortNodes(nodes []*ir.Node, deps map[string][]string, declared map[string]int) ([]string, error) {
	remaining := make(map[string]int, len(nodes))
	for _, n := range nodes {
		remaining[n.ID] = len(deps[n.ID])
	}

	var order []string
	emitted := make(map[string]bool, len(nodes))
	for len(order) < len(nodes) {
		next := ""
		for _, n := range nodes {
			if emitted[n.ID] || remaining[n.ID] != 0 {
				continue
			}
			if next == "" || declared[n.ID] < declared[next] {
				next = n.ID
			}
		}
		if next == "" {
			cycle := findCycle(nodes, deps, emitted)
			return nil, apperrors.NewUserFacing(apperrors.CodeCyclicDependency,
				fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")),
				"break the cycle by removing one of the references")
		}

		order = append(order, next)
		emitted[next] = true
		for _, n := range nodes {
			for _, dep := range deps[n.ID] {
				if dep == next {
					remaining[n.ID]--
				}
			}
		}
	}
	return order, nil
}

// findCycle walks unsatisfied dependencies among the leftover nodes
// until one repeats, then returns the loop in walk order.
func findCycle(nodes []*ir.Node, deps map[string][]string, emitted map[string]bool) []string {
	stuck := func(id string) bool { return !emitted[id] }

	var start string
	for _, n := range nodes {
		if stuck(n.ID) {
			start = n.ID
			break
		}
	}

	var path []string
	visited := make(map[string]int)
	cur := start
	for {
		if at, seen := visited[cur]; seen {
			return append(path[at:], cur)
		}
		visited[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range deps[cur] {
			if stuck(dep) {
				next = dep
				break
			}
		}
		if next == "" {
			// Should not happen for a genuine cycle; report what we have.
			return path
		}
		cur = next
	}
}
