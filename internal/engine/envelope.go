package engine

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	apperrors "github.com/slipway-io/slipway/internal/errors"
)

// refPattern matches ${nodeId.secretName} placeholders. Secret names are
// flat identifiers; there is deliberately no expression language here,
// so resolution order depends on graph order alone.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_-]+)\.([A-Za-z0-9_-]+)\}`)

// Envelope accumulates the secrets produced by completed nodes, keyed by
// (producing node id, secret name). It lives for one process only and is
// never persisted. Writes follow an insert-once-per-key discipline and
// are mutex-guarded so the parallel executor can share one envelope.
type Envelope struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

func NewEnvelope() *Envelope {
	return &Envelope{secrets: make(map[string]map[string]string)}
}

// Merge records the secrets a node produced. Re-inserting an existing
// (node, name) key is a programming error and fails loudly.
func (e *Envelope) Merge(nodeID string, secrets map[string]string) error {
	if len(secrets) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	bucket := e.secrets[nodeID]
	if bucket == nil {
		bucket = make(map[string]string, len(secrets))
		e.secrets[nodeID] = bucket
	}
	for name, value := range secrets {
		if _, exists := bucket[name]; exists {
			return apperrors.Newf(apperrors.CodeInternal,
				"secret %s.%s inserted twice", nodeID, name)
		}
		bucket[name] = value
	}
	return nil
}

// Lookup returns one secret value.
func (e *Envelope) Lookup(nodeID, name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.secrets[nodeID][name]
	return v, ok
}

// Keys returns the sorted secret names a node has produced.
func (e *Envelope) Keys(nodeID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	for name := range e.secrets[nodeID] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveConfig substitutes every placeholder in the config template
// from the envelope. A reference to a secret that was never produced is
// fatal: it means the producing node has not run, which is a
// dependency-ordering bug, not a retryable condition.
func (e *Envelope) ResolveConfig(config map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(config))

	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var missing *apperrors.AppError
		resolved[k] = refPattern.ReplaceAllStringFunc(config[k], func(m string) string {
			parts := refPattern.FindStringSubmatch(m)
			value, ok := e.Lookup(parts[1], parts[2])
			if !ok && missing == nil {
				missing = apperrors.NewUserFacing(apperrors.CodeUnresolvedReference,
					fmt.Sprintf("config key %q references %s.%s which has not been produced", k, parts[1], parts[2]),
					"check the dependency declaration of the referencing node")
			}
			return value
		})
		if missing != nil {
			return nil, missing
		}
	}
	return resolved, nil
}

// ResolvePartial substitutes the placeholders that are resolvable and
// leaves the rest verbatim. Dry runs use it: a preview cannot apply the
// producing node, so its consumers keep the placeholder text.
func (e *Envelope) ResolvePartial(config map[string]string) map[string]string {
	resolved := make(map[string]string, len(config))
	for k, v := range config {
		resolved[k] = refPattern.ReplaceAllStringFunc(v, func(m string) string {
			parts := refPattern.FindStringSubmatch(m)
			if value, ok := e.Lookup(parts[1], parts[2]); ok {
				return value
			}
			return m
		})
	}
	return resolved
}

// ReferencedNodes returns the sorted unique node ids referenced by
// placeholders anywhere in the config template. The graph builder turns
// these into implicit dependency edges.
func ReferencedNodes(config map[string]string) []string {
	seen := make(map[string]bool)
	for _, v := range config {
		for _, m := range refPattern.FindAllStringSubmatch(v, -1) {
			seen[m[1]] = true
		}
	}
	var out []string
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
