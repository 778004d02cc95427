package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/slipway-io/slipway/internal/errors"
)

// scriptedAdapter fakes provider behavior per resource name: which
// resources already exist, which describe calls fail (consumed in
// order), which applies fail and which secrets an apply produces.
type scriptedAdapter struct {
	mu           sync.Mutex
	existing     map[string]provider.Observation
	describeErrs map[string][]error
	applyErr     map[string]error
	produced     map[string]map[string]string

	describes []string
	applies   []string
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{
		existing:     make(map[string]provider.Observation),
		describeErrs: make(map[string][]error),
		applyErr:     make(map[string]error),
		produced:     make(map[string]map[string]string),
	}
}

func (s *scriptedAdapter) Describe(_ context.Context, req provider.Request) (provider.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.describes = append(s.describes, req.Name)

	if errs := s.describeErrs[req.Name]; len(errs) > 0 {
		err := errs[0]
		s.describeErrs[req.Name] = errs[1:]
		return provider.Observation{}, err
	}
	if obs, ok := s.existing[req.Name]; ok {
		return obs, nil
	}
	return provider.NotFound(), nil
}

func (s *scriptedAdapter) CreateOrUpdate(_ context.Context, req provider.Request, _ provider.Observation) (provider.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applies = append(s.applies, req.Name)

	if err := s.applyErr[req.Name]; err != nil {
		return provider.Result{}, err
	}

	secrets := s.produced[req.Name]
	// Subsequent describes observe what was applied.
	s.existing[req.Name] = provider.FoundWithSecrets(req.Config, secrets)
	return provider.Result{Secrets: secrets}, nil
}

func (s *scriptedAdapter) describeCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.describes {
		if d == name {
			n++
		}
	}
	return n
}

// testRegistry serves the scripted adapter for every kind.
func testRegistry(a provider.Adapter) *provider.Registry {
	reg := provider.NewRegistry()
	for _, k := range ir.Kinds() {
		reg.Register(k, a)
	}
	return reg
}

func testExecutor(a provider.Adapter) *Executor {
	return NewExecutor(testRegistry(a)).WithProbePolicy(fastPolicy())
}

func TestExecute_CreatesMissingResource(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.produced["sessions"] = map[string]string{"connectionString": "redis://host:6379"}

	x := testExecutor(adapter)
	env := NewEnvelope()
	node := &ir.Node{ID: "cache", Kind: ir.KindCache, Name: "sessions"}

	res := x.Execute(context.Background(), node, env, nil)

	assert.Equal(t, ir.StatusCreated, res.Status)
	assert.Equal(t, []string{"sessions"}, adapter.applies)
	assert.Equal(t, []string{"connectionString"}, res.SecretKeys)

	got, ok := env.Lookup("cache", "connectionString")
	require.True(t, ok)
	assert.Equal(t, "redis://host:6379", got)
}

func TestExecute_SkipsUnchangedResource(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.existing["sessions"] = provider.Found(map[string]string{"nodeType": "cache.t4g.micro"})

	x := testExecutor(adapter)
	node := &ir.Node{
		ID: "cache", Kind: ir.KindCache, Name: "sessions",
		Config: map[string]string{"nodeType": "cache.t4g.micro"},
	}

	res := x.Execute(context.Background(), node, NewEnvelope(), nil)

	assert.Equal(t, ir.StatusAlreadyExists, res.Status)
	assert.Empty(t, adapter.applies, "no apply for a converged resource")
}

func TestExecute_SkipStillPropagatesSecrets(t *testing.T) {
	// A re-run never applies the cache again, yet the app still needs
	// its connection string. Existing resources surface their secrets
	// through the observation.
	adapter := newScriptedAdapter()
	adapter.existing["sessions"] = provider.FoundWithSecrets(
		map[string]string{"nodeType": "cache.t4g.micro"},
		map[string]string{"connectionString": "redis://host:6379"},
	)

	x := testExecutor(adapter)
	env := NewEnvelope()
	node := &ir.Node{
		ID: "cache", Kind: ir.KindCache, Name: "sessions",
		Config: map[string]string{"nodeType": "cache.t4g.micro"},
	}

	res := x.Execute(context.Background(), node, env, nil)

	assert.Equal(t, ir.StatusAlreadyExists, res.Status)
	got, ok := env.Lookup("cache", "connectionString")
	require.True(t, ok)
	assert.Equal(t, "redis://host:6379", got)
}

func TestExecute_UpdatesDriftedResource(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.existing["sessions"] = provider.Found(map[string]string{
		"nodeType": "cache.t4g.micro",
		"engine":   "redis",
	})

	x := testExecutor(adapter)
	node := &ir.Node{
		ID: "cache", Kind: ir.KindCache, Name: "sessions",
		Config: map[string]string{"nodeType": "cache.t4g.small", "engine": "redis"},
	}

	res := x.Execute(context.Background(), node, NewEnvelope(), nil)

	assert.Equal(t, ir.StatusUpdated, res.Status)
	assert.Equal(t, []string{"nodeType"}, res.ChangedKeys)
	assert.Equal(t, []string{"sessions"}, adapter.applies)
}

func TestExecute_UnobservedKeysAreNotDrift(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.existing["sessions"] = provider.Found(map[string]string{"nodeType": "cache.t4g.micro"})

	x := testExecutor(adapter)
	node := &ir.Node{
		ID: "cache", Kind: ir.KindCache, Name: "sessions",
		Config: map[string]string{
			"nodeType": "cache.t4g.micro",
			"extra":    "the adapter never reports this",
		},
	}

	res := x.Execute(context.Background(), node, NewEnvelope(), nil)
	assert.Equal(t, ir.StatusAlreadyExists, res.Status)
}

func TestExecute_ProbeRecoversFromTransientFailures(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.describeErrs["sessions"] = []error{
		errors.New("ThrottlingException: Rate exceeded"),
		errors.New("dial tcp: i/o timeout"),
	}

	x := testExecutor(adapter)
	node := &ir.Node{ID: "cache", Kind: ir.KindCache, Name: "sessions"}

	res := x.Execute(context.Background(), node, NewEnvelope(), nil)

	assert.Equal(t, ir.StatusCreated, res.Status)
	assert.Equal(t, 3, adapter.describeCount("sessions"))
}

func TestExecute_ProbeExhaustionFailsWithTimeout(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.describeErrs["sessions"] = []error{
		errors.New("ThrottlingException: Rate exceeded"),
		errors.New("ThrottlingException: Rate exceeded"),
		errors.New("ThrottlingException: Rate exceeded"),
	}

	x := testExecutor(adapter)
	node := &ir.Node{ID: "cache", Kind: ir.KindCache, Name: "sessions"}

	res := x.Execute(context.Background(), node, NewEnvelope(), nil)

	assert.Equal(t, ir.StatusFailed, res.Status)
	assert.Equal(t, apperrors.CodeTimeout.String(), res.ErrorKind)
	assert.Equal(t, 3, adapter.describeCount("sessions"))
	assert.Empty(t, adapter.applies, "a failed probe never applies")
}

func TestExecute_ProbeRejectionFailsFast(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.describeErrs["sessions"] = []error{
		errors.New("AccessDeniedException: not authorized"),
	}

	x := testExecutor(adapter)
	node := &ir.Node{ID: "cache", Kind: ir.KindCache, Name: "sessions"}

	res := x.Execute(context.Background(), node, NewEnvelope(), nil)

	assert.Equal(t, ir.StatusFailed, res.Status)
	assert.Equal(t, apperrors.CodeProviderRejected.String(), res.ErrorKind)
	assert.Equal(t, 1, adapter.describeCount("sessions"))
}

func TestExecute_ApplyFailureIsNotRetried(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.applyErr["sessions"] = errors.New("CacheClusterLimitExceeded: quota reached")

	x := testExecutor(adapter)
	env := NewEnvelope()
	node := &ir.Node{ID: "cache", Kind: ir.KindCache, Name: "sessions"}

	res := x.Execute(context.Background(), node, env, nil)

	assert.Equal(t, ir.StatusFailed, res.Status)
	assert.Equal(t, apperrors.CodeProviderRejected.String(), res.ErrorKind)
	assert.Contains(t, res.ErrorDetail, "quota reached")
	assert.Equal(t, []string{"sessions"}, adapter.applies, "apply happens exactly once")
	assert.Empty(t, env.Keys("cache"), "a failed node contributes no secrets")
}

func TestExecute_UnresolvedReferenceFailsBeforeProbe(t *testing.T) {
	adapter := newScriptedAdapter()
	x := testExecutor(adapter)
	node := &ir.Node{
		ID: "app", Kind: ir.KindApplication, Name: "talentradar",
		Config: map[string]string{"CACHE_CONNECTION_STRING": "${cache.connectionString}"},
	}

	res := x.Execute(context.Background(), node, NewEnvelope(), nil)

	assert.Equal(t, ir.StatusFailed, res.Status)
	assert.Equal(t, apperrors.CodeUnresolvedReference.String(), res.ErrorKind)
	assert.Empty(t, adapter.describes, "no provider call for an unresolvable config")
}

func TestExecute_ResolvesConfigFromEnvelope(t *testing.T) {
	adapter := newScriptedAdapter()
	x := testExecutor(adapter)

	env := NewEnvelope()
	require.NoError(t, env.Merge("cache", map[string]string{"connectionString": "redis://host:6379"}))

	node := &ir.Node{
		ID: "app", Kind: ir.KindApplication, Name: "talentradar",
		Config: map[string]string{"CACHE_CONNECTION_STRING": "${cache.connectionString}"},
	}

	res := x.Execute(context.Background(), node, env, nil)
	require.Equal(t, ir.StatusCreated, res.Status)

	// The adapter saw the resolved value, never the placeholder.
	obs := adapter.existing["talentradar"]
	assert.Equal(t, "redis://host:6379", obs.Attrs["CACHE_CONNECTION_STRING"])
}

func TestExecute_EventSequenceOnCreate(t *testing.T) {
	adapter := newScriptedAdapter()
	x := testExecutor(adapter)
	node := &ir.Node{ID: "cache", Kind: ir.KindCache, Name: "sessions"}

	var states []ir.NodeState
	x.Execute(context.Background(), node, NewEnvelope(), func(ev Event) {
		states = append(states, ev.State)
	})

	assert.Equal(t, []ir.NodeState{ir.NodeProbing, ir.NodeApplying, ir.NodeDone}, states)
}

func TestExecute_EventSequenceOnSkip(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.existing["sessions"] = provider.Found(map[string]string{"nodeType": "cache.t4g.micro"})

	x := testExecutor(adapter)
	node := &ir.Node{
		ID: "cache", Kind: ir.KindCache, Name: "sessions",
		Config: map[string]string{"nodeType": "cache.t4g.micro"},
	}

	var events []Event
	x.Execute(context.Background(), node, NewEnvelope(), func(ev Event) {
		events = append(events, ev)
	})

	require.Len(t, events, 3)
	assert.Equal(t, ir.NodeProbing, events[0].State)
	assert.Equal(t, ir.NodeSkipping, events[1].State)
	assert.Equal(t, ir.NodeDone, events[2].State)
	assert.Equal(t, ir.StatusAlreadyExists, events[2].Status)
}
