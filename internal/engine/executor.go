package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/provider"
)

// Executor runs the probe/decide/apply pipeline for a single node:
// resolve config, probe existence (with bounded retries), then skip,
// create or update. Apply itself is never retried here; re-running the
// whole orchestrator is the recovery path.
type Executor struct {
	registry    *provider.Registry
	probePolicy *RetryPolicy
	nodeTimeout time.Duration
}

func NewExecutor(registry *provider.Registry) *Executor {
	return &Executor{
		registry:    registry,
		probePolicy: DefaultProbePolicy(),
		nodeTimeout: DefaultNodeTimeout,
	}
}

// WithProbePolicy overrides the probe retry bounds.
func (x *Executor) WithProbePolicy(p *RetryPolicy) *Executor {
	x.probePolicy = p
	return x
}

// WithNodeTimeout overrides the per-node timeout.
func (x *Executor) WithNodeTimeout(d time.Duration) *Executor {
	x.nodeTimeout = d
	return x
}

// Execute drives one node to a terminal status and merges whatever
// secrets it produced into the envelope. Progress transitions are
// emitted through fn.
func (x *Executor) Execute(ctx context.Context, node *ir.Node, env *Envelope, fn ProgressFunc) *ir.ExecutionResult {
	start := time.Now()
	res := &ir.ExecutionResult{NodeID: node.ID, Identity: node.Identity()}

	fail := func(err error) *ir.ExecutionResult {
		res.Status = ir.StatusFailed
		res.Duration = time.Since(start)
		res.ErrorKind = apperrors.GetCode(err).String()
		res.ErrorDetail = err.Error()
		emit(fn, Event{NodeID: node.ID, Identity: res.Identity, State: ir.NodeFailed,
			Status: ir.StatusFailed, Duration: res.Duration, Err: err})
		return res
	}

	finish := func(status ir.Status, secrets map[string]string) *ir.ExecutionResult {
		res.Status = status
		res.Duration = time.Since(start)
		if len(secrets) > 0 {
			res.ProducedSecrets = secrets
			for k := range secrets {
				res.SecretKeys = append(res.SecretKeys, k)
			}
			sort.Strings(res.SecretKeys)
		}
		emit(fn, Event{NodeID: node.ID, Identity: res.Identity, State: ir.NodeDone,
			Status: status, ChangedKeys: res.ChangedKeys, Duration: res.Duration})
		return res
	}

	resolved, err := env.ResolveConfig(node.Config)
	if err != nil {
		return fail(err)
	}

	adapter, err := x.registry.Get(node.Kind)
	if err != nil {
		return fail(apperrors.Wrap(err, apperrors.CodeInternal, "adapter lookup"))
	}

	nctx, cancel := WithTimeout(ctx, x.nodeTimeout)
	defer cancel()

	req := provider.Request{Kind: node.Kind, Name: node.Name, Config: resolved}

	emit(fn, Event{NodeID: node.ID, Identity: res.Identity, State: ir.NodeProbing})
	var observed provider.Observation
	err = RetryTransient(nctx, x.probePolicy, func() error {
		o, perr := adapter.Describe(nctx, req)
		if perr != nil {
			return classifyProbeError(perr)
		}
		observed = o
		return nil
	})
	if err != nil {
		return fail(err)
	}

	if observed.Exists {
		changed := changedKeys(resolved, observed.Attrs)
		if len(changed) == 0 {
			emit(fn, Event{NodeID: node.ID, Identity: res.Identity, State: ir.NodeSkipping})
			if err := env.Merge(node.ID, observed.Secrets); err != nil {
				return fail(err)
			}
			return finish(ir.StatusAlreadyExists, observed.Secrets)
		}
		res.ChangedKeys = changed
		logging.Debug("config drift detected",
			"node", node.ID,
			"diff", cmp.Diff(observedSubset(observed.Attrs, changed), desiredSubset(resolved, changed)))
	}

	emit(fn, Event{NodeID: node.ID, Identity: res.Identity, State: ir.NodeApplying})
	result, err := adapter.CreateOrUpdate(nctx, req, observed)
	if err != nil {
		return fail(classifyApplyError(err))
	}

	secrets := mergeSecrets(observed.Secrets, result.Secrets)
	if err := env.Merge(node.ID, secrets); err != nil {
		return fail(err)
	}
	if observed.Exists {
		return finish(ir.StatusUpdated, secrets)
	}
	return finish(ir.StatusCreated, secrets)
}

// changedKeys compares desired config with observed attributes over
// their shared keys. Keys the adapter did not observe are not evidence
// of drift.
func changedKeys(desired, observed map[string]string) []string {
	var out []string
	for k, want := range desired {
		got, ok := observed[k]
		if ok && got != want {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func desiredSubset(m map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}

func observedSubset(m map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

func mergeSecrets(observed, applied map[string]string) map[string]string {
	if len(observed) == 0 {
		return applied
	}
	out := make(map[string]string, len(observed)+len(applied))
	for k, v := range observed {
		out[k] = v
	}
	for k, v := range applied {
		out[k] = v
	}
	return out
}

// classifyProbeError decides whether a describe failure is worth
// retrying. Typed errors keep their code; raw network and throttling
// errors become transient probe failures.
func classifyProbeError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if IsTransientError(err) {
		return apperrors.Recode(err, apperrors.CodeTransientProbe, "probe failed")
	}
	return apperrors.Wrap(err, apperrors.CodeProviderRejected, "probe rejected")
}

// classifyApplyError wraps provider-side create/update failures.
func classifyApplyError(err error) error {
	return apperrors.Wrap(err, apperrors.CodeProviderRejected, "provider rejected the operation")
}
