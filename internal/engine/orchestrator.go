package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slipway-io/slipway/internal/health"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/provider"
)

// Orchestrator drives a run through its states: Planning (graph build),
// Executing (per-node probe/apply in topological order), Converging
// (application health), then a terminal Succeeded, Failed or
// PartiallyFailed. Re-running a failed deployment is the recovery
// mechanism; nothing about a run is persisted.
type Orchestrator struct {
	executor *Executor

	// Parallelism 1 executes nodes strictly one at a time. Higher values
	// run independent branches concurrently in dependency waves.
	Parallelism int

	// Progress receives node transitions, OnRunState run transitions.
	Progress   ProgressFunc
	OnRunState func(ir.RunState)
}

func NewOrchestrator(x *Executor) *Orchestrator {
	return &Orchestrator{executor: x, Parallelism: 1}
}

// DeployRequest parameterizes one run.
type DeployRequest struct {
	Nodes []*ir.Node

	// VersionTag identifies the rollout in reports, conventionally the
	// image tag being deployed.
	VersionTag string

	// CheckerFor builds the health checker once execution finished,
	// reading whatever endpoint the application produced into the
	// envelope. Nil skips convergence.
	CheckerFor func(env *Envelope) health.Checker

	HealthTimeout  time.Duration
	HealthInterval time.Duration
}

// Deploy runs the full state machine. Graph errors return before any
// provider call; execution failures are reported in the outcome, not as
// an error.
func (o *Orchestrator) Deploy(ctx context.Context, req DeployRequest) (*ir.DeploymentOutcome, error) {
	o.runState(ir.RunPlanning)
	plan, err := BuildPlan(req.Nodes)
	if err != nil {
		return nil, err
	}

	outcome := &ir.DeploymentOutcome{
		PlanVersionTag: req.VersionTag,
		HealthStatus:   ir.HealthUnknown,
		StartedAt:      time.Now(),
	}

	o.runState(ir.RunExecuting)
	env := NewEnvelope()
	results := o.execute(ctx, plan, env)

	allDone := true
	requiredDone := true
	for _, node := range plan.Nodes {
		res := results[node.ID]
		if res == nil {
			res = &ir.ExecutionResult{NodeID: node.ID, Identity: node.Identity(), Status: ir.StatusPending}
		}
		outcome.PerNode = append(outcome.PerNode, res)
		if res.Status == ir.StatusFailed || res.Status == ir.StatusPending {
			allDone = false
			if !node.BestEffort() {
				requiredDone = false
			}
		}
	}

	switch {
	case allDone:
		outcome.RunState = ir.RunSucceeded
	case requiredDone:
		outcome.RunState = ir.RunPartiallyFailed
	default:
		outcome.RunState = ir.RunFailed
	}

	if outcome.RunState != ir.RunFailed && req.CheckerFor != nil && o.applicationDone(plan, results) {
		// A nil checker means no endpoint could be resolved; health
		// stays Unknown rather than polling nothing.
		if checker := req.CheckerFor(env); checker != nil {
			o.runState(ir.RunConverging)
			poller := health.NewPoller(checker, req.HealthTimeout, req.HealthInterval)
			// Convergence never flips an infrastructure success to
			// Failed; a timed-out wait is reported as Unknown health.
			outcome.HealthStatus = health.Map(poller.WaitHealthy(ctx))
		}
	}

	outcome.FinishedAt = time.Now()
	o.runState(outcome.RunState)
	return outcome, nil
}

func (o *Orchestrator) runState(s ir.RunState) {
	if o.OnRunState != nil {
		o.OnRunState(s)
	}
}

// applicationDone reports whether the terminal application node reached
// a convergable status.
func (o *Orchestrator) applicationDone(plan *ir.RunPlan, results map[string]*ir.ExecutionResult) bool {
	ok := false
	for _, node := range plan.Nodes {
		if node.Kind != ir.KindApplication {
			continue
		}
		res := results[node.ID]
		ok = res != nil && res.Status != ir.StatusFailed && res.Status != ir.StatusPending
	}
	return ok
}

func (o *Orchestrator) execute(ctx context.Context, plan *ir.RunPlan, env *Envelope) map[string]*ir.ExecutionResult {
	if o.Parallelism > 1 {
		return o.executeParallel(ctx, plan, env)
	}
	return o.executeSequential(ctx, plan, env)
}

// executeSequential is the reference behavior: one node at a time in
// plan order, stopping at the first Required failure. Cancellation takes
// effect at node boundaries only.
func (o *Orchestrator) executeSequential(ctx context.Context, plan *ir.RunPlan, env *Envelope) map[string]*ir.ExecutionResult {
	results := make(map[string]*ir.ExecutionResult, len(plan.Nodes))

	for _, node := range plan.Nodes {
		if ctx.Err() != nil {
			logging.Warn("run cancelled; skipping remaining nodes", "node", node.ID)
			break
		}
		if !depsDone(node, results) {
			continue
		}

		res := o.executor.Execute(ctx, node, env, o.Progress)
		results[node.ID] = res

		if res.Status == ir.StatusFailed {
			if node.BestEffort() {
				logging.Warn("best-effort node failed; continuing",
					"node", node.ID, "kind", res.ErrorKind)
				continue
			}
			break
		}
	}
	return results
}

// executeParallel runs dependency waves: every node whose dependencies
// are Done starts concurrently, bounded by Parallelism. When a Required
// node fails, nodes already in flight finish their wave and no new wave
// starts.
func (o *Orchestrator) executeParallel(ctx context.Context, plan *ir.RunPlan, env *Envelope) map[string]*ir.ExecutionResult {
	var mu sync.Mutex
	results := make(map[string]*ir.ExecutionResult, len(plan.Nodes))
	halted := false

	for {
		if ctx.Err() != nil || halted {
			break
		}

		var ready []*ir.Node
		for _, node := range plan.Nodes {
			if _, started := results[node.ID]; started {
				continue
			}
			if depsDone(node, results) {
				ready = append(ready, node)
			}
		}
		if len(ready) == 0 {
			break
		}

		g := new(errgroup.Group)
		g.SetLimit(o.Parallelism)
		for _, node := range ready {
			g.Go(func() error {
				res := o.executor.Execute(ctx, node, env, o.Progress)
				mu.Lock()
				results[node.ID] = res
				if res.Status == ir.StatusFailed && !node.BestEffort() {
					halted = true
				}
				mu.Unlock()
				if res.Status == ir.StatusFailed && node.BestEffort() {
					logging.Warn("best-effort node failed; continuing",
						"node", node.ID, "kind", res.ErrorKind)
				}
				return nil
			})
		}
		g.Wait()
	}
	return results
}

// depsDone reports whether every dependency reached a Done status.
func depsDone(node *ir.Node, results map[string]*ir.ExecutionResult) bool {
	for _, dep := range node.DependsOn {
		res, ok := results[dep]
		if !ok || res.Status == ir.StatusFailed || res.Status == ir.StatusPending {
			return false
		}
	}
	return true
}

// PreviewAction is what a deploy would do to one node.
type PreviewAction string

const (
	PreviewCreate PreviewAction = "create"
	PreviewUpdate PreviewAction = "update"
	PreviewNoop   PreviewAction = "noop"
)

// PreviewRow is one line of a dry run.
type PreviewRow struct {
	NodeID      string
	Identity    string
	Action      PreviewAction
	ChangedKeys []string
	Err         error
}

// Preview probes every node in plan order without applying anything.
// Secrets observed on existing resources feed later probes, so a
// preview over a half-deployed topology resolves the same references a
// real run would. Keys still carrying unresolved placeholders are not
// counted as drift. The returned envelope holds everything the existing
// resources produced, which is how status reaches the application URL.
func (o *Orchestrator) Preview(ctx context.Context, plan *ir.RunPlan) ([]PreviewRow, *Envelope) {
	env := NewEnvelope()
	rows := make([]PreviewRow, 0, len(plan.Nodes))

	for _, node := range plan.Nodes {
		row := PreviewRow{NodeID: node.ID, Identity: node.Identity()}

		resolved := env.ResolvePartial(node.Config)
		adapter, err := o.executor.registry.Get(node.Kind)
		if err != nil {
			row.Err = err
			rows = append(rows, row)
			continue
		}

		req := provider.Request{Kind: node.Kind, Name: node.Name, Config: resolved}
		var observed provider.Observation
		err = RetryTransient(ctx, o.executor.probePolicy, func() error {
			obs, perr := adapter.Describe(ctx, req)
			if perr != nil {
				return classifyProbeError(perr)
			}
			observed = obs
			return nil
		})
		if err != nil {
			row.Err = err
			rows = append(rows, row)
			continue
		}

		if !observed.Exists {
			row.Action = PreviewCreate
		} else {
			changed := changedKeys(withoutPlaceholders(resolved), observed.Attrs)
			if len(changed) == 0 {
				row.Action = PreviewNoop
			} else {
				row.Action = PreviewUpdate
				row.ChangedKeys = changed
			}
			if err := env.Merge(node.ID, observed.Secrets); err != nil {
				row.Err = err
			}
		}
		rows = append(rows, row)
	}
	return rows, env
}

func withoutPlaceholders(config map[string]string) map[string]string {
	out := make(map[string]string, len(config))
	for k, v := range config {
		if refPattern.MatchString(v) {
			continue
		}
		out[k] = v
	}
	return out
}
