package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway-io/slipway/internal/engine"
	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/record"
)

var deployYes bool

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Provision the topology and roll the application out",
	Long: `Deploy converges every resource the application needs and rolls out the
configured image. Resources that already match the configuration are
left untouched, so re-running a failed deploy picks up where it
stopped.

Exit codes: 0 when the run succeeded, 1 when a required resource
failed, 2 when only best-effort resources failed.`,
	RunE: runDeploy,
}

func init() {
	f := deployCmd.Flags()
	f.BoolVarP(&deployYes, "yes", "y", false, "Skip the confirmation prompt")
	f.Int("parallel", 1, "Nodes provisioned concurrently (independent branches only)")
	f.Duration("timeout", 10*time.Minute, "Per-node provisioning timeout")
	f.Duration("health-timeout", 5*time.Minute, "How long to wait for the application to report healthy")
	f.Duration("health-interval", 10*time.Second, "Delay between health probes")
	f.String("health-url", "", "Probe this URL instead of the deployed application's endpoint")
	f.Bool("skip-health", false, "Skip the post-deploy health wait")
	f.String("record-s3-bucket", "", "Archive deployment records in this S3 bucket")
	f.String("lock-table", "", "DynamoDB table backing the distributed deploy lock")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	nodes := cfg.Topology()

	fmt.Printf("Deploying %s (image %s) to %s via the %s provider\n\n",
		cfg.Deployment.App, cfg.Deployment.Image, cfg.Deployment.Location, cfg.Provider.Name)
	for _, n := range nodes {
		suffix := ""
		if n.BestEffort() {
			suffix = " (best-effort)"
		}
		fmt.Printf("  %-10s %s%s\n", n.ID, n.Identity(), suffix)
	}

	if !deployYes {
		fmt.Print("\nProceed with the deployment? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Deploy cancelled.")
			return nil
		}
	}
	fmt.Println()

	reg, err := registryFor(ctx, cfg)
	if err != nil {
		return err
	}

	// Local lock first. It is cheap and catches a concurrent deploy from
	// the same checkout before any network call.
	var store *record.Store
	if !cfg.Record.Disabled {
		store = record.NewStore(cfg.Record.Dir)
		lock, err := store.Lock()
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	archive, err := archiveFor(ctx, cfg)
	if err != nil {
		return err
	}
	// The tail context survives a Ctrl-C so locks are released and the
	// interrupted run still gets recorded.
	tail := context.WithoutCancel(ctx)
	if archive != nil && cfg.Record.LockTable != "" {
		if err := archive.Lock(ctx, cfg.Deployment.App); err != nil {
			return err
		}
		defer archive.Unlock(tail, cfg.Deployment.App)
	}

	x := engine.NewExecutor(reg).WithNodeTimeout(cfg.Deployment.NodeTimeout)
	orch := engine.NewOrchestrator(x)
	orch.Parallelism = cfg.Deployment.Parallelism
	orch.Progress = progressPrinter(os.Stdout, os.Stderr)
	orch.OnRunState = runStatePrinter(os.Stdout)

	outcome, err := orch.Deploy(ctx, engine.DeployRequest{
		Nodes:          nodes,
		VersionTag:     versionTag(cfg.Deployment.Image),
		CheckerFor:     checkerFor(cfg, reg, nodes),
		HealthTimeout:  cfg.Health.Timeout,
		HealthInterval: cfg.Health.Interval,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	renderOutcome(os.Stdout, outcome)

	rec := record.FromOutcome(outcome, cfg.Deployment.App, cfg.Provider.Name, regionFor(cfg))
	if store != nil {
		if err := store.Write(rec); err != nil {
			logging.Warn("unable to write the deployment record", "error", err)
		}
	}
	if archive != nil {
		if err := archive.Put(tail, rec); err != nil {
			logging.Warn("unable to archive the deployment record", "error", err)
		}
	}
	if err := notifierFor(cfg).Notify(tail, rec); err != nil {
		logging.Warn("deployment notification failed", "error", err)
	}

	switch outcome.RunState {
	case ir.RunSucceeded:
		return nil
	case ir.RunPartiallyFailed:
		return &ExitError{Code: 2, Message: "deploy partially failed; best-effort resources did not converge"}
	default:
		return &ExitError{Code: 1, Message: "deploy failed"}
	}
}
