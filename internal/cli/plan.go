package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slipway-io/slipway/internal/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a deploy would change",
	Long: `Plan probes every resource in the topology and reports what a deploy
would do, without changing anything. Secrets observed on existing
resources feed later probes, so a plan over a half-deployed topology
resolves the same references a real deploy would.`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reg, err := registryFor(ctx, cfg)
	if err != nil {
		return err
	}
	plan, err := engine.BuildPlan(cfg.Topology())
	if err != nil {
		return err
	}

	orch := engine.NewOrchestrator(engine.NewExecutor(reg).WithNodeTimeout(cfg.Deployment.NodeTimeout))
	rows, _ := orch.Preview(ctx, plan)

	fmt.Printf("Slipway will converge the following resources:\n\n")
	creates, updates, errs := renderPreview(os.Stdout, rows)

	fmt.Printf("\nPlan: %d to create, %d to update, %d up to date.\n",
		creates, updates, len(rows)-creates-updates-errs)
	if errs > 0 {
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d resource(s) could not be probed", errs)}
	}
	return nil
}
