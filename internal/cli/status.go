package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/slipway-io/slipway/internal/engine"
	"github.com/slipway-io/slipway/internal/health"
	"github.com/slipway-io/slipway/internal/record"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live resource state and the last recorded deploy",
	Long: `Status probes every resource once, reports whether it matches the
configuration, checks the application's health endpoint and prints the
last recorded deployment.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit the report as JSON")
}

// statusReport is the machine-readable shape behind --json.
type statusReport struct {
	Nodes      []statusNode   `json:"nodes"`
	Health     string         `json:"health"`
	LastDeploy *record.Record `json:"lastDeploy,omitempty"`
}

type statusNode struct {
	NodeID      string   `json:"nodeId"`
	Identity    string   `json:"identity"`
	State       string   `json:"state"`
	ChangedKeys []string `json:"changedKeys,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	rows, env := orch.Preview(ctx, plan)

	healthText := "unknown"
	var signal health.Signal
	probed := false
	if !cfg.Health.Disabled {
		if checker := checkerFor(cfg, reg, plan.Nodes)(env); checker != nil {
			signal = oneShotCheck(ctx, checker)
			probed = true
			healthText = string(signal)
		}
	} else {
		healthText = "not-checked"
	}

	var rec *record.Record
	if !cfg.Record.Disabled {
		r, err := record.NewStore(cfg.Record.Dir).ReadLatest()
		switch {
		case errors.Is(err, record.ErrNoRecord):
		case err != nil:
			return err
		default:
			rec = r
		}
	}

	if statusJSON {
		report := statusReport{Health: healthText, LastDeploy: rec}
		for _, row := range rows {
			report.Nodes = append(report.Nodes, statusRow(row))
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tRESOURCE\tSTATE")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.NodeID, row.Identity, statusWord(row))
	}
	tw.Flush()

	fmt.Println()
	switch {
	case cfg.Health.Disabled:
		fmt.Println("Application health: not checked")
	case probed:
		fmt.Println("Application health: " + healthWord(signal))
	default:
		fmt.Println("Application health: no reachable endpoint")
	}

	if cfg.Record.Disabled {
		return nil
	}
	if rec == nil {
		fmt.Println("No deployment recorded.")
	} else {
		fmt.Printf("Last deploy: %s (%s), tag %s, finished %s\n",
			rec.RunState, rec.HealthStatus, rec.VersionTag,
			rec.FinishedAt.Local().Format(time.RFC822))
	}
	return nil
}

func statusRow(row engine.PreviewRow) statusNode {
	n := statusNode{
		NodeID:      row.NodeID,
		Identity:    row.Identity,
		ChangedKeys: row.ChangedKeys,
	}
	switch {
	case row.Err != nil:
		n.State = "error"
		n.Error = ErrorText(row.Err)
	case row.Action == engine.PreviewCreate:
		n.State = "missing"
	case row.Action == engine.PreviewUpdate:
		n.State = "drifted"
	default:
		n.State = "in-sync"
	}
	return n
}

func oneShotCheck(ctx context.Context, checker health.Checker) health.Signal {
	signal, err := checker.Check(ctx)
	if err != nil {
		return health.Failed
	}
	return signal
}

// statusWord stays uncolored: escape sequences would throw off the
// tabwriter's column widths.
func statusWord(row engine.PreviewRow) string {
	switch {
	case row.Err != nil:
		return "error"
	case row.Action == engine.PreviewCreate:
		return "missing"
	case row.Action == engine.PreviewUpdate:
		return "drifted [" + strings.Join(row.ChangedKeys, ", ") + "]"
	default:
		return "in sync"
	}
}

func healthWord(s health.Signal) string {
	switch s {
	case health.Ready:
		return green("healthy")
	case health.Failed:
		return red("failed")
	default:
		return yellow("not ready")
	}
}
