package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/slipway-io/slipway/internal/engine"
	apperrors "github.com/slipway-io/slipway/internal/errors"
	"github.com/slipway-io/slipway/internal/ir"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// progressPrinter streams node transitions to out, one line per event.
// Provider error detail goes to errOut so that piped stdout stays a
// clean progress log.
func progressPrinter(out, errOut io.Writer) engine.ProgressFunc {
	return func(ev engine.Event) {
		switch ev.State {
		case ir.NodeProbing:
			fmt.Fprintln(out, faint(fmt.Sprintf("   %-10s probing %s", ev.NodeID, ev.Identity)))
		case ir.NodeApplying:
			fmt.Fprintf(out, " ~ %-10s applying\n", ev.NodeID)
		case ir.NodeDone:
			switch ev.Status {
			case ir.StatusAlreadyExists:
				fmt.Fprintf(out, "   %-10s already up to date (%s)\n", ev.NodeID, round(ev.Duration))
			case ir.StatusCreated:
				fmt.Fprintln(out, green(fmt.Sprintf(" + %-10s created (%s)", ev.NodeID, round(ev.Duration))))
			case ir.StatusUpdated:
				fmt.Fprintln(out, yellow(fmt.Sprintf(" ~ %-10s updated [%s] (%s)",
					ev.NodeID, strings.Join(ev.ChangedKeys, ", "), round(ev.Duration))))
			}
		case ir.NodeFailed:
			fmt.Fprintln(out, red(fmt.Sprintf(" x %-10s failed (%s)", ev.NodeID, round(ev.Duration))))
			if ev.Err != nil {
				fmt.Fprintf(errOut, "Error: %s: %s\n", ev.NodeID, ErrorText(ev.Err))
			}
		}
	}
}

// runStatePrinter announces run phase transitions. Terminal states are
// rendered by the outcome summary instead.
func runStatePrinter(out io.Writer) func(ir.RunState) {
	return func(state ir.RunState) {
		switch state {
		case ir.RunPlanning:
			fmt.Fprintln(out, "==> Planning")
		case ir.RunExecuting:
			fmt.Fprintln(out, "==> Executing")
		case ir.RunConverging:
			fmt.Fprintln(out, "==> Waiting for the application to report healthy")
		}
	}
}

// renderOutcome prints the per-node results table and the run verdict.
func renderOutcome(w io.Writer, outcome *ir.DeploymentOutcome) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tRESOURCE\tSTATUS\tDURATION")
	for _, res := range outcome.PerNode {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.NodeID, res.Identity, res.Status, round(res.Duration))
	}
	tw.Flush()

	state := string(outcome.RunState)
	switch outcome.RunState {
	case ir.RunSucceeded:
		state = green(state)
	case ir.RunPartiallyFailed:
		state = yellow(state)
	case ir.RunFailed:
		state = red(state)
	}
	fmt.Fprintf(w, "\nRun %s in %s", state, round(outcome.FinishedAt.Sub(outcome.StartedAt)))
	if outcome.HealthStatus != ir.HealthUnknown {
		fmt.Fprintf(w, ", application %s", outcome.HealthStatus)
	}
	fmt.Fprintln(w)
}

// renderPreview prints dry-run rows and returns the per-action counts.
func renderPreview(w io.Writer, rows []engine.PreviewRow) (creates, updates, errs int) {
	for _, row := range rows {
		switch {
		case row.Err != nil:
			errs++
			fmt.Fprintln(w, red(fmt.Sprintf("  ! %-10s %s could not be probed", row.NodeID, row.Identity)))
			fmt.Fprintf(w, "      %s\n", ErrorText(row.Err))
		case row.Action == engine.PreviewCreate:
			creates++
			fmt.Fprintln(w, green(fmt.Sprintf("  + %-10s %s will be created", row.NodeID, row.Identity)))
		case row.Action == engine.PreviewUpdate:
			updates++
			fmt.Fprintln(w, yellow(fmt.Sprintf("  ~ %-10s %s will be updated [%s]",
				row.NodeID, row.Identity, strings.Join(row.ChangedKeys, ", "))))
		default:
			fmt.Fprintf(w, "    %-10s %s is up to date\n", row.NodeID, row.Identity)
		}
	}
	return creates, updates, errs
}

// renderDOT emits the dependency graph in Graphviz DOT format, edges
// pointing from each resource to what it depends on.
func renderDOT(w io.Writer, plan *ir.RunPlan) {
	identities := make(map[string]string, len(plan.Nodes))
	for _, n := range plan.Nodes {
		identities[n.ID] = n.Identity()
	}

	fmt.Fprintln(w, "digraph slipway {")
	fmt.Fprintln(w, "  rankdir = \"BT\";")
	fmt.Fprintln(w, "  node [shape = rect];")
	fmt.Fprintln(w)
	for _, n := range plan.Nodes {
		fmt.Fprintf(w, "  %q;\n", n.Identity())
	}
	fmt.Fprintln(w)
	for _, n := range plan.Nodes {
		for _, dep := range n.DependsOn {
			fmt.Fprintf(w, "  %q -> %q;\n", n.Identity(), identities[dep])
		}
	}
	fmt.Fprintln(w, "}")
}

// ErrorText formats an error for the terminal, appending the suggested
// action when the error carries one.
func ErrorText(err error) string {
	msg, suggestion, ok := apperrors.GetUserFacingMessage(err)
	if !ok {
		return err.Error()
	}
	if suggestion != "" {
		return msg + " (" + suggestion + ")"
	}
	return msg
}

func round(d time.Duration) time.Duration {
	if d >= time.Second {
		return d.Round(100 * time.Millisecond)
	}
	return d.Round(time.Millisecond)
}
