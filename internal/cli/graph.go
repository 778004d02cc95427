package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slipway-io/slipway/internal/engine"
)

var graphDot bool

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the topology and its execution order",
	Long: `Graph prints the nodes of the deployment topology in the order a deploy
would execute them. With --dot it emits the dependency graph in
Graphviz DOT format instead:

  slipway graph --dot | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().BoolVar(&graphDot, "dot", false, "Emit Graphviz DOT instead of the ordered list")
}

func runGraph(cmd *cobra.Command, args []string) error {
	plan, err := engine.BuildPlan(cfg.Topology())
	if err != nil {
		return err
	}

	if graphDot {
		renderDOT(os.Stdout, plan)
		return nil
	}

	fmt.Println("Execution order:")
	for i, n := range plan.Nodes {
		var notes []string
		if len(n.DependsOn) > 0 {
			notes = append(notes, "after "+strings.Join(n.DependsOn, ", "))
		}
		if n.BestEffort() {
			notes = append(notes, "best-effort")
		}
		suffix := ""
		if len(notes) > 0 {
			suffix = "  (" + strings.Join(notes, "; ") + ")"
		}
		fmt.Printf("  %2d. %-10s %s%s\n", i+1, n.ID, n.Identity(), suffix)
	}
	return nil
}
