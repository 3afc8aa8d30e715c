package cmd

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vaultgraph/internal/address"
)

var graphCmd = &cobra.Command{
	Use:   "graph [address]",
	Short: "Print the graph at an address as N-Quads",
	Long: `Print the graph at an address as N-Quads. Addresses are vault://path for a
document, vault://dir/ for a subtree, vault:// for the workspace and
meta:// or meta://ontology for the metadata graphs. Defaults to vault://.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := address.Workspace()
		if len(args) == 1 {
			var err error
			if a, err = address.Parse(args[0]); err != nil {
				return err
			}
		}

		s, err := openSession(cmd.Context(), sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		g, err := s.coord.GraphSnapshot(cmd.Context(), a)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(cmd.OutOrStdout())
		for q := range g.All() {
			fmt.Fprintln(w, q.String())
		}
		return w.Flush()
	},
}
