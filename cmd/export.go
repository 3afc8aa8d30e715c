package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <output.db> [address...]",
	Short: "Write graph snapshots into a SQLite database",
	Long: `Write the graphs at the given addresses into a SQLite database, one
snapshot per address. Without addresses the workspace graph and the meta
graph are exported. Exporting an address again replaces its snapshot.
The dependency index is written as well and can be read back through the
dependencies table (address, query) from this process.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets := []address.Address{address.Workspace(), address.Meta()}
		if len(args) > 1 {
			targets = targets[:0]
			for _, raw := range args[1:] {
				a, err := address.Parse(raw)
				if err != nil {
					return err
				}
				targets = append(targets, a)
			}
		}

		s, err := openSession(cmd.Context(), sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		exp, err := export.NewSQLiteExporter(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = exp.Close() }()

		for _, a := range targets {
			n, err := exp.Export(cmd.Context(), s.coord.Store(), a)
			if err != nil {
				return err
			}
			s.logger.Info("Exported graph", "address", a.String(), "quads", n, "db", args[0])
		}
		deps, err := exp.WriteDependencies(cmd.Context(), s.coord.Index())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d graph(s) and %d dependency address(es) to %s\n", len(targets), deps, args[0])
		return nil
	},
}
