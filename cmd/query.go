package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vaultgraph/internal/evaluate"
	"github.com/agentic-research/vaultgraph/internal/live"
)

var queryJSON bool

func init() {
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print results as SPARQL JSON results")
}

var queryCmd = &cobra.Command{
	Use:   "query <query-id>",
	Short: "Print the current result of a live query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		u, ok := s.coord.LastUpdate(args[0])
		if !ok {
			return fmt.Errorf("%s: %w", args[0], live.ErrUnknownQuery)
		}
		return printUpdate(cmd.OutOrStdout(), u, queryJSON)
	},
}

func printUpdate(w io.Writer, u live.Update, asJSON bool) error {
	for _, warn := range u.Warnings {
		fmt.Fprintf(w, "# warning: %s\n", warn)
	}
	if u.Err != nil {
		_, err := fmt.Fprintf(w, "# error (%s): %v\n", evaluate.KindOf(u.Err), u.Err)
		return err
	}
	if u.Result == nil {
		return nil
	}
	if asJSON {
		_, err := fmt.Fprintln(w, u.Result.JSON())
		return err
	}
	return u.Result.WriteText(w)
}
