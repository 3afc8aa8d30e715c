package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/plan"
)

var (
	planText string
	planFrom string
)

func init() {
	planCmd.Flags().StringVar(&planText, "query", "", "Plan an ad hoc SPARQL query instead of a live one")
	planCmd.Flags().StringVar(&planFrom, "from", "", "Document the ad hoc query is evaluated from")
}

var planCmd = &cobra.Command{
	Use:   "plan [query-id]",
	Short: "Show which graphs a query loads",
	Long: `Without arguments, list every live query with its strategy and graph count.
With a query id (path#ordinal), describe that query's plan. With --query,
plan an ad hoc query as if it were written in the --from document.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()
		out := cmd.OutOrStdout()

		if planText != "" {
			requesting := address.Workspace()
			if planFrom != "" {
				requesting = address.Document(planFrom)
			}
			p := s.coord.PlanQuery(plan.Query{ID: "adhoc", Text: planText, Requesting: requesting})
			_, err := fmt.Fprint(out, p.Describe())
			return err
		}

		if len(args) == 1 {
			p, err := s.coord.PlanAndDescribe(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(out, p.Describe())
			return err
		}

		for _, id := range s.coord.Queries() {
			p, err := s.coord.PlanAndDescribe(id)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "%s\t%s\t%d graph(s)\t%d warning(s)\n", id, p.Strategy, len(p.Specs), len(p.Warnings))
		}
		return nil
	},
}
