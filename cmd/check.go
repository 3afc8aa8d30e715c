package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report fragments that fail to parse and queries that fail to run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()
		out := cmd.OutOrStdout()

		problems := 0
		for _, p := range s.coord.Workspace().Paths() {
			errs, err := s.coord.Diagnostics(cmd.Context(), p)
			if err != nil {
				return err
			}
			for _, e := range errs {
				fmt.Fprintf(out, "%s:%d: %s: %v\n", p, e.Span.StartLine, e.Syntax, e.Err)
				problems++
			}
		}
		for _, id := range s.coord.Queries() {
			u, ok := s.coord.LastUpdate(id)
			if !ok {
				continue
			}
			for _, w := range u.Warnings {
				fmt.Fprintf(out, "%s: warning: %s\n", id, w)
			}
			if u.Err != nil {
				fmt.Fprintf(out, "%s: error: %v\n", id, u.Err)
				problems++
			}
		}

		if problems > 0 {
			return fmt.Errorf("%d problem(s) found", problems)
		}
		fmt.Fprintf(out, "%d document(s), %d quer(ies): ok\n", s.coord.Workspace().Len(), len(s.coord.Queries()))
		return nil
	},
}
