package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/agentic-research/vaultgraph/internal/agent"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the live workspace to agents over MCP (stdio)",
	Long: `Serve the live workspace over the Model Context Protocol on stdin/stdout.
Documents are watched while serving, so tool results always reflect the
current state of the vault. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, sessionOptions{watch: true})
		if err != nil {
			return err
		}
		defer s.Close()

		go func() {
			if err := s.engine.Run(ctx, s.watcher.Events()); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Event loop stopped", "error", err)
			}
		}()

		s.logger.Info("Serving MCP on stdio", "documents", s.coord.Workspace().Len(), "queries", len(s.coord.Queries()))
		return server.ServeStdio(agent.NewServer(s.coord))
	},
}
