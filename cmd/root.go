package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	workspaceRoot string
	configPath    string
	logLevel      string
	logFormat     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceRoot, "workspace", "w", "", "Workspace root directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Explicit config file, layered over user and workspace config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(planCmd, graphCmd, queryCmd, checkCmd, exportCmd, watchCmd, serveCmd)
}

var rootCmd = &cobra.Command{
	Use:   "vaultgraph",
	Short: "vaultgraph: live RDF graphs and queries over a Markdown vault",
	Long: `vaultgraph reads graph-data and query fences out of Markdown documents,
materializes one RDF graph per document, and keeps every embedded query's
result current as documents change.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger builds the process logger. Logs go to stderr so command
// output on stdout stays machine readable.
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("service", "vaultgraph")
}
