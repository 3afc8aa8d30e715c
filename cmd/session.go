package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentic-research/vaultgraph/internal/config"
	"github.com/agentic-research/vaultgraph/internal/fragment"
	"github.com/agentic-research/vaultgraph/internal/ingest"
	"github.com/agentic-research/vaultgraph/internal/live"
	"github.com/agentic-research/vaultgraph/internal/metrics"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

// session is a loaded workspace: every document ingested and every query
// evaluated once.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	host   *ingest.FSHost
	coord  *live.Coordinator
	engine *ingest.Engine
	// watcher is set when the session was opened with watch.
	watcher *ingest.Watcher
}

type sessionOptions struct {
	// registry, when set, receives the engine metrics.
	registry prometheus.Registerer
	// watch starts a filesystem watcher before the initial load so no
	// change between loading and watching is lost.
	watch bool
}

// openSession loads configuration, ingests the workspace and waits for
// the initial evaluation of every query.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	boot := setupLogger(logLevel, logFormat)
	cfg, err := config.NewLoader(boot).Load(workspaceRoot, configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	host, err := ingest.OpenFSHost(cfg.Workspace.Root, cfg.Workspace.Include, cfg.Workspace.Exclude)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	docs := workspace.New(fragment.NewExtractor(cfg.Fences))
	coord := live.New(docs, live.Options{
		Debounce:          cfg.Live.Debounce,
		EvalTimeout:       cfg.Live.EvalTimeout,
		MaxSpecs:          cfg.Planner.MaxSpecs,
		StrictConsistency: cfg.Live.StrictConsistency,
		Logger:            logger,
		Metrics:           metrics.New(opts.registry),
	})

	s := &session{cfg: cfg, logger: logger, host: host, coord: coord}
	s.engine = ingest.NewEngine(host, coord, logger)
	if opts.watch {
		w, err := ingest.NewWatcher(cfg.Workspace.Root, host.Matches, ingest.DefaultWatchDelay, logger)
		if err != nil {
			coord.Close()
			return nil, err
		}
		if err := w.Start(ctx); err != nil {
			coord.Close()
			return nil, err
		}
		s.watcher = w
		s.engine.Hashes = w
	}

	if _, err := s.engine.Ingest(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := coord.Flush(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn("Failed to stop watcher", "error", err)
		}
	}
	s.coord.Close()
}
