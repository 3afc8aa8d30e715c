// Package graph serves the graph reachable at any address: per-document
// graphs from a fingerprint-checked cache, aggregate graphs as lazy unions,
// and the synthetic meta graphs.
package graph

import (
	"context"
	"log/slog"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/materialize"
	"github.com/agentic-research/vaultgraph/internal/metrics"
	"github.com/agentic-research/vaultgraph/internal/rdf"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

// Options configures a Store. Zero values select defaults.
type Options struct {
	Parser  rdf.Parser
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Store is the handle passed to every component that needs graphs. It owns
// the document cache; tests create isolated stores freely.
type Store struct {
	Docs     *workspace.Workspace
	Cache    *DocumentCache
	Composer *Composer
}

func NewStore(docs *workspace.Workspace, opts Options) *Store {
	if docs == nil {
		docs = workspace.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := NewDocumentCache(docs, materialize.New(opts.Parser, logger), logger, opts.Metrics)
	return &Store{
		Docs:     docs,
		Cache:    cache,
		Composer: NewComposer(docs, cache),
	}
}

// Get returns the graph at a. The returned graph is immutable; later edits
// publish new graphs rather than changing it.
func (s *Store) Get(ctx context.Context, a address.Address) (*rdf.Graph, error) {
	return s.Composer.Get(ctx, a)
}
