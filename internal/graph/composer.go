package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/rdf"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

// Composer answers graph lookups for every address kind. Aggregate and meta
// graphs are recomputed on each call from the current documents; only the
// per-document graphs are cached.
type Composer struct {
	docs  *workspace.Workspace
	cache *DocumentCache

	ontologyOnce sync.Once
	ontology     *rdf.Graph
}

func NewComposer(docs *workspace.Workspace, cache *DocumentCache) *Composer {
	return &Composer{docs: docs, cache: cache}
}

// Get returns the graph at a. A document that fails to materialize
// entirely contributes an empty graph; its errors stay on the cache entry.
func (c *Composer) Get(ctx context.Context, a address.Address) (*rdf.Graph, error) {
	switch a.Kind() {
	case address.KindDocument:
		e, err := c.cache.Get(ctx, a.Path())
		if errors.Is(err, workspace.ErrNotFound) {
			return rdf.EmptyGraph(a.String()), nil
		}
		if err != nil {
			return nil, err
		}
		return e.Graph, nil
	case address.KindSubtree, address.KindWorkspace:
		return c.union(ctx, a)
	case address.KindMeta:
		return c.meta(ctx)
	case address.KindMetaOntology:
		c.ontologyOnce.Do(func() { c.ontology = buildOntology() })
		return c.ontology, nil
	default:
		return nil, fmt.Errorf("unsupported address kind %s", a.Kind())
	}
}

func (c *Composer) union(ctx context.Context, a address.Address) (*rdf.Graph, error) {
	docs := c.docs.Match(a)
	graphs := make([]*rdf.Graph, 0, len(docs))
	for _, d := range docs {
		e, err := c.cache.Get(ctx, d.Path)
		if errors.Is(err, workspace.ErrNotFound) {
			continue // removed since Match
		}
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, e.Graph)
	}
	return rdf.Union(a.String(), graphs...), nil
}
