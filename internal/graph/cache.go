package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/fragment"
	"github.com/agentic-research/vaultgraph/internal/materialize"
	"github.com/agentic-research/vaultgraph/internal/metrics"
	"github.com/agentic-research/vaultgraph/internal/rdf"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

var fragmentFingerprintZero fragment.Fingerprint

// State of a document cache slot. Staleness is not a state: an entry is
// stale when its fingerprint differs from the document's.
type State uint8

const (
	StateLoading State = iota
	StateReady
	StateError // at least one graph-data fragment failed to parse
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "loading"
	}
}

type memoKey struct {
	index int
	fp    fragment.Fingerprint
}

type memoValue struct {
	quads []rdf.Quad
	err   *materialize.Error
}

// Entry is a published, immutable cache result for one document.
type Entry struct {
	Address     address.Address
	Version     uint64
	Fingerprint fragment.Fingerprint
	Graph       *rdf.Graph
	// Errors holds one entry per failed graph-data fragment. The Graph is
	// the union of the fragments that succeeded.
	Errors []*materialize.Error
	State  State

	memo map[memoKey]memoValue
}

// DocumentCache holds one materialized graph per document.
type DocumentCache struct {
	docs    *workspace.Workspace
	mat     *materialize.Materializer
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	slots map[string]*hotSwapEntry
	group singleflight.Group
}

func NewDocumentCache(docs *workspace.Workspace, mat *materialize.Materializer, logger *slog.Logger, m *metrics.Metrics) *DocumentCache {
	if logger == nil {
		logger = slog.Default()
	}
	if mat == nil {
		mat = materialize.New(nil, logger)
	}
	return &DocumentCache{
		docs:    docs,
		mat:     mat,
		logger:  logger,
		metrics: m,
		slots:   make(map[string]*hotSwapEntry),
	}
}

func (c *DocumentCache) slot(path string) *hotSwapEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[path]
	if !ok {
		s = &hotSwapEntry{}
		c.slots[path] = s
	}
	return s
}

// Get returns the graph entry of the document at path. A published entry
// whose fingerprint matches the document is returned as is; otherwise the
// graph is recomputed and swapped in. Concurrent calls for the same
// document version share one recompute.
func (c *DocumentCache) Get(ctx context.Context, path string) (*Entry, error) {
	doc, ok := c.docs.Get(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, workspace.ErrNotFound)
	}
	s := c.slot(doc.Path)
	if cur, ok := c.current(s, doc); ok {
		c.metrics.CacheHit()
		return cur, nil
	}
	c.metrics.CacheMiss()

	key := doc.Path + "@" + strconv.FormatUint(doc.Version, 10)
	for {
		v, err, _ := c.group.Do(key, func() (any, error) {
			if cur, ok := c.current(s, doc); ok {
				return cur, nil
			}
			return c.recompute(ctx, s, doc)
		})
		// A shared recompute may have been abandoned by the caller that
		// started it; retry under our own context if it is still live.
		if err != nil && isContextErr(err) && ctx.Err() == nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		return v.(*Entry), nil
	}
}

// current returns the published entry when its fingerprint matches doc.
// An edit outside the graph fragments keeps the fingerprint but can move
// them, so an older entry with errors is republished with their spans
// taken from doc.
func (c *DocumentCache) current(s *hotSwapEntry, doc *workspace.Document) (*Entry, bool) {
	cur := s.Load()
	if cur == nil || cur.Fingerprint != doc.GraphFingerprint {
		return nil, false
	}
	if cur.Version >= doc.Version || len(cur.Errors) == 0 {
		return cur, true
	}
	next := *cur
	next.Version = doc.Version
	next.Errors = restamp(cur.Errors, doc)
	if !s.Swap(&next) {
		return s.Load(), true
	}
	return &next, true
}

// restamp copies errs with each span replaced by the current span of the
// fragment it refers to.
func restamp(errs []*materialize.Error, doc *workspace.Document) []*materialize.Error {
	spans := make(map[int]fragment.Span, len(doc.Fragments))
	for _, f := range doc.Fragments {
		spans[f.Index] = f.Span
	}
	out := make([]*materialize.Error, len(errs))
	for i, e := range errs {
		cp := *e
		if sp, ok := spans[e.Fragment]; ok {
			cp.Span = sp
		}
		out[i] = &cp
	}
	return out
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *DocumentCache) recompute(ctx context.Context, s *hotSwapEntry, doc *workspace.Document) (*Entry, error) {
	start := time.Now()
	s.beginLoading()
	defer s.endLoading()

	owner := doc.Address()
	base := owner.Base()
	prev := s.Load()

	next := &Entry{
		Address:     owner,
		Version:     doc.Version,
		Fingerprint: doc.GraphFingerprint,
		State:       StateReady,
		memo:        make(map[memoKey]memoValue),
	}
	var quads []rdf.Quad
	memoHits := 0
	for _, f := range doc.GraphFragments() {
		k := memoKey{index: f.Index, fp: f.Fingerprint}
		mv, ok := memoValue{}, false
		if prev != nil && prev.Address == owner {
			mv, ok = prev.memo[k]
		}
		if ok {
			memoHits++
			if mv.err != nil && mv.err.Span != f.Span {
				e := *mv.err
				e.Span = f.Span
				mv.err = &e
			}
		} else {
			q, err := c.mat.Materialize(ctx, f, base, owner)
			var merr *materialize.Error
			switch {
			case err == nil:
				mv = memoValue{quads: q}
			case errors.As(err, &merr):
				mv = memoValue{err: merr}
			default:
				// Abandoned: nothing is published.
				return nil, err
			}
		}
		next.memo[k] = mv
		if mv.err != nil {
			next.Errors = append(next.Errors, mv.err)
			next.State = StateError
			continue
		}
		quads = append(quads, mv.quads...)
	}
	next.Graph = rdf.NewGraph(owner.String(), quads)

	if !s.Swap(next) {
		// A newer version was published while we worked.
		return s.Load(), nil
	}
	c.metrics.Recomputed(time.Since(start), memoHits, len(next.Errors))
	c.logger.Debug("document graph recomputed",
		"path", doc.Path, "version", doc.Version, "quads", next.Graph.Len(),
		"errors", len(next.Errors), "memo_hits", memoHits)
	return next, nil
}

// Peek returns the published entry without recomputing.
func (c *DocumentCache) Peek(path string) (*Entry, bool) {
	c.mu.Lock()
	s, ok := c.slots[address.Document(path).Path()]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	e := s.Load()
	return e, e != nil
}

// Invalidate forces the next Get of path to recompute every fragment.
func (c *DocumentCache) Invalidate(path string) {
	c.mu.Lock()
	s, ok := c.slots[address.Document(path).Path()]
	c.mu.Unlock()
	if ok {
		s.Invalidate()
	}
}

// Remove drops the slot of a deleted document.
func (c *DocumentCache) Remove(path string) {
	c.mu.Lock()
	delete(c.slots, address.Document(path).Path())
	c.mu.Unlock()
}

// Rename drops the slot under the old path. Quads carry their owning graph,
// so the renamed document is recomputed under its new address.
func (c *DocumentCache) Rename(oldPath, _ string) {
	c.Remove(oldPath)
}

// States reports the state of every slot, keyed by document path.
func (c *DocumentCache) States() map[string]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]State, len(c.slots))
	for p, s := range c.slots {
		out[p] = s.State()
	}
	return out
}
