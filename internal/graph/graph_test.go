package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/rdf"
	"github.com/agentic-research/vaultgraph/internal/vocab"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

type countingParser struct {
	calls atomic.Int32
	delay time.Duration
	inner rdf.Parser
}

func (p *countingParser) Parse(ctx context.Context, text, syntax, base string) ([]rdf.Triple, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.inner.Parse(ctx, text, syntax, base)
}

func newTestStore(t *testing.T) (*Store, *countingParser) {
	t.Helper()
	p := &countingParser{inner: rdf.NewParser()}
	return NewStore(workspace.New(nil), Options{Parser: p}), p
}

func put(t *testing.T, s *Store, path, text string) {
	t.Helper()
	_, _, err := s.Docs.Put(path, text, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func turtle(body string) string { return "```turtle\n" + body + "\n```\n" }

func TestStore_DocumentGraphFollowsEdits(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a := address.Document("notes/a.md")

	put(t, s, "notes/a.md", turtle(`<x> <p> "1" .`))
	g, err := s.Get(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	q := g.Quads()[0]
	assert.Equal(t, "vault://notes/a.md", q.Graph)
	assert.Equal(t, rdf.Literal("1"), q.Object)

	put(t, s, "notes/a.md", turtle(`<x> <p> "2" .`))
	g2, err := s.Get(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 1, g2.Len())
	assert.Equal(t, rdf.Literal("2"), g2.Quads()[0].Object)

	// the graph handed out before the edit is untouched
	assert.Equal(t, rdf.Literal("1"), g.Quads()[0].Object)
}

func TestStore_GetIsIdempotent(t *testing.T) {
	s, p := newTestStore(t)
	ctx := context.Background()
	put(t, s, "a.md", turtle(`<x> <p> "1" .`))

	g1, err := s.Get(ctx, address.Document("a.md"))
	require.NoError(t, err)
	g2, err := s.Get(ctx, address.Document("a.md"))
	require.NoError(t, err)
	assert.Same(t, g1, g2)
	assert.Equal(t, int32(1), p.calls.Load())

	// prose edits keep the graph fingerprint
	put(t, s, "a.md", "Intro paragraph.\n\n"+turtle(`<x> <p> "1" .`))
	g3, err := s.Get(ctx, address.Document("a.md"))
	require.NoError(t, err)
	assert.Same(t, g1, g3)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestStore_PartialFailureKeepsGoodFragments(t *testing.T) {
	s, _ := newTestStore(t)
	put(t, s, "notes/a.md", turtle(`<x> <p> .`)+"\n"+turtle(`<y> <p> "ok" .`))

	e, err := s.Cache.Get(context.Background(), "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, StateError, e.State)
	require.Equal(t, 1, e.Graph.Len())
	assert.Equal(t, rdf.IRI("vault://notes/a.md/y"), e.Graph.Quads()[0].Subject)
	require.Len(t, e.Errors, 1)
	assert.Equal(t, 0, e.Errors[0].Fragment)
}

func TestStore_SubtreeIsUnionOfDocuments(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	put(t, s, "notes/a.md", turtle(`<x> <p> "a" .`))
	put(t, s, "notes/b.md", turtle(`<x> <p> "b" .`))
	put(t, s, "notes/deep/c.md", turtle(`<x> <p> "c" .`))
	put(t, s, "other/d.md", turtle(`<x> <p> "d" .`))

	sub, err := s.Get(ctx, address.Subtree("notes/"))
	require.NoError(t, err)
	assert.Equal(t, "vault://notes/", sub.Name())

	var parts []*rdf.Graph
	for _, p := range s.Docs.Paths() {
		if address.Matches(p, address.Subtree("notes/")) {
			g, err := s.Get(ctx, address.Document(p))
			require.NoError(t, err)
			parts = append(parts, g)
		}
	}
	assert.Len(t, parts, 3)
	assert.True(t, sub.Equal(rdf.Union("", parts...)))

	ws, err := s.Get(ctx, address.Workspace())
	require.NoError(t, err)
	assert.Equal(t, 4, ws.Len())

	empty, err := s.Get(ctx, address.Subtree("missing/"))
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestStore_UnknownDocumentIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	g, err := s.Get(context.Background(), address.Document("nope.md"))
	require.NoError(t, err)
	assert.Zero(t, g.Len())

	_, err = s.Cache.Get(context.Background(), "nope.md")
	assert.ErrorIs(t, err, workspace.ErrNotFound)
}

func TestCache_CoalescesConcurrentGets(t *testing.T) {
	s, p := newTestStore(t)
	p.delay = 20 * time.Millisecond
	put(t, s, "a.md", turtle(`<x> <p> "1" .`))

	var wg sync.WaitGroup
	entries := make([]*Entry, 8)
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := s.Cache.Get(context.Background(), "a.md")
			assert.NoError(t, err)
			entries[i] = e
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for _, e := range entries[1:] {
		assert.Same(t, entries[0], e)
	}
}

func TestCache_ReparsesOnlyChangedFragments(t *testing.T) {
	s, p := newTestStore(t)
	ctx := context.Background()
	put(t, s, "a.md", turtle(`<x> <p> "1" .`)+turtle(`<y> <p> "1" .`))
	_, err := s.Cache.Get(ctx, "a.md")
	require.NoError(t, err)
	require.Equal(t, int32(2), p.calls.Load())

	put(t, s, "a.md", turtle(`<x> <p> "1" .`)+turtle(`<y> <p> "2" .`))
	e, err := s.Cache.Get(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, int32(3), p.calls.Load())
	assert.Equal(t, 2, e.Graph.Len())
}

func TestCache_InvalidateForcesRecompute(t *testing.T) {
	s, p := newTestStore(t)
	ctx := context.Background()
	put(t, s, "a.md", turtle(`<x> <p> "1" .`))
	first, err := s.Cache.Get(ctx, "a.md")
	require.NoError(t, err)

	s.Cache.Invalidate("a.md")
	second, err := s.Cache.Get(ctx, "a.md")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, first.Graph.Equal(second.Graph))
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, StateReady, s.Cache.States()["a.md"])
}

func TestCache_CancelledRecomputeDoesNotCommit(t *testing.T) {
	s, _ := newTestStore(t)
	put(t, s, "a.md", turtle(`<x> <p> "1" .`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Cache.Get(ctx, "a.md")
	require.ErrorIs(t, err, context.Canceled)
	_, ok := s.Cache.Peek("a.md")
	assert.False(t, ok)
}

func TestCache_RenameRecomputesUnderNewAddress(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	put(t, s, "a.md", turtle(`<x> <p> "1" .`))
	_, err := s.Cache.Get(ctx, "a.md")
	require.NoError(t, err)

	_, err = s.Docs.Rename("a.md", "b.md")
	require.NoError(t, err)
	s.Cache.Rename("a.md", "b.md")

	g, err := s.Get(ctx, address.Document("b.md"))
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	assert.Equal(t, "vault://b.md", g.Quads()[0].Graph)
	assert.Equal(t, rdf.IRI("vault://b.md/x"), g.Quads()[0].Subject)
	_, ok := s.Cache.Peek("a.md")
	assert.False(t, ok)
}

func TestComposer_Meta(t *testing.T) {
	s, _ := newTestStore(t)
	put(t, s, "notes/a.md", "---\ntags: [rdf, notes]\nstatus: draft\n---\n"+turtle(`<x> <p> "1" .`)+"```sparql\nASK {}\n```\n")
	put(t, s, "top.md", "plain")

	g, err := s.Get(context.Background(), address.Meta())
	require.NoError(t, err)
	assert.Equal(t, "meta://", g.Name())

	doc := rdf.IRI("vault://notes/a.md")
	dir := rdf.IRI("vault://notes/")
	root := rdf.IRI("vault://")
	has := func(s, p rdf.Term, o rdf.Term) bool {
		return g.Contains(rdf.Quad{Subject: s, Predicate: p, Object: o, Graph: "meta://"})
	}
	assert.True(t, has(doc, rdf.IRI(rdf.RDFType), rdf.IRI(vocab.ClassDocument)))
	assert.True(t, has(doc, rdf.IRI(vocab.PropPath), rdf.Literal("notes/a.md")))
	assert.True(t, has(doc, rdf.IRI(vocab.PropTripleCount), intLit(1)))
	assert.True(t, has(doc, rdf.IRI(vocab.PropGraphFragmentCount), intLit(1)))
	assert.True(t, has(doc, rdf.IRI(vocab.PropQueryFragmentCount), intLit(1)))
	assert.True(t, has(doc, rdf.IRI(vocab.PropErrorCount), intLit(0)))
	assert.True(t, has(doc, rdf.IRI(vocab.PropModified), rdf.TypedLiteral("2024-05-01T12:00:00Z", rdf.XSDDate)))
	assert.True(t, has(doc, rdf.IRI(vocab.PropTag), rdf.Literal("rdf")))
	assert.True(t, has(doc, rdf.IRI(vocab.Frontmatter("status")), rdf.Literal("draft")))
	assert.True(t, has(doc, rdf.IRI(vocab.PropParent), dir))
	assert.True(t, has(dir, rdf.IRI(rdf.RDFType), rdf.IRI(vocab.ClassDirectory)))
	assert.True(t, has(root, rdf.IRI(vocab.PropContains), dir))
	assert.True(t, has(root, rdf.IRI(vocab.PropContains), rdf.IRI("vault://top.md")))

	// recomputed on every call
	put(t, s, "new.md", "")
	g2, err := s.Get(context.Background(), address.Meta())
	require.NoError(t, err)
	assert.Greater(t, g2.Len(), g.Len())
}

func TestComposer_OntologyBuiltOnce(t *testing.T) {
	s, _ := newTestStore(t)
	o1, err := s.Get(context.Background(), address.MetaOntology())
	require.NoError(t, err)
	o2, err := s.Get(context.Background(), address.MetaOntology())
	require.NoError(t, err)
	assert.Same(t, o1, o2)
	assert.True(t, o1.Contains(rdf.Quad{
		Subject:   rdf.IRI(vocab.ClassWorkspace),
		Predicate: rdf.IRI(rdf.RDFSSubClassOf),
		Object:    rdf.IRI(vocab.ClassDirectory),
		Graph:     "meta://ontology",
	}))
}

func TestCache_ErrorSpansFollowMovedFragments(t *testing.T) {
	s, p := newTestStore(t)
	ctx := context.Background()
	bad := turtle(`<x> <p> .`)
	put(t, s, "a.md", "# A\n"+bad)
	first, err := s.Cache.Get(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, first.Errors, 1)
	assert.Equal(t, 3, first.Errors[0].Span.StartLine)

	put(t, s, "a.md", "# A\n\nsome\nnew prose\n\n"+bad)
	doc, ok := s.Docs.Get("a.md")
	require.True(t, ok)
	moved, err := s.Cache.Get(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, moved.Errors, 1)
	assert.Equal(t, doc.GraphFragments()[0].Span, moved.Errors[0].Span)
	assert.Equal(t, 7, moved.Errors[0].Span.StartLine)
	assert.Equal(t, 3, first.Errors[0].Span.StartLine, "published entries are not mutated")
	assert.Equal(t, int32(1), p.calls.Load())

	// a memoized failure reused by a recompute carries the new span too
	put(t, s, "a.md", "# A\n\n"+bad+turtle(`<y> <p> "1" .`))
	again, err := s.Cache.Get(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, again.Errors, 1)
	assert.Equal(t, 4, again.Errors[0].Span.StartLine)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, 1, again.Graph.Len())
}

func TestHotSwap_LoadingCountsOverlappingRecomputes(t *testing.T) {
	h := &hotSwapEntry{}
	require.True(t, h.Swap(&Entry{Version: 1, State: StateReady}))
	assert.Equal(t, StateReady, h.State())

	h.beginLoading()
	h.beginLoading()
	h.endLoading()
	assert.Equal(t, StateLoading, h.State())
	h.endLoading()
	assert.Equal(t, StateReady, h.State())
}
