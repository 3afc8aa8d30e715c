package live

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/evaluate"
	"github.com/agentic-research/vaultgraph/internal/plan"
	"github.com/agentic-research/vaultgraph/internal/rdf"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const fromData = "SELECT * FROM <vault://data.md> WHERE { ?s ?p ?o }"

func turtle(body string) string { return "```turtle\n" + body + "\n```\n" }
func sparql(body string) string { return "```sparql\n" + body + "\n```\n" }

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) add(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recorder) last(t *testing.T) Update {
	t.Helper()
	all := r.all()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c := New(nil, opts)
	t.Cleanup(c.Close)
	return c
}

func create(t *testing.T, c *Coordinator, path, text string) {
	t.Helper()
	require.NoError(t, c.OnDocumentCreated(context.Background(), path, text, ts))
}

func change(t *testing.T, c *Coordinator, path, text string) {
	t.Helper()
	require.NoError(t, c.OnDocumentChanged(context.Background(), path, text, ts))
}

func TestCoordinator_EditReevaluatesDependents(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "data.md", turtle(`<x> <p> "1" .`))
	create(t, c, "q.md", "# Query\n"+sparql(fromData))

	rec := &recorder{}
	c.Subscribe("q.md#0", rec.add)
	require.Len(t, rec.all(), 1, "the known result is delivered on subscribe")
	require.NoError(t, rec.last(t).Err)
	assert.Len(t, rec.last(t).Result.Quads, 1)

	change(t, c, "data.md", turtle(`<x> <p> "1" .`+"\n"+`<x> <p> "2" .`))
	require.Len(t, rec.all(), 2)
	assert.Len(t, rec.last(t).Result.Quads, 2)
	assert.Equal(t, plan.StrategyFrom, rec.last(t).Plan.Strategy)

	// prose around an unchanged fragment only touches the metadata graph
	change(t, c, "data.md", "Some prose.\n\n"+turtle(`<x> <p> "1" .`+"\n"+`<x> <p> "2" .`))
	assert.Len(t, rec.all(), 2)
}

func TestCoordinator_MetaQueriesFollowMetadataChanges(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "data.md", "draft")
	create(t, c, "q.md", sparql("SELECT * FROM <meta://> WHERE { ?s ?p ?o }"))

	rec := &recorder{}
	c.Subscribe("q.md#0", rec.add)
	require.Len(t, rec.all(), 1)

	change(t, c, "data.md", "a longer draft")
	assert.Len(t, rec.all(), 2)
}

func TestCoordinator_SubtreeQuerySeesNewDocuments(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "q.md", sparql("SELECT * FROM <vault://notes/> WHERE { ?s ?p ?o }"))

	rec := &recorder{}
	c.Subscribe("q.md#0", rec.add)
	require.Len(t, rec.all(), 1)
	assert.Empty(t, rec.last(t).Result.Quads)

	create(t, c, "notes/a.md", turtle(`<a> <p> "a" .`))
	require.Len(t, rec.all(), 2)
	assert.Len(t, rec.last(t).Result.Quads, 1)

	create(t, c, "notes/deep/b.md", turtle(`<b> <p> "b" .`))
	require.Len(t, rec.all(), 3)
	assert.Len(t, rec.last(t).Result.Quads, 2)

	create(t, c, "other/c.md", turtle(`<c> <p> "c" .`))
	assert.Len(t, rec.all(), 3, "documents outside the subtree do not trigger the query")

	require.NoError(t, c.OnDocumentDeleted(context.Background(), "notes/a.md"))
	require.Len(t, rec.all(), 4)
	assert.Len(t, rec.last(t).Result.Quads, 1)
}

func TestCoordinator_DeleteRetiresQueries(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "q.md", sparql("ASK { ?s ?p ?o }")+sparql("ASK { ?s ?p ?o }"))
	assert.Equal(t, []string{"q.md#0", "q.md#1"}, c.Queries())

	change(t, c, "q.md", sparql("ASK { ?s ?p ?o }"))
	assert.Equal(t, []string{"q.md#0"}, c.Queries())
	assert.Equal(t, []string{"q.md#0"}, c.Index().Queries())

	require.NoError(t, c.OnDocumentDeleted(context.Background(), "q.md"))
	assert.Empty(t, c.Queries())
	assert.Zero(t, c.Index().Len())
	_, ok := c.LastUpdate("q.md#0")
	assert.False(t, ok)

	err := c.OnDocumentDeleted(context.Background(), "q.md")
	assert.Error(t, err)
}

func TestCoordinator_RenameKeepsSubscribers(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "data.md", turtle(`<x> <p> "1" .`))
	create(t, c, "q.md", sparql(fromData))

	rec := &recorder{}
	sub := c.Subscribe("q.md#0", rec.add)
	require.Len(t, rec.all(), 1)

	require.NoError(t, c.OnDocumentRenamed(context.Background(), "q.md", "moved/q.md"))
	assert.Equal(t, []string{"moved/q.md#0"}, c.Queries())
	require.Len(t, rec.all(), 2)
	u := rec.last(t)
	assert.Equal(t, "moved/q.md#0", u.QueryID)
	assert.Equal(t, address.Document("moved/q.md"), u.Plan.Requesting)
	assert.Len(t, u.Result.Quads, 1)

	sub.Unsubscribe()
	change(t, c, "data.md", turtle(`<x> <p> "2" .`))
	assert.Len(t, rec.all(), 2)
	assert.False(t, c.Unsubscribe(sub.ID))
}

func TestCoordinator_RenamedDataIsNoLongerAtOldAddress(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "data.md", turtle(`<x> <p> "1" .`))
	create(t, c, "q.md", sparql(fromData))

	rec := &recorder{}
	c.Subscribe("q.md#0", rec.add)

	require.NoError(t, c.OnDocumentRenamed(context.Background(), "data.md", "archive/data.md"))
	require.Len(t, rec.all(), 2)
	assert.Empty(t, rec.last(t).Result.Quads)
	deps := c.Index().Dependencies("q.md#0")
	assert.Contains(t, deps, address.Document("data.md"))
	assert.NotContains(t, deps, address.Document("archive/data.md"))
	require.NoError(t, c.Index().Verify())
}

func TestCoordinator_MaterializationFailureIsAWarning(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "data.md", turtle(`<x> <p> "ok" .`)+"\n"+turtle(`this is not turtle`))
	create(t, c, "q.md", sparql(fromData))

	u, ok := c.LastUpdate("q.md#0")
	require.True(t, ok)
	require.NoError(t, u.Err)
	assert.Len(t, u.Result.Quads, 1)
	assert.Contains(t, strings.Join(u.Warnings, "\n"), "materialization: vault://data.md: 1 graph fragment(s) failed")

	diags, err := c.Diagnostics(context.Background(), "data.md")
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, 1, diags[0].Fragment)
}

func TestCoordinator_EvaluatorFailureIsScopedToItsQuery(t *testing.T) {
	ev := evaluate.Func(func(ctx context.Context, q plan.Query, ds *evaluate.Dataset) (*evaluate.Result, error) {
		if strings.Contains(q.Text, "FAIL") {
			return nil, errors.New("engine exploded")
		}
		return evaluate.DatasetEvaluator{}.Evaluate(ctx, q, ds)
	})
	c := newTestCoordinator(t, Options{Evaluator: ev})
	create(t, c, "q.md", sparql("SELECT * WHERE { ?s ?p ?o }")+sparql("SELECT * WHERE { FAIL }"))

	ok0, found := c.LastUpdate("q.md#0")
	require.True(t, found)
	assert.NoError(t, ok0.Err)

	failed, found := c.LastUpdate("q.md#1")
	require.True(t, found)
	assert.Equal(t, evaluate.KindFailed, evaluate.KindOf(failed.Err))
}

func TestCoordinator_EvaluationTimeout(t *testing.T) {
	ev := evaluate.Func(func(ctx context.Context, _ plan.Query, _ *evaluate.Dataset) (*evaluate.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := newTestCoordinator(t, Options{Evaluator: ev, EvalTimeout: 20 * time.Millisecond})
	create(t, c, "q.md", sparql("ASK { ?s ?p ?o }"))

	u, ok := c.LastUpdate("q.md#0")
	require.True(t, ok)
	assert.Equal(t, evaluate.KindTimeout, evaluate.KindOf(u.Err))
}

func TestCoordinator_DebounceBatchesBursts(t *testing.T) {
	var evals atomic.Int32
	ev := evaluate.Func(func(ctx context.Context, q plan.Query, ds *evaluate.Dataset) (*evaluate.Result, error) {
		evals.Add(1)
		return evaluate.DatasetEvaluator{}.Evaluate(ctx, q, ds)
	})
	c := newTestCoordinator(t, Options{Evaluator: ev, Debounce: time.Hour})
	ctx := context.Background()

	create(t, c, "data.md", turtle(`<x> <p> "0" .`))
	create(t, c, "q.md", sparql(fromData))
	assert.Equal(t, StateChanged, c.DocumentState("q.md"))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int32(1), evals.Load())
	assert.Equal(t, StateUnchanged, c.DocumentState("q.md"))

	for _, v := range []string{"1", "2", "3", "4", "5"} {
		change(t, c, "data.md", turtle(`<x> <p> "`+v+`" .`))
	}
	assert.Equal(t, StateChanged, c.DocumentState("data.md"))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int32(2), evals.Load())

	u, ok := c.LastUpdate("q.md#0")
	require.True(t, ok)
	assert.Equal(t, rdf.Literal("5"), u.Result.Quads[0].Object)
}

func TestCoordinator_NewerChangeAbandonsRunningReconcile(t *testing.T) {
	var block atomic.Bool
	started := make(chan struct{}, 1)
	ev := evaluate.Func(func(ctx context.Context, q plan.Query, ds *evaluate.Dataset) (*evaluate.Result, error) {
		if block.CompareAndSwap(true, false) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return evaluate.DatasetEvaluator{}.Evaluate(ctx, q, ds)
	})
	c := newTestCoordinator(t, Options{Evaluator: ev})
	ctx := context.Background()
	create(t, c, "data.md", turtle(`<x> <p> "1" .`))
	create(t, c, "q.md", sparql(fromData))

	rec := &recorder{}
	c.Subscribe("q.md#0", rec.add)
	require.Len(t, rec.all(), 1)

	block.Store(true)
	done := make(chan error, 1)
	go func() {
		done <- c.OnDocumentChanged(ctx, "data.md", turtle(`<x> <p> "2" .`), ts)
	}()
	<-started
	change(t, c, "data.md", turtle(`<x> <p> "3" .`))
	require.NoError(t, <-done)

	ups := rec.all()
	require.Len(t, ups, 2, "the abandoned evaluation publishes nothing")
	assert.Equal(t, rdf.Literal("3"), ups[1].Result.Quads[0].Object)
	assert.Equal(t, StateUnchanged, c.DocumentState("data.md"))
}

func TestCoordinator_RebuildsInconsistentIndex(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "data.md", turtle(`<x> <p> "1" .`))
	create(t, c, "q.md", sparql(fromData))

	c.Index().Register("ghost", []address.Address{address.Subtree("elsewhere")})
	change(t, c, "data.md", turtle(`<x> <p> "2" .`))

	assert.Equal(t, []string{"q.md#0"}, c.Index().Queries())
	require.NoError(t, c.Index().Verify())
	assert.Equal(t, []string{"q.md#0"}, c.Index().Dependents(address.Document("data.md")))
}

func TestCoordinator_StrictConsistencyPanics(t *testing.T) {
	c := newTestCoordinator(t, Options{StrictConsistency: true})
	create(t, c, "data.md", turtle(`<x> <p> "1" .`))

	c.Index().Register("ghost", []address.Address{address.Subtree("elsewhere")})
	assert.Panics(t, func() {
		_ = c.OnDocumentChanged(context.Background(), "data.md", turtle(`<x> <p> "2" .`), ts)
	})
}

func TestCoordinator_DiagnosticsSurface(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	create(t, c, "notes/a.md", turtle(`<a> <p> "a" .`))
	create(t, c, "notes/q.md", sparql("SELECT * FROM NAMED <vault://notes/> WHERE { GRAPH ?g { ?s ?p ?o } }"))

	p, err := c.PlanAndDescribe("notes/q.md#0")
	require.NoError(t, err)
	assert.Equal(t, plan.StrategyFromNamed, p.Strategy)
	require.Len(t, p.Specs, 2)
	assert.True(t, p.Specs[0].AsNamed)
	assert.Contains(t, p.Describe(), "vault://notes/a.md")

	_, err = c.PlanAndDescribe("nope.md#0")
	assert.ErrorIs(t, err, ErrUnknownQuery)

	g, err := c.GraphSnapshot(context.Background(), address.Subtree("notes"))
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())

	adhoc := c.PlanQuery(plan.Query{ID: "adhoc", Text: "SELECT * FROM <vault://> WHERE {}", Requesting: address.Document("x.md")})
	assert.Len(t, adhoc.Specs, 2)
	require.NotEmpty(t, adhoc.Warnings)
	assert.Equal(t, plan.WarnWorkspaceScope, adhoc.Warnings[0].Code)
}

func objects(u Update) []string {
	var out []string
	for _, q := range u.Result.Quads {
		out = append(out, q.Object.Value)
	}
	slices.Sort(out)
	return out
}

func TestCoordinator_SlowEvaluationDoesNotOverwriteNewerResult(t *testing.T) {
	var block atomic.Bool
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	ev := evaluate.Func(func(ctx context.Context, q plan.Query, ds *evaluate.Dataset) (*evaluate.Result, error) {
		if block.CompareAndSwap(true, false) {
			started <- struct{}{}
			<-release
		}
		return evaluate.DatasetEvaluator{}.Evaluate(ctx, q, ds)
	})
	c := newTestCoordinator(t, Options{Evaluator: ev})
	ctx := context.Background()
	create(t, c, "notes/a.md", turtle(`<a> <p> "a1" .`))
	create(t, c, "notes/b.md", turtle(`<b> <p> "b1" .`))
	create(t, c, "q.md", sparql("SELECT * FROM <vault://notes/> WHERE { ?s ?p ?o }"))

	rec := &recorder{}
	c.Subscribe("q.md#0", rec.add)
	require.Equal(t, []string{"a1", "b1"}, objects(rec.last(t)))

	block.Store(true)
	done := make(chan error, 1)
	go func() {
		done <- c.OnDocumentChanged(ctx, "notes/a.md", turtle(`<a> <p> "a2" .`), ts)
	}()
	<-started
	change(t, c, "notes/b.md", turtle(`<b> <p> "b2" .`))
	close(release)
	require.NoError(t, <-done)

	u, ok := c.LastUpdate("q.md#0")
	require.True(t, ok)
	assert.Equal(t, []string{"a2", "b2"}, objects(u))
	assert.Equal(t, []string{"a2", "b2"}, objects(rec.last(t)))
	assert.Len(t, rec.all(), 2, "the older evaluation publishes nothing")
	p, err := c.PlanAndDescribe("q.md#0")
	require.NoError(t, err)
	assert.ElementsMatch(t, p.Dependencies(), c.Index().Dependencies("q.md#0"))
}
