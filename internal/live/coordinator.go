// Package live keeps query results current while documents change. The
// Coordinator receives document lifecycle notifications, finds the queries
// whose inputs changed through the dependency index, re-plans them and
// hands them to the evaluator. Subscribers receive every new result.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/depindex"
	"github.com/agentic-research/vaultgraph/internal/evaluate"
	"github.com/agentic-research/vaultgraph/internal/graph"
	"github.com/agentic-research/vaultgraph/internal/materialize"
	"github.com/agentic-research/vaultgraph/internal/metrics"
	"github.com/agentic-research/vaultgraph/internal/plan"
	"github.com/agentic-research/vaultgraph/internal/rdf"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

// ErrUnknownQuery is returned for query IDs no live document declares.
var ErrUnknownQuery = errors.New("unknown query")

// State is the reconciliation state of one document.
type State uint8

const (
	StateUnchanged State = iota
	StateChanged
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateChanged:
		return "changed"
	case StateReconciling:
		return "reconciling"
	default:
		return "unchanged"
	}
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	// Evaluator executes queries; nil selects evaluate.DatasetEvaluator.
	Evaluator evaluate.Evaluator
	// Parser materializes graph-data fragments; nil selects rdf.NewParser.
	Parser rdf.Parser
	// Debounce delays reconciliation so a burst of changes to one document
	// reconciles once. Zero reconciles synchronously inside the
	// notification.
	Debounce time.Duration
	// EvalTimeout bounds each evaluation; zero means no bound.
	EvalTimeout time.Duration
	// MaxSpecs is the planner's advisory graph count.
	MaxSpecs int
	// StrictConsistency panics on a dependency index inconsistency instead
	// of rebuilding the index.
	StrictConsistency bool
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// Update is one evaluation outcome pushed to subscribers. Err is set when
// loading or evaluation failed; Warnings carries planning and
// materialization advisories either way.
type Update struct {
	QueryID  string
	Plan     *plan.Plan
	Result   *evaluate.Result
	Err      error
	Warnings []string
	At       time.Time
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	ID      uuid.UUID
	QueryID string

	c *Coordinator
}

// Unsubscribe stops deliveries to the subscription.
func (s Subscription) Unsubscribe() {
	if s.c != nil {
		s.c.Unsubscribe(s.ID)
	}
}

type liveQuery struct {
	query plan.Query
	plan  *plan.Plan
	last  *Update
	// dirty marks a query whose text or location changed since it was
	// last evaluated.
	dirty bool

	// started numbers refreshes in the order they read the workspace.
	// planned and published hold the newest refresh whose plan and result
	// were committed; an older refresh that finishes late commits nothing.
	started   uint64
	planned   uint64
	published uint64
	// deliver keeps subscriber callbacks in publication order.
	deliver sync.Mutex
}

type task struct {
	state  State
	gen    uint64
	graph  bool
	timer  *time.Timer
	cancel context.CancelFunc
}

// Coordinator is the live-update engine for one workspace.
type Coordinator struct {
	docs    *workspace.Workspace
	store   *graph.Store
	planner *plan.Planner
	index   *depindex.Index
	eval    evaluate.Evaluator
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	queries map[string]*liveQuery
	owned   map[string][]string
	tasks   map[string]*task
	subs    map[string]map[uuid.UUID]func(Update)
	subIdx  map[uuid.UUID]string
}

// New returns a coordinator over docs; nil docs starts an empty workspace.
func New(docs *workspace.Workspace, opts Options) *Coordinator {
	if docs == nil {
		docs = workspace.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ev := opts.Evaluator
	if ev == nil {
		ev = evaluate.DatasetEvaluator{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		docs:       docs,
		store:      graph.NewStore(docs, graph.Options{Parser: opts.Parser, Logger: logger, Metrics: opts.Metrics}),
		planner:    plan.NewPlanner(docs, opts.MaxSpecs, logger, opts.Metrics),
		index:      depindex.New(),
		eval:       evaluate.WithTimeout(ev, opts.EvalTimeout),
		opts:       opts,
		logger:     logger,
		metrics:    opts.Metrics,
		baseCtx:    ctx,
		cancelBase: cancel,
		queries:    make(map[string]*liveQuery),
		owned:      make(map[string][]string),
		tasks:      make(map[string]*task),
		subs:       make(map[string]map[uuid.UUID]func(Update)),
		subIdx:     make(map[uuid.UUID]string),
	}
}

func (c *Coordinator) Workspace() *workspace.Workspace { return c.docs }
func (c *Coordinator) Store() *graph.Store             { return c.store }
func (c *Coordinator) Index() *depindex.Index          { return c.index }

// OnDocumentCreated registers a new document. A path that already exists
// is treated as a change.
func (c *Coordinator) OnDocumentCreated(ctx context.Context, path, text string, modTime time.Time) error {
	return c.put(ctx, path, text, modTime)
}

// OnDocumentChanged replaces a document's text. An unknown path is
// treated as a creation.
func (c *Coordinator) OnDocumentChanged(ctx context.Context, path, text string, modTime time.Time) error {
	return c.put(ctx, path, text, modTime)
}

func (c *Coordinator) put(ctx context.Context, path, text string, modTime time.Time) error {
	prev, _ := c.docs.Get(path)
	doc, _, err := c.docs.Put(path, text, modTime)
	if err != nil {
		return err
	}
	graphChanged := prev == nil || prev.GraphFingerprint != doc.GraphFingerprint
	c.logger.Debug("document changed", "path", doc.Path, "version", doc.Version, "graph_changed", graphChanged)
	c.schedule(ctx, doc.Path, graphChanged)
	return nil
}

// OnDocumentDeleted drops a document. Its queries are retired and queries
// that read it are re-evaluated without it.
func (c *Coordinator) OnDocumentDeleted(ctx context.Context, path string) error {
	doc, err := c.docs.Remove(path)
	if err != nil {
		return err
	}
	c.store.Cache.Remove(doc.Path)
	c.logger.Debug("document deleted", "path", doc.Path)
	c.schedule(ctx, doc.Path, true)
	return nil
}

// OnDocumentRenamed moves a document. Its queries keep their subscribers
// under the new IDs. Queries that named the old address keep naming it and
// are re-planned like after a deletion: a FROM <vault://old.md> reads an
// empty graph until a document appears at the old path again, and the
// dependency index keeps Document(oldPath) for them rather than moving the
// entry to the new path.
func (c *Coordinator) OnDocumentRenamed(ctx context.Context, oldPath, newPath string) error {
	doc, err := c.docs.Rename(oldPath, newPath)
	if err != nil {
		return err
	}
	from := address.Document(oldPath).Path()
	if from == doc.Path {
		return nil
	}
	c.store.Cache.Rename(from, doc.Path)

	c.mu.Lock()
	c.moveQueriesLocked(from, doc.Path)
	c.mu.Unlock()

	c.logger.Debug("document renamed", "from", from, "to", doc.Path)
	c.schedule(ctx, from, true)
	c.schedule(ctx, doc.Path, true)
	return nil
}

func (c *Coordinator) moveQueriesLocked(from, to string) {
	ids := c.owned[from]
	delete(c.owned, from)
	moved := make([]string, 0, len(ids))
	for _, id := range ids {
		ordinal := strings.TrimPrefix(id, from+"#")
		newID := to + "#" + ordinal
		lq := c.queries[id]
		delete(c.queries, id)
		if lq == nil {
			continue
		}
		lq.query.ID = newID
		lq.query.Requesting = address.Document(to)
		lq.dirty = true
		c.queries[newID] = lq
		c.index.RenameQuery(id, newID)
		if m, ok := c.subs[id]; ok {
			delete(c.subs, id)
			c.subs[newID] = m
			for sid := range m {
				c.subIdx[sid] = newID
			}
		}
		moved = append(moved, newID)
	}
	if len(moved) > 0 {
		c.owned[to] = moved
	}
}

// schedule records a change to path and arranges its reconciliation. A
// pending or running reconciliation of the same document is abandoned.
func (c *Coordinator) schedule(ctx context.Context, path string, graphChanged bool) {
	c.mu.Lock()
	t, ok := c.tasks[path]
	if !ok {
		t = &task{}
		c.tasks[path] = t
	}
	t.gen++
	gen := t.gen
	t.graph = t.graph || graphChanged
	t.state = StateChanged
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.timer != nil && t.timer.Stop() {
		c.wg.Done()
	}
	t.timer = nil

	if c.opts.Debounce <= 0 {
		c.mu.Unlock()
		c.reconcile(ctx, path, gen)
		return
	}
	c.wg.Add(1)
	t.timer = time.AfterFunc(c.opts.Debounce, func() {
		defer c.wg.Done()
		c.reconcile(c.baseCtx, path, gen)
	})
	c.mu.Unlock()
}

// reconcile brings the queries affected by path up to date. It gives up
// without publishing when a newer change to path supersedes it.
func (c *Coordinator) reconcile(ctx context.Context, path string, gen uint64) {
	c.mu.Lock()
	t, ok := c.tasks[path]
	if !ok || t.gen != gen || t.state == StateReconciling {
		c.mu.Unlock()
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.cancel = cancel
	t.state = StateReconciling
	graphChanged := t.graph
	c.mu.Unlock()

	dirty := c.syncQueries(path)
	change := depindex.ChangeMetadata
	if graphChanged {
		change = depindex.ChangeGraph
	}
	affected := c.index.AffectedBy(path, change)
	for _, id := range dirty {
		if !slices.Contains(affected, id) {
			affected = append(affected, id)
		}
	}
	slices.Sort(affected)

	for _, id := range affected {
		if rctx.Err() != nil {
			break
		}
		c.refresh(rctx, id)
	}

	c.mu.Lock()
	switch {
	case t.gen != gen:
		// superseded; the newer change owns the task
	case rctx.Err() != nil:
		t.state = StateChanged
		t.cancel = nil
	default:
		delete(c.tasks, path)
	}
	done := t.gen == gen && rctx.Err() == nil
	c.mu.Unlock()

	if !done {
		c.metrics.ReconcileCancelled()
		c.logger.Debug("reconciliation abandoned", "path", path)
		return
	}
	c.metrics.Reconciled(len(affected))
	c.logger.Debug("document reconciled", "path", path, "affected", len(affected), "change", change == depindex.ChangeGraph)
	c.checkConsistency()
}

// syncQueries aligns the live queries owned by path with the document's
// current query fragments. Queries whose fragment disappeared are retired;
// it returns the owned queries that need evaluation.
func (c *Coordinator) syncQueries(path string) []string {
	want := map[string]plan.Query{}
	if doc, ok := c.docs.Get(path); ok {
		for i, f := range doc.QueryFragments() {
			id := plan.QueryID(doc.Path, i)
			want[id] = plan.Query{ID: id, Text: f.Text, Requesting: doc.Address()}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.owned[path] {
		if _, keep := want[id]; !keep {
			delete(c.queries, id)
			c.index.Unregister(id)
			c.logger.Debug("query retired", "query", id)
		}
	}
	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var dirty []string
	for _, id := range ids {
		q := want[id]
		lq, ok := c.queries[id]
		switch {
		case !ok:
			lq = &liveQuery{dirty: true}
			c.queries[id] = lq
		case lq.query.Text != q.Text:
			lq.dirty = true
		}
		lq.query = q
		if lq.dirty {
			dirty = append(dirty, id)
		}
	}
	if len(ids) == 0 {
		delete(c.owned, path)
	} else {
		c.owned[path] = ids
	}
	return dirty
}

// refresh re-plans one query, re-registers its dependencies, evaluates it
// and publishes the outcome. Nothing is published when ctx ends first or
// when a refresh of the same query that started later has already
// committed.
func (c *Coordinator) refresh(ctx context.Context, id string) {
	c.mu.Lock()
	lq, ok := c.queries[id]
	if !ok {
		c.index.Unregister(id)
		c.mu.Unlock()
		return
	}
	q := lq.query
	lq.started++
	seq := lq.started
	c.mu.Unlock()

	p := c.planner.Plan(q)
	c.mu.Lock()
	if c.queries[id] != lq {
		c.mu.Unlock()
		return
	}
	if seq > lq.planned {
		c.index.Register(id, p.Dependencies())
		lq.plan = p
		lq.planned = seq
	}
	c.mu.Unlock()

	u := Update{QueryID: id, Plan: p}
	ds, err := evaluate.Assemble(ctx, c.store, p)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		u.Err = err
		c.publish(lq, seq, u)
		return
	}
	ds.Warnings = append(ds.Warnings, c.materializationWarnings(p)...)
	u.Warnings = ds.Warnings

	start := time.Now()
	res, err := c.eval.Evaluate(ctx, q, ds)
	if ctx.Err() != nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = evaluate.KindOf(err).String()
		c.logger.Warn("query evaluation failed", "query", id, "error", err)
	}
	c.metrics.Evaluated(outcome, time.Since(start))
	u.Result, u.Err = res, err
	c.publish(lq, seq, u)
}

// materializationWarnings flags every document graph in p that was served
// without its failed fragments.
func (c *Coordinator) materializationWarnings(p *plan.Plan) []string {
	var out []string
	for _, s := range p.Specs {
		if s.Address.Kind() != address.KindDocument {
			continue
		}
		e, ok := c.store.Cache.Peek(s.Address.Path())
		if !ok || len(e.Errors) == 0 {
			continue
		}
		out = append(out, fmt.Sprintf("materialization: %s: %d graph fragment(s) failed; their triples are missing",
			s.Address, len(e.Errors)))
	}
	return out
}

// publish commits u as the result of refresh seq and delivers it. Subscriber
// callbacks must not trigger a synchronous reconcile of the same query.
func (c *Coordinator) publish(lq *liveQuery, seq uint64, u Update) {
	u.At = time.Now()
	lq.deliver.Lock()
	defer lq.deliver.Unlock()

	c.mu.Lock()
	if c.queries[u.QueryID] != lq || seq <= lq.published {
		newer := lq.published
		c.mu.Unlock()
		c.logger.Debug("stale result dropped", "query", u.QueryID, "refresh", seq, "published", newer)
		return
	}
	lq.published = seq
	lq.last = &u
	lq.dirty = false
	fns := make([]func(Update), 0, len(c.subs[u.QueryID]))
	for _, fn := range c.subs[u.QueryID] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

// checkConsistency verifies the dependency index against every live
// query's last plan and rebuilds it on mismatch.
func (c *Coordinator) checkConsistency() {
	c.mu.Lock()
	err := c.index.Verify()
	if err == nil {
		err = c.verifyPlansLocked()
	}
	c.mu.Unlock()
	if err == nil {
		return
	}
	if c.opts.StrictConsistency {
		panic(err)
	}
	c.logger.Error("dependency index inconsistent, rebuilding", "error", err)
	c.RebuildIndex()
}

func (c *Coordinator) verifyPlansLocked() error {
	var problems []string
	for id, lq := range c.queries {
		if lq.plan == nil {
			continue
		}
		want := lq.plan.Dependencies()
		got := c.index.Dependencies(id)
		if len(want) != len(got) {
			problems = append(problems, fmt.Sprintf("query %s: %d registered dependencies, plan has %d", id, len(got), len(want)))
			continue
		}
		for _, a := range want {
			if !slices.Contains(got, a) {
				problems = append(problems, fmt.Sprintf("query %s: %s not registered", id, a))
			}
		}
	}
	for _, id := range c.index.Queries() {
		if lq, ok := c.queries[id]; !ok || lq.plan == nil {
			problems = append(problems, fmt.Sprintf("query %s registered but not live", id))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return &depindex.ConsistencyError{Problems: problems}
}

// RebuildIndex replaces the dependency index with the registrations of
// every live query's last plan.
func (c *Coordinator) RebuildIndex() {
	c.mu.Lock()
	all := make(map[string][]address.Address, len(c.queries))
	for id, lq := range c.queries {
		if lq.plan != nil {
			all[id] = lq.plan.Dependencies()
		}
	}
	c.index.Rebuild(all)
	c.mu.Unlock()
	c.metrics.IndexRebuilt()
}

// Subscribe registers fn for every future result of queryID. The query
// need not exist yet. When a result is already known, fn receives it
// before Subscribe returns.
func (c *Coordinator) Subscribe(queryID string, fn func(Update)) Subscription {
	s := Subscription{ID: uuid.New(), QueryID: queryID, c: c}
	c.mu.Lock()
	if lq, ok := c.queries[queryID]; ok {
		c.mu.Unlock()
		lq.deliver.Lock()
		defer lq.deliver.Unlock()
		c.mu.Lock()
	}
	m, ok := c.subs[queryID]
	if !ok {
		m = make(map[uuid.UUID]func(Update))
		c.subs[queryID] = m
	}
	m[s.ID] = fn
	c.subIdx[s.ID] = queryID
	var last *Update
	if lq, ok := c.queries[queryID]; ok {
		last = lq.last
	}
	c.mu.Unlock()
	if last != nil {
		fn(*last)
	}
	return s
}

// Unsubscribe removes a subscription; it reports whether it existed.
func (c *Coordinator) Unsubscribe(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.subIdx[id]
	if !ok {
		return false
	}
	delete(c.subIdx, id)
	delete(c.subs[q], id)
	if len(c.subs[q]) == 0 {
		delete(c.subs, q)
	}
	return true
}

// Queries returns the IDs of every live query, sorted.
func (c *Coordinator) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.queries))
	for id := range c.queries {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// LastUpdate returns the most recent outcome of queryID.
func (c *Coordinator) LastUpdate(queryID string) (Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lq, ok := c.queries[queryID]
	if !ok || lq.last == nil {
		return Update{}, false
	}
	return *lq.last, true
}

// DocumentState reports where path is in its reconciliation cycle.
func (c *Coordinator) DocumentState(path string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[address.Document(path).Path()]; ok {
		return t.state
	}
	return StateUnchanged
}

// PlanAndDescribe plans a live query against the current workspace
// without registering or evaluating it.
func (c *Coordinator) PlanAndDescribe(queryID string) (*plan.Plan, error) {
	c.mu.Lock()
	lq, ok := c.queries[queryID]
	var q plan.Query
	if ok {
		q = lq.query
	}
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", queryID, ErrUnknownQuery)
	}
	return c.planner.Plan(q), nil
}

// PlanQuery plans an ad hoc query without registering it.
func (c *Coordinator) PlanQuery(q plan.Query) *plan.Plan {
	return c.planner.Plan(q)
}

// GraphSnapshot returns the graph at a. The graph is immutable.
func (c *Coordinator) GraphSnapshot(ctx context.Context, a address.Address) (*rdf.Graph, error) {
	return c.store.Get(ctx, a)
}

// Diagnostics returns the per-fragment materialization errors of the
// document at path.
func (c *Coordinator) Diagnostics(ctx context.Context, path string) ([]*materialize.Error, error) {
	e, err := c.store.Cache.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.Errors, nil
}

// Flush runs every pending reconciliation now and waits for running ones.
func (c *Coordinator) Flush(ctx context.Context) error {
	type job struct {
		path string
		gen  uint64
	}
	c.mu.Lock()
	var jobs []job
	for p, t := range c.tasks {
		if t.state == StateReconciling {
			continue
		}
		if t.timer != nil && t.timer.Stop() {
			c.wg.Done()
		}
		t.timer = nil
		jobs = append(jobs, job{path: p, gen: t.gen})
	}
	c.mu.Unlock()
	slices.SortFunc(jobs, func(a, b job) int { return strings.Compare(a.path, b.path) })
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.reconcile(ctx, j.path, j.gen)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close abandons pending reconciliations and waits for running ones.
func (c *Coordinator) Close() {
	c.cancelBase()
	c.mu.Lock()
	for _, t := range c.tasks {
		if t.timer != nil && t.timer.Stop() {
			c.wg.Done()
		}
		t.timer = nil
		if t.cancel != nil {
			t.cancel()
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}
