// Package evaluate binds the engine to a SPARQL evaluator. The engine
// assembles a Dataset from a query plan; the evaluator executes the query
// against it.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/plan"
	"github.com/agentic-research/vaultgraph/internal/rdf"
)

// Kind classifies evaluation failures.
type Kind uint8

const (
	KindFailed Kind = iota
	KindSyntax
	KindTimeout
	KindResourceLimit
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindTimeout:
		return "timeout"
	case KindResourceLimit:
		return "resource-limit"
	default:
		return "failed"
	}
}

// Error is an evaluation failure scoped to one query.
type Error struct {
	QueryID string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluate %s: %s: %v", e.QueryID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, KindFailed for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindFailed
}

// ResultKind tells which field of a Result is populated.
type ResultKind uint8

const (
	ResultBindings ResultKind = iota
	ResultQuads
	ResultBoolean
)

type Result struct {
	Kind     ResultKind
	Vars     []string
	Bindings []map[string]rdf.Term
	Quads    []rdf.Quad
	Boolean  bool
}

// Dataset is the RDF dataset a query runs against: the default graph is
// the union of every non-named spec; named graphs are keyed by address.
type Dataset struct {
	Default *rdf.Graph
	Named   map[address.Address]*rdf.Graph
	Specs   []plan.GraphLoadSpec
	// Warnings carries advisories from planning and loading, such as
	// documents whose fragments failed to materialize.
	Warnings []string
}

// Evaluator executes a query against a dataset.
type Evaluator interface {
	Evaluate(ctx context.Context, q plan.Query, ds *Dataset) (*Result, error)
}

// Func adapts a function to Evaluator.
type Func func(ctx context.Context, q plan.Query, ds *Dataset) (*Result, error)

func (f Func) Evaluate(ctx context.Context, q plan.Query, ds *Dataset) (*Result, error) {
	return f(ctx, q, ds)
}

// GraphLoader returns the graph at an address. *graph.Store implements it.
type GraphLoader interface {
	Get(ctx context.Context, a address.Address) (*rdf.Graph, error)
}

// Assemble loads every graph of p. Each loaded graph is an immutable
// snapshot, so the dataset stays consistent while the query runs even if
// documents change meanwhile.
func Assemble(ctx context.Context, loader GraphLoader, p *plan.Plan) (*Dataset, error) {
	ds := &Dataset{Named: make(map[address.Address]*rdf.Graph), Specs: p.Specs}
	var defaults []*rdf.Graph
	for _, s := range p.Specs {
		g, err := loader.Get(ctx, s.Address)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", s.Address, err)
		}
		if s.AsNamed {
			ds.Named[s.Address] = g
		} else {
			defaults = append(defaults, g)
		}
	}
	ds.Default = rdf.Union("", defaults...)
	for _, w := range p.Warnings {
		ds.Warnings = append(ds.Warnings, w.String())
	}
	return ds, nil
}

type timeoutEvaluator struct {
	inner   Evaluator
	timeout time.Duration
}

// WithTimeout bounds every evaluation of inner by d. Expiry and foreign
// errors are reported as *Error.
func WithTimeout(inner Evaluator, d time.Duration) Evaluator {
	return &timeoutEvaluator{inner: inner, timeout: d}
}

func (t *timeoutEvaluator) Evaluate(ctx context.Context, q plan.Query, ds *Dataset) (*Result, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	res, err := t.inner.Evaluate(ctx, q, ds)
	if err == nil {
		return res, nil
	}
	var e *Error
	if errors.As(err, &e) {
		return nil, err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &Error{QueryID: q.ID, Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, &Error{QueryID: q.ID, Kind: KindFailed, Err: err}
}

// DatasetEvaluator is a reference evaluator with CONSTRUCT-everything
// semantics: the result is every quad of the dataset. Named graph quads
// follow the default graph in address order.
type DatasetEvaluator struct {
	// MaxQuads caps the result size; zero means no cap.
	MaxQuads int
}

func (d DatasetEvaluator) Evaluate(ctx context.Context, q plan.Query, ds *Dataset) (*Result, error) {
	if _, err := plan.ScanDataset(q.Text); err != nil && q.Text != "" {
		return nil, &Error{QueryID: q.ID, Kind: KindSyntax, Err: err}
	}
	res := &Result{Kind: ResultQuads}
	res.Quads = append(res.Quads, ds.Default.Quads()...)
	for _, s := range ds.Specs {
		if !s.AsNamed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Quads = append(res.Quads, ds.Named[s.Address].Quads()...)
	}
	if d.MaxQuads > 0 && len(res.Quads) > d.MaxQuads {
		return nil, &Error{QueryID: q.ID, Kind: KindResourceLimit, Err: fmt.Errorf("%d quads exceed limit %d", len(res.Quads), d.MaxQuads)}
	}
	return res, nil
}
