// Package materialize turns graph-data fragments into quads owned by a
// document graph.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/fragment"
	"github.com/agentic-research/vaultgraph/internal/rdf"
)

var ErrNotGraphData = errors.New("fragment is not graph data")

// Error is a materialization failure scoped to one fragment.
type Error struct {
	Graph    address.Address
	Fragment int
	Span     fragment.Span
	Syntax   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s fragment %d (lines %d-%d, %s): %v",
		e.Graph, e.Fragment, e.Span.StartLine, e.Span.EndLine, e.Syntax, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Materializer parses fragments through an rdf.Parser and tags every quad
// with the owning graph.
type Materializer struct {
	parser rdf.Parser
	logger *slog.Logger
}

func New(parser rdf.Parser, logger *slog.Logger) *Materializer {
	if parser == nil {
		parser = rdf.NewParser()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{parser: parser, logger: logger}
}

// Materialize parses one graph-data fragment. Relative references resolve
// against base. The graph component of every quad is owner, whatever the
// fragment text says. Blank nodes are renamed into a per-fragment scope.
//
// Parse failures are returned as *Error. Context cancellation is returned
// unwrapped so callers can tell an abandoned recompute from bad input.
func (m *Materializer) Materialize(ctx context.Context, frag fragment.Fragment, base string, owner address.Address) ([]rdf.Quad, error) {
	if frag.Kind != fragment.GraphData {
		return nil, &Error{Graph: owner, Fragment: frag.Index, Span: frag.Span, Syntax: frag.Syntax, Err: ErrNotGraphData}
	}
	triples, err := m.parser.Parse(ctx, frag.Text, frag.Syntax, base)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		m.logger.Debug("fragment failed to materialize",
			"graph", owner.String(), "fragment", frag.Index, "syntax", frag.Syntax, "error", err)
		return nil, &Error{Graph: owner, Fragment: frag.Index, Span: frag.Span, Syntax: frag.Syntax, Err: err}
	}

	graph := owner.String()
	scope := "b" + strconv.Itoa(frag.Index) + "_"
	quads := make([]rdf.Quad, 0, len(triples))
	for _, t := range triples {
		q := t.In(graph)
		q.Subject = scopeBlank(q.Subject, scope)
		q.Object = scopeBlank(q.Object, scope)
		quads = append(quads, q)
	}
	return quads, nil
}

func scopeBlank(t rdf.Term, scope string) rdf.Term {
	if !t.IsBlank() {
		return t
	}
	return rdf.Blank(scope + t.Value)
}

// Result is the outcome of materializing every graph-data fragment of one
// document: the union of the fragments that succeeded plus one Error per
// fragment that did not.
type Result struct {
	Quads  []rdf.Quad
	Errors []*Error
	// Fragments is the number of graph-data fragments attempted.
	Fragments int
}

// MaterializeDocument materializes each graph-data fragment independently.
// A failing fragment never discards quads from its siblings. The only error
// returned is context cancellation.
func (m *Materializer) MaterializeDocument(ctx context.Context, frags []fragment.Fragment, owner address.Address) (Result, error) {
	var res Result
	base := owner.Base()
	for _, f := range frags {
		if f.Kind != fragment.GraphData {
			continue
		}
		res.Fragments++
		quads, err := m.Materialize(ctx, f, base, owner)
		if err != nil {
			var merr *Error
			if errors.As(err, &merr) {
				res.Errors = append(res.Errors, merr)
				continue
			}
			return Result{}, err
		}
		res.Quads = append(res.Quads, quads...)
	}
	return res, nil
}
