package rdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	knakk "github.com/knakk/rdf"

	"github.com/agentic-research/vaultgraph/api"
)

// parseTurtle decodes Turtle with knakk/rdf. The base is declared with an
// @base directive ahead of the fragment so the decoder resolves relative
// IRIs itself; resolveIRI covers anything it leaves relative.
func parseTurtle(ctx context.Context, text, base string) ([]Triple, error) {
	src := text
	if base != "" {
		src = fmt.Sprintf("@base <%s> .\n%s", base, text)
	}
	return decode(ctx, src, base, knakk.Turtle, api.SyntaxTurtle)
}

// parseNTriples decodes N-Triples. N-Triples has no relative IRIs, so base
// only applies to references the decoder passes through unresolved.
func parseNTriples(ctx context.Context, text, base string) ([]Triple, error) {
	return decode(ctx, text, base, knakk.NTriples, api.SyntaxNTriples)
}

func decode(ctx context.Context, src, base string, format knakk.Format, syntax string) ([]Triple, error) {
	dec := knakk.NewTripleDecoder(strings.NewReader(src), format)
	var out []Triple
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, &ParseError{Syntax: syntax, Err: err}
		}
		out = append(out, Triple{
			Subject:   fromKnakk(t.Subj, base),
			Predicate: fromKnakk(t.Pred, base),
			Object:    fromKnakk(t.Obj, base),
		})
	}
}

func fromKnakk(t knakk.Term, base string) Term {
	switch v := t.(type) {
	case knakk.IRI:
		return IRI(resolveIRI(base, v.String()))
	case knakk.Blank:
		return Blank(v.String())
	case knakk.Literal:
		if lang := v.Lang(); lang != "" {
			return LangLiteral(v.String(), lang)
		}
		return TypedLiteral(v.String(), v.DataType.String())
	default:
		return Literal(t.String())
	}
}
