package rdf

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/agentic-research/vaultgraph/api"
)

var ErrUnsupportedSyntax = errors.New("unsupported RDF syntax")

// Parser turns fragment text into triples. base is the IRI against which
// relative references are resolved. A Parser either returns triples or a
// *ParseError; it never returns a partial result alongside an error.
type Parser interface {
	Parse(ctx context.Context, text, syntax, base string) ([]Triple, error)
}

// ParseError is a syntax failure reported by a parser backend.
type ParseError struct {
	Syntax string
	Err    error
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %v", e.Syntax, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// SyntaxParser dispatches to the backend for each supported syntax.
type SyntaxParser struct{}

func NewParser() *SyntaxParser { return &SyntaxParser{} }

func (p *SyntaxParser) Parse(ctx context.Context, text, syntax, base string) ([]Triple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch syntax {
	case api.SyntaxTurtle:
		return parseTurtle(ctx, text, base)
	case api.SyntaxNTriples:
		return parseNTriples(ctx, text, base)
	case api.SyntaxJSONLD:
		return parseJSONLD(ctx, text, base)
	default:
		return nil, &ParseError{Syntax: syntax, Err: ErrUnsupportedSyntax}
	}
}

// resolveIRI resolves a relative IRI reference against base. Absolute IRIs
// and resolution failures are returned unchanged.
func resolveIRI(base, ref string) string {
	if base == "" || hasScheme(ref) {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func hasScheme(iri string) bool {
	i := strings.IndexByte(iri, ':')
	if i <= 0 {
		return false
	}
	for j := 0; j < i; j++ {
		c := iri[j]
		alpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !alpha && (j == 0 || !(c >= '0' && c <= '9') && c != '+' && c != '-' && c != '.') {
			return false
		}
	}
	return true
}
