package rdf

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/vaultgraph/api"
)

// The JSON-LD support covers the inline subset people write by hand:
// an object, an array of objects, or an object with @graph; @context with
// @vocab, @base, prefixes and term definitions ({"@id", "@type"});
// @id, @type, value objects (@value/@type/@language), nested node objects and
// arrays. Remote contexts and framing are not supported.

var graphMembers = jp.R().C("@graph").W()

var errRemoteContext = errors.New("remote @context is not supported")

type termDef struct {
	iri   string
	isRef bool   // "@type": "@id"
	dtype string // "@type": datatype IRI
}

type ldContext struct {
	base  string
	vocab string
	terms map[string]termDef
}

type ldState struct {
	ctx     context.Context
	triples []Triple
	bnodes  int
}

func parseJSONLD(ctx context.Context, text, base string) ([]Triple, error) {
	doc, err := oj.ParseString(text)
	if err != nil {
		return nil, &ParseError{Syntax: api.SyntaxJSONLD, Err: err}
	}
	st := &ldState{ctx: ctx}
	root := &ldContext{base: base, terms: map[string]termDef{}}

	var nodes []any
	switch v := doc.(type) {
	case map[string]any:
		if err := root.merge(v["@context"]); err != nil {
			return nil, &ParseError{Syntax: api.SyntaxJSONLD, Err: err}
		}
		if _, ok := v["@graph"]; ok {
			nodes = graphMembers.Get(v)
		} else {
			nodes = []any{v}
		}
	case []any:
		nodes = v
	default:
		return nil, &ParseError{Syntax: api.SyntaxJSONLD, Err: fmt.Errorf("top level must be an object or array, got %T", doc)}
	}

	for _, n := range nodes {
		obj, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if _, err := st.node(obj, root); err != nil {
			return nil, &ParseError{Syntax: api.SyntaxJSONLD, Err: err}
		}
	}
	return st.triples, nil
}

// merge applies a local @context onto c.
func (c *ldContext) merge(raw any) error {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return errRemoteContext
	case []any:
		for _, item := range v {
			if err := c.merge(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if b, ok := v["@base"].(string); ok {
			c.base = resolveIRI(c.base, b)
		}
		if voc, ok := v["@vocab"].(string); ok {
			c.vocab = voc
		}
		for k, def := range v {
			if strings.HasPrefix(k, "@") {
				continue
			}
			switch d := def.(type) {
			case string:
				c.terms[k] = termDef{iri: d}
			case map[string]any:
				td := termDef{}
				if id, ok := d["@id"].(string); ok {
					td.iri = id
				}
				if typ, ok := d["@type"].(string); ok {
					if typ == "@id" {
						td.isRef = true
					} else {
						td.dtype = typ
					}
				}
				c.terms[k] = td
			}
		}
		// Term IRIs may themselves be compact; expand once all are known.
		for k, td := range c.terms {
			td.iri = c.expand(td.iri, false)
			if td.dtype != "" {
				td.dtype = c.expand(td.dtype, false)
			}
			c.terms[k] = td
		}
		return nil
	default:
		return fmt.Errorf("invalid @context of type %T", raw)
	}
}

func (c *ldContext) child(raw any) (*ldContext, error) {
	if raw == nil {
		return c, nil
	}
	n := &ldContext{base: c.base, vocab: c.vocab, terms: make(map[string]termDef, len(c.terms))}
	for k, v := range c.terms {
		n.terms[k] = v
	}
	return n, n.merge(raw)
}

// expand turns a term, compact IRI or relative reference into an absolute
// IRI. Vocabulary-relative expansion applies to property and type names;
// document-relative expansion applies to @id values.
func (c *ldContext) expand(s string, docRelative bool) string {
	if s == "" {
		return s
	}
	if td, ok := c.terms[s]; ok && td.iri != "" {
		return td.iri
	}
	if i := strings.IndexByte(s, ':'); i > 0 {
		prefix, suffix := s[:i], s[i+1:]
		if td, ok := c.terms[prefix]; ok && !strings.HasPrefix(suffix, "//") {
			return td.iri + suffix
		}
		if hasScheme(s) {
			return s
		}
	}
	if docRelative {
		return resolveIRI(c.base, s)
	}
	if c.vocab != "" {
		return c.vocab + s
	}
	return ""
}

func (st *ldState) blank() Term {
	st.bnodes++
	return Blank("b" + strconv.Itoa(st.bnodes))
}

func (st *ldState) emit(s, p, o Term) {
	st.triples = append(st.triples, Triple{Subject: s, Predicate: p, Object: o})
}

// node emits the triples of a node object and returns its subject term.
func (st *ldState) node(obj map[string]any, parent *ldContext) (Term, error) {
	if err := st.ctx.Err(); err != nil {
		return Term{}, err
	}
	c, err := parent.child(obj["@context"])
	if err != nil {
		return Term{}, err
	}

	var subject Term
	if id, ok := obj["@id"].(string); ok {
		subject = c.idTerm(id)
	} else {
		subject = st.blank()
	}

	switch typ := obj["@type"].(type) {
	case string:
		st.emit(subject, IRI(RDFType), IRI(c.expand(typ, false)))
	case []any:
		for _, t := range typ {
			if s, ok := t.(string); ok {
				st.emit(subject, IRI(RDFType), IRI(c.expand(s, false)))
			}
		}
	}

	for _, key := range slices.Sorted(maps.Keys(obj)) {
		if strings.HasPrefix(key, "@") {
			continue
		}
		val := obj[key]
		pred := c.expand(key, false)
		if pred == "" {
			continue // unmapped terms are dropped
		}
		if err := st.values(subject, IRI(pred), c.terms[key], val, c); err != nil {
			return Term{}, err
		}
	}
	return subject, nil
}

func (c *ldContext) idTerm(id string) Term {
	if strings.HasPrefix(id, "_:") {
		return Blank(id)
	}
	return IRI(c.expand(id, true))
}

func (st *ldState) values(s, p Term, def termDef, val any, c *ldContext) error {
	switch v := val.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range v {
			if err := st.values(s, p, def, item, c); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if lit, ok := v["@value"]; ok {
			o := scalarLiteral(lit)
			if lang, ok := v["@language"].(string); ok {
				o = LangLiteral(o.Value, lang)
			} else if dt, ok := v["@type"].(string); ok {
				o = TypedLiteral(o.Value, c.expand(dt, false))
			}
			st.emit(s, p, o)
			return nil
		}
		if list, ok := v["@list"].([]any); ok {
			return st.values(s, p, def, list, c)
		}
		if id, ok := v["@id"].(string); ok && len(v) == 1 {
			st.emit(s, p, c.idTerm(id))
			return nil
		}
		o, err := st.node(v, c)
		if err != nil {
			return err
		}
		st.emit(s, p, o)
		return nil
	case string:
		switch {
		case def.isRef:
			st.emit(s, p, c.idTerm(v))
		case def.dtype != "":
			st.emit(s, p, TypedLiteral(v, def.dtype))
		default:
			st.emit(s, p, Literal(v))
		}
		return nil
	default:
		st.emit(s, p, scalarLiteral(v))
		return nil
	}
}

func scalarLiteral(v any) Term {
	switch x := v.(type) {
	case string:
		return Literal(x)
	case bool:
		return TypedLiteral(strconv.FormatBool(x), XSDBoolean)
	case int64:
		return TypedLiteral(strconv.FormatInt(x, 10), XSDInteger)
	case int:
		return TypedLiteral(strconv.Itoa(x), XSDInteger)
	case float64:
		return TypedLiteral(strconv.FormatFloat(x, 'E', -1, 64), XSDDouble)
	default:
		return Literal(fmt.Sprint(x))
	}
}
