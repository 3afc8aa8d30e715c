// Package rdf holds the quad model shared by every graph component and the
// bindings to the RDF syntax parsers.
package rdf

import (
	"fmt"
	"strings"
)

// Common datatype and vocabulary IRIs.
const (
	XSD        = "http://www.w3.org/2001/XMLSchema#"
	XSDString  = XSD + "string"
	XSDInteger = XSD + "integer"
	XSDDecimal = XSD + "decimal"
	XSDDouble  = XSD + "double"
	XSDBoolean = XSD + "boolean"
	XSDDate    = XSD + "dateTime"

	RDFNS      = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFType    = RDFNS + "type"
	RDFLangStr = RDFNS + "langString"
	RDFProp    = RDFNS + "Property"

	RDFSNS         = "http://www.w3.org/2000/01/rdf-schema#"
	RDFSClass      = RDFSNS + "Class"
	RDFSLabel      = RDFSNS + "label"
	RDFSComment    = RDFSNS + "comment"
	RDFSDomain     = RDFSNS + "domain"
	RDFSRange      = RDFSNS + "range"
	RDFSSubClassOf = RDFSNS + "subClassOf"
)

// TermKind tags a Term.
type TermKind uint8

const (
	KindIRI TermKind = iota
	KindBlank
	KindLiteral
)

// Term is an RDF term. Terms are comparable values.
type Term struct {
	Kind     TermKind
	Value    string // IRI, blank label (without "_:"), or lexical form
	Datatype string // literals only; empty means xsd:string
	Lang     string // language-tagged literals only
}

func IRI(v string) Term   { return Term{Kind: KindIRI, Value: v} }
func Blank(v string) Term { return Term{Kind: KindBlank, Value: strings.TrimPrefix(v, "_:")} }

// Literal returns a plain xsd:string literal.
func Literal(v string) Term { return Term{Kind: KindLiteral, Value: v} }

func TypedLiteral(v, datatype string) Term {
	if datatype == XSDString {
		datatype = ""
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

func LangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: strings.ToLower(lang)}
}

func (t Term) IsIRI() bool     { return t.Kind == KindIRI }
func (t Term) IsBlank() bool   { return t.Kind == KindBlank }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	default:
		s := `"` + escapeLiteral(t.Value) + `"`
		switch {
		case t.Lang != "":
			return s + "@" + t.Lang
		case t.Datatype != "":
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	}
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func escapeLiteral(s string) string { return literalEscaper.Replace(s) }

// Quad is a triple plus the address of the graph that owns it. Graph holds
// the owning address in wire form.
type Quad struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     string
}

// Triple drops the graph component.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// In places a triple into a graph.
func (t Triple) In(graph string) Quad {
	return Quad{Subject: t.Subject, Predicate: t.Predicate, Object: t.Object, Graph: graph}
}

// String renders the quad as an N-Quads line without the trailing newline.
func (q Quad) String() string {
	if q.Graph == "" {
		return fmt.Sprintf("%s %s %s .", q.Subject, q.Predicate, q.Object)
	}
	return fmt.Sprintf("%s %s %s <%s> .", q.Subject, q.Predicate, q.Object, q.Graph)
}

// Triple drops the graph component.
func (q Quad) Triple() Triple {
	return Triple{Subject: q.Subject, Predicate: q.Predicate, Object: q.Object}
}
