package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/rdf"
	"github.com/agentic-research/vaultgraph/internal/vocab"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

type metaBuilder struct {
	graph string
	quads []rdf.Quad
}

func (b *metaBuilder) add(s, p string, o rdf.Term) {
	b.quads = append(b.quads, rdf.Quad{Subject: rdf.IRI(s), Predicate: rdf.IRI(p), Object: o, Graph: b.graph})
}

func intLit(n int) rdf.Term { return rdf.TypedLiteral(strconv.Itoa(n), rdf.XSDInteger) }

// meta describes the current document and directory structure. Document
// statistics come from the cache, so building it materializes every
// document.
func (c *Composer) meta(ctx context.Context) (*rdf.Graph, error) {
	b := &metaBuilder{graph: address.Meta().String()}
	root := address.Workspace()
	b.add(root.IRI(), rdf.RDFType, rdf.IRI(vocab.ClassWorkspace))
	b.add(root.IRI(), rdf.RDFType, rdf.IRI(vocab.ClassDirectory))
	b.add(root.IRI(), vocab.PropPath, rdf.Literal(""))

	dirs := map[string]bool{}
	for _, d := range c.docs.Documents() {
		e, err := c.cache.Get(ctx, d.Path)
		if errors.Is(err, workspace.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		describeDocument(b, d, e)
		for _, p := range address.SubtreePrefixes(d.Path) {
			dirs[p] = true
		}
	}

	prefixes := make([]string, 0, len(dirs))
	for p := range dirs {
		prefixes = append(prefixes, p)
	}
	slices.Sort(prefixes)
	for _, p := range prefixes {
		dir := address.Subtree(p)
		parent := dir.Parent()
		b.add(dir.IRI(), rdf.RDFType, rdf.IRI(vocab.ClassDirectory))
		b.add(dir.IRI(), vocab.PropPath, rdf.Literal(dir.Path()))
		b.add(dir.IRI(), vocab.PropName, rdf.Literal(dir.Name()))
		b.add(dir.IRI(), vocab.PropParent, rdf.IRI(parent.IRI()))
		b.add(parent.IRI(), vocab.PropContains, rdf.IRI(dir.IRI()))
	}
	return rdf.NewGraph(b.graph, b.quads), nil
}

func describeDocument(b *metaBuilder, d *workspace.Document, e *Entry) {
	a := d.Address()
	s := a.IRI()
	parent := a.Parent()
	graphFrags := len(d.GraphFragments())

	b.add(s, rdf.RDFType, rdf.IRI(vocab.ClassDocument))
	b.add(s, vocab.PropPath, rdf.Literal(d.Path))
	b.add(s, vocab.PropName, rdf.Literal(a.Name()))
	if ext := d.Extension(); ext != "" {
		b.add(s, vocab.PropExtension, rdf.Literal(ext))
	}
	b.add(s, vocab.PropSize, intLit(d.Size()))
	if !d.ModTime.IsZero() {
		b.add(s, vocab.PropModified, rdf.TypedLiteral(d.ModTime.UTC().Format(time.RFC3339), rdf.XSDDate))
	}
	b.add(s, vocab.PropFragmentCount, intLit(len(d.Fragments)))
	b.add(s, vocab.PropGraphFragmentCount, intLit(graphFrags))
	b.add(s, vocab.PropQueryFragmentCount, intLit(len(d.Fragments)-graphFrags))
	b.add(s, vocab.PropTripleCount, intLit(e.Graph.Len()))
	b.add(s, vocab.PropErrorCount, intLit(len(e.Errors)))
	b.add(s, vocab.PropParent, rdf.IRI(parent.IRI()))
	b.add(parent.IRI(), vocab.PropContains, rdf.IRI(s))

	for _, key := range slices.Sorted(maps.Keys(d.Frontmatter)) {
		val := d.Frontmatter[key]
		pred := vocab.Frontmatter(url.PathEscape(key))
		if key == "tags" {
			pred = vocab.PropTag
		}
		for _, o := range frontmatterTerms(val) {
			b.add(s, pred, o)
		}
	}
}

// frontmatterTerms maps a YAML value to literals. Lists yield one literal
// per scalar item; nested maps are skipped.
func frontmatterTerms(v any) []rdf.Term {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return []rdf.Term{rdf.Literal(x)}
	case bool:
		return []rdf.Term{rdf.TypedLiteral(strconv.FormatBool(x), rdf.XSDBoolean)}
	case int:
		return []rdf.Term{intLit(x)}
	case int64:
		return []rdf.Term{rdf.TypedLiteral(strconv.FormatInt(x, 10), rdf.XSDInteger)}
	case float64:
		return []rdf.Term{rdf.TypedLiteral(strconv.FormatFloat(x, 'g', -1, 64), rdf.XSDDecimal)}
	case time.Time:
		return []rdf.Term{rdf.TypedLiteral(x.UTC().Format(time.RFC3339), rdf.XSDDate)}
	case []any:
		var out []rdf.Term
		for _, item := range x {
			if _, nested := item.([]any); nested {
				continue
			}
			out = append(out, frontmatterTerms(item)...)
		}
		return out
	case map[string]any:
		return nil
	default:
		return []rdf.Term{rdf.Literal(fmt.Sprint(x))}
	}
}

// buildOntology describes the meta vocabulary in RDFS.
func buildOntology() *rdf.Graph {
	b := &metaBuilder{graph: address.MetaOntology().String()}
	for _, d := range vocab.Definitions {
		if d.Class {
			b.add(d.IRI, rdf.RDFType, rdf.IRI(rdf.RDFSClass))
		} else {
			b.add(d.IRI, rdf.RDFType, rdf.IRI(rdf.RDFProp))
		}
		b.add(d.IRI, rdf.RDFSLabel, rdf.LangLiteral(d.Label, "en"))
		b.add(d.IRI, rdf.RDFSComment, rdf.LangLiteral(d.Comment, "en"))
		for _, dom := range d.Domain {
			b.add(d.IRI, rdf.RDFSDomain, rdf.IRI(dom))
		}
		if d.Range != "" {
			b.add(d.IRI, rdf.RDFSRange, rdf.IRI(d.Range))
		}
		if d.SubClass != "" {
			b.add(d.IRI, rdf.RDFSSubClassOf, rdf.IRI(d.SubClass))
		}
	}
	return rdf.NewGraph(b.graph, b.quads)
}
