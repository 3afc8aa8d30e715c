// Package address implements the graph addressing grammar.
//
// An address names the graph reachable from a document, a directory subtree,
// the whole workspace, or one of the two synthetic meta graphs:
//
//	vault://a/b/file.md   single document
//	vault://a/b/          every document under a/b (recursive)
//	vault://              every document in the workspace
//	meta://               workspace metadata graph
//	meta://ontology       vocabulary of the metadata graph
package address

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// VaultScheme prefixes document, subtree and workspace addresses.
	VaultScheme = "vault"
	// MetaScheme prefixes the synthetic metadata graphs.
	MetaScheme = "meta"

	// Separator is the path separator used inside addresses, regardless of host OS.
	Separator = "/"

	ontologyPath = "ontology"
)

var (
	ErrMalformed = errors.New("malformed address")
	ErrEmptyPath = errors.New("empty address path")
)

// Error reports why an address failed to parse.
type Error struct {
	Input  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("address %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("address %q: %v: %s", e.Input, e.Err, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind tags the variant of an Address.
type Kind uint8

const (
	KindWorkspace Kind = iota
	KindSubtree
	KindDocument
	KindMeta
	KindMetaOntology
)

func (k Kind) String() string {
	switch k {
	case KindWorkspace:
		return "workspace"
	case KindSubtree:
		return "subtree"
	case KindDocument:
		return "document"
	case KindMeta:
		return "meta"
	case KindMetaOntology:
		return "meta-ontology"
	default:
		return "unknown"
	}
}

// Address is a comparable tagged value; two addresses are equal iff their
// normalized forms are equal, so Address can be used directly as a map key.
type Address struct {
	kind Kind
	path string // normalized; subtree paths end with Separator
}

// Document returns the address of a single document. Host-supplied paths are
// trusted: malformed input is cleaned rather than rejected.
func Document(p string) Address {
	n, err := NormalizePath(strings.TrimSuffix(p, Separator))
	if err != nil {
		n = strings.Trim(strings.ReplaceAll(p, `\`, Separator), Separator)
	}
	n = strings.TrimSuffix(n, Separator)
	if n == "" {
		return Workspace()
	}
	return Address{kind: KindDocument, path: n}
}

// Subtree returns the address matching every document below prefix.
// An empty prefix is the workspace.
func Subtree(prefix string) Address {
	n, err := NormalizePath(prefix)
	if err != nil {
		n = strings.Trim(strings.ReplaceAll(prefix, `\`, Separator), Separator)
	}
	n = strings.TrimSuffix(n, Separator)
	if n == "" {
		return Workspace()
	}
	return Address{kind: KindSubtree, path: n + Separator}
}

func Workspace() Address    { return Address{kind: KindWorkspace} }
func Meta() Address         { return Address{kind: KindMeta} }
func MetaOntology() Address { return Address{kind: KindMetaOntology} }

func (a Address) Kind() Kind { return a.kind }

// Path is the normalized document path or subtree prefix; empty for the
// workspace and meta addresses.
func (a Address) Path() string { return a.path }

func (a Address) IsZero() bool { return a == Address{} }

// IsSynthetic reports whether the address names a meta graph, which never
// matches a document path.
func (a Address) IsSynthetic() bool {
	return a.kind == KindMeta || a.kind == KindMetaOntology
}

// IsAggregate reports whether the graph at a is a union over documents.
func (a Address) IsAggregate() bool {
	return a.kind == KindSubtree || a.kind == KindWorkspace
}

// String renders the bit-exact wire form.
func (a Address) String() string {
	switch a.kind {
	case KindDocument, KindSubtree:
		return VaultScheme + "://" + a.path
	case KindMeta:
		return MetaScheme + "://"
	case KindMetaOntology:
		return MetaScheme + "://" + ontologyPath
	default:
		return VaultScheme + "://"
	}
}

// IRI renders the address as an IRI usable inside RDF syntax: identical to
// String except that characters not allowed in IRIs are percent-encoded.
func (a Address) IRI() string {
	if a.kind != KindDocument && a.kind != KindSubtree {
		return a.String()
	}
	segs := strings.Split(a.path, Separator)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return VaultScheme + "://" + strings.Join(segs, Separator)
}

// Base is the IRI used to resolve relative references written inside a
// document's fragments: the document address with a trailing separator.
func (a Address) Base() string {
	iri := a.IRI()
	if strings.HasSuffix(iri, Separator) {
		return iri
	}
	return iri + Separator
}

// Matches reports whether the document at docPath belongs to the graph at a.
func (a Address) Matches(docPath string) bool {
	if docPath == "" {
		return false
	}
	switch a.kind {
	case KindDocument:
		return docPath == a.path
	case KindSubtree:
		return strings.HasPrefix(docPath, a.path)
	case KindWorkspace:
		return true
	default:
		return false
	}
}

// Matches is the free-function form of Address.Matches.
func Matches(docPath string, a Address) bool { return a.Matches(docPath) }

// Specificity ranks kinds: Document > Subtree > Workspace > meta graphs.
func (a Address) Specificity() int {
	switch a.kind {
	case KindDocument:
		return 3
	case KindSubtree:
		return 2
	case KindWorkspace:
		return 1
	default:
		return 0
	}
}

// Compare orders addresses from least to most specific. Subtrees with longer
// prefixes are more specific; remaining ties fall back to the wire form so
// the order is total.
func Compare(a, b Address) int {
	if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
		if sa < sb {
			return -1
		}
		return 1
	}
	if a.kind == KindSubtree && b.kind == KindSubtree && len(a.path) != len(b.path) {
		if len(a.path) < len(b.path) {
			return -1
		}
		return 1
	}
	return strings.Compare(a.String(), b.String())
}

// Parent returns the address of the directory containing a document or
// subtree; the workspace for top-level entries.
func (a Address) Parent() Address {
	switch a.kind {
	case KindDocument, KindSubtree:
		p := strings.TrimSuffix(a.path, Separator)
		i := strings.LastIndex(p, Separator)
		if i < 0 {
			return Workspace()
		}
		return Address{kind: KindSubtree, path: p[:i+1]}
	default:
		return Workspace()
	}
}

// Name returns the last path segment.
func (a Address) Name() string {
	p := strings.TrimSuffix(a.path, Separator)
	if i := strings.LastIndex(p, Separator); i >= 0 {
		return p[i+1:]
	}
	return p
}

// SubtreePrefixes lists every subtree prefix that contains docPath, outermost
// first: "a/b/c.md" yields "a/", "a/b/".
func SubtreePrefixes(docPath string) []string {
	var out []string
	for i := 0; i < len(docPath); i++ {
		if docPath[i] == '/' {
			out = append(out, docPath[:i+1])
		}
	}
	return out
}
