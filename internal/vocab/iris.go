// Package vocab defines the IRIs of the metadata graph (meta://) and the
// RDFS description of them served at meta://ontology.
package vocab

import "github.com/agentic-research/vaultgraph/internal/rdf"

// Namespace is the base IRI prefix for vaultgraph vocabulary terms.
const Namespace = "https://agentic-research.dev/vaultgraph/ns#"

// FrontmatterNamespace prefixes predicates derived from document frontmatter
// keys: a "status" key becomes FrontmatterNamespace + "status".
const FrontmatterNamespace = "https://agentic-research.dev/vaultgraph/frontmatter#"

// Class IRIs.
const (
	// ClassDocument is a workspace document.
	ClassDocument = Namespace + "Document"

	// ClassDirectory is a directory containing documents or directories.
	ClassDirectory = Namespace + "Directory"

	// ClassWorkspace is the workspace root.
	// Extends: ClassDirectory
	ClassWorkspace = Namespace + "Workspace"
)

// Object property IRIs.
const (
	// PropParent links a document or directory to its enclosing directory.
	// Domain: ClassDocument or ClassDirectory, Range: ClassDirectory
	PropParent = Namespace + "parent"

	// PropContains links a directory to each direct child.
	// Domain: ClassDirectory
	PropContains = Namespace + "contains"
)

// Data property IRIs.
const (
	PropPath               = Namespace + "path"
	PropName               = Namespace + "name"
	PropExtension          = Namespace + "extension"
	PropSize               = Namespace + "size"
	PropModified           = Namespace + "modified"
	PropFragmentCount      = Namespace + "fragmentCount"
	PropGraphFragmentCount = Namespace + "graphFragmentCount"
	PropQueryFragmentCount = Namespace + "queryFragmentCount"
	PropTripleCount        = Namespace + "tripleCount"
	PropErrorCount         = Namespace + "errorCount"

	// PropTag carries each entry of a document's frontmatter "tags" list.
	PropTag = Namespace + "tag"
)

// Frontmatter returns the predicate IRI for a frontmatter key.
func Frontmatter(key string) string { return FrontmatterNamespace + key }

// Definition describes one vocabulary term for the ontology graph.
type Definition struct {
	IRI      string
	Class    bool
	Label    string
	Comment  string
	Domain   []string
	Range    string
	SubClass string
}

// Definitions lists every class and property used in the metadata graph.
var Definitions = []Definition{
	{IRI: ClassDocument, Class: true, Label: "Document", Comment: "A document in the workspace."},
	{IRI: ClassDirectory, Class: true, Label: "Directory", Comment: "A directory of the workspace."},
	{IRI: ClassWorkspace, Class: true, Label: "Workspace", Comment: "The workspace root directory.", SubClass: ClassDirectory},

	{IRI: PropParent, Label: "parent", Comment: "Enclosing directory.", Domain: []string{ClassDocument, ClassDirectory}, Range: ClassDirectory},
	{IRI: PropContains, Label: "contains", Comment: "Direct child of a directory.", Domain: []string{ClassDirectory}},
	{IRI: PropPath, Label: "path", Comment: "Workspace-relative path.", Domain: []string{ClassDocument, ClassDirectory}, Range: rdf.XSDString},
	{IRI: PropName, Label: "name", Comment: "Last path segment.", Domain: []string{ClassDocument, ClassDirectory}, Range: rdf.XSDString},
	{IRI: PropExtension, Label: "extension", Comment: "File extension without the dot.", Domain: []string{ClassDocument}, Range: rdf.XSDString},
	{IRI: PropSize, Label: "size", Comment: "Document size in bytes.", Domain: []string{ClassDocument}, Range: rdf.XSDInteger},
	{IRI: PropModified, Label: "modified", Comment: "Last modification time reported by the host.", Domain: []string{ClassDocument}, Range: rdf.XSDDate},
	{IRI: PropFragmentCount, Label: "fragment count", Comment: "Number of fragments of any kind.", Domain: []string{ClassDocument}, Range: rdf.XSDInteger},
	{IRI: PropGraphFragmentCount, Label: "graph fragment count", Comment: "Number of graph-data fragments.", Domain: []string{ClassDocument}, Range: rdf.XSDInteger},
	{IRI: PropQueryFragmentCount, Label: "query fragment count", Comment: "Number of query fragments.", Domain: []string{ClassDocument}, Range: rdf.XSDInteger},
	{IRI: PropTripleCount, Label: "triple count", Comment: "Number of quads in the document graph.", Domain: []string{ClassDocument}, Range: rdf.XSDInteger},
	{IRI: PropErrorCount, Label: "error count", Comment: "Number of graph-data fragments that failed to parse.", Domain: []string{ClassDocument}, Range: rdf.XSDInteger},
	{IRI: PropTag, Label: "tag", Comment: "Entry of the frontmatter tags list.", Domain: []string{ClassDocument}, Range: rdf.XSDString},
}
