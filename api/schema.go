package api

// FenceSchema declares which fenced regions of a document are fragments.
// A fence whose info string starts with a declared tag is extracted; every
// other fence is ordinary document text.
type FenceSchema struct {
	// Version of the fence schema.
	Version string `json:"version" yaml:"version"`
	// Fences maps fence tags to fragment kinds.
	Fences []Fence `json:"fences,omitempty" yaml:"fences,omitempty"`
}

// Fence declares one fence tag.
type Fence struct {
	// Tag is the first word of the fence info string (e.g. "turtle").
	// Matching is case-insensitive.
	Tag string `json:"tag" yaml:"tag"`
	// Kind is either FenceKindGraph or FenceKindQuery.
	Kind string `json:"kind" yaml:"kind"`
	// Syntax names the fragment body syntax: turtle, ntriples, jsonld or sparql.
	Syntax string `json:"syntax" yaml:"syntax"`
}

const (
	FenceKindGraph = "graph"
	FenceKindQuery = "query"

	SyntaxTurtle   = "turtle"
	SyntaxNTriples = "ntriples"
	SyntaxJSONLD   = "jsonld"
	SyntaxSPARQL   = "sparql"
)

// DefaultFenceSchema returns the built-in tag table.
func DefaultFenceSchema() *FenceSchema {
	return &FenceSchema{
		Version: "v1",
		Fences: []Fence{
			{Tag: "turtle", Kind: FenceKindGraph, Syntax: SyntaxTurtle},
			{Tag: "ttl", Kind: FenceKindGraph, Syntax: SyntaxTurtle},
			{Tag: "ntriples", Kind: FenceKindGraph, Syntax: SyntaxNTriples},
			{Tag: "nt", Kind: FenceKindGraph, Syntax: SyntaxNTriples},
			{Tag: "jsonld", Kind: FenceKindGraph, Syntax: SyntaxJSONLD},
			{Tag: "json-ld", Kind: FenceKindGraph, Syntax: SyntaxJSONLD},
			{Tag: "sparql", Kind: FenceKindQuery, Syntax: SyntaxSPARQL},
			{Tag: "rq", Kind: FenceKindQuery, Syntax: SyntaxSPARQL},
		},
	}
}
