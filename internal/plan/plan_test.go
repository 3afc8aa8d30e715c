package plan

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

func newWorkspace(t *testing.T, paths ...string) *workspace.Workspace {
	t.Helper()
	w := workspace.New(nil)
	for _, p := range paths {
		_, _, err := w.Put(p, "```turtle\n<x> <p> \"1\" .\n```\n", time.Now())
		require.NoError(t, err)
	}
	return w
}

func specAddrs(p *Plan) []string {
	var out []string
	for _, s := range p.Specs {
		out = append(out, s.Address.String())
	}
	return out
}

func TestPlan_DefaultGraphIsRequestingDocument(t *testing.T) {
	w := newWorkspace(t, "notes/a.md", "notes/b.md")
	req := address.Document("notes/a.md")
	p := NewPlanner(w, 0, nil, nil).Plan(Query{ID: "notes/a.md#0", Text: "SELECT * WHERE { ?s ?p ?o }", Requesting: req})

	assert.Equal(t, StrategyDefault, p.Strategy)
	require.Len(t, p.Specs, 1)
	assert.Equal(t, GraphLoadSpec{Address: req, AsNamed: false, Source: SourceDefault, Clause: req}, p.Specs[0])
	assert.Empty(t, p.Warnings)
	assert.Equal(t, []address.Address{req}, p.Dependencies())
}

func TestPlan_FromSubtreeExpandsPerDocument(t *testing.T) {
	w := newWorkspace(t, "notes/a.md", "notes/b.md", "other/c.md")
	planner := NewPlanner(w, 0, nil, nil)
	q := Query{
		ID:         "q.md#0",
		Text:       "SELECT ?s FROM <vault://notes/> WHERE { ?s ?p ?o }",
		Requesting: address.Document("q.md"),
	}

	p := planner.Plan(q)
	assert.Equal(t, StrategyFrom, p.Strategy)
	assert.Equal(t, []string{"vault://notes/a.md", "vault://notes/b.md"}, specAddrs(p))
	for _, s := range p.Specs {
		assert.False(t, s.AsNamed)
		assert.Equal(t, SourceFrom, s.Source)
		assert.Equal(t, address.Subtree("notes/"), s.Clause)
	}
	assert.Contains(t, p.Dependencies(), address.Subtree("notes/"))

	// a new document under the subtree shows up on re-planning
	_, _, err := w.Put("notes/c.md", "```turtle\n<y> <p> \"2\" .\n```\n", time.Now())
	require.NoError(t, err)
	p = planner.Plan(q)
	assert.Len(t, p.Specs, 3)
}

func TestPlan_Strategies(t *testing.T) {
	w := newWorkspace(t, "a.md", "b.md")
	planner := NewPlanner(w, 0, nil, nil)
	req := address.Document("q.md")

	named := planner.Plan(Query{Requesting: req, Text: "SELECT * FROM NAMED <vault://a.md> WHERE { GRAPH ?g { ?s ?p ?o } }"})
	assert.Equal(t, StrategyFromNamed, named.Strategy)
	require.Len(t, named.Specs, 1)
	assert.True(t, named.Specs[0].AsNamed)
	assert.Equal(t, SourceFromNamed, named.Specs[0].Source)

	mixed := planner.Plan(Query{Requesting: req, Text: "SELECT * FROM <vault://a.md> FROM NAMED <vault://b.md> WHERE {}"})
	assert.Equal(t, StrategyMixed, mixed.Strategy)
	assert.Equal(t, []string{"vault://a.md", "vault://b.md"}, specAddrs(mixed))
	assert.False(t, mixed.Specs[0].AsNamed)
	assert.True(t, mixed.Specs[1].AsNamed)
}

func TestPlan_MissingAddressYieldsNoSpecs(t *testing.T) {
	w := newWorkspace(t, "a.md")
	p := NewPlanner(w, 0, nil, nil).Plan(Query{
		Requesting: address.Document("a.md"),
		Text:       "SELECT * FROM <vault://nope/> WHERE {}",
	})
	assert.Equal(t, StrategyFrom, p.Strategy)
	assert.Empty(t, p.Specs)
	assert.Empty(t, p.Warnings)
	require.Len(t, p.Clauses, 1)
	assert.Zero(t, p.Clauses[0].Matched)
	assert.Equal(t, []address.Address{address.Subtree("nope/")}, p.Dependencies())
}

func TestPlan_RelativeReferencesAndPrefixes(t *testing.T) {
	w := newWorkspace(t, "notes/a.md", "notes/b.md", "archive/old.md")
	planner := NewPlanner(w, 0, nil, nil)

	p := planner.Plan(Query{Requesting: address.Document("notes/a.md"), Text: "SELECT * FROM <../b.md> WHERE {}"})
	assert.Equal(t, []string{"vault://notes/b.md"}, specAddrs(p))

	p = planner.Plan(Query{
		Requesting: address.Document("notes/a.md"),
		Text:       "BASE <vault://archive/>\nPREFIX v: <vault://notes/>\nSELECT * FROM <old.md> FROM v:b.md WHERE {}",
	})
	assert.Equal(t, []string{"vault://archive/old.md", "vault://notes/b.md"}, specAddrs(p))
}

func TestPlan_Warnings(t *testing.T) {
	w := newWorkspace(t, "a.md", "b.md", "c.md")
	planner := NewPlanner(w, 2, nil, nil)

	p := planner.Plan(Query{Requesting: address.Document("a.md"), Text: "SELECT * FROM <vault://> WHERE {}"})
	assert.Len(t, p.Specs, 3)
	var got []string
	for _, wn := range p.Warnings {
		got = append(got, wn.Code)
	}
	assert.ElementsMatch(t, []string{WarnWorkspaceScope, WarnTooManyGraphs}, got)

	p = planner.Plan(Query{Requesting: address.Document("a.md"), Text: "SELECT * FROM <ftp://x> FROM <vault://a.md> WHERE {}"})
	assert.Equal(t, []string{"vault://a.md"}, specAddrs(p))
	require.Len(t, p.Warnings, 1)
	assert.Equal(t, WarnUnparseableAddress, p.Warnings[0].Code)

	p = planner.Plan(Query{Requesting: address.Document("a.md"), Text: "SELECT * FROM undeclared:x WHERE {}"})
	assert.Equal(t, StrategyDefault, p.Strategy)
	require.Len(t, p.Warnings, 1)
	assert.Equal(t, WarnQuerySyntax, p.Warnings[0].Code)
}

func TestPlan_DedupesOverlappingClauses(t *testing.T) {
	w := newWorkspace(t, "notes/a.md", "notes/b.md")
	p := NewPlanner(w, 0, nil, nil).Plan(Query{
		Requesting: address.Document("q.md"),
		From:       []string{"vault://notes/a.md", "vault://notes/"},
		FromNamed:  []string{"vault://notes/a.md"},
	})
	assert.Equal(t, []string{"vault://notes/a.md", "vault://notes/b.md", "vault://notes/a.md"}, specAddrs(p))
	assert.Equal(t, StrategyMixed, p.Strategy)
}

func TestPlan_MetaGraphsLoadAsThemselves(t *testing.T) {
	w := newWorkspace(t, "a.md")
	p := NewPlanner(w, 0, nil, nil).Plan(Query{
		Requesting: address.Document("a.md"),
		Text:       "SELECT * FROM <meta://> FROM NAMED <meta://ontology> WHERE {}",
	})
	assert.Equal(t, []string{"meta://", "meta://ontology"}, specAddrs(p))
}

func TestPlan_Describe(t *testing.T) {
	w := newWorkspace(t, "notes/a.md")
	p := NewPlanner(w, 0, nil, nil).Plan(Query{
		ID:         "q.md#0",
		Requesting: address.Document("q.md"),
		Text:       "SELECT * FROM <vault://notes/> WHERE {}",
	})
	d := p.Describe()
	assert.True(t, strings.HasPrefix(d, "query q.md#0 (requesting vault://q.md)\n"))
	assert.Contains(t, d, "strategy: from\n")
	assert.Contains(t, d, "FROM <vault://notes/> -> vault://notes/ (1)")
	assert.Contains(t, d, "[default] vault://notes/a.md (from vault://notes/)")
}

func TestScanDataset(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		from      []string
		fromNamed []string
		form      string
	}{
		{
			name:  "no dataset",
			query: "SELECT * WHERE { ?s ?p ?o }",
			form:  "SELECT",
		},
		{
			name:      "clauses",
			query:     "select ?s from <vault://a.md> from named <vault://b/> where { ?s ?p ?o }",
			from:      []string{"vault://a.md"},
			fromNamed: []string{"vault://b/"},
			form:      "SELECT",
		},
		{
			name:  "comments and strings",
			query: "# FROM <vault://commented.md>\nSELECT (\"FROM <x>\" AS ?l) FROM <vault://a.md> { ?s ?p ?o }",
			from:  []string{"vault://a.md"},
			form:  "SELECT",
		},
		{
			name:  "construct template",
			query: "CONSTRUCT { ?s <http://p> \"{\" } FROM <vault://a.md> WHERE { ?s ?p ?o }",
			from:  []string{"vault://a.md"},
			form:  "CONSTRUCT",
		},
		{
			name:  "body is not scanned",
			query: "ASK { SERVICE <x> { ?s ?p ?o } } FROM <vault://ignored.md>",
			form:  "ASK",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ScanDataset(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.from, ds.From)
			assert.Equal(t, tt.fromNamed, ds.FromNamed)
			assert.Equal(t, tt.form, ds.Form)
		})
	}
}

func TestScanDataset_Errors(t *testing.T) {
	for _, q := range []string{
		"SELECT * FROM <vault://a.md",
		"SELECT * FROM ?g WHERE {}",
		"PREFIX ex <http://x> SELECT * WHERE {}",
		"SELECT (\"open AS ?x) WHERE {}",
	} {
		_, err := ScanDataset(q)
		var serr *SyntaxError
		assert.ErrorAs(t, err, &serr, q)
	}
}
