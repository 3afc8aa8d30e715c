// Package plan decides which graphs a query reads.
//
// A query's FROM and FROM NAMED clauses name addresses; the planner resolves
// each to the documents it matches and emits one GraphLoadSpec per document.
// A query with neither clause reads only its own document.
package plan

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/metrics"
	"github.com/agentic-research/vaultgraph/internal/workspace"
)

// Source records which clause produced a spec.
type Source uint8

const (
	SourceDefault Source = iota
	SourceFrom
	SourceFromNamed
)

func (s Source) String() string {
	switch s {
	case SourceFrom:
		return "from"
	case SourceFromNamed:
		return "from-named"
	default:
		return "default"
	}
}

// Strategy classifies a plan by which clause kinds were present.
type Strategy uint8

const (
	StrategyDefault Strategy = iota
	StrategyFrom
	StrategyFromNamed
	StrategyMixed
)

func (s Strategy) String() string {
	switch s {
	case StrategyFrom:
		return "from"
	case StrategyFromNamed:
		return "from-named"
	case StrategyMixed:
		return "mixed"
	default:
		return "default"
	}
}

// Warning codes. Warnings are advisory; a plan is never rejected.
const (
	WarnUnparseableAddress = "unparseable-address"
	WarnTooManyGraphs      = "too-many-graphs"
	WarnWorkspaceScope     = "workspace-scope"
	WarnQuerySyntax        = "query-syntax"
)

type Warning struct {
	Code    string
	Message string
}

func (w Warning) String() string { return w.Code + ": " + w.Message }

// Query is one query fragment as the planner sees it.
type Query struct {
	ID   string
	Text string
	// Requesting is the document the query lives in.
	Requesting address.Address
	// From and FromNamed hold clause references as written. When both are
	// nil they are scanned from Text.
	From      []string
	FromNamed []string
	// Parsed is the evaluator's parsed form, opaque here.
	Parsed any
}

// QueryID names the ordinal-th query fragment of the document at path.
func QueryID(path string, ordinal int) string {
	return path + "#" + strconv.Itoa(ordinal)
}

// GraphLoadSpec is one graph the evaluator must load.
type GraphLoadSpec struct {
	Address address.Address
	AsNamed bool
	Source  Source
	// Clause is the address written in the clause this spec was resolved
	// from; the requesting document for the default spec.
	Clause address.Address
}

func (s GraphLoadSpec) String() string {
	kind := "default"
	if s.AsNamed {
		kind = "named"
	}
	return fmt.Sprintf("[%s] %s (%s %s)", kind, s.Address, s.Source, s.Clause)
}

// Clause is one resolved FROM or FROM NAMED reference.
type Clause struct {
	Address address.Address
	AsNamed bool
	// Raw is the reference as written.
	Raw string
	// Matched is the number of specs the clause resolved to.
	Matched int
}

// Plan is the ordered list of graphs for one query.
type Plan struct {
	QueryID    string
	Requesting address.Address
	Strategy   Strategy
	Specs      []GraphLoadSpec
	Clauses    []Clause
	Warnings   []Warning
}

// Dependencies returns every distinct address the plan touched: the
// clause addresses themselves plus each resolved spec. A later document
// matching a clause address is therefore found through the clause.
func (p *Plan) Dependencies() []address.Address {
	seen := map[address.Address]bool{}
	var out []address.Address
	add := func(a address.Address) {
		if seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}
	if p.Strategy == StrategyDefault {
		add(p.Requesting)
	}
	for _, c := range p.Clauses {
		add(c.Address)
	}
	for _, s := range p.Specs {
		add(s.Address)
	}
	return out
}

// Describe renders the plan for diagnostics.
func (p *Plan) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "query %s (requesting %s)\n", p.QueryID, p.Requesting)
	fmt.Fprintf(&b, "strategy: %s\n", p.Strategy)
	for _, c := range p.Clauses {
		kw := "FROM"
		if c.AsNamed {
			kw = "FROM NAMED"
		}
		fmt.Fprintf(&b, "  %s <%s> -> %s (%d)\n", kw, c.Raw, c.Address, c.Matched)
	}
	fmt.Fprintf(&b, "specs: %d\n", len(p.Specs))
	for _, s := range p.Specs {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	if len(p.Warnings) > 0 {
		b.WriteString("warnings:\n")
		for _, w := range p.Warnings {
			fmt.Fprintf(&b, "  %s\n", w)
		}
	}
	return b.String()
}

// Catalog enumerates the documents matching an address.
// *workspace.Workspace implements it.
type Catalog interface {
	Match(a address.Address) []*workspace.Document
}

// DefaultMaxSpecs is the spec count above which a plan is flagged.
const DefaultMaxSpecs = 256

type Planner struct {
	catalog  Catalog
	maxSpecs int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewPlanner returns a planner; maxSpecs <= 0 selects DefaultMaxSpecs.
func NewPlanner(catalog Catalog, maxSpecs int, logger *slog.Logger, m *metrics.Metrics) *Planner {
	if maxSpecs <= 0 {
		maxSpecs = DefaultMaxSpecs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{catalog: catalog, maxSpecs: maxSpecs, logger: logger, metrics: m}
}

// Plan resolves q's dataset clauses against the current documents. Specs
// are emitted in clause order, then in path order within a clause. A
// (address, named) pair already emitted is not emitted again.
func (p *Planner) Plan(q Query) *Plan {
	out := &Plan{QueryID: q.ID, Requesting: q.Requesting}

	from, fromNamed := q.From, q.FromNamed
	base := q.Requesting
	if from == nil && fromNamed == nil && q.Text != "" {
		ds, err := ScanDataset(q.Text)
		if err != nil {
			out.Warnings = append(out.Warnings, Warning{Code: WarnQuerySyntax, Message: err.Error()})
		}
		from, fromNamed = ds.From, ds.FromNamed
		if ds.Base != "" {
			if b, err := address.Resolve(q.Requesting, ds.Base); err == nil {
				base = b
			} else {
				out.Warnings = append(out.Warnings, Warning{Code: WarnUnparseableAddress, Message: fmt.Sprintf("BASE <%s>: %v", ds.Base, err)})
			}
		}
	}

	switch {
	case len(from) == 0 && len(fromNamed) == 0:
		out.Strategy = StrategyDefault
		out.Specs = []GraphLoadSpec{{Address: q.Requesting, Source: SourceDefault, Clause: q.Requesting}}
		p.metrics.Planned(len(out.Specs), codes(out.Warnings))
		return out
	case len(fromNamed) == 0:
		out.Strategy = StrategyFrom
	case len(from) == 0:
		out.Strategy = StrategyFromNamed
	default:
		out.Strategy = StrategyMixed
	}

	seen := map[GraphLoadSpec]bool{}
	clauses := func(refs []string, named bool, src Source) {
		for _, raw := range refs {
			a, err := address.Resolve(base, raw)
			if err != nil {
				out.Warnings = append(out.Warnings, Warning{
					Code:    WarnUnparseableAddress,
					Message: fmt.Sprintf("<%s>: %v", raw, err),
				})
				continue
			}
			if a.Kind() == address.KindWorkspace {
				out.Warnings = append(out.Warnings, Warning{
					Code:    WarnWorkspaceScope,
					Message: fmt.Sprintf("<%s> reads every document in the workspace", raw),
				})
			}
			c := Clause{Address: a, AsNamed: named, Raw: raw}
			for _, target := range p.resolve(a) {
				key := GraphLoadSpec{Address: target, AsNamed: named}
				if seen[key] {
					continue
				}
				seen[key] = true
				out.Specs = append(out.Specs, GraphLoadSpec{Address: target, AsNamed: named, Source: src, Clause: a})
				c.Matched++
			}
			if c.Matched == 0 {
				p.logger.Debug("dataset clause matched no documents", "query", q.ID, "address", a.String())
			}
			out.Clauses = append(out.Clauses, c)
		}
	}
	clauses(from, false, SourceFrom)
	clauses(fromNamed, true, SourceFromNamed)

	if len(out.Specs) > p.maxSpecs {
		out.Warnings = append(out.Warnings, Warning{
			Code:    WarnTooManyGraphs,
			Message: fmt.Sprintf("%d graphs exceed the limit of %d", len(out.Specs), p.maxSpecs),
		})
	}
	p.metrics.Planned(len(out.Specs), codes(out.Warnings))
	return out
}

// resolve maps a clause address to the graphs to load: the synthetic
// graphs load as themselves, everything else expands to matching documents.
func (p *Planner) resolve(a address.Address) []address.Address {
	if a.IsSynthetic() {
		return []address.Address{a}
	}
	docs := p.catalog.Match(a)
	out := make([]address.Address, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Address())
	}
	return out
}

func codes(ws []Warning) []string {
	if len(ws) == 0 {
		return nil
	}
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}
