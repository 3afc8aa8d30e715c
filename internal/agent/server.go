// Package agent exposes a live workspace to LLM agents as MCP tools:
// listing queries, explaining their plans, reading their current results,
// dumping graphs, and reporting fragments that fail to parse.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/evaluate"
	"github.com/agentic-research/vaultgraph/internal/live"
	"github.com/agentic-research/vaultgraph/internal/plan"
)

// Version is reported to MCP clients.
var Version = "dev"

// MaxGraphQuads caps how many quads vault_graph returns in one call.
const MaxGraphQuads = 5000

// Tools holds the tool handlers. Each handler reads the coordinator's
// current state; none of them change the workspace.
type Tools struct {
	coord *live.Coordinator
}

func NewTools(coord *live.Coordinator) *Tools {
	return &Tools{coord: coord}
}

// NewServer returns an MCP server with every tool registered.
func NewServer(coord *live.Coordinator) *server.MCPServer {
	s := server.NewMCPServer(
		"vaultgraph",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	t := NewTools(coord)
	s.AddTool(mcp.NewTool("vault_queries",
		mcp.WithDescription("List every live query with its strategy, graph count and status"),
	), t.Queries)
	s.AddTool(mcp.NewTool("vault_plan",
		mcp.WithDescription("Explain which graphs a query loads. Pass query_id for a live query, or query (and optionally from) for an ad hoc one"),
		mcp.WithString("query_id", mcp.Description("Live query id, path#ordinal")),
		mcp.WithString("query", mcp.Description("Ad hoc SPARQL text")),
		mcp.WithString("from", mcp.Description("Document the ad hoc query is written in")),
	), t.Plan)
	s.AddTool(mcp.NewTool("vault_result",
		mcp.WithDescription("Current result of a live query as SPARQL JSON results"),
		mcp.WithString("query_id", mcp.Required(), mcp.Description("Live query id, path#ordinal")),
	), t.Result)
	s.AddTool(mcp.NewTool("vault_graph",
		mcp.WithDescription("The graph at an address as N-Quads"),
		mcp.WithString("address", mcp.Required(), mcp.Description("vault://path, vault://dir/, vault://, meta:// or meta://ontology")),
	), t.Graph)
	s.AddTool(mcp.NewTool("vault_check",
		mcp.WithDescription("Fragments that fail to parse and queries that fail to run"),
	), t.Check)
	return s
}

const instructions = `vaultgraph keeps an RDF graph per Markdown document and re-runs every
embedded SPARQL query when the documents it reads change. Graphs are
addressed as vault://path.md (one document), vault://dir/ (a subtree),
vault:// (the workspace) and meta:// (document metadata). Query ids are
the document path plus the query's ordinal, e.g. notes/index.md#0.`

func (t *Tools) Queries(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	for _, id := range t.coord.Queries() {
		p, err := t.coord.PlanAndDescribe(id)
		if err != nil {
			continue
		}
		status := "pending"
		if u, ok := t.coord.LastUpdate(id); ok {
			status = "ok"
			if u.Err != nil {
				status = "error: " + evaluate.KindOf(u.Err).String()
			}
		}
		fmt.Fprintf(&b, "%s\t%s\t%d graph(s)\t%s\n", id, p.Strategy, len(p.Specs), status)
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("no queries"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *Tools) Plan(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if text := req.GetString("query", ""); text != "" {
		requesting := address.Workspace()
		if from := req.GetString("from", ""); from != "" {
			requesting = address.Document(from)
		}
		p := t.coord.PlanQuery(plan.Query{ID: "adhoc", Text: text, Requesting: requesting})
		return mcp.NewToolResultText(p.Describe()), nil
	}
	id := req.GetString("query_id", "")
	if id == "" {
		return mcp.NewToolResultError("one of query_id or query is required"), nil
	}
	p, err := t.coord.PlanAndDescribe(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(p.Describe()), nil
}

func (t *Tools) Result(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("query_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	u, ok := t.coord.LastUpdate(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Errorf("%s: %w", id, live.ErrUnknownQuery).Error()), nil
	}

	var b strings.Builder
	for _, w := range u.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	if u.Err != nil {
		fmt.Fprintf(&b, "%s error: %v\n", evaluate.KindOf(u.Err), u.Err)
		return mcp.NewToolResultError(b.String()), nil
	}
	if u.Result != nil {
		b.WriteString(u.Result.JSON())
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *Tools) Graph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := address.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g, err := t.coord.GraphSnapshot(ctx, a)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	n := 0
	for q := range g.All() {
		if n == MaxGraphQuads {
			fmt.Fprintf(&b, "# truncated: %d of %d quads shown\n", n, g.Len())
			break
		}
		b.WriteString(q.String())
		b.WriteByte('\n')
		n++
	}
	if n == 0 {
		return mcp.NewToolResultText("# empty graph"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *Tools) Check(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	for _, p := range t.coord.Workspace().Paths() {
		errs, err := t.coord.Diagnostics(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, e := range errs {
			fmt.Fprintf(&b, "%s:%d: %s: %v\n", p, e.Span.StartLine, e.Syntax, e.Err)
		}
	}
	for _, id := range t.coord.Queries() {
		if u, ok := t.coord.LastUpdate(id); ok && u.Err != nil {
			fmt.Fprintf(&b, "%s: %v\n", id, u.Err)
		}
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("ok"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}
