package agent

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vaultgraph/internal/live"
)

const triple = `<https://ex.org/a> <https://ex.org/p> "x"`

func newTools(t *testing.T, docs map[string]string) *Tools {
	t.Helper()
	c := live.New(nil, live.Options{})
	t.Cleanup(c.Close)
	for p, text := range docs {
		require.NoError(t, c.OnDocumentCreated(context.Background(), p, text, time.Now()))
	}
	return NewTools(c)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

var vault = map[string]string{
	"data.md": "```turtle\n" + triple + " .\n```\n",
	"q.md":    "```sparql\nSELECT * FROM <vault://data.md> WHERE { ?s ?p ?o }\n```\n",
}

func TestTools_Queries(t *testing.T) {
	tools := newTools(t, vault)
	res, err := tools.Queries(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "q.md#0")
	assert.Contains(t, text(t, res), "ok")

	empty := newTools(t, nil)
	res, err = empty.Queries(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "no queries", text(t, res))
}

func TestTools_Plan(t *testing.T) {
	tools := newTools(t, vault)
	ctx := context.Background()

	res, err := tools.Plan(ctx, call(map[string]any{"query_id": "q.md#0"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "vault://data.md")

	res, err = tools.Plan(ctx, call(map[string]any{"query": "SELECT * FROM <b.md> WHERE {}", "from": "notes/a.md"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "vault://notes/b.md")

	res, err = tools.Plan(ctx, call(map[string]any{"query_id": "nope.md#3"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.Plan(ctx, call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTools_Result(t *testing.T) {
	tools := newTools(t, vault)
	ctx := context.Background()

	res, err := tools.Result(ctx, call(map[string]any{"query_id": "q.md#0"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "https://ex.org/a")

	res, err = tools.Result(ctx, call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.Result(ctx, call(map[string]any{"query_id": "missing.md#0"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTools_Graph(t *testing.T) {
	tools := newTools(t, vault)
	ctx := context.Background()

	res, err := tools.Graph(ctx, call(map[string]any{"address": "vault://data.md"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), triple)

	res, err = tools.Graph(ctx, call(map[string]any{"address": "vault://q.md"}))
	require.NoError(t, err)
	assert.Equal(t, "# empty graph", text(t, res))

	res, err = tools.Graph(ctx, call(map[string]any{"address": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTools_Check(t *testing.T) {
	tools := newTools(t, vault)
	res, err := tools.Check(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", text(t, res))

	broken := newTools(t, map[string]string{
		"bad.md": "# Bad\n```turtle\n<https://ex.org/a> <https://ex.org/p> .\n```\n",
	})
	res, err = broken.Check(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "bad.md:")
}

func TestNewServer(t *testing.T) {
	c := live.New(nil, live.Options{})
	t.Cleanup(c.Close)
	assert.NotNil(t, NewServer(c))
}
