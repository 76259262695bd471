package mcp

import (
	"context"
	"testing"

	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	pages  []*mcpsdk.ListToolsResult
	cursor []string
	calls  []*mcpsdk.CallToolParams
	result *mcpsdk.CallToolResult
	err    error
	closed bool
}

func (f *fakeSession) ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error) {
	f.cursor = append(f.cursor, params.Cursor)
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeSession) CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	f.calls = append(f.calls, params)
	return f.result, f.err
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func TestClientListsAllPages(t *testing.T) {
	fake := &fakeSession{pages: []*mcpsdk.ListToolsResult{
		{Tools: []*mcpsdk.Tool{{Name: "search", Description: "Search docs"}}, NextCursor: "p2"},
		{Tools: []*mcpsdk.Tool{{Name: "fetch"}}},
	}}
	c, err := newClient(context.Background(), "docs", fake)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "p2"}, fake.cursor)

	actions := c.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "search", actions[0].Name)
	assert.Equal(t, "Search docs", actions[0].Description)
	assert.Contains(t, actions[1].Returns, "MCP server docs")

	r, err := tools.NewRegistry(actions...)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	require.NoError(t, c.Stop())
	assert.True(t, fake.closed)
}

func TestActionCallsTool(t *testing.T) {
	fake := &fakeSession{
		pages: []*mcpsdk.ListToolsResult{{Tools: []*mcpsdk.Tool{{Name: "search"}}}},
		result: &mcpsdk.CallToolResult{Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: "first "},
			&mcpsdk.TextContent{Text: "second"},
		}},
	}
	c, err := newClient(context.Background(), "docs", fake)
	require.NoError(t, err)
	search := c.Actions()[0]

	out, err := search.Handler(context.Background(), `{"query": "retry"}`)
	require.NoError(t, err)
	assert.Equal(t, "first second", out)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "search", fake.calls[0].Name)
	assert.Equal(t, map[string]any{"query": "retry"}, fake.calls[0].Arguments)

	_, err = search.Handler(context.Background(), "plain body")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"input": "plain body"}, fake.calls[1].Arguments)
}

func TestActionReportsToolErrors(t *testing.T) {
	fake := &fakeSession{
		pages: []*mcpsdk.ListToolsResult{{Tools: []*mcpsdk.Tool{{Name: "search"}}}},
		result: &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "index offline"}},
		},
	}
	c, err := newClient(context.Background(), "docs", fake)
	require.NoError(t, err)

	_, err = c.Actions()[0].Handler(context.Background(), `{}`)
	assert.ErrorContains(t, err, "index offline")

	fake.err = errors.New("broken pipe")
	_, err = c.Actions()[0].Handler(context.Background(), `{}`)
	assert.ErrorContains(t, err, "failed to call tool 'search'")
}
