package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/llmtest/pkg/kernel/state"
	"github.com/ormasoftchile/llmtest/pkg/logging"
	"github.com/ormasoftchile/llmtest/pkg/plugin"
	"github.com/ormasoftchile/llmtest/pkg/tools"
)

type invokerFunc func(ctx context.Context, name string, args map[string]any) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	return f(ctx, name, args)
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := h(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return result, text.Text
}

func TestHandleCall_Dispatcher(t *testing.T) {
	store := state.New()
	store.Set("user", map[string]any{"id": 7})
	d := tools.NewDispatcher(store, nil, logging.NewNop())

	result, text := call(t, HandleCall(d, "get_value"), map[string]any{"name": "user"})
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"name":"user","value":{"id":7},"found":true}`, text)

	result, text = call(t, HandleCall(d, "list_values"), map[string]any{})
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"names":["user"]}`, text)
}

func TestHandleCall_Errors(t *testing.T) {
	d := tools.NewDispatcher(state.New(), nil, logging.NewNop())

	result, text := call(t, HandleCall(d, "no_such_tool"), nil)
	assert.True(t, result.IsError)
	assert.Contains(t, text, `tool "no_such_tool" not found`)

	result, text = call(t, HandleCall(d, "store_value"), map[string]any{"value": 1})
	assert.True(t, result.IsError, "missing name must be rejected")
	assert.NotEmpty(t, text)

	failing := invokerFunc(func(context.Context, string, map[string]any) (any, error) {
		return map[string]any{"error": "connection refused"}, nil
	})
	result, text = call(t, HandleCall(failing, "api_get"), nil)
	assert.True(t, result.IsError)
	assert.JSONEq(t, `{"error":"connection refused"}`, text)

	broken := invokerFunc(func(context.Context, string, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	result, text = call(t, HandleCall(broken, "api_get"), nil)
	assert.True(t, result.IsError)
	assert.Equal(t, "boom", text)
}

func TestHandleCall_PlainText(t *testing.T) {
	var gotArgs map[string]any
	inv := invokerFunc(func(_ context.Context, name string, args map[string]any) (any, error) {
		gotArgs = args
		return "hello " + name, nil
	})
	result, text := call(t, HandleCall(inv, "greet"), map[string]any{"who": "x"})
	assert.False(t, result.IsError)
	assert.Equal(t, "hello greet", text)
	assert.Equal(t, map[string]any{"who": "x"}, gotArgs)
}

func TestToolFor(t *testing.T) {
	d := tools.NewDispatcher(state.New(), nil, logging.NewNop())
	var store plugin.ToolDescriptor
	for _, td := range d.Tools() {
		if td.Name == "store_value" {
			store = td
		}
	}
	require.Equal(t, "store_value", store.Name)

	tool := ToolFor(store)
	assert.Equal(t, "store_value", tool.Name)
	assert.Equal(t, store.Description, tool.Description)
	assert.Equal(t, "object", tool.InputSchema.Type)
	assert.Contains(t, tool.InputSchema.Properties, "name")
	assert.Contains(t, tool.InputSchema.Properties, "value")
	assert.ElementsMatch(t, []string{"name", "value"}, tool.InputSchema.Required)

	bare := ToolFor(plugin.ToolDescriptor{Name: "ping"})
	assert.Equal(t, "object", bare.InputSchema.Type)
	assert.Empty(t, bare.InputSchema.Required)
}

func TestNewServer(t *testing.T) {
	d := tools.NewDispatcher(state.New(), nil, logging.NewNop())
	assert.NotNil(t, NewServer(d, d.Tools(), "test"))
}
