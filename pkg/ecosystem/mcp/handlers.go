package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/tools"
)

// HandleCall returns the handler for the tool called name. Invocation
// errors and {error: ...} results are returned as tool errors so the agent
// sees them, never as protocol errors.
func HandleCall(inv engine.Invoker, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := inv.Invoke(ctx, name, req.GetArguments())
		if err != nil {
			return errorResult(err.Error()), nil
		}
		text, err := render(result)
		if err != nil {
			return errorResult(fmt.Sprintf("encode result of %s: %v", name, err)), nil
		}
		if _, failed := tools.ErrorResult(result); failed {
			return errorResult(text), nil
		}
		return textResult(text), nil
	}
}

// render turns a tool result into text: strings pass through, everything
// else is encoded as indented JSON.
func render(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
