// Package mcp exposes a run's tools to the evaluating agent over the Model
// Context Protocol. Every tool the dispatcher knows becomes an MCP tool with
// the same name, description and input schema.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

// ServerName is the MCP implementation name announced to clients.
const ServerName = "llmtest"

// NewServer creates an MCP server with one tool per descriptor, each routed
// to inv.
func NewServer(inv engine.Invoker, descs []plugin.ToolDescriptor, version string) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
	)
	for _, d := range descs {
		s.AddTool(ToolFor(d), HandleCall(inv, d.Name))
	}
	return s
}

// ToolFor converts a descriptor into an MCP tool definition.
func ToolFor(d plugin.ToolDescriptor) mcp.Tool {
	in := mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]any{},
	}
	if props, ok := d.InputSchema["properties"].(map[string]any); ok {
		in.Properties = props
	}
	switch req := d.InputSchema["required"].(type) {
	case []string:
		in.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				in.Required = append(in.Required, s)
			}
		}
	}
	return mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: in,
	}
}
