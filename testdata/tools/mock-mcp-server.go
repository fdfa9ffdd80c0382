// mock-mcp-server is a test helper binary serving a small fixed tool set over
// MCP stdio. Used to exercise external MCP server plugins.
//
//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	s := server.NewMCPServer("mock-mcp-server", "1.0.0", server.WithToolCapabilities(true))

	s.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Echo back the message"),
			mcp.WithString("message", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(req.GetString("message", "")), nil
		},
	)
	s.AddTool(
		mcp.NewTool("inventory", mcp.WithDescription("Return a JSON document")),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(`{"items":["bolt","nut"],"count":2}`), nil
		},
	)
	s.AddTool(
		mcp.NewTool("failing", mcp.WithDescription("Always reports a tool error")),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("something went wrong"), nil
		},
	)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
