package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

const defaultMCPStartup = 15 * time.Second

// MCPServerConfig describes an external MCP server launched over stdio whose
// tools are exposed as {Name}_{tool}.
type MCPServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     []string
	Startup time.Duration
}

// MCPServerFactory returns a factory that spawns the server, performs the
// initialize handshake and discovers its tools. Each run gets its own process.
func MCPServerFactory(cfg MCPServerConfig, version string) plugin.Factory {
	return func() (plugin.Provider, error) {
		return startMCPServer(cfg, version)
	}
}

type mcpServer struct {
	name   string
	client *client.Client
	tools  []plugin.ToolDescriptor
	remote map[string]bool
}

func startMCPServer(cfg MCPServerConfig, version string) (*mcpServer, error) {
	if cfg.Name == "" || cfg.Command == "" {
		return nil, fmt.Errorf("mcp server requires name and command")
	}
	timeout := cfg.Startup
	if timeout <= 0 {
		timeout = defaultMCPStartup
	}

	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start MCP process %q: %w", cfg.Command, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "llmtest", Version: version}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("MCP initialize %s: %w", cfg.Name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("MCP tools/list %s: %w", cfg.Name, err)
	}

	s := &mcpServer{name: cfg.Name, client: c, remote: make(map[string]bool)}
	for _, t := range listed.Tools {
		if plugin.IsReserved(t.Name) {
			continue
		}
		s.remote[t.Name] = true
		s.tools = append(s.tools, plugin.ToolDescriptor{
			Name:        plugin.QualifiedName(cfg.Name, t.Name),
			Description: plugin.FirstLine(t.Description),
			InputSchema: inputSchema(t),
			Plugin:      cfg.Name,
			Method:      t.Name,
		})
	}
	return s, nil
}

// inputSchema reads a tool's schema through its JSON form, which covers both
// structured and raw schemas.
func inputSchema(t mcp.Tool) map[string]any {
	data, err := json.Marshal(t)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var doc struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.InputSchema == nil {
		return map[string]any{"type": "object"}
	}
	return doc.InputSchema
}

func (s *mcpServer) Name() string { return s.name }

func (s *mcpServer) ListTools() []plugin.ToolDescriptor {
	out := make([]plugin.ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

func (s *mcpServer) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	remote := plugin.StripPrefix(s.name, method)
	if !s.remote[remote] {
		return nil, fmt.Errorf("mcp server %s has no tool %q", s.name, remote)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = remote
	req.Params.Arguments = args
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", remote, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("MCP tool error: %s", text)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	// text content that is JSON becomes addressable data
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded, nil
	}
	return text, nil
}

func (s *mcpServer) Cleanup(context.Context) error {
	return s.client.Close()
}

func contentText(content []mcp.Content) string {
	var texts []string
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			texts = append(texts, tc.Text)
		case *mcp.TextContent:
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}
