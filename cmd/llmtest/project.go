package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/ormasoftchile/llmtest/pkg/agent"
	"github.com/ormasoftchile/llmtest/pkg/plugin"
	"github.com/ormasoftchile/llmtest/pkg/plugins"
	"github.com/ormasoftchile/llmtest/pkg/schema"
)

// loadProject finds llmtest.yaml upward from start, falling back to an
// unnamed project rooted at the working directory.
func loadProject(start string) (*schema.Project, error) {
	if start == "" {
		start = "."
	}
	proj, err := schema.DiscoverProject(start)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		proj = schema.FallbackProject(cwd)
	}
	return proj, nil
}

// newRegistry registers the in-tree providers, every script plugin in
// pluginsDir and the project's external MCP servers.
func newRegistry(proj *schema.Project, pluginsDir string, log *slog.Logger) (*plugin.Registry, error) {
	reg := plugin.NewRegistry(log)
	if err := plugins.Register(reg); err != nil {
		return nil, err
	}
	found, err := reg.Discover(pluginsDir)
	if err != nil {
		return nil, err
	}
	log.Debug("plugins discovered", "dir", pluginsDir, "count", len(found))

	for _, srv := range proj.MCPServers {
		cfg := plugins.MCPServerConfig{
			Name:    srv.Name,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     envList(srv.Env),
			Startup: time.Duration(srv.Startup) * time.Second,
		}
		if err := reg.RegisterFactory("mcp:"+srv.Name, plugins.MCPServerFactory(cfg, version)); err != nil {
			log.Warn("mcp server skipped", "name", srv.Name, "error", err)
		}
	}
	return reg, nil
}

// envList turns a map into sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// newEvaluator builds the evaluator named by kind, falling back to the
// project setting. The Claude evaluator runs in the project root and points
// the agent back at this binary's mcp-serve with the same plugins.
func newEvaluator(kind string, proj *schema.Project, pluginsDir string, log *slog.Logger) (agent.Evaluator, error) {
	if kind == "" {
		kind = proj.Evaluator.Kind
	}
	ev, err := agent.New(kind, proj.Evaluator)
	if err != nil {
		return nil, err
	}
	if c, ok := ev.(*agent.ClaudeCLIEvaluator); ok {
		c.Dir = proj.Root
		c.Logger = log
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate llmtest executable: %w", err)
		}
		c.ServerCommand = []string{exe, "mcp-serve", "--plugins", pluginsDir}
	}
	return ev, nil
}
