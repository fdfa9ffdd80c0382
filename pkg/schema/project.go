package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFile is the manifest name looked up from a spec's directory upward.
const ProjectFile = "llmtest.yaml"

// Project represents an llmtest.yaml manifest: path conventions, run
// defaults and evaluator settings for every spec below its directory.
type Project struct {
	Name      string          `yaml:"name"                json:"name"`
	Paths     ProjectPaths    `yaml:"paths,omitempty"     json:"paths,omitempty"`
	Config    ProjectConfig   `yaml:"config,omitempty"    json:"config,omitempty"`
	Evaluator EvaluatorConfig `yaml:"evaluator,omitempty" json:"evaluator,omitempty"`

	// MCPServers are external MCP servers whose tools join every run.
	MCPServers []MCPServerEntry `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`

	// Root is the absolute path to the directory containing llmtest.yaml.
	// Set after loading/discovery, not from YAML.
	Root string `yaml:"-" json:"-"`
}

// ProjectPaths overrides convention directories.
// Defaults: plugins → "tests/llm/plugins", tests → "tests/llm".
type ProjectPaths struct {
	Plugins string `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Tests   string `yaml:"tests,omitempty"   json:"tests,omitempty"`
	Traces  string `yaml:"traces,omitempty"  json:"traces,omitempty"`
}

// ProjectConfig holds run defaults. Zero values mean "use the built-in default".
type ProjectConfig struct {
	Timeout       int `yaml:"timeout,omitempty"        json:"timeout,omitempty"`
	Parallel      int `yaml:"parallel,omitempty"       json:"parallel,omitempty"`
	TeardownGrace int `yaml:"teardown_grace,omitempty" json:"teardown_grace,omitempty"`
}

// EvaluatorConfig configures the agent CLI that judges runs.
type EvaluatorConfig struct {
	Kind         string   `yaml:"kind,omitempty"          json:"kind,omitempty"` // claude, local
	Binary       string   `yaml:"binary,omitempty"        json:"binary,omitempty"`
	Args         []string `yaml:"args,omitempty"          json:"args,omitempty"`
	Timeout      int      `yaml:"timeout,omitempty"       json:"timeout,omitempty"`
	AllowedTools string   `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
}

// MCPServerEntry launches an external MCP server over stdio. Its tools are
// exposed as {name}_{tool}.
type MCPServerEntry struct {
	Name    string            `yaml:"name"              json:"name"`
	Command string            `yaml:"command"           json:"command"`
	Args    []string          `yaml:"args,omitempty"    json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"     json:"env,omitempty"`
	Startup int               `yaml:"startup,omitempty" json:"startup,omitempty"` // seconds
}

// PluginsDir returns the effective plugins directory (absolute when Root is set).
func (p *Project) PluginsDir() string {
	dir := filepath.Join("tests", "llm", "plugins")
	if p != nil && p.Paths.Plugins != "" {
		dir = p.Paths.Plugins
	}
	return p.abs(dir)
}

// TestsDir returns the effective specs directory.
func (p *Project) TestsDir() string {
	dir := filepath.Join("tests", "llm")
	if p != nil && p.Paths.Tests != "" {
		dir = p.Paths.Tests
	}
	return p.abs(dir)
}

// TracesDir returns the trace output directory, or "" when tracing is off.
func (p *Project) TracesDir() string {
	if p == nil || p.Paths.Traces == "" {
		return ""
	}
	return p.abs(p.Paths.Traces)
}

// TeardownGrace is how long teardown may run after the run deadline passed.
func (p *Project) TeardownGrace() time.Duration {
	if p == nil || p.Config.TeardownGrace <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.Config.TeardownGrace) * time.Second
}

// Parallel is the maximum number of concurrent runs.
func (p *Project) Parallel() int {
	if p == nil || p.Config.Parallel <= 0 {
		return 1
	}
	return p.Config.Parallel
}

func (p *Project) abs(dir string) string {
	if p == nil || p.Root == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(p.Root, dir)
}

// LoadProjectFile reads and parses an llmtest.yaml manifest.
func LoadProjectFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project manifest: %w", err)
	}

	var proj Project
	if err := yaml.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("parse project manifest: %w", err)
	}

	if proj.Name == "" {
		return nil, fmt.Errorf("project manifest %s: name is required", path)
	}
	for i, srv := range proj.MCPServers {
		if srv.Name == "" || srv.Command == "" {
			return nil, fmt.Errorf("project manifest %s: mcp_servers[%d] requires name and command", path, i)
		}
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	proj.Root = abs
	return &proj, nil
}

// DiscoverProject walks up from startPath looking for llmtest.yaml.
// Returns nil, nil when no manifest exists up to the filesystem root.
func DiscoverProject(startPath string) (*Project, error) {
	abs, err := filepath.Abs(startPath)
	if err != nil {
		return nil, err
	}

	// If startPath is a file, start from its directory
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	for {
		candidate := filepath.Join(dir, ProjectFile)
		if _, err := os.Stat(candidate); err == nil {
			return LoadProjectFile(candidate)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// FallbackProject returns an unnamed project rooted at dir, used when no
// manifest was found.
func FallbackProject(dir string) *Project {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Project{Name: filepath.Base(abs), Root: abs}
}
