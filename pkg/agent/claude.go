package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ormasoftchile/llmtest/pkg/logging"
	"github.com/ormasoftchile/llmtest/pkg/schema"
	"github.com/ormasoftchile/llmtest/pkg/verdict"
)

// Defaults for the Claude Code CLI evaluator.
const (
	DefaultBinary       = "claude"
	DefaultAllowedTools = "mcp__llmtest__*"
	MCPServerName       = "llmtest"
)

// ClaudeCLIEvaluator runs the Claude Code CLI in print mode with an MCP
// config pointing back at `llmtest mcp-serve`, so the agent can inspect the
// run through the same tools the engine used.
type ClaudeCLIEvaluator struct {
	// Binary is the path to the claude executable (default: "claude").
	Binary string
	// Args are appended after the built-in flags.
	Args []string
	// Timeout bounds the process. Zero uses the test's own timeout.
	Timeout time.Duration
	// AllowedTools is passed to --allowedTools.
	AllowedTools string
	// ServerCommand starts the MCP server, e.g. [llmtest mcp-serve --plugins dir].
	// Empty uses the running executable.
	ServerCommand []string
	// Dir is the working directory, normally the project root.
	Dir    string
	Logger *slog.Logger
}

// NewClaudeCLIEvaluator creates an evaluator from project settings.
func NewClaudeCLIEvaluator(cfg schema.EvaluatorConfig) *ClaudeCLIEvaluator {
	c := &ClaudeCLIEvaluator{
		Binary:       cfg.Binary,
		Args:         cfg.Args,
		AllowedTools: cfg.AllowedTools,
	}
	if cfg.Timeout > 0 {
		c.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return c
}

func (c *ClaudeCLIEvaluator) Name() string { return "claude-cli" }

// Evaluate renders the prompt, writes the MCP config and the run's state to
// a temp dir and runs the CLI with stdin closed. Launch failures, timeouts
// and non-zero exits come back as FAIL payloads.
func (c *ClaudeCLIEvaluator) Evaluate(ctx context.Context, req *Request) ([]byte, error) {
	log := c.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log = log.With("component", "evaluator", "run_id", req.RunID)

	allowed := c.AllowedTools
	if allowed == "" {
		allowed = DefaultAllowedTools
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = req.Spec.Test.RunTimeout()
	}

	text, err := RenderPrompt(req)
	if err != nil {
		return verdict.FailPayload("Failed to render prompt template: "+err.Error(), err.Error()), nil
	}

	dir, err := os.MkdirTemp("", "llmtest-eval-*")
	if err != nil {
		return verdict.FailPayload("Failed to prepare evaluator: "+err.Error(), err.Error()), nil
	}
	defer os.RemoveAll(dir)

	configPath, err := c.writeMCPConfig(dir, req)
	if err != nil {
		return verdict.FailPayload("Failed to write MCP config: "+err.Error(), err.Error()), nil
	}

	log.Debug("starting evaluator", "timeout", timeout, "mcp_config", configPath)
	out, err := c.Run(ctx, text, timeout, "--mcp-config", configPath, "--allowedTools", allowed)
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return verdict.FailPayload(cliErr.Reason, cliErr.Detail), nil
	}
	return out, err
}

// CLIError is a CLI run that launched badly, timed out or exited non-zero.
type CLIError struct {
	Reason string
	Detail string
}

func (e *CLIError) Error() string { return e.Reason + ": " + e.Detail }

// Run executes the CLI in print mode with JSON output and returns stdout.
// flags go between the prompt and c.Args. A cancelled ctx is returned as
// is; every other failure is a *CLIError.
func (c *ClaudeCLIEvaluator) Run(ctx context.Context, prompt string, timeout time.Duration, flags ...string) ([]byte, error) {
	log := c.Logger
	if log == nil {
		log = logging.NewNop()
	}
	binary := c.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"-p", prompt}, flags...)
	args = append(args, "--output-format", "json")
	args = append(args, c.Args...)
	cmd := exec.CommandContext(tctx, binary, args...)
	cmd.Dir = c.Dir
	// nil Stdin reads from the null device; the CLI waits forever on an open one
	cmd.Stdin = nil
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("starting claude", "binary", binary, "timeout", timeout)
	start := time.Now()
	err := cmd.Run()
	log.Debug("claude finished", "elapsed", time.Since(start), "err", err)

	switch {
	case err == nil:
		return stdout.Bytes(), nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return nil, &CLIError{
			Reason: fmt.Sprintf("Test timed out after %s", timeout),
			Detail: fmt.Sprintf("Timeout: %s exceeded", timeout),
		}
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return nil, &CLIError{
			Reason: fmt.Sprintf("Claude Code CLI not found. Is %q installed and in PATH?", binary),
			Detail: binary + " command not found",
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "Unknown error"
		}
		log.Warn("claude exited with error", "code", exitErr.ExitCode(), "stderr", truncate(detail, 500))
		return nil, &CLIError{Reason: fmt.Sprintf("Claude Code failed with exit code %d", exitErr.ExitCode()), Detail: detail}
	}
	return nil, &CLIError{Reason: "Failed to run Claude Code: " + err.Error(), Detail: err.Error()}
}

type mcpConfig struct {
	MCPServers map[string]mcpServer `json:"mcpServers"`
}

type mcpServer struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// writeMCPConfig writes the run's state and an MCP config whose server
// preloads it.
func (c *ClaudeCLIEvaluator) writeMCPConfig(dir string, req *Request) (string, error) {
	command := c.ServerCommand
	if len(command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate llmtest executable: %w", err)
		}
		command = []string{exe, "mcp-serve"}
	}
	args := append([]string{}, command[1:]...)

	if len(req.State) > 0 {
		statePath := filepath.Join(dir, "state.json")
		data, err := json.Marshal(req.State)
		if err != nil {
			return "", fmt.Errorf("marshal state: %w", err)
		}
		if err := os.WriteFile(statePath, data, 0o600); err != nil {
			return "", fmt.Errorf("write state: %w", err)
		}
		args = append(args, "--state", statePath)
	}

	cfg := mcpConfig{MCPServers: map[string]mcpServer{
		MCPServerName: {Command: command[0], Args: args},
	}}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mcp config: %w", err)
	}
	path := filepath.Join(dir, "mcp.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write mcp config: %w", err)
	}
	return path, nil
}
