// mock-claude stands in for the Claude Code CLI in evaluator tests. It checks
// the flags and the MCP config it was given, then behaves according to
// MOCK_CLAUDE_MODE: pass (default), exit, hang or state.
//
//go:build ignore

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

type server struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func main() {
	flags := map[string]string{}
	for i := 1; i+1 < len(os.Args); i += 2 {
		flags[os.Args[i]] = os.Args[i+1]
	}
	for _, required := range []string{"-p", "--mcp-config", "--allowedTools", "--output-format"} {
		if flags[required] == "" {
			fmt.Fprintf(os.Stderr, "missing %s\n", required)
			os.Exit(2)
		}
	}

	// stdin must be closed or the real CLI waits for input
	if data, _ := io.ReadAll(os.Stdin); len(data) > 0 {
		fmt.Fprintln(os.Stderr, "stdin was not empty")
		os.Exit(2)
	}

	raw, err := os.ReadFile(flags["--mcp-config"])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	var cfg struct {
		MCPServers map[string]server `json:"mcpServers"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	srv, ok := cfg.MCPServers["llmtest"]
	if !ok {
		fmt.Fprintln(os.Stderr, "no llmtest server in MCP config")
		os.Exit(2)
	}

	reason := "allowed=" + flags["--allowedTools"]
	switch os.Getenv("MOCK_CLAUDE_MODE") {
	case "exit":
		fmt.Fprintln(os.Stderr, "quota exceeded")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
	case "state":
		for i, a := range srv.Args {
			if a == "--state" && i+1 < len(srv.Args) {
				data, err := os.ReadFile(srv.Args[i+1])
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(2)
				}
				reason = string(data)
			}
		}
	}

	inner, _ := json.Marshal(map[string]any{"verdict": "PASS", "reason": reason})
	out, _ := json.Marshal(map[string]any{"type": "result", "result": string(inner)})
	fmt.Println(string(out))
}
