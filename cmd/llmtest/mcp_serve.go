package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	lmcp "github.com/ormasoftchile/llmtest/pkg/ecosystem/mcp"
	"github.com/ormasoftchile/llmtest/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/kernel/state"
	"github.com/ormasoftchile/llmtest/pkg/tools"
)

var (
	servePlugins string
	serveState   string
	serveRecord  string
	serveSecrets []string
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Serve the built-in and plugin tools over MCP (stdio)",
	Long: `Serve every tool a run can use as an MCP server on stdin/stdout. The
evaluator starts this command so the agent can inspect a finished run.
--state preloads the run's stored values; --record writes every call the
agent made to a YAML file on exit.`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	log := newLogger().With("component", "mcp-serve")

	proj, err := loadProject(".")
	if err != nil {
		return err
	}
	pluginsDir := servePlugins
	if pluginsDir == "" {
		pluginsDir = proj.PluginsDir()
	}
	reg, err := newRegistry(proj, pluginsDir, log)
	if err != nil {
		return err
	}
	// load failures are already logged by the registry
	set, _ := reg.Instantiate()
	defer set.Cleanup(context.Background())

	store := state.New()
	if serveState != "" {
		if err := loadState(store, serveState); err != nil {
			return err
		}
	}
	disp := tools.NewDispatcher(store, set, log)

	var inv engine.Invoker = disp
	if serveRecord != "" {
		rec := recorder.New(disp)
		rec.SetSecrets(serveSecrets)
		inv = rec
		defer func() {
			if err := rec.Save(serveRecord); err != nil {
				log.Warn("recording not saved", "error", err)
			}
		}()
	}

	log.Debug("serving tools", "count", len(disp.Tools()), "stored", store.Len())
	return server.ServeStdio(lmcp.NewServer(inv, disp.Tools(), version))
}

// loadState seeds store from a JSON list of {name, value} entries, keeping
// their order.
func loadState(store *state.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	var entries []state.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse state %s: %w", path, err)
	}
	store.Restore(entries)
	return nil
}

func init() {
	mcpServeCmd.Flags().StringVar(&servePlugins, "plugins", "", "Plugins directory (default: project paths.plugins)")
	mcpServeCmd.Flags().StringVar(&serveState, "state", "", "JSON file of stored {name, value} entries to preload")
	mcpServeCmd.Flags().StringVar(&serveRecord, "record", "", "Write the calls made through the server to this YAML file")
	mcpServeCmd.Flags().StringArrayVar(&serveSecrets, "secret", nil, "Env var whose value is redacted from the recording, repeatable")
	rootCmd.AddCommand(mcpServeCmd)
}
