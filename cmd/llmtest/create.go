package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/llmtest/pkg/agent"
	"github.com/ormasoftchile/llmtest/pkg/kernel/state"
	"github.com/ormasoftchile/llmtest/pkg/scaffold"
	"github.com/ormasoftchile/llmtest/pkg/tools"
)

var (
	createFilename string
	createExtend   string
	createTimeout  int
	createJSON     bool
)

var createCmd = &cobra.Command{
	Use:   "create <description>",
	Short: "Have the agent write a new test spec and any plugin it needs",
	Long: `Describe a test in plain language. The agent sees the spec schema and every
available tool, and returns a test spec plus a script plugin when no
existing tool fits. Both are validated before anything is written to the
project's tests and plugins directories. Existing files are never
overwritten, except the plugin named by --extend-plugin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := newLogger()
	proj, err := loadProject(".")
	if err != nil {
		return err
	}
	reg, err := newRegistry(proj, proj.PluginsDir(), log)
	if err != nil {
		return err
	}
	set, _ := reg.Instantiate()
	defer set.Cleanup(context.Background())

	claude := agent.NewClaudeCLIEvaluator(proj.Evaluator)
	claude.Dir = proj.Root
	claude.Logger = log

	g := &scaffold.Generator{
		Runner:     claude,
		Tools:      tools.NewDispatcher(state.New(), set, log).Tools(),
		TestsDir:   proj.TestsDir(),
		PluginsDir: proj.PluginsDir(),
		Timeout:    time.Duration(createTimeout) * time.Second,
		Logger:     log,
	}
	res, err := g.Create(ctx, scaffold.Request{
		Description:  strings.Join(args, " "),
		Filename:     createFilename,
		ExtendPlugin: createExtend,
	})
	if createJSON {
		return printCreateJSON(cmd.OutOrStdout(), res, err)
	}
	if err != nil {
		printCreateError(cmd.ErrOrStderr(), err)
		return err
	}
	printCreated(cmd.OutOrStdout(), proj.Root, res)
	return nil
}

func printCreated(w io.Writer, root string, res *scaffold.Result) {
	fmt.Fprintf(w, "✓ Created %s\n", relPath(root, res.TestPath))
	if res.PluginPath != "" {
		fmt.Fprintf(w, "✓ Created %s\n", relPath(root, res.PluginPath))
	}
}

func printCreateError(w io.Writer, err error) {
	var se *scaffold.Error
	if !errors.As(err, &se) {
		fmt.Fprintf(w, "✗ %v\n", err)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", se.Reason)
	for _, d := range se.Details {
		fmt.Fprintf(w, "    %s\n", d)
	}
}

// printCreateJSON writes {success, ...Result} or {success, error, details}.
func printCreateJSON(w io.Writer, res *scaffold.Result, err error) error {
	out := map[string]any{"success": err == nil}
	if err == nil {
		out["test_path"] = res.TestPath
		out["test_content"] = res.TestContent
		if res.PluginPath != "" {
			out["plugin_path"] = res.PluginPath
			out["plugin_content"] = res.PluginContent
		}
	} else {
		out["error"] = err.Error()
		var se *scaffold.Error
		if errors.As(err, &se) {
			out["error"] = se.Reason
			if len(se.Details) > 0 {
				out["details"] = se.Details
			}
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		return encErr
	}
	return err
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

func init() {
	createCmd.Flags().StringVar(&createFilename, "filename", "", "Test filename, e.g. test_login.yaml (default: chosen by the agent)")
	createCmd.Flags().StringVar(&createExtend, "extend-plugin", "", "Add tools to this existing script plugin instead of writing a new one")
	createCmd.Flags().IntVar(&createTimeout, "timeout", 120, "Agent timeout in seconds")
	createCmd.Flags().BoolVar(&createJSON, "json", false, "Output the result as JSON")
	rootCmd.AddCommand(createCmd)
}
