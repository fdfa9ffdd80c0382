package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/llmtest/pkg/kernel/state"
	"github.com/ormasoftchile/llmtest/pkg/plugin"
	"github.com/ormasoftchile/llmtest/pkg/report"
	"github.com/ormasoftchile/llmtest/pkg/tools"
)

var (
	toolsPlugins string
	toolsJSON    bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available to test steps",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	log := newLogger()
	proj, err := loadProject(".")
	if err != nil {
		return err
	}
	pluginsDir := toolsPlugins
	if pluginsDir == "" {
		pluginsDir = proj.PluginsDir()
	}
	reg, err := newRegistry(proj, pluginsDir, log)
	if err != nil {
		return err
	}
	set, _ := reg.Instantiate()
	defer set.Cleanup(context.Background())

	descs := tools.NewDispatcher(state.New(), set, log).Tools()
	if toolsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}
	printTools(cmd.OutOrStdout(), descs)
	return nil
}

func printTools(w io.Writer, descs []plugin.ToolDescriptor) {
	width := 0
	for _, d := range descs {
		if n := runewidth.StringWidth(d.Name); n > width {
			width = n
		}
	}
	for _, d := range descs {
		fmt.Fprintf(w, "  %s  %s\n", runewidth.FillRight(d.Name, width), report.Truncate(plugin.FirstLine(d.Description), report.OutputWidth))
	}
	fmt.Fprintf(w, "\n  %d tools\n", len(descs))
}

func init() {
	toolsCmd.Flags().StringVar(&toolsPlugins, "plugins", "", "Plugins directory (default: project paths.plugins)")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output descriptors as JSON")
	rootCmd.AddCommand(toolsCmd)
}
