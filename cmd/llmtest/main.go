// Command llmtest runs declarative integration tests and has an LLM agent
// judge the results.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/llmtest/pkg/logging"
	"github.com/ormasoftchile/llmtest/pkg/schema"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var verbose bool

func main() {
	loadDotEnv(".env") // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file and sets any variables that aren't already
// set in the environment. Lines are KEY=VALUE (or KEY="VALUE"). Comments (#)
// and blanks are skipped.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return // no .env file, that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Don't overwrite existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "llmtest",
	Short: "Agent-judged integration tests",
	Long: `llmtest walks declarative YAML test specs, calls the tools each step names
with retries and timeouts, and hands the recorded transcript to an LLM agent
that judges the run against the spec's pass and fail criteria.`,
	SilenceUsage: true,
}

func newLogger() *slog.Logger {
	return logging.New(verbose)
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [spec.yaml...]",
	Short: "Validate test specs against the schema",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		ts, errs := schema.ValidateFile(path)
		printValidationWarnings(errs)
		if schema.HasErrors(errs) {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %d error(s)\n", path, countValidationErrors(errs))
			i := 0
			for _, e := range errs {
				if e.Severity == "warning" {
					continue
				}
				i++
				fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i, e.Phase, e.Message)
				if e.Path != "" {
					fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
				}
			}
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d steps)\n", ts.Test.Name, countSteps(ts))
	}
	if failed > 0 {
		return fmt.Errorf("validation failed for %d spec(s)", failed)
	}
	return nil
}

func countSteps(ts *schema.TestSpec) int {
	var n func([]schema.Step) int
	n = func(steps []schema.Step) int {
		total := 0
		for i := range steps {
			if steps[i].IsGroup() {
				total += n(steps[i].Steps)
			} else {
				total++
			}
		}
		return total
	}
	return n(ts.Setup) + n(ts.Steps) + n(ts.Teardown)
}

// countValidationErrors counts non-warning errors.
func countValidationErrors(errs []*schema.ValidationError) int {
	n := 0
	for _, e := range errs {
		if e.Severity != "warning" {
			n++
		}
	}
	return n
}

// printValidationWarnings prints any warnings to stderr.
func printValidationWarnings(errs []*schema.ValidationError) {
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", e.Path)
			}
		}
	}
}

// --- schema export ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the test spec JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "llmtest %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
