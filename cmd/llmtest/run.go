package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/llmtest/pkg/metrics"
	"github.com/ormasoftchile/llmtest/pkg/report"
	"github.com/ormasoftchile/llmtest/pkg/runner"
)

type runFlags struct {
	timeout    int
	parallel   int
	plugins    string
	evaluator  string
	traceDir   string
	metricsOut string
	json       bool
	secrets    []string
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run [spec.yaml|dir...]",
	Short: "Run test specs and have the evaluator judge them",
	Long: `Run every spec given, walking directories for *.yaml files (names starting
with "_" are skipped). With no arguments the project's tests directory is used.

Exit codes:
  0  all tests passed or were skipped (UNCLEAR)
  1  at least one test failed or errored
  2  specs could not be discovered`,
	RunE: runRun,
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "Override each spec's timeout (seconds)")
	cmd.Flags().IntVar(&f.parallel, "parallel", 0, "Maximum concurrent runs (default: project config or 1)")
	cmd.Flags().StringVar(&f.plugins, "plugins", "", "Plugins directory (default: project paths.plugins)")
	cmd.Flags().StringVar(&f.evaluator, "evaluator", "", "Evaluator: claude or local (default: project config or claude)")
	cmd.Flags().StringVar(&f.traceDir, "trace-dir", "", "Write a JSONL trace per run to this directory")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile")
	cmd.Flags().BoolVar(&f.json, "json", false, "Output results as structured JSON")
	cmd.Flags().StringArrayVar(&f.secrets, "secret", nil, "Env var whose value is redacted from traces, repeatable")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	suite, err := newSuite(args, runOpts, !runOpts.json)
	if err != nil {
		return err
	}
	out, err := suite.run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(2)
	}
	if !out.Summary.OK() {
		os.Exit(1)
	}
	return nil
}

// suite is a configured runner plus where its output goes.
type suite struct {
	paths      []string
	runner     *runner.Runner
	metrics    *metrics.Collector
	reporter   *report.Reporter
	metricsOut string
	json       bool
}

func newSuite(args []string, f runFlags, progress bool) (*suite, error) {
	log := newLogger()

	start := "."
	if len(args) > 0 {
		start = args[0]
	}
	proj, err := loadProject(start)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		args = []string{proj.TestsDir()}
	}

	pluginsDir := f.plugins
	if pluginsDir == "" {
		pluginsDir = proj.PluginsDir()
	}
	reg, err := newRegistry(proj, pluginsDir, log)
	if err != nil {
		return nil, err
	}
	ev, err := newEvaluator(f.evaluator, proj, pluginsDir, log)
	if err != nil {
		return nil, err
	}

	traceDir := f.traceDir
	if traceDir == "" {
		traceDir = proj.TracesDir()
	}
	timeout := time.Duration(f.timeout) * time.Second
	if timeout == 0 && proj.Config.Timeout > 0 {
		timeout = time.Duration(proj.Config.Timeout) * time.Second
	}

	s := &suite{paths: args, metricsOut: f.metricsOut, json: f.json}
	if f.metricsOut != "" {
		s.metrics = metrics.New()
	}
	if progress {
		// lipgloss drops colors itself when stdout is not a terminal
		s.reporter = report.New(os.Stdout, true)
	}
	s.runner = runner.New(runner.Options{
		Project:   proj,
		Registry:  reg,
		Evaluator: ev,
		Timeout:   timeout,
		Parallel:  f.parallel,
		TraceDir:  traceDir,
		Secrets:   f.secrets,
		Metrics:   s.metrics,
		Reporter:  s.reporter,
		Logger:    log,
	})
	return s, nil
}

func (s *suite) run(ctx context.Context) (*runner.TestOutput, error) {
	start := time.Now()
	out, err := s.runner.RunAll(ctx, s.paths)
	if err != nil {
		return nil, err
	}

	if s.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return nil, err
		}
	} else if s.reporter != nil {
		rows := make([]report.Row, 0, len(out.Tests))
		for _, t := range out.Tests {
			row := report.Row{Name: t.Name, Status: t.Status, Duration: time.Duration(t.DurationMs) * time.Millisecond}
			switch {
			case t.Error != "":
				row.Reason = t.Error
			case t.Verdict != nil:
				row.Reason = t.Verdict.Reason
			}
			rows = append(rows, row)
		}
		report.SortRows(rows)
		s.reporter.Summary(rows, time.Since(start))
	}

	if s.metrics != nil {
		if err := s.metrics.WriteTextfile(s.metricsOut); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ %v\n", err)
		}
	}
	return out, nil
}

func init() {
	addRunFlags(runCmd, &runOpts)
	rootCmd.AddCommand(runCmd)
}
