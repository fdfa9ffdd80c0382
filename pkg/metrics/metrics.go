// Package metrics counts steps, attempts and verdicts with Prometheus
// collectors fed from engine hooks.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/kernel/executor"
)

// Collector owns a private registry so several collectors can coexist in
// one process (and in tests).
type Collector struct {
	reg          *prometheus.Registry
	steps        *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	runs         *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// New creates a collector with every llmtest metric registered.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmtest_steps_total",
				Help: "Step outcomes by status.",
			},
			[]string{"status"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmtest_step_attempts_total",
				Help: "Tool invocation attempts by outcome.",
			},
			[]string{"outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmtest_runs_total",
				Help: "Completed runs by verdict.",
			},
			[]string{"verdict"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmtest_step_duration_seconds",
				Help:    "Wall time of executed steps, retries included.",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"tool"},
		),
	}
	c.reg.MustRegister(c.steps, c.attempts, c.runs, c.stepDuration)
	return c
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Hooks returns engine hooks that record attempts and step outcomes.
// Skipped steps are counted but not timed.
func (c *Collector) Hooks() engine.Hooks {
	return engine.Hooks{
		Attempt: func(_, _ string, a executor.Attempt) {
			c.attempts.WithLabelValues(strings.ToLower(string(a.Status))).Inc()
		},
		StepEnd: func(o engine.StepOutcome) {
			c.steps.WithLabelValues(o.Status).Inc()
			if o.Status != engine.StatusSkip {
				c.stepDuration.WithLabelValues(o.Tool).Observe(o.Elapsed.Seconds())
			}
		},
	}
}

// ObserveRun counts a finished run under its verdict.
func (c *Collector) ObserveRun(verdict string) {
	c.runs.WithLabelValues(verdict).Inc()
}

// WriteTextfile writes the current values in the text exposition format,
// for node_exporter's textfile collector or CI artifacts.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
