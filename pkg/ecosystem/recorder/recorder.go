// Package recorder captures the tool calls made through an invoker, so the
// calls an agent made while judging a run can be kept next to the trace.
package recorder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
)

// Call records a single tool call.
type Call struct {
	Tool    string         `yaml:"tool"`
	Args    map[string]any `yaml:"args,omitempty"`
	Output  any            `yaml:"output,omitempty"`
	Error   string         `yaml:"error,omitempty"`
	Elapsed time.Duration  `yaml:"elapsed"`
}

// Recorder wraps an invoker and captures every call. It is safe for
// concurrent use.
type Recorder struct {
	inner   engine.Invoker
	mu      sync.Mutex
	calls   []Call
	secrets []string // env var names whose values should be redacted
}

// New creates a recording wrapper around an existing invoker.
func New(inner engine.Invoker) *Recorder {
	return &Recorder{inner: inner}
}

// SetSecrets configures secret env var names whose values are redacted in
// captured args and output.
func (r *Recorder) SetSecrets(envVars []string) {
	r.secrets = envVars
}

// Invoke delegates to the inner invoker and records the call. Failed calls
// are recorded too.
func (r *Recorder) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	start := time.Now()
	result, err := r.inner.Invoke(ctx, name, args)

	c := Call{
		Tool:    name,
		Args:    r.redactMap(args),
		Output:  r.redactValue(result),
		Elapsed: time.Since(start),
	}
	if err != nil {
		c.Error = r.redact(err.Error())
	}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	return result, err
}

// Calls returns a copy of the calls recorded so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Save writes the recorded calls to path as YAML.
func (r *Recorder) Save(path string) error {
	data, err := yaml.Marshal(map[string]any{"calls": r.Calls()})
	if err != nil {
		return fmt.Errorf("marshal recording: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	return nil
}

// redact replaces secret values with <REDACTED>.
func (r *Recorder) redact(s string) string {
	for _, envVar := range r.secrets {
		val := os.Getenv(envVar)
		if val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}

func (r *Recorder) redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Recorder) redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return r.redact(t)
	case map[string]any:
		return r.redactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.redactValue(e)
		}
		return out
	}
	return v
}
