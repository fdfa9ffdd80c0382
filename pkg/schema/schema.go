// Package schema defines the Go struct types for the test specification YAML
// and provides strict YAML parsing.
package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a spec leaves a field unset.
const (
	DefaultTimeoutSeconds = 120
	DefaultRetryDelay     = 1.0
	DefaultRepeat         = 1
)

// TestSpec is the root of a test document.
type TestSpec struct {
	Test     TestMeta    `yaml:"test"               json:"test"               jsonschema:"required"`
	Setup    []Step      `yaml:"setup,omitempty"    json:"setup,omitempty"`
	Steps    []Step      `yaml:"steps"              json:"steps"              jsonschema:"required,minItems=1"`
	Teardown []Step      `yaml:"teardown,omitempty" json:"teardown,omitempty"`
	Verdict  VerdictSpec `yaml:"verdict"            json:"verdict"            jsonschema:"required"`
}

// TestMeta carries the test's identity and run-level timeout.
type TestMeta struct {
	Name        string   `yaml:"name"                  json:"name"                  jsonschema:"required,minLength=1"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"        json:"tags,omitempty"`
	Timeout     int      `yaml:"timeout,omitempty"     json:"timeout,omitempty"     jsonschema:"minimum=1,default=120"`
}

// Step is one tool invocation, or a group of nested steps replayed Repeat times.
type Step struct {
	Name       string         `yaml:"name,omitempty"        json:"name,omitempty"`
	Tool       string         `yaml:"tool,omitempty"        json:"tool,omitempty"`
	Args       map[string]any `yaml:"args,omitempty"        json:"args,omitempty"`
	Expect     string         `yaml:"expect,omitempty"      json:"expect,omitempty"`
	Analyze    string         `yaml:"analyze,omitempty"     json:"analyze,omitempty"`
	SaveAs     string         `yaml:"save_as,omitempty"     json:"save_as,omitempty"     jsonschema:"pattern=^[A-Za-z_][A-Za-z0-9_-]*$"`
	When       string         `yaml:"when,omitempty"        json:"when,omitempty"`
	Repeat     int            `yaml:"repeat,omitempty"      json:"repeat,omitempty"      jsonschema:"minimum=0,default=1"`
	Retry      int            `yaml:"retry,omitempty"       json:"retry,omitempty"       jsonschema:"minimum=0,default=0"`
	RetryDelay *float64       `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty" jsonschema:"minimum=0,default=1"`
	Timeout    *int           `yaml:"timeout,omitempty"     json:"timeout,omitempty"     jsonschema:"minimum=1"`
	Steps      []Step         `yaml:"steps,omitempty"       json:"steps,omitempty"`
}

// VerdictSpec holds the natural-language pass and fail predicates handed to
// the evaluator.
type VerdictSpec struct {
	PassIf string `yaml:"pass_if" json:"pass_if" jsonschema:"required"`
	FailIf string `yaml:"fail_if" json:"fail_if" jsonschema:"required"`
}

// IsGroup reports whether the step is a non-executing template for nested steps.
func (s *Step) IsGroup() bool { return len(s.Steps) > 0 }

// Attempts is the total number of invocations the retry policy allows.
func (s *Step) Attempts() int {
	if s.Retry < 0 {
		return 1
	}
	return s.Retry + 1
}

// Iterations is the effective repeat count.
func (s *Step) Iterations() int {
	if s.Repeat <= 0 {
		return DefaultRepeat
	}
	return s.Repeat
}

// Delay is the wait between attempts.
func (s *Step) Delay() time.Duration {
	d := DefaultRetryDelay
	if s.RetryDelay != nil {
		d = *s.RetryDelay
	}
	return time.Duration(d * float64(time.Second))
}

// AttemptTimeout returns the step's own timeout, or def when unset.
func (s *Step) AttemptTimeout(def time.Duration) time.Duration {
	if s.Timeout != nil && *s.Timeout > 0 {
		return time.Duration(*s.Timeout) * time.Second
	}
	return def
}

// DisplayName is the step's name, falling back to its tool.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Tool != "" {
		return s.Tool
	}
	return "group"
}

// RunTimeout is the test-level timeout as a duration.
func (m *TestMeta) RunTimeout() time.Duration {
	if m.Timeout <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(m.Timeout) * time.Second
}

// LoadFile reads and parses a test spec with strict unknown-field rejection
// (yaml.v3 KnownFields). Returns the parsed TestSpec or an error.
func LoadFile(path string) (*TestSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open test spec: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a test spec from an io.Reader with strict unknown-field rejection.
func Load(r io.Reader) (*TestSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ts TestSpec
	if err := dec.Decode(&ts); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("decode test spec: empty document")
		}
		return nil, fmt.Errorf("decode test spec: %w", err)
	}
	ts.applyDefaults()
	return &ts, nil
}

// Parse is Load over a byte slice.
func Parse(data []byte) (*TestSpec, error) {
	return Load(bytes.NewReader(data))
}

func (ts *TestSpec) applyDefaults() {
	if ts.Test.Timeout == 0 {
		ts.Test.Timeout = DefaultTimeoutSeconds
	}
	for _, steps := range [][]Step{ts.Setup, ts.Steps, ts.Teardown} {
		defaultSteps(steps)
	}
}

func defaultSteps(steps []Step) {
	for i := range steps {
		if steps[i].Repeat == 0 {
			steps[i].Repeat = DefaultRepeat
		}
		if steps[i].RetryDelay == nil {
			d := DefaultRetryDelay
			steps[i].RetryDelay = &d
		}
		defaultSteps(steps[i].Steps)
	}
}
