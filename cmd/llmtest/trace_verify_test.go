package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/llmtest/pkg/kernel/trace"
)

func writeTrace(t *testing.T, complete bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.jsonl")
	tw, err := trace.NewFileWriter(path, "verify-test")
	if err != nil {
		t.Fatal(err)
	}
	tw.EmitRunStart("store and get", "test: {}", []string{"get_value"})
	tw.EmitStepStart("steps[0]", "get_value", 1, map[string]any{"name": "x"})
	tw.EmitStepComplete("steps[0]", "pass", 1, 1, time.Millisecond, nil)
	if complete {
		tw.EmitRunComplete("PASS", time.Second)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func verifyOutput(t *testing.T, path string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	err := runTraceVerify(cmd, []string{path})
	return out.String(), err
}

func TestTraceVerify_ValidChain(t *testing.T) {
	t.Setenv(trace.SigningKeyEnv, "")
	out, err := verifyOutput(t, writeTrace(t, true))
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ Chain integrity: 4 events, no breaks") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "Signature") {
		t.Errorf("unsigned trace should not report a signature: %q", out)
	}
}

func TestTraceVerify_Incomplete(t *testing.T) {
	out, err := verifyOutput(t, writeTrace(t, false))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no run_complete event") {
		t.Errorf("expected interrupted warning, got %q", out)
	}
}

func TestTraceVerify_Tampered(t *testing.T) {
	path := writeTrace(t, true)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"get_value"`, `"set_value"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := verifyOutput(t, path)
	if err == nil {
		t.Fatalf("expected verification failure, got %q", out)
	}
	if !strings.Contains(out, "✗ Chain broken at event 2") {
		t.Errorf("output = %q", out)
	}
}

func TestTraceVerify_WithSignature(t *testing.T) {
	t.Setenv(trace.SigningKeyEnv, "test-secret-key")
	path := writeTrace(t, true)

	out, err := verifyOutput(t, path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "✓ Signature valid") {
		t.Errorf("output = %q", out)
	}

	t.Setenv(trace.SigningKeyEnv, "other-key")
	out, err = verifyOutput(t, path)
	if err == nil {
		t.Errorf("expected signature failure, got %q", out)
	}

	t.Setenv(trace.SigningKeyEnv, "")
	out, err = verifyOutput(t, path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, trace.SigningKeyEnv) {
		t.Errorf("expected missing-key warning, got %q", out)
	}
}
