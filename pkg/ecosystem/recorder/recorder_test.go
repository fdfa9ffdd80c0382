package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type mockInvoker struct {
	result any
	err    error
}

func (m *mockInvoker) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	return m.result, m.err
}

func TestRecorder_CapturesCall(t *testing.T) {
	inner := &mockInvoker{result: map[string]any{"status": 200}}

	rec := New(inner)
	out, err := rec.Invoke(context.Background(), "http_get", map[string]any{"url": "http://x"})
	if err != nil {
		t.Fatal(err)
	}
	if out.(map[string]any)["status"] != 200 {
		t.Errorf("result not passed through: %v", out)
	}

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Tool != "http_get" {
		t.Errorf("expected tool http_get, got %s", calls[0].Tool)
	}
	if calls[0].Args["url"] != "http://x" {
		t.Errorf("expected args to be captured, got %v", calls[0].Args)
	}
}

func TestRecorder_CapturesError(t *testing.T) {
	rec := New(&mockInvoker{err: errors.New("tool \"nope\" not found")})
	if _, err := rec.Invoke(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error to be passed through")
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Error == "" {
		t.Fatalf("expected failed call to be recorded, got %+v", calls)
	}
}

func TestRecorder_RedactsSecrets(t *testing.T) {
	t.Setenv("TEST_SECRET_TOKEN", "supersecret123")

	inner := &mockInvoker{result: map[string]any{
		"body":    "token=supersecret123",
		"headers": map[string]any{"authorization": "Bearer supersecret123"},
		"list":    []any{"supersecret123", 1},
	}}
	rec := New(inner)
	rec.SetSecrets([]string{"TEST_SECRET_TOKEN"})

	result, err := rec.Invoke(context.Background(), "http_get", map[string]any{"token": "supersecret123"})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]any)["body"] != "token=supersecret123" {
		t.Error("the caller must see the unredacted result")
	}

	c := rec.Calls()[0]
	if c.Args["token"] != "<REDACTED>" {
		t.Errorf("expected redacted arg, got %v", c.Args["token"])
	}
	out := c.Output.(map[string]any)
	if out["body"] != "token=<REDACTED>" {
		t.Errorf("expected redacted body, got %v", out["body"])
	}
	if out["headers"].(map[string]any)["authorization"] != "Bearer <REDACTED>" {
		t.Errorf("expected nested redaction, got %v", out["headers"])
	}
	if out["list"].([]any)[0] != "<REDACTED>" {
		t.Errorf("expected list redaction, got %v", out["list"])
	}
}

func TestRecorder_Save(t *testing.T) {
	rec := New(&mockInvoker{result: "ok"})
	rec.Invoke(context.Background(), "get_value", map[string]any{"name": "x"})
	rec.Invoke(context.Background(), "list_values", nil)

	path := filepath.Join(t.TempDir(), "calls.yaml")
	if err := rec.Save(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "tool: get_value") {
		t.Errorf("recording missing get_value call:\n%s", data)
	}

	var doc struct {
		Calls []map[string]any `yaml:"calls"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Calls) != 2 {
		t.Errorf("expected 2 recorded calls, got %d", len(doc.Calls))
	}
}
