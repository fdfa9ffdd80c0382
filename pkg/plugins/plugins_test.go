package plugins

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

func invoke(t *testing.T, p plugin.Provider, tool string, args map[string]any) map[string]any {
	t.Helper()
	out, err := p.Invoke(context.Background(), tool, args)
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok, "result is %T", out)
	return m
}

func TestRegister(t *testing.T) {
	r := plugin.NewRegistry(nil)
	require.NoError(t, Register(r))

	set, warns := r.Instantiate()
	require.Empty(t, warns)
	var names []string
	for _, td := range set.Tools() {
		names = append(names, td.Name)
	}
	assert.Equal(t, []string{
		"http_get", "http_post",
		"assert_equals", "assert_contains", "assert_true",
		"compare_values",
	}, names)
}

func TestHTTP_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Check"))
		w.Header().Set("X-Reply", "pong")
		_, _ = io.WriteString(w, strings.Repeat("a", MaxBodyBytes+500))
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.Client())
	require.NoError(t, err)

	out := invoke(t, h, "http_get", map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Check": "yes"},
	})
	assert.Equal(t, 200, out["status_code"])
	assert.Len(t, out["body"], MaxBodyBytes)
	assert.Equal(t, "pong", out["headers"].(map[string]any)["X-Reply"])
	assert.NoError(t, h.Cleanup(context.Background()))
}

func TestHTTP_Post(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": body["name"]})
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.Client())
	require.NoError(t, err)

	out := invoke(t, h, "post", map[string]any{"url": srv.URL, "data": map[string]any{"name": "widget"}})
	assert.Equal(t, http.StatusCreated, out["status_code"])
	assert.JSONEq(t, `{"echo":"widget"}`, out["body"].(string))
}

func TestHTTP_RequiresURL(t *testing.T) {
	h, err := NewHTTP(nil)
	require.NoError(t, err)
	_, err = h.Invoke(context.Background(), "http_get", map[string]any{})
	var argErr *plugin.ArgumentError
	assert.ErrorAs(t, err, &argErr)
}

func TestAssert_Equals(t *testing.T) {
	a, err := NewAssert()
	require.NoError(t, err)

	out := invoke(t, a, "assert_equals", map[string]any{"actual": 3, "expected": 3.0})
	assert.Equal(t, true, out["passed"])
	assert.Equal(t, "Assertion passed", out["message"])

	out = invoke(t, a, "assert_equals", map[string]any{
		"actual":   map[string]any{"a": []any{1, 2}},
		"expected": map[string]any{"a": []any{1, 3}},
		"message":  "lists differ",
	})
	assert.Equal(t, false, out["passed"])
	assert.Equal(t, "lists differ", out["message"])
}

func TestAssert_Contains(t *testing.T) {
	a, err := NewAssert()
	require.NoError(t, err)

	tests := []struct {
		name      string
		container any
		item      any
		passed    bool
		kind      string
	}{
		{"substring", "hello world", "world", true, "string"},
		{"missing substring", "hello", "bye", false, "string"},
		{"list element", []any{1, "two", 3.0}, 3, true, "array"},
		{"missing element", []any{1, 2}, 5, false, "array"},
		{"object key", map[string]any{"id": 1}, "id", true, "object"},
		{"number container", 42, 4, false, "number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := invoke(t, a, "contains", map[string]any{"container": tt.container, "item": tt.item})
			assert.Equal(t, tt.passed, out["passed"])
			assert.Equal(t, tt.kind, out["container_type"])
		})
	}
}

func TestAssert_True(t *testing.T) {
	a, err := NewAssert()
	require.NoError(t, err)

	for cond, want := range map[any]bool{true: true, false: false, 0: false, 1: true, "": false, "no": true} {
		out := invoke(t, a, "assert_true", map[string]any{"condition": cond, "message": "nope"})
		assert.Equal(t, want, out["passed"], "condition %v", cond)
	}
}

func TestCompare_Values(t *testing.T) {
	c, err := NewCompare()
	require.NoError(t, err)

	out := invoke(t, c, "compare_values", map[string]any{"value1": 100, "value2": 100})
	assert.Equal(t, true, out["equal"])
	assert.Equal(t, 0.0, out["difference"])
	assert.NotContains(t, out, "tolerance_percent")

	out = invoke(t, c, "compare_values", map[string]any{"value1": 104, "value2": 100, "tolerance": 0.05})
	assert.Equal(t, true, out["equal"])
	assert.InDelta(t, 4.0, out["difference_percent"], 1e-9)
	assert.InDelta(t, 5.0, out["tolerance_percent"], 1e-9)

	out = invoke(t, c, "compare_values", map[string]any{"value1": 110, "value2": 100, "tolerance": 0.05})
	assert.Equal(t, false, out["equal"])

	out = invoke(t, c, "compare_values", map[string]any{"value1": 1, "value2": 0, "tolerance": 0.1})
	assert.Equal(t, false, out["equal"])
	assert.Nil(t, out["difference_percent"])

	out = invoke(t, c, "compare_values", map[string]any{"value1": "100", "value2": 100})
	assert.Equal(t, false, out["equal"])
	assert.Equal(t, []string{"string", "number"}, out["types"])
}
