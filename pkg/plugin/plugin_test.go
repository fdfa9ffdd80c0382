package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetParams struct {
	Name  string `json:"name" jsonschema:"description=Who to greet"`
	Times int    `json:"times,omitempty" jsonschema:"minimum=1,default=2"`
	Loud  *bool  `json:"loud,omitempty"`
}

func greetModule(t *testing.T) *Module {
	t.Helper()
	m, err := NewModule("greeter",
		MustMethod("hello", "Say hello.\n\nLonger text that is not part of the description.",
			func(_ context.Context, p greetParams) (any, error) {
				loud := p.Loud != nil && *p.Loud
				return map[string]any{"name": p.Name, "times": p.Times, "loud": loud}, nil
			}),
		MustMethod("nothing", "", func(context.Context, NoArgs) (any, error) {
			return "ok", nil
		}),
	)
	require.NoError(t, err)
	return m
}

func TestNewMethod_Schema(t *testing.T) {
	m := MustMethod("hello", "Say hello.\nMore.", func(_ context.Context, p greetParams) (any, error) { return nil, nil })

	assert.Equal(t, "Say hello.", m.Description)
	sch := m.Schema()
	assert.Equal(t, "object", sch["type"])
	assert.NotContains(t, sch, "$schema")
	assert.Equal(t, []any{"name"}, sch["required"])

	props := sch["properties"].(map[string]any)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "times")
	assert.Contains(t, props, "loud")
}

type searchParams struct {
	Query  string  `json:"query"`
	Limit  int     `json:"limit" jsonschema:"default=10"`
	Cursor *string `json:"cursor"`
	Tag    string  `json:"tag,omitempty"`
}

func TestNewMethod_RequiredUnlessOptionalOrDefaulted(t *testing.T) {
	m := MustMethod("search", "Search things.", func(_ context.Context, p searchParams) (any, error) {
		return map[string]any{"query": p.Query, "limit": p.Limit, "cursor": p.Cursor != nil}, nil
	})

	sch := m.Schema()
	assert.Equal(t, []any{"query"}, sch["required"])
	limit := sch["properties"].(map[string]any)["limit"].(map[string]any)
	assert.Equal(t, json.Number("10"), limit["default"])

	_, err := m.Call(context.Background(), "x_search", map[string]any{})
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr, "a parameter without a default must be supplied")

	out, err := m.Call(context.Background(), "x_search", map[string]any{"query": "go"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "go", "limit": 10, "cursor": false}, out)
}

func TestNewMethod_RejectsReservedAndNonStruct(t *testing.T) {
	_, err := NewMethod("cleanup", "", func(context.Context, NoArgs) (any, error) { return nil, nil })
	assert.Error(t, err)

	_, err = NewMethod("bad", "", func(context.Context, int) (any, error) { return nil, nil })
	assert.Error(t, err)
}

func TestMethod_CallAppliesDefaultsAndCoerces(t *testing.T) {
	m := greetModule(t)

	out, err := m.Invoke(context.Background(), "greeter_hello", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "times": 2, "loud": false}, out)

	// MCP clients send every number as float64.
	out, err = m.Invoke(context.Background(), "hello", map[string]any{"name": "ada", "times": float64(3), "loud": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "times": 3, "loud": true}, out)
}

func TestMethod_CallRejectsBadArgs(t *testing.T) {
	m := greetModule(t)

	_, err := m.Invoke(context.Background(), "hello", map[string]any{})
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "greeter_hello", argErr.Tool)

	_, err = m.Invoke(context.Background(), "hello", map[string]any{"name": "ada", "times": 0})
	assert.ErrorAs(t, err, &argErr)

	_, err = m.Invoke(context.Background(), "hello", map[string]any{"name": "ada", "extra": 1})
	assert.ErrorAs(t, err, &argErr)
}

func TestModule_ListToolsAndInvoke(t *testing.T) {
	m := greetModule(t)

	tools := m.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "greeter_hello", tools[0].Name)
	assert.Equal(t, "hello", tools[0].Method)
	assert.Equal(t, "greeter", tools[0].Plugin)
	assert.Equal(t, "greeter_nothing", tools[1].Name)

	out, err := m.Invoke(context.Background(), "greeter_nothing", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, err = m.Invoke(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestNewModule_Duplicates(t *testing.T) {
	noop := func(context.Context, NoArgs) (any, error) { return nil, nil }
	_, err := NewModule("dup", MustMethod("a", "", noop), MustMethod("a", "", noop))
	assert.Error(t, err)
}

type stubProvider struct {
	*Module
	cleanupErr     error
	panicOnCleanup bool
	cleaned        *int
}

func (s *stubProvider) Cleanup(ctx context.Context) error {
	if s.cleaned != nil {
		*s.cleaned++
	}
	if s.panicOnCleanup {
		panic("cleanup exploded")
	}
	return s.cleanupErr
}

func stub(t *testing.T, name string) *Module {
	t.Helper()
	m, err := NewModule(name, MustMethod("ping", "Ping.", func(context.Context, NoArgs) (any, error) {
		return name, nil
	}))
	require.NoError(t, err)
	return m
}

func TestRegistry_InstantiateIsPerRun(t *testing.T) {
	r := NewRegistry(nil)
	built := 0
	require.NoError(t, r.RegisterFactory("one", func() (Provider, error) {
		built++
		return stub(t, "one"), nil
	}))

	_, warns := r.Instantiate()
	assert.Empty(t, warns)
	set, _ := r.Instantiate()
	assert.Equal(t, 2, built)

	p, desc, ok := set.Lookup("one_ping")
	require.True(t, ok)
	assert.Equal(t, "one", p.Name())
	assert.Equal(t, "ping", desc.Method)

	_, _, ok = set.Lookup("ping")
	assert.False(t, ok)
}

func TestRegistry_LoadFailureIsWarning(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterFactory("broken", func() (Provider, error) {
		return nil, errors.New("no credentials")
	}))
	require.NoError(t, r.Register(stub(t, "ok")))
	assert.Error(t, r.RegisterFactory("ok", nil))

	set, warns := r.Instantiate()
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Error(), "no credentials")
	require.Len(t, set.Tools(), 1)
	assert.Equal(t, "ok_ping", set.Tools()[0].Name)
}

func TestSet_CleanupContinuesPastFailures(t *testing.T) {
	calls := 0
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&stubProvider{Module: stub(t, "a"), cleanupErr: errors.New("a failed"), cleaned: &calls}))
	require.NoError(t, r.Register(&stubProvider{Module: stub(t, "b"), panicOnCleanup: true, cleaned: &calls}))
	require.NoError(t, r.Register(&stubProvider{Module: stub(t, "c"), cleaned: &calls}))

	set, _ := r.Instantiate()
	err := set.Cleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "cleanup exploded")
	assert.Equal(t, 3, calls)
}

func TestSet_CleanupRunsOnCancelledContext(t *testing.T) {
	calls := 0
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&stubProvider{Module: stub(t, "a"), cleaned: &calls}))
	set, _ := r.Instantiate()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, set.Cleanup(ctx))
	assert.Equal(t, 1, calls)
}

func TestRegistry_DiscoverScripts(t *testing.T) {
	r := NewRegistry(nil)
	found, err := r.Discover(filepath.Join("..", "..", "testdata", "plugins"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "counter.go", filepath.Base(found[0]))

	set, warns := r.Instantiate()
	require.Empty(t, warns)

	tools := set.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "counter_incr", tools[0].Name)
	assert.Equal(t, "Increment the counter.", tools[0].Description)

	p, _, ok := set.Lookup("counter_incr")
	require.True(t, ok)
	ctx := context.Background()
	out, err := p.Invoke(ctx, "counter_incr", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 1}, out)
	out, err = p.Invoke(ctx, "incr", map[string]any{"by": 5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 6}, out)

	_, err = p.Invoke(ctx, "fail", nil)
	assert.EqualError(t, err, "counter refused")

	_, err = p.Invoke(ctx, "incr", map[string]any{"by": "many"})
	var argErr *ArgumentError
	assert.ErrorAs(t, err, &argErr)

	// A second run gets a fresh interpreter.
	set2, _ := r.Instantiate()
	p2, _, _ := set2.Lookup("counter_incr")
	out, err = p2.Invoke(ctx, "incr", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 1}, out)

	assert.NoError(t, set.Cleanup(ctx))
}

func TestRegistry_DiscoverMissingDir(t *testing.T) {
	found, err := NewRegistry(nil).Discover(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Empty(t, found)
}

func TestRegistry_BrokenScriptIsWarning(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.go"), []byte("package main\n\nfunc Tools() {\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notools.go"), []byte("package main\n\nfunc Hello() string { return \"hi\" }\n"), 0o644))

	r := NewRegistry(nil)
	found, err := r.Discover(dir)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	set, warns := r.Instantiate()
	assert.Len(t, warns, 2)
	assert.Empty(t, set.Tools())
}
