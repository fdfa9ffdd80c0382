// Package tools routes tool calls by name to the run's built-ins and plugin
// providers. The same Dispatcher serves the step walker and the agent's MCP
// channel.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/ormasoftchile/llmtest/pkg/kernel/state"
	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

// Dispatcher routes tool calls for a single run.
type Dispatcher struct {
	store    *state.Store
	set      *plugin.Set
	builtins map[string]*plugin.Method
	order    []*plugin.Method
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher over the run's store and plugin set.
// A nil set means built-ins only.
func NewDispatcher(store *state.Store, set *plugin.Set, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		store:    store,
		set:      set,
		builtins: make(map[string]*plugin.Method),
		log:      log.With("component", "dispatcher"),
	}
	d.order = d.builtinMethods()
	for _, m := range d.order {
		d.builtins[m.Name] = m
	}
	return d
}

// Store returns the run's state store.
func (d *Dispatcher) Store() *state.Store { return d.store }

// Tools lists the built-ins followed by every plugin tool.
func (d *Dispatcher) Tools() []plugin.ToolDescriptor {
	out := make([]plugin.ToolDescriptor, 0, len(d.order))
	for _, m := range d.order {
		out = append(out, plugin.ToolDescriptor{
			Name:        m.Name,
			Description: m.Description,
			InputSchema: m.Schema(),
		})
	}
	if d.set != nil {
		out = append(out, d.set.Tools()...)
	}
	return out
}

// Invoke calls the tool called name. Matching order: built-in, exact
// qualified plugin tool, then a bare method name that maps to exactly one
// plugin tool. A result shaped {error: ...} is returned as data; callers
// decide what it means.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) (result any, err error) {
	if args == nil {
		args = map[string]any{}
	}
	call, tool, err := d.route(name)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tool panicked", "tool", tool, "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = &ToolExecutionError{Tool: tool, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	d.log.Debug("invoke", "tool", tool, "requested", name)
	result, err = call(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, &ToolExecutionError{Tool: tool, Err: err}
	}
	return result, nil
}

type callFunc func(ctx context.Context, args map[string]any) (any, error)

func (d *Dispatcher) route(name string) (callFunc, string, error) {
	if m, ok := d.builtins[name]; ok {
		return func(ctx context.Context, args map[string]any) (any, error) {
			return m.Call(ctx, name, args)
		}, name, nil
	}
	if d.set == nil {
		return nil, name, &ToolNotFoundError{Name: name}
	}
	if p, desc, ok := d.set.Lookup(name); ok {
		return bind(p, desc), desc.Name, nil
	}

	var matches []plugin.ToolDescriptor
	for _, td := range d.set.Tools() {
		if td.Method == name {
			matches = append(matches, td)
		}
	}
	switch len(matches) {
	case 1:
		p, desc, _ := d.set.Lookup(matches[0].Name)
		return bind(p, desc), desc.Name, nil
	case 0:
		return nil, name, &ToolNotFoundError{Name: name}
	}
	candidates := make([]string, len(matches))
	for i, td := range matches {
		candidates[i] = td.Name
	}
	sort.Strings(candidates)
	return nil, name, &ToolNotFoundError{Name: name, Candidates: candidates}
}

func bind(p plugin.Provider, desc plugin.ToolDescriptor) callFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return p.Invoke(ctx, desc.Name, args)
	}
}
