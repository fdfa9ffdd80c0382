package plugin

import (
	"context"
	"fmt"
)

// Module is a Provider assembled from typed Methods. The built-in providers
// are all Modules.
type Module struct {
	name    string
	methods []*Method
	index   map[string]*Method
	cleanup func(ctx context.Context) error
}

// NewModule groups methods under a plugin name. Method names must be unique.
func NewModule(name string, methods ...*Method) (*Module, error) {
	if name == "" {
		return nil, fmt.Errorf("plugin name is required")
	}
	m := &Module{name: name, index: make(map[string]*Method, len(methods))}
	for _, meth := range methods {
		if IsReserved(meth.Name) {
			return nil, fmt.Errorf("plugin %s: method name %q is reserved", name, meth.Name)
		}
		if _, dup := m.index[meth.Name]; dup {
			return nil, fmt.Errorf("plugin %s: duplicate method %q", name, meth.Name)
		}
		m.index[meth.Name] = meth
		m.methods = append(m.methods, meth)
	}
	return m, nil
}

// OnCleanup registers the function run by Cleanup.
func (m *Module) OnCleanup(fn func(ctx context.Context) error) *Module {
	m.cleanup = fn
	return m
}

func (m *Module) Name() string { return m.name }

func (m *Module) ListTools() []ToolDescriptor {
	tools := make([]ToolDescriptor, 0, len(m.methods))
	for _, meth := range m.methods {
		tools = append(tools, ToolDescriptor{
			Name:        QualifiedName(m.name, meth.Name),
			Description: meth.Description,
			InputSchema: meth.Schema(),
			Plugin:      m.name,
			Method:      meth.Name,
		})
	}
	return tools
}

func (m *Module) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	bare := StripPrefix(m.name, method)
	meth, ok := m.index[bare]
	if !ok {
		return nil, fmt.Errorf("plugin %s has no method %q", m.name, bare)
	}
	return meth.Call(ctx, QualifiedName(m.name, bare), args)
}

func (m *Module) Cleanup(ctx context.Context) error {
	if m.cleanup == nil {
		return nil
	}
	return m.cleanup(ctx)
}
