package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Functions a script plugin may declare. Tools and Call are mandatory.
const (
	scriptNameFunc    = "PluginName"
	scriptToolsFunc   = "Tools"
	scriptCallFunc    = "Call"
	scriptCleanupFunc = "Cleanup"
)

// ScriptFactory returns a Factory that interprets the Go source at path with
// a fresh interpreter on every call, so each run gets isolated globals.
//
// The script must declare:
//
//	func Tools() []map[string]any            // name, description, input_schema
//	func Call(method string, args map[string]any) (any, error)
//
// and may declare PluginName() string and Cleanup() error.
func ScriptFactory(path string) Factory {
	return func() (Provider, error) { return loadScript(path) }
}

type scriptProvider struct {
	name    string
	path    string
	tools   []ToolDescriptor
	schemas map[string]*argSchema
	call    reflect.Value
	cleanup reflect.Value
}

func loadScript(path string) (*scriptProvider, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}

	p := &scriptProvider{
		name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		path:    path,
		schemas: make(map[string]*argSchema),
	}
	if fn, err := i.Eval(scriptNameFunc); err == nil && fn.Kind() == reflect.Func {
		out := fn.Call(nil)
		if len(out) == 1 {
			if s, ok := out[0].Interface().(string); ok && s != "" {
				p.name = s
			}
		}
	}

	toolsFn, err := i.Eval(scriptToolsFunc)
	if err != nil || toolsFn.Kind() != reflect.Func {
		return nil, fmt.Errorf("plugin: %s must define %s() []map[string]any", path, scriptToolsFunc)
	}
	p.call, err = i.Eval(scriptCallFunc)
	if err != nil || p.call.Kind() != reflect.Func {
		return nil, fmt.Errorf("plugin: %s must define %s(method string, args map[string]any) (any, error)", path, scriptCallFunc)
	}
	if fn, err := i.Eval(scriptCleanupFunc); err == nil && fn.Kind() == reflect.Func {
		p.cleanup = fn
	}

	defs, err := scriptToolDefs(toolsFn)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	for idx, def := range defs {
		if err := p.addTool(def); err != nil {
			return nil, fmt.Errorf("plugin: %s tools[%d]: %w", path, idx, err)
		}
	}
	return p, nil
}

func scriptToolDefs(fn reflect.Value) ([]map[string]any, error) {
	out := fn.Call(nil)
	if len(out) != 1 {
		return nil, fmt.Errorf("%s must return []map[string]any", scriptToolsFunc)
	}
	if defs, ok := out[0].Interface().([]map[string]any); ok {
		return defs, nil
	}
	v := out[0]
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return []map[string]any", scriptToolsFunc)
	}
	defs := make([]map[string]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		m, ok := v.Index(i).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not map[string]any", scriptToolsFunc, i)
		}
		defs[i] = m
	}
	return defs, nil
}

func (p *scriptProvider) addTool(def map[string]any) error {
	method, _ := def["name"].(string)
	if method == "" {
		return fmt.Errorf("tool name is required")
	}
	if IsReserved(method) {
		return fmt.Errorf("method name %q is reserved", method)
	}
	if _, dup := p.schemas[method]; dup {
		return fmt.Errorf("duplicate method %q", method)
	}
	doc, _ := def["input_schema"].(map[string]any)
	if doc == nil {
		doc = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	name := QualifiedName(p.name, method)
	sch, err := compileArgSchema(name, doc)
	if err != nil {
		return err
	}
	desc, _ := def["description"].(string)
	p.schemas[method] = sch
	p.tools = append(p.tools, ToolDescriptor{
		Name:        name,
		Description: FirstLine(desc),
		InputSchema: doc,
		Plugin:      p.name,
		Method:      method,
	})
	return nil
}

func (p *scriptProvider) Name() string { return p.name }

func (p *scriptProvider) ListTools() []ToolDescriptor {
	out := make([]ToolDescriptor, len(p.tools))
	copy(out, p.tools)
	return out
}

func (p *scriptProvider) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	bare := StripPrefix(p.name, method)
	sch, ok := p.schemas[bare]
	if !ok {
		return nil, fmt.Errorf("plugin %s has no method %q", p.name, bare)
	}
	name := QualifiedName(p.name, bare)
	if err := sch.validate(name, args); err != nil {
		return nil, err
	}
	args = sch.withDefaults(args)

	out := p.call.Call([]reflect.Value{reflect.ValueOf(bare), reflect.ValueOf(args)})
	if len(out) != 2 {
		return nil, fmt.Errorf("plugin %s: %s must return (any, error)", p.name, scriptCallFunc)
	}
	if errV := out[1]; errV.IsValid() && !errV.IsNil() {
		if e, ok := errV.Interface().(error); ok {
			return nil, e
		}
		return nil, fmt.Errorf("plugin %s: %s returned a non-error second value", p.name, scriptCallFunc)
	}
	if !out[0].IsValid() {
		return nil, nil
	}
	return out[0].Interface(), nil
}

func (p *scriptProvider) Cleanup(ctx context.Context) error {
	if !p.cleanup.IsValid() {
		return nil
	}
	out := p.cleanup.Call(nil)
	if len(out) == 1 && out[0].IsValid() && !out[0].IsNil() {
		if e, ok := out[0].Interface().(error); ok {
			return e
		}
	}
	return nil
}
