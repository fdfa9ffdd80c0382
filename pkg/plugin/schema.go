package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// argSchema is a compiled tool input schema.
type argSchema struct {
	doc      map[string]any
	compiled *sjsonschema.Schema
}

func compileArgSchema(tool string, doc map[string]any) (*argSchema, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", tool, err)
	}
	parsed, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", tool, err)
	}
	url := tool + ".json"
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", tool, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", tool, err)
	}
	return &argSchema{doc: doc, compiled: sch}, nil
}

// validate checks args against the schema. Values are normalized through
// JSON first so YAML ints and MCP float64s are judged alike.
func (s *argSchema) validate(tool string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return &ArgumentError{Tool: tool, Message: err.Error()}
	}
	inst, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ArgumentError{Tool: tool, Message: err.Error()}
	}
	if err := s.compiled.Validate(inst); err != nil {
		var ve *sjsonschema.ValidationError
		if !errors.As(err, &ve) {
			return &ArgumentError{Tool: tool, Message: err.Error()}
		}
		var msgs []string
		for _, leaf := range leaves(ve) {
			loc := strings.Join(leaf.InstanceLocation, "/")
			if loc == "" {
				msgs = append(msgs, fmt.Sprintf("%v", leaf.ErrorKind))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s: %v", loc, leaf.ErrorKind))
			}
		}
		return &ArgumentError{Tool: tool, Message: strings.Join(msgs, "; ")}
	}
	return nil
}

// withDefaults returns a copy of args with every missing property that
// declares a default filled in.
func (s *argSchema) withDefaults(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	props, _ := s.doc["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		def, ok := prop["default"]
		if !ok {
			continue
		}
		if _, present := out[name]; !present {
			out[name] = nativeNumber(def)
		}
	}
	return out
}

func leaves(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		flat = append(flat, leaves(c)...)
	}
	return flat
}

// nativeNumber turns json.Number defaults into int64 or float64.
func nativeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
