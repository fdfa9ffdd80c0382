package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// NoArgs is the parameter type of methods that take no arguments.
type NoArgs struct{}

// Method is a single tool method whose input schema is derived from its
// parameter struct. A field is required unless it is a pointer, carries
// `omitempty` in its json tag or declares a `default=` in its jsonschema tag.
type Method struct {
	Name        string
	Description string

	schema *argSchema
	call   func(ctx context.Context, args map[string]any) (any, error)
}

// NewMethod builds a Method from a typed handler. The description is the first
// line of doc.
func NewMethod[P any](name, doc string, fn func(ctx context.Context, p P) (any, error)) (*Method, error) {
	if IsReserved(name) {
		return nil, fmt.Errorf("method name %q is reserved", name)
	}
	var zero P
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("method %s: parameter type must be a struct", name)
	}

	doc = FirstLine(doc)
	raw, err := reflectSchema(t)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", name, err)
	}
	sch, err := compileArgSchema(name, raw)
	if err != nil {
		return nil, err
	}

	m := &Method{Name: name, Description: doc, schema: sch}
	m.call = func(ctx context.Context, args map[string]any) (any, error) {
		var p P
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			Result:           &p,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(args); err != nil {
			return nil, &ArgumentError{Tool: name, Message: err.Error()}
		}
		return fn(ctx, p)
	}
	return m, nil
}

// MustMethod is NewMethod that panics on error. Intended for package-level
// provider definitions.
func MustMethod[P any](name, doc string, fn func(ctx context.Context, p P) (any, error)) *Method {
	m, err := NewMethod(name, doc, fn)
	if err != nil {
		panic(err)
	}
	return m
}

// Schema returns the method's JSON Schema as a plain map.
func (m *Method) Schema() map[string]any { return m.schema.doc }

// Call validates args, fills defaults and invokes the handler.
func (m *Method) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := m.schema.validate(tool, args); err != nil {
		return nil, err
	}
	return m.call(ctx, m.schema.withDefaults(args))
}

func reflectSchema(t reflect.Type) (map[string]any, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.ReflectFromType(t)
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	if _, ok := doc["properties"]; !ok {
		doc["properties"] = map[string]any{}
	}
	if req := requiredFields(t); len(req) > 0 {
		doc["required"] = req
	} else {
		delete(doc, "required")
	}
	return doc, nil
}

// requiredFields lists the json names of the fields of t that callers must
// supply. Embedded structs without a json name contribute their own fields.
func requiredFields(t reflect.Type) []any {
	var out []any
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			out = append(out, requiredFields(f.Type)...)
			continue
		}
		if name == "" {
			name = f.Name
		}
		if f.Type.Kind() == reflect.Pointer || hasOption(opts, "omitempty") || hasDefault(f.Tag.Get("jsonschema")) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func hasOption(opts, want string) bool {
	for _, o := range strings.Split(opts, ",") {
		if o == want {
			return true
		}
	}
	return false
}

func hasDefault(tag string) bool {
	for _, o := range strings.Split(tag, ",") {
		if strings.HasPrefix(o, "default=") {
			return true
		}
	}
	return false
}
