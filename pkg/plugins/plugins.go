// Package plugins contains the in-tree tool providers shipped with llmtest.
package plugins

import (
	"encoding/json"
	"reflect"

	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

// Register adds every in-tree provider to r.
func Register(r *plugin.Registry) error {
	if err := r.RegisterFactory("http", func() (plugin.Provider, error) { return NewHTTP(nil) }); err != nil {
		return err
	}
	if err := r.RegisterFactory("assert", func() (plugin.Provider, error) { return NewAssert() }); err != nil {
		return err
	}
	return r.RegisterFactory("compare", func() (plugin.Provider, error) { return NewCompare() })
}

// normalize round-trips v through JSON so that values from YAML, MCP and Go
// callers compare alike (every number becomes float64).
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func looseEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// typeName reports the JSON type of v.
func typeName(v any) string {
	switch normalize(v).(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return reflect.TypeOf(v).String()
}
