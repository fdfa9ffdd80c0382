package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

type storeValueParams struct {
	Name  string `json:"name" jsonschema:"minLength=1,description=Name to store the value under"`
	Value any    `json:"value" jsonschema:"description=The value to store"`
}

type getValueParams struct {
	Name    string `json:"name" jsonschema:"description=Name of the stored value"`
	Default any    `json:"default,omitempty" jsonschema:"description=Returned when the name is not stored"`
}

type sleepParams struct {
	Seconds float64 `json:"seconds" jsonschema:"minimum=0,description=Number of seconds to wait"`
}

func (d *Dispatcher) builtinMethods() []*plugin.Method {
	return []*plugin.Method{
		plugin.MustMethod("store_value", "Store a value for later steps to read as ${stored.<name>}.", d.storeValue),
		plugin.MustMethod("get_value", "Read a previously stored value.", d.getValue),
		plugin.MustMethod("list_values", "List the names of all stored values.", d.listValues),
		plugin.MustMethod("sleep", "Wait for the given number of seconds.", sleep),
	}
}

func (d *Dispatcher) storeValue(_ context.Context, p storeValueParams) (any, error) {
	d.store.Set(p.Name, p.Value)
	return map[string]any{
		"stored":     true,
		"name":       p.Name,
		"value_type": valueType(p.Value),
	}, nil
}

func (d *Dispatcher) getValue(_ context.Context, p getValueParams) (any, error) {
	v, found := d.store.Lookup(p.Name)
	if !found {
		v = p.Default
	}
	return map[string]any{
		"name":  p.Name,
		"value": v,
		"found": found,
	}, nil
}

func (d *Dispatcher) listValues(context.Context, plugin.NoArgs) (any, error) {
	return map[string]any{"names": d.store.List()}, nil
}

func sleep(ctx context.Context, p sleepParams) (any, error) {
	t := time.NewTimer(time.Duration(p.Seconds * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
		return map[string]any{"slept": p.Seconds}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func valueType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	}
	return fmt.Sprintf("%T", v)
}
