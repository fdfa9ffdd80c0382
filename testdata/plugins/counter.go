package main

import "fmt"

var count int

func PluginName() string { return "counter" }

func Tools() []map[string]any {
	return []map[string]any{
		{
			"name":        "incr",
			"description": "Increment the counter.\nReturns the new value.",
			"input_schema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"by": map[string]any{"type": "integer", "default": 1},
				},
			},
		},
		{
			"name":        "fail",
			"description": "Always fails.",
		},
	}
}

func Call(method string, args map[string]any) (any, error) {
	switch method {
	case "incr":
		count += toInt(args["by"])
		return map[string]any{"count": count}, nil
	case "fail":
		return nil, fmt.Errorf("counter refused")
	}
	return nil, fmt.Errorf("unknown method %s", method)
}

func Cleanup() error {
	count = 0
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
