package plugins

import (
	"context"
	"strings"

	"github.com/spf13/cast"

	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

const assertionPassed = "Assertion passed"

type equalsParams struct {
	Actual   any    `json:"actual" jsonschema:"description=The actual value"`
	Expected any    `json:"expected" jsonschema:"description=The expected value"`
	Message  string `json:"message,omitempty" jsonschema:"description=Message reported on failure"`
}

type containsParams struct {
	Container any    `json:"container" jsonschema:"description=The string or list or object to search"`
	Item      any    `json:"item" jsonschema:"description=The item to look for"`
	Message   string `json:"message,omitempty" jsonschema:"description=Message reported on failure"`
}

type trueParams struct {
	Condition any    `json:"condition" jsonschema:"description=The condition to check"`
	Message   string `json:"message,omitempty" jsonschema:"description=Message reported on failure"`
}

// NewAssert builds the assert provider. Assertions never return an error for
// a failed check; the result's "passed" field carries the outcome.
func NewAssert() (*plugin.Module, error) {
	return plugin.NewModule("assert",
		plugin.MustMethod("equals", "Assert that two values are equal.", assertEquals),
		plugin.MustMethod("contains", "Assert that a container contains an item.", assertContains),
		plugin.MustMethod("true", "Assert that a condition is true.", assertTrue),
	)
}

func assertEquals(_ context.Context, p equalsParams) (any, error) {
	passed := looseEqual(p.Actual, p.Expected)
	return map[string]any{
		"passed":   passed,
		"actual":   p.Actual,
		"expected": p.Expected,
		"message":  assertMessage(passed, p.Message),
	}, nil
}

func assertContains(_ context.Context, p containsParams) (any, error) {
	var passed bool
	switch c := normalize(p.Container).(type) {
	case string:
		if s, err := cast.ToStringE(p.Item); err == nil {
			passed = strings.Contains(c, s)
		}
	case []any:
		for _, el := range c {
			if looseEqual(el, p.Item) {
				passed = true
				break
			}
		}
	case map[string]any:
		if key, err := cast.ToStringE(p.Item); err == nil {
			_, passed = c[key]
		}
	}
	return map[string]any{
		"passed":         passed,
		"container_type": typeName(p.Container),
		"item":           p.Item,
		"message":        assertMessage(passed, p.Message),
	}, nil
}

func assertTrue(_ context.Context, p trueParams) (any, error) {
	passed := truthy(p.Condition)
	return map[string]any{
		"passed":  passed,
		"message": assertMessage(passed, p.Message),
	}, nil
}

func assertMessage(passed bool, msg string) string {
	if passed {
		return assertionPassed
	}
	return msg
}

// truthy follows the usual scripting rules: false, zero, empty and null are
// false, everything else is true.
func truthy(v any) bool {
	switch t := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return cast.ToBool(v)
}
