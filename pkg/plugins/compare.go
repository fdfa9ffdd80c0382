package plugins

import (
	"context"
	"encoding/json"
	"math"

	"github.com/spf13/cast"

	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

type compareParams struct {
	Value1    any     `json:"value1" jsonschema:"description=First value"`
	Value2    any     `json:"value2" jsonschema:"description=Second value"`
	Tolerance float64 `json:"tolerance,omitempty" jsonschema:"minimum=0,default=0,description=Relative tolerance for numbers where 0.05 means 5 percent"`
}

// NewCompare builds the compare provider.
func NewCompare() (*plugin.Module, error) {
	return plugin.NewModule("compare",
		plugin.MustMethod("values", "Compare two values with optional tolerance for numbers.", compareValues),
	)
}

func compareValues(_ context.Context, p compareParams) (any, error) {
	a, aNum := number(p.Value1)
	b, bNum := number(p.Value2)
	if !aNum || !bNum {
		return map[string]any{
			"equal":  looseEqual(p.Value1, p.Value2),
			"value1": p.Value1,
			"value2": p.Value2,
			"types":  []string{typeName(p.Value1), typeName(p.Value2)},
		}, nil
	}

	diff := math.Abs(a - b)
	out := map[string]any{
		"value1":     p.Value1,
		"value2":     p.Value2,
		"difference": diff,
	}
	if p.Tolerance <= 0 {
		out["equal"] = a == b
		return out, nil
	}

	out["tolerance_percent"] = p.Tolerance * 100
	if b == 0 {
		// relative difference is undefined against zero
		out["equal"] = a == 0
		if a == 0 {
			out["difference_percent"] = 0.0
		} else {
			out["difference_percent"] = nil
		}
		return out, nil
	}
	rel := diff / math.Abs(b)
	out["equal"] = rel <= p.Tolerance
	out["difference_percent"] = rel * 100
	return out, nil
}

// number reports v as float64 when it is a numeric value. Numeric strings are
// not numbers.
func number(v any) (float64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		f, err := cast.ToFloat64E(v)
		return f, err == nil
	}
	return 0, false
}
