// Package eval resolves ${...} references in step arguments against the
// values a run has produced so far, and evaluates step guard expressions.
package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// storedPrefix routes a reference to the State Store instead of a saved step.
const storedPrefix = "stored"

// ResolutionError reports a reference that could not be resolved.
type ResolutionError struct {
	Ref    string // the reference as written, e.g. ${user.id}
	Path   string // where in the arguments it appeared, e.g. headers.Authorization or ids[2]
	Reason string
}

func (e *ResolutionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("resolve %s at %s: %s", e.Ref, e.Path, e.Reason)
	}
	return fmt.Sprintf("resolve %s: %s", e.Ref, e.Reason)
}

// Lookuper is a named value source. *state.Store satisfies it.
type Lookuper interface {
	Lookup(name string) (any, bool)
}

// Values is a map-backed Lookuper.
type Values map[string]any

// Lookup implements Lookuper.
func (v Values) Lookup(name string) (any, bool) {
	val, ok := v[name]
	return val, ok
}

// Scope is what references resolve against: ${stored.<key>...} reads Stored,
// every other reference reads Saved (step results keyed by save_as).
type Scope struct {
	Stored Lookuper
	Saved  Lookuper
}

// Resolve expands references in a single string. A string consisting of one
// reference yields the referenced value unchanged; references embedded in
// surrounding text are rendered and concatenated.
// Example: Resolve("${user.email}_updated", scope) → "a@b.c_updated"
func Resolve(s string, scope Scope) (any, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	toks, err := Scan(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 && toks[0].IsRef() {
		return scope.lookup(toks[0])
	}
	var b strings.Builder
	for _, tok := range toks {
		if !tok.IsRef() {
			b.WriteString(tok.Literal)
			continue
		}
		v, err := scope.lookup(tok)
		if err != nil {
			return nil, err
		}
		b.WriteString(Render(v))
	}
	return b.String(), nil
}

// ResolveValue walks maps and slices, resolving every string it finds.
func ResolveValue(v any, scope Scope) (any, error) {
	return resolveAt(v, scope, "")
}

// ResolveArgs resolves every value of a step's argument mapping. Keys are
// visited in sorted order so the first failure reported is stable.
func ResolveArgs(args map[string]any, scope Scope) (map[string]any, error) {
	return resolveMap(args, scope, "")
}

func resolveAt(v any, scope Scope, at string) (any, error) {
	switch val := v.(type) {
	case string:
		r, err := Resolve(val, scope)
		if err != nil {
			var re *ResolutionError
			if errors.As(err, &re) && re.Path == "" {
				re.Path = at
			}
			return nil, err
		}
		return r, nil
	case map[string]any:
		return resolveMap(val, scope, at)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := resolveAt(item, scope, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveMap(args map[string]any, scope Scope, at string) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(args))
	for _, k := range keys {
		p := k
		if at != "" {
			p = at + "." + k
		}
		r, err := resolveAt(args[k], scope, p)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

// References returns every reference path found in v, in document order
// for strings and slices.
func References(v any) ([][]string, error) {
	var refs [][]string
	var walk func(any) error
	walk = func(v any) error {
		switch val := v.(type) {
		case string:
			if !strings.Contains(val, "${") {
				return nil
			}
			toks, err := Scan(val)
			if err != nil {
				return err
			}
			for _, t := range toks {
				if t.IsRef() {
					refs = append(refs, t.Path)
				}
			}
		case map[string]any:
			for _, item := range val {
				if err := walk(item); err != nil {
					return err
				}
			}
		case []any:
			for _, item := range val {
				if err := walk(item); err != nil {
					return err
				}
			}
		}
		return nil
	}
	err := walk(v)
	return refs, err
}

// lookup finds the longest dotted prefix of the path that names a value and
// descends into it with the remaining segments. Names may contain dots
// (store_value{name: "user.id"}), which is why the prefix is matched greedily.
func (sc Scope) lookup(tok Token) (any, error) {
	path := tok.Path
	src, kind := sc.Saved, "no step saved as"
	if path[0] == storedPrefix {
		if len(path) == 1 {
			return nil, &ResolutionError{Ref: tok.Ref(), Reason: "missing key after stored"}
		}
		path = path[1:]
		src, kind = sc.Stored, "no stored value"
	}
	if src != nil {
		for i := len(path); i >= 1; i-- {
			name := strings.Join(path[:i], ".")
			v, ok := src.Lookup(name)
			if !ok {
				continue
			}
			out, err := descend(v, path[i:])
			if err != nil {
				return nil, &ResolutionError{Ref: tok.Ref(), Reason: err.Error()}
			}
			return out, nil
		}
	}
	return nil, &ResolutionError{Ref: tok.Ref(), Reason: fmt.Sprintf("%s %q", kind, path[0])}
}

func descend(v any, segs []string) (any, error) {
	cur := v
	for _, seg := range segs {
		next, err := index(cur, seg)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func index(v any, seg string) (any, error) {
	switch c := v.(type) {
	case map[string]any:
		next, ok := c[seg]
		if !ok {
			return nil, fmt.Errorf("field %q not found", seg)
		}
		return next, nil
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("non-integer index %q into list", seg)
		}
		if idx < 0 || idx >= len(c) {
			return nil, fmt.Errorf("index %d out of range [0,%d)", idx, len(c))
		}
		return c[idx], nil
	case nil:
		return nil, fmt.Errorf("cannot index null with %q", seg)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		next := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !next.IsValid() {
			return nil, fmt.Errorf("field %q not found", seg)
		}
		return next.Interface(), nil
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("non-integer index %q into list", seg)
		}
		if idx < 0 || idx >= rv.Len() {
			return nil, fmt.Errorf("index %d out of range [0,%d)", idx, rv.Len())
		}
		return rv.Index(idx).Interface(), nil
	case reflect.Struct, reflect.Pointer:
		generic, err := normalize(v)
		if err != nil {
			return nil, err
		}
		if _, ok := generic.(map[string]any); ok {
			return index(generic, seg)
		}
	}
	return nil, fmt.Errorf("cannot index %T with %q", v, seg)
}

// normalize converts typed tool results into the generic JSON shape.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	return out, nil
}

// Render formats a value for embedding in a larger string. Maps and slices
// render as JSON, null renders as the empty string.
func Render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool, int, int64, int32, uint, uint64:
		return fmt.Sprint(val)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}
