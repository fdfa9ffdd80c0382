package tools

import (
	"fmt"
	"strings"
)

// ToolNotFoundError is returned when a name matches no built-in, no qualified
// tool and no unambiguous bare method.
type ToolNotFoundError struct {
	Name       string
	Candidates []string // set when a bare name matched more than one tool
}

func (e *ToolNotFoundError) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("tool %q is ambiguous: matches %s", e.Name, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("tool %q not found", e.Name)
}

// ToolExecutionError wraps a failure raised by a capability, including
// recovered panics and results carrying an "error" field.
type ToolExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ErrorResult reports whether a tool result is the {error: "..."} failure
// shape, returning the message.
func ErrorResult(result any) (string, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m["error"]
	if !ok || v == nil {
		return "", false
	}
	switch e := v.(type) {
	case string:
		return e, e != ""
	case bool:
		return "error", e
	}
	return fmt.Sprint(v), true
}
