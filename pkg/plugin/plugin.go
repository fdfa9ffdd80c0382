// Package plugin turns capability providers into named, schema-described
// tools. Providers are instantiated once per run so that parallel runs never
// share plugin state.
package plugin

import (
	"context"
	"fmt"
	"strings"
)

// Reserved method names that can never be exposed as tools.
var reserved = map[string]bool{
	"get_tools": true,
	"call_tool": true,
	"cleanup":   true,
}

// IsReserved reports whether method is a lifecycle name rather than a tool.
func IsReserved(method string) bool { return reserved[method] }

// ToolDescriptor describes one invokable tool.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Plugin      string         `json:"plugin,omitempty"`
	Method      string         `json:"method,omitempty"`
}

// Provider is the capability contract every plugin fulfils.
type Provider interface {
	// Name is the prefix of every tool the provider exposes.
	Name() string
	// ListTools returns the provider's descriptors, named {plugin}_{method}.
	ListTools() []ToolDescriptor
	// Invoke calls a method by bare or qualified name.
	Invoke(ctx context.Context, method string, args map[string]any) (any, error)
	// Cleanup releases whatever the provider holds. Called once per run.
	Cleanup(ctx context.Context) error
}

// Factory constructs a fresh provider. It is called once per run.
type Factory func() (Provider, error)

// QualifiedName joins a plugin and method name into a tool name.
func QualifiedName(plugin, method string) string {
	return plugin + "_" + method
}

// StripPrefix removes the "{plugin}_" prefix from a tool name if present.
func StripPrefix(plugin, name string) string {
	return strings.TrimPrefix(name, plugin+"_")
}

// FirstLine returns the first non-empty line of a doc string.
func FirstLine(doc string) string {
	for _, line := range strings.Split(doc, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}

// ArgumentError reports arguments rejected by a tool's schema.
type ArgumentError struct {
	Tool    string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Message)
}
