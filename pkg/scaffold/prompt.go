package scaffold

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

const promptTemplate = `You write integration tests for llmtest. A test is a YAML document that
names tool calls in order; an LLM later judges the recorded run against the
test's pass_if and fail_if criteria.

## Test schema

` + "```json" + `
{{ .Schema }}
` + "```" + `

Arguments may reference earlier results with ${name} or ${name.field} where
name is a step's save_as. Use repeat for loops and retry for flaky calls.

## Available tools

{{- range .Tools }}
- {{ .Name }}: {{ firstLine .Description }}
{{- else }}
(none)
{{- end }}

{{- if .Reserved }}

## Reserved plugin names

A new plugin must not use any of these names: {{ join .Reserved ", " }}
{{- end }}

## Plugins

If the test needs a tool that does not exist, also write a plugin. A plugin
is a Go file in package main, interpreted at run time, that declares:

` + "```go" + `
func PluginName() string
func Tools() []map[string]any // name, description, input_schema
func Call(method string, args map[string]any) (any, error)
func Cleanup() error          // optional
` + "```" + `

Its tools are exposed as {PluginName}_{name}. Only the standard library is
available.
{{- if .Extend }}

Extend the existing plugin {{ .Extend.Name }} instead of creating a new one.
Return its complete updated source under the same filename
({{ .Extend.Filename }}) and keep its existing tools working. Current source:

` + "```go" + `
{{ .Extend.Code }}
` + "```" + `
{{- end }}

## Response format

Respond with ONLY a JSON object, no prose and no code fences:

{"test": {"filename": "test_<topic>.yaml", "code": "<yaml>"}, "plugin": {"filename": "<name>.go", "code": "<go source>"}}

Omit "plugin" when the existing tools are enough. Filenames use lowercase
letters, digits, "_" and "-".

---

## User Request

{{ .Description }}
`

var prompt = template.Must(template.New("create").Funcs(template.FuncMap{
	"firstLine": plugin.FirstLine,
	"join":      strings.Join,
}).Parse(promptTemplate))

type extendInfo struct {
	Name     string
	Filename string
	Code     string
}

type promptData struct {
	Schema      string
	Tools       []plugin.ToolDescriptor
	Reserved    []string
	Extend      *extendInfo
	Description string
}

func renderPrompt(d promptData) (string, error) {
	var buf bytes.Buffer
	if err := prompt.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render create prompt: %w", err)
	}
	return buf.String(), nil
}
