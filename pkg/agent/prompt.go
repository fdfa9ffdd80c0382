package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// promptTemplate asks the agent to judge a finished run. The engine has
// already executed every step; the agent may call the llmtest tools to
// inspect state but must not repeat side effects.
const promptTemplate = `You are judging the result of an automated integration test.
The test steps have ALREADY been executed by the test engine. Their recorded
outcomes are listed below. You may call the llmtest MCP tools to inspect
stored values (get_value, list_values) or to double-check read-only facts.
Do not re-run steps that change state.

## Test

Name: {{ .Spec.Test.Name }}
{{- if .Spec.Test.Description }}
Description: {{ .Spec.Test.Description }}
{{- end }}

## Specification

` + "```yaml" + `
{{ .Source }}
` + "```" + `

## Step outcomes

{{- range .Outcomes }}
- {{ .Path }}{{ with .IterationLabel }} (iteration {{ . }}){{ end }} {{ .Name }}: {{ .Status }}{{ if .AttemptCount }}, {{ .AttemptCount }} attempt(s){{ end }}
  {{- if .Expect }}
  expect: {{ .Expect }}
  {{- end }}
  {{- if .Analyze }}
  analyze: {{ .Analyze }}
  {{- end }}
  {{- if .Error }}
  error: {{ .Error }}
  {{- end }}
  {{- if .Output }}
  output: {{ json .Output }}
  {{- end }}
{{- end }}

## Verdict criteria

PASS if: {{ .Spec.Verdict.PassIf }}
FAIL if: {{ .Spec.Verdict.FailIf }}

## Response format

Respond with ONLY a JSON object, no prose and no code fences:

{"verdict": "PASS|FAIL|UNCLEAR", "reason": "one sentence", "steps": [{"name": "...", "status": "pass|fail|skip", "details": "..."}], "issues": ["..."]}
`

var prompt = template.Must(template.New("prompt").Funcs(template.FuncMap{
	"json": func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return truncate(string(data), 2000)
	},
}).Parse(promptTemplate))

// RenderPrompt renders the evaluation prompt for req.
func RenderPrompt(req *Request) (string, error) {
	var buf bytes.Buffer
	if err := prompt.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
