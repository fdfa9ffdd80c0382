package verdict

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/kernel/executor"
)

func TestParse_Shapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"direct", `{"verdict":"PASS","reason":"all good"}`},
		{"nested object", `{"type":"result","result":{"verdict":"PASS","reason":"all good"}}`},
		{"nested string", `{"type":"result","result":"{\"verdict\":\"PASS\",\"reason\":\"all good\"}"}`},
		{"embedded in text", "Here is my judgement:\n```json\n{\"verdict\": \"PASS\", \"reason\": \"all good\"}\n```\nDone."},
		{"nested string with prose", `{"result":"Looks fine. {\"verdict\":\"PASS\",\"reason\":\"all good\"}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, Pass, p.Verdict)
			assert.Equal(t, "all good", p.Reason)
		})
	}
}

func TestParse_Steps(t *testing.T) {
	p, err := Parse([]byte(`{
		"verdict": "FAIL",
		"reason": "email not updated",
		"steps": [{"name": "create", "status": "pass", "details": "created id 7", "tool_output": {"id": 7}}],
		"issues": ["update returned 500"],
		"extra": "ignored"
	}`))
	require.NoError(t, err)
	assert.Equal(t, Fail, p.Verdict)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "created id 7", p.Steps[0].Details)
	assert.Equal(t, []string{"update returned 500"}, p.Issues)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"prose", "I could not decide."},
		{"array", `[1, 2]`},
		{"no verdict", `{"reason": "missing"}`},
		{"bad verdict", `{"verdict": "MAYBE", "reason": "hmm"}`},
		{"bad step status", `{"verdict": "PASS", "steps": [{"name": "a", "status": "ok"}]}`},
		{"result without verdict", `{"result": "nothing useful here"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			var me *MalformedVerdictError
			require.ErrorAs(t, err, &me)
			assert.NotEmpty(t, me.Reason)
		})
	}
}

func outcomes() []engine.StepOutcome {
	return []engine.StepOutcome{
		{Name: "create", Path: "steps[0]", Iteration: 1, Status: engine.StatusPass, Output: map[string]any{"id": 7}, AttemptCount: 1,
			Attempts: []executor.Attempt{{Number: 1, Status: executor.Succeeded}}},
		{Name: "update", Path: "steps[1]", Iteration: 1, Status: engine.StatusFail, Error: "tool update failed: 500",
			FailureKind: engine.FailureToolError, AttemptCount: 3,
			Attempts: []executor.Attempt{{Number: 1, Status: executor.Failed}, {Number: 2, Status: executor.Failed}, {Number: 3, Status: executor.Failed}}},
	}
}

func TestAggregate_Malformed(t *testing.T) {
	_, err := Parse([]byte("no json here"))
	v := Aggregate(outcomes(), nil, err)

	assert.Equal(t, Unclear, v.Verdict)
	assert.Contains(t, v.Reason, "malformed verdict")
	require.Len(t, v.Steps, 2)
	assert.Equal(t, engine.StatusFail, v.Steps[1].Status)
	assert.Equal(t, 3, v.Steps[1].AttemptCount)
	assert.Len(t, v.Steps[1].Attempts, 3)
	assert.Contains(t, v.Issues[len(v.Issues)-1], "raw output: no json here")
}

func TestAggregate_EngineIsGroundTruth(t *testing.T) {
	p := &Payload{
		Verdict: Pass,
		Reason:  "looks right",
		Steps: []PayloadStep{
			{Name: "create", Status: "pass", Details: "user created"},
			{Name: "update", Status: "pass", Details: "email updated"},
			{Name: "ghost", Status: "pass"},
		},
		Issues: []string{"slow response"},
	}
	v := Aggregate(outcomes(), p, nil)

	assert.Equal(t, Pass, v.Verdict)
	assert.True(t, v.Passed())
	require.Len(t, v.Steps, 2)
	assert.Equal(t, "user created", v.Steps[0].Details)
	assert.Equal(t, engine.StatusFail, v.Steps[1].Status)
	assert.Equal(t, "email updated", v.Steps[1].Details)
	assert.Equal(t, []string{
		"slow response",
		"step steps[1]: evaluator reported pass, engine recorded fail",
		`evaluator reported step "ghost" that the engine did not run`,
	}, v.Issues)
}

func TestAggregate_DefaultsDetailsToEngineError(t *testing.T) {
	v := Aggregate(outcomes(), &Payload{Verdict: Fail, Reason: "update broke"}, nil)
	assert.Equal(t, "tool update failed: 500", v.Steps[1].Details)
	assert.Empty(t, v.Issues)
}

func TestAggregate_AlwaysWellFormed(t *testing.T) {
	v := Aggregate(nil, nil, errors.New("evaluator crashed"))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verdict":"UNCLEAR","reason":"evaluator crashed","steps":[],"issues":["evaluator crashed"]}`, string(data))
}

func TestFailPayload(t *testing.T) {
	p, err := Parse(FailPayload("timed out after 5s", "Timeout: 5s exceeded"))
	require.NoError(t, err)
	assert.Equal(t, Fail, p.Verdict)
	assert.Equal(t, []string{"Timeout: 5s exceeded"}, p.Issues)
}
