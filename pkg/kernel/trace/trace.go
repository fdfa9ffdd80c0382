// Package trace implements the append-only JSONL audit trail of a run.
// Every event carries the SHA-256 of the previous line so the file can be
// verified after the fact.
package trace

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// SigningKeyEnv names the environment variable holding the HMAC key used to
// sign the chain hash in run_complete.
const SigningKeyEnv = "LLMTEST_TRACE_SIGNING_KEY"

// EventType enumerates trace event types.
type EventType string

const (
	EventRunStart        EventType = "run_start"
	EventRunComplete     EventType = "run_complete"
	EventPhaseStart      EventType = "phase_start"
	EventStepStart       EventType = "step_start"
	EventAttempt         EventType = "attempt"
	EventStepComplete    EventType = "step_complete"
	EventStepSkipped     EventType = "step_skipped"
	EventRepeatStart     EventType = "repeat_start"
	EventRepeatIteration EventType = "repeat_iteration"
	EventVerdict         EventType = "verdict"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a step failed.
type Failure struct {
	Kind    string `json:"kind"` // tool_error, timeout, not_found, resolution, guard, setup_failed, deadline
	Message string `json:"message"`
}

var genesis = strings.Repeat("0", 64)

// Writer writes trace events to an append-only JSONL stream. A nil Writer
// discards everything.
type Writer struct {
	mu         sync.Mutex
	w          io.Writer
	closer     io.Closer
	runID      string
	prevHash   string
	secretVars []string // env var names whose values are redacted
}

// NewWriter creates a trace writer over w.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: genesis}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// SetSecrets configures the writer to redact values of the given env vars.
func (tw *Writer) SetSecrets(envVars []string) {
	if tw == nil {
		return
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secretVars = envVars
}

// RedactSecrets replaces secret values in s with "<REDACTED>".
func (tw *Writer) RedactSecrets(s string) string {
	for _, envVar := range tw.secretVars {
		if val := os.Getenv(envVar); val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(eventType, data)
}

func (tw *Writer) emitLocked(eventType EventType, data map[string]any) error {
	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	if len(tw.secretVars) > 0 {
		line = []byte(tw.RedactSecrets(string(line)))
	}
	h := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(h[:])

	var buf bytes.Buffer
	buf.Write(line)
	buf.WriteByte('\n')
	_, err = tw.w.Write(buf.Bytes())
	return err
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(test, source string, tools []string) error {
	data := map[string]any{"test": test}
	if source != "" {
		data["source"] = source
	}
	if tools != nil {
		data["tools"] = tools
	}
	return tw.Emit(EventRunStart, data)
}

// EmitPhaseStart emits a phase_start event for setup, steps or teardown.
func (tw *Writer) EmitPhaseStart(phase string, count int) error {
	return tw.Emit(EventPhaseStart, map[string]any{"phase": phase, "count": count})
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(path, tool string, iteration int, args map[string]any) error {
	data := map[string]any{
		"step":      path,
		"tool":      tool,
		"iteration": iteration,
	}
	if args != nil {
		data["args"] = args
	}
	return tw.Emit(EventStepStart, data)
}

// EmitAttempt emits one attempt of a step.
func (tw *Writer) EmitAttempt(path string, number int, status string, errMsg string, duration time.Duration) error {
	data := map[string]any{
		"step":     path,
		"attempt":  number,
		"status":   status,
		"duration": duration.String(),
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return tw.Emit(EventAttempt, data)
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(path, status string, attempts int, output any, duration time.Duration, failure *Failure) error {
	data := map[string]any{
		"step":     path,
		"status":   status,
		"attempts": attempts,
		"duration": duration.String(),
	}
	if output != nil {
		data["output"] = output
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitStepSkipped emits a step_skipped event.
func (tw *Writer) EmitStepSkipped(path, reason string) error {
	return tw.Emit(EventStepSkipped, map[string]any{"step": path, "reason": reason})
}

// EmitRepeatStart emits a repeat_start event for a group.
func (tw *Writer) EmitRepeatStart(path string, count int) error {
	return tw.Emit(EventRepeatStart, map[string]any{"step": path, "count": count})
}

// EmitRepeatIteration emits a repeat_iteration event.
func (tw *Writer) EmitRepeatIteration(path string, iteration int) error {
	return tw.Emit(EventRepeatIteration, map[string]any{"step": path, "iteration": iteration})
}

// EmitVerdict emits the evaluator's verdict.
func (tw *Writer) EmitVerdict(verdict, reason string, issues []string) error {
	data := map[string]any{"verdict": verdict, "reason": reason}
	if len(issues) > 0 {
		data["issues"] = issues
	}
	return tw.Emit(EventVerdict, data)
}

// EmitRunComplete emits run_complete with the chain hash, signed when
// SigningKeyEnv is set.
func (tw *Writer) EmitRunComplete(status string, duration time.Duration) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data := map[string]any{
		"status":     status,
		"duration":   duration.String(),
		"chain_hash": tw.prevHash,
	}
	if key := os.Getenv(SigningKeyEnv); key != "" {
		data["signature"] = sign(key, tw.prevHash)
		data["signing_key_id"] = SigningKeyEnv
	}
	return tw.emitLocked(EventRunComplete, data)
}

func sign(key, chainHash string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}
