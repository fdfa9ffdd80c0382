// Package scaffold asks an agent to write a new test spec, and the plugin it
// needs when no existing tool fits, then validates and writes both into the
// project.
package scaffold

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ormasoftchile/llmtest/pkg/logging"
	"github.com/ormasoftchile/llmtest/pkg/plugin"
	"github.com/ormasoftchile/llmtest/pkg/schema"
)

// DefaultTimeout bounds one agent call.
const DefaultTimeout = 120 * time.Second

var (
	safeFilename = regexp.MustCompile(`^[a-z][a-z0-9_-]*\.(go|yaml)$`)
	fenced       = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```")
	embedded     = regexp.MustCompile(`\{[\s\S]*"(?:test|plugin)"[\s\S]*\}`)
)

// Runner sends a prompt to an agent and returns its raw output.
// *agent.ClaudeCLIEvaluator satisfies it.
type Runner interface {
	Run(ctx context.Context, prompt string, timeout time.Duration, flags ...string) ([]byte, error)
}

// Request describes the test to create.
type Request struct {
	Description string
	// Filename overrides the test filename the agent picks.
	Filename string
	// ExtendPlugin names an existing script plugin the agent should add
	// tools to instead of writing a new one.
	ExtendPlugin string
}

// File is one generated file.
type File struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
}

// Output is what the agent is asked to return.
type Output struct {
	Test   *File `json:"test"`
	Plugin *File `json:"plugin,omitempty"`
}

// Result lists what was written.
type Result struct {
	TestPath      string `json:"test_path"`
	TestContent   string `json:"test_content"`
	PluginPath    string `json:"plugin_path,omitempty"`
	PluginContent string `json:"plugin_content,omitempty"`
}

// Error is a generation that produced nothing usable. Details holds one
// line per validation problem.
type Error struct {
	Reason  string
	Details []string
	Raw     string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return e.Reason
	}
	return e.Reason + ": " + strings.Join(e.Details, "; ")
}

// Generator creates tests for one project.
type Generator struct {
	Runner Runner
	// Tools are the tools a test may already call.
	Tools      []plugin.ToolDescriptor
	TestsDir   string
	PluginsDir string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// scriptPlugin is an existing plugin file in PluginsDir.
type scriptPlugin struct {
	name string
	path string
}

// Create runs the agent, validates its answer and writes the files. Nothing
// is written unless the test and the plugin both validate.
func (g *Generator) Create(ctx context.Context, req Request) (*Result, error) {
	log := g.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log = log.With("component", "scaffold")

	if strings.TrimSpace(req.Description) == "" {
		return nil, &Error{Reason: "description is required"}
	}
	existing := g.scriptPlugins(log)
	var extend *extendInfo
	if req.ExtendPlugin != "" {
		sp, ok := existing[req.ExtendPlugin]
		if !ok {
			return nil, &Error{Reason: fmt.Sprintf("no script plugin named %q in %s", req.ExtendPlugin, g.PluginsDir)}
		}
		code, err := os.ReadFile(sp.path)
		if err != nil {
			return nil, fmt.Errorf("read plugin %s: %w", sp.path, err)
		}
		extend = &extendInfo{Name: sp.name, Filename: filepath.Base(sp.path), Code: string(code)}
	}

	doc, err := schema.GenerateJSONSchema()
	if err != nil {
		return nil, err
	}
	text, err := renderPrompt(promptData{
		Schema:      string(doc),
		Tools:       g.Tools,
		Reserved:    g.reserved(existing),
		Extend:      extend,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log.Debug("asking agent for a test", "timeout", timeout, "extend", req.ExtendPlugin)
	raw, err := g.Runner.Run(ctx, text, timeout)
	if err != nil {
		return nil, err
	}

	out, err := ParseOutput(raw)
	if err != nil {
		return nil, err
	}
	w, err := g.check(out, req, existing)
	if err != nil {
		return nil, err
	}
	if err := w.commit(); err != nil {
		return nil, err
	}
	log.Info("test created", "test", w.result.TestPath, "plugin", w.result.PluginPath)
	return w.result, nil
}

// ParseOutput extracts {test, plugin} from agent output: a bare object, an
// object or JSON string under "result", a fenced ```json block or an
// embedded {...} that mentions "test" or "plugin".
func ParseOutput(raw []byte) (*Output, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, &Error{Reason: "empty agent output"}
	}

	var generic any
	if err := json.Unmarshal([]byte(text), &generic); err != nil {
		return extract(text)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return extract(text)
	}
	if isOutput(obj) {
		return decodeOutput(obj, text)
	}
	switch r := obj["result"].(type) {
	case map[string]any:
		return decodeOutput(r, text)
	case string:
		return ParseOutput([]byte(r))
	}
	return extract(text)
}

func isOutput(obj map[string]any) bool {
	_, t := obj["test"]
	_, p := obj["plugin"]
	return t || p
}

func extract(text string) (*Output, error) {
	m := ""
	if sub := fenced.FindStringSubmatch(text); sub != nil {
		m = sub[1]
	} else {
		m = embedded.FindString(text)
	}
	if m == "" {
		return nil, &Error{Reason: "no JSON object in agent output", Raw: preview(text)}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(m), &obj); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("invalid JSON in agent output: %v", err), Raw: preview(text)}
	}
	return decodeOutput(obj, text)
}

func decodeOutput(obj map[string]any, raw string) (*Output, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, &Error{Reason: err.Error(), Raw: preview(raw)}
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &Error{Reason: "unexpected output shape: " + err.Error(), Raw: preview(raw)}
	}
	return &out, nil
}

func preview(s string) string {
	if len(s) > 500 {
		return s[:500]
	}
	return s
}

// scriptPlugins loads every script plugin in PluginsDir once to learn its
// name. Files that do not load are skipped.
func (g *Generator) scriptPlugins(log *slog.Logger) map[string]scriptPlugin {
	out := make(map[string]scriptPlugin)
	reg := plugin.NewRegistry(log)
	paths, err := reg.Discover(g.PluginsDir)
	if err != nil {
		log.Warn("plugins not inspected", "dir", g.PluginsDir, "error", err)
		return out
	}
	for _, path := range paths {
		p, err := plugin.ScriptFactory(path)()
		if err != nil {
			log.Debug("plugin skipped", "path", path, "error", err)
			continue
		}
		out[p.Name()] = scriptPlugin{name: p.Name(), path: path}
		_ = p.Cleanup(context.Background())
	}
	return out
}

// reserved lists every plugin name already in use.
func (g *Generator) reserved(existing map[string]scriptPlugin) []string {
	seen := make(map[string]bool)
	for _, d := range g.Tools {
		if d.Plugin != "" {
			seen[d.Plugin] = true
		}
	}
	for name := range existing {
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// write is a validated pair of files ready to commit.
type write struct {
	files  []pendingFile
	result *Result
}

type pendingFile struct {
	path    string
	content string
	replace bool
}

// check validates the generated files and resolves where they go.
func (g *Generator) check(out *Output, req Request, existing map[string]scriptPlugin) (*write, error) {
	if out.Test == nil || strings.TrimSpace(out.Test.Code) == "" {
		return nil, &Error{Reason: "no test content in agent output"}
	}
	testName := req.Filename
	if testName == "" {
		testName = out.Test.Filename
	}
	if err := checkFilename("test", testName, ".yaml"); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(testName, "test_") {
		return nil, &Error{Reason: fmt.Sprintf("test filename must start with test_: %s", testName)}
	}

	spec, err := schema.Parse([]byte(out.Test.Code))
	if err != nil {
		return nil, &Error{Reason: "generated test does not parse", Details: []string{err.Error()}}
	}
	var details []string
	for _, ve := range schema.Validate(spec) {
		if ve.Severity == "error" {
			details = append(details, ve.Error())
		}
	}

	known := make(map[string]bool)
	for _, d := range g.Tools {
		known[d.Name] = true
		if d.Method != "" {
			known[d.Method] = true
		}
	}

	w := &write{result: &Result{
		TestPath:    filepath.Join(g.TestsDir, testName),
		TestContent: out.Test.Code,
	}}
	if out.Plugin != nil && strings.TrimSpace(out.Plugin.Code) != "" {
		pf, tools, err := g.checkPlugin(out.Plugin, req, existing)
		if err != nil {
			return nil, err
		}
		for _, d := range tools {
			known[d.Name] = true
			known[d.Method] = true
		}
		w.files = append(w.files, *pf)
		w.result.PluginPath = pf.path
		w.result.PluginContent = pf.content
	}

	for _, group := range []struct {
		prefix string
		steps  []schema.Step
	}{{"setup", spec.Setup}, {"steps", spec.Steps}, {"teardown", spec.Teardown}} {
		details = append(details, unknownTools(group.prefix, group.steps, known)...)
	}
	if len(details) > 0 {
		return nil, &Error{Reason: "generated test is invalid", Details: details}
	}

	if _, err := os.Stat(w.result.TestPath); err == nil {
		return nil, &Error{Reason: "test file already exists: " + w.result.TestPath}
	}
	w.files = append([]pendingFile{{path: w.result.TestPath, content: out.Test.Code}}, w.files...)
	return w, nil
}

// checkPlugin interprets the generated plugin from a scratch copy so that a
// broken script never lands in PluginsDir.
func (g *Generator) checkPlugin(f *File, req Request, existing map[string]scriptPlugin) (*pendingFile, []plugin.ToolDescriptor, error) {
	if err := checkFilename("plugin", f.Filename, ".go"); err != nil {
		return nil, nil, err
	}
	dir, err := os.MkdirTemp("", "llmtest-plugin-*")
	if err != nil {
		return nil, nil, fmt.Errorf("prepare plugin check: %w", err)
	}
	defer os.RemoveAll(dir)
	scratch := filepath.Join(dir, f.Filename)
	if err := os.WriteFile(scratch, []byte(f.Code), 0o644); err != nil {
		return nil, nil, fmt.Errorf("prepare plugin check: %w", err)
	}
	p, err := plugin.ScriptFactory(scratch)()
	if err != nil {
		return nil, nil, &Error{Reason: "generated plugin does not load", Details: []string{err.Error()}}
	}
	name, tools := p.Name(), p.ListTools()
	_ = p.Cleanup(context.Background())

	pf := &pendingFile{path: filepath.Join(g.PluginsDir, f.Filename), content: f.Code}
	if req.ExtendPlugin != "" && name == req.ExtendPlugin {
		sp := existing[name]
		if filepath.Base(sp.path) != f.Filename {
			return nil, nil, &Error{Reason: fmt.Sprintf("extended plugin %s must keep filename %s", name, filepath.Base(sp.path))}
		}
		pf.replace = true
		return pf, tools, nil
	}
	for _, r := range g.reserved(existing) {
		if r == name {
			return nil, nil, &Error{Reason: fmt.Sprintf("plugin name %q already exists", name)}
		}
	}
	if _, err := os.Stat(pf.path); err == nil {
		return nil, nil, &Error{Reason: "plugin file already exists: " + pf.path}
	}
	return pf, tools, nil
}

func checkFilename(kind, name, ext string) error {
	if name == "" {
		return &Error{Reason: fmt.Sprintf("no %s filename provided", kind)}
	}
	if !safeFilename.MatchString(name) {
		return &Error{Reason: fmt.Sprintf("invalid %s filename: %s", kind, name)}
	}
	if filepath.Ext(name) != ext {
		return &Error{Reason: fmt.Sprintf("%s filename must end with %s: %s", kind, ext, name)}
	}
	return nil
}

func unknownTools(prefix string, steps []schema.Step, known map[string]bool) []string {
	var out []string
	for i, s := range steps {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		if s.IsGroup() {
			out = append(out, unknownTools(path+".steps", s.Steps, known)...)
			continue
		}
		if s.Tool != "" && !known[s.Tool] {
			out = append(out, fmt.Sprintf("%s.tool: unknown tool %q", path, s.Tool))
		}
	}
	return out
}

// commit writes every file to a .tmp sibling, then renames them into place.
// A failure removes whatever was already written.
func (w *write) commit() (err error) {
	var temps, placed []string
	defer func() {
		if err == nil {
			return
		}
		for _, t := range temps {
			os.Remove(t)
		}
		for _, p := range placed {
			os.Remove(p)
		}
	}()

	for _, f := range w.files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(f.path), err)
		}
		tmp := f.path + ".tmp"
		if err := os.WriteFile(tmp, []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", tmp, err)
		}
		temps = append(temps, tmp)
	}
	for i, f := range w.files {
		if err := os.Rename(temps[i], f.path); err != nil {
			return fmt.Errorf("rename %s: %w", temps[i], err)
		}
		if !f.replace {
			placed = append(placed, f.path)
		}
	}
	return nil
}
