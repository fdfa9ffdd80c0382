package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/llmtest/pkg/kernel/eval"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].steps[1].tool")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether any entry has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile performs the full 3-phase validation pipeline on a test spec file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*TestSpec, []*ValidationError) {
	ts, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Path:     "",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return ts, Validate(ts)
}

// Validate runs the semantic and domain phases on an already decoded spec.
func Validate(ts *TestSpec) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(ts)...)
	all = append(all, ValidateDomain(ts)...)
	if len(all) == 0 {
		return nil
	}
	return all
}

// validateSemantic validates the spec against the generated JSON Schema.
func validateSemantic(ts *TestSpec) []*ValidationError {
	semantic := func(format string, a ...any) []*ValidationError {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf(format, a...),
			Severity: "error",
		}}
	}

	data, err := json.Marshal(ts)
	if err != nil {
		return semantic("marshal for schema validation: %v", err)
	}
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semantic("generate schema: %v", err)
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return semantic("unmarshal schema: %v", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("testspec-v0.json", schemaDoc); err != nil {
		return semantic("add schema resource: %v", err)
	}
	sch, err := c.Compile("testspec-v0.json")
	if err != nil {
		return semantic("compile schema: %v", err)
	}

	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return semantic("unmarshal document: %v", err)
	}

	if err := sch.Validate(doc); err != nil {
		var ve *sjsonschema.ValidationError
		if !errors.As(err, &ve) {
			return semantic("%v", err)
		}
		var errs []*ValidationError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Path:     strings.Join(cause.InstanceLocation, "/"),
				Message:  fmt.Sprintf("%v", cause.ErrorKind),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(ts *TestSpec) []*ValidationError {
	v := &domainValidator{saved: collectSaveAs(ts)}

	if strings.TrimSpace(ts.Test.Name) == "" {
		v.errorf("test.name", "test name is required")
	}
	if len(ts.Steps) == 0 {
		v.errorf("steps", "test must contain at least one step")
	}
	if strings.TrimSpace(ts.Verdict.PassIf) == "" {
		v.errorf("verdict.pass_if", "verdict.pass_if is required")
	}
	if strings.TrimSpace(ts.Verdict.FailIf) == "" {
		v.errorf("verdict.fail_if", "verdict.fail_if is required")
	}

	v.steps("setup", ts.Setup)
	v.steps("steps", ts.Steps)
	v.steps("teardown", ts.Teardown)
	return v.errs
}

type domainValidator struct {
	errs  []*ValidationError
	saved map[string]bool
}

func (v *domainValidator) errorf(path, format string, a ...any) {
	v.errs = append(v.errs, &ValidationError{Phase: "domain", Path: path, Message: fmt.Sprintf(format, a...), Severity: "error"})
}

func (v *domainValidator) warnf(path, format string, a ...any) {
	v.errs = append(v.errs, &ValidationError{Phase: "domain", Path: path, Message: fmt.Sprintf(format, a...), Severity: "warning"})
}

func (v *domainValidator) steps(prefix string, steps []Step) {
	for i := range steps {
		s := &steps[i]
		path := fmt.Sprintf("%s[%d]", prefix, i)

		if s.IsGroup() {
			if s.Tool != "" {
				v.errorf(path+".tool", "step %q has nested steps and cannot also declare a tool", s.DisplayName())
			}
			if len(s.Args) > 0 {
				v.errorf(path+".args", "step %q has nested steps and cannot also declare args", s.DisplayName())
			}
			if s.Retry > 0 {
				v.warnf(path+".retry", "retry on group %q is ignored; set it on the nested steps", s.DisplayName())
			}
			v.steps(path+".steps", s.Steps)
		} else if strings.TrimSpace(s.Tool) == "" {
			v.errorf(path+".tool", "step %q requires a tool", s.DisplayName())
		}

		if s.Retry < 0 {
			v.errorf(path+".retry", "retry must be >= 0, got %d", s.Retry)
		}
		if s.Repeat < 0 {
			v.errorf(path+".repeat", "repeat must be >= 1, got %d", s.Repeat)
		}
		if s.RetryDelay != nil && *s.RetryDelay < 0 {
			v.errorf(path+".retry_delay", "retry_delay must be >= 0, got %g", *s.RetryDelay)
		}
		if s.SaveAs == "stored" {
			v.errorf(path+".save_as", "save_as name %q is reserved", s.SaveAs)
		}
		if err := eval.CheckBool(s.When); err != nil {
			v.errorf(path+".when", "%v", err)
		}

		refs, err := eval.References(s.Args)
		if err != nil {
			v.errorf(path+".args", "%v", err)
			continue
		}
		for _, ref := range refs {
			if ref[0] == "stored" || v.saved[ref[0]] {
				continue
			}
			v.warnf(path+".args", "reference ${%s} names no save_as in this test", strings.Join(ref, "."))
		}
	}
}

func collectSaveAs(ts *TestSpec) map[string]bool {
	saved := make(map[string]bool)
	var walk func([]Step)
	walk = func(steps []Step) {
		for i := range steps {
			if steps[i].SaveAs != "" {
				saved[steps[i].SaveAs] = true
			}
			walk(steps[i].Steps)
		}
	}
	walk(ts.Setup)
	walk(ts.Steps)
	walk(ts.Teardown)
	return saved
}
