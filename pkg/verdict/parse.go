package verdict

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// embedded matches the outermost {...} block that mentions "verdict" inside
// free text.
var embedded = regexp.MustCompile(`\{[\s\S]*"verdict"[\s\S]*\}`)

var (
	schemaOnce sync.Once
	schema     *sjsonschema.Schema
	schemaErr  error
)

// payloadSchema compiles the JSON Schema reflected from Payload.
func payloadSchema() (*sjsonschema.Schema, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{DoNotReference: true, AllowAdditionalProperties: true}
		s := r.Reflect(&Payload{})
		s.Version = ""
		s.ID = ""
		data, err := json.Marshal(s)
		if err != nil {
			schemaErr = fmt.Errorf("marshal verdict schema: %w", err)
			return
		}
		doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal verdict schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource("verdict.json", doc); err != nil {
			schemaErr = fmt.Errorf("add verdict schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("verdict.json")
	})
	return schema, schemaErr
}

// Parse extracts the verdict payload from raw evaluator output. It accepts a
// verdict object, an object nested under "result", a JSON string under
// "result", or a {...} block containing "verdict" embedded in text.
func Parse(raw []byte) (*Payload, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, &MalformedVerdictError{Reason: "empty evaluator output"}
	}

	var generic any
	if err := json.Unmarshal([]byte(text), &generic); err != nil {
		m := embedded.FindString(text)
		if m == "" {
			return nil, &MalformedVerdictError{Reason: fmt.Sprintf("output is not JSON: %v", err), Raw: text}
		}
		if err := json.Unmarshal([]byte(m), &generic); err != nil {
			return nil, &MalformedVerdictError{Reason: fmt.Sprintf("embedded verdict is not JSON: %v", err), Raw: text}
		}
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, &MalformedVerdictError{Reason: fmt.Sprintf("unexpected output format: %T", generic), Raw: text}
	}
	if _, ok := obj["verdict"]; !ok {
		switch r := obj["result"].(type) {
		case map[string]any:
			obj = r
		case string:
			p, err := Parse([]byte(r))
			var me *MalformedVerdictError
			if errors.As(err, &me) && me.Raw == "" {
				me.Raw = text
			}
			return p, err
		default:
			return nil, &MalformedVerdictError{Reason: "no verdict field in output", Raw: text}
		}
	}
	return decode(obj, text)
}

func decode(obj map[string]any, raw string) (*Payload, error) {
	sch, err := payloadSchema()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, &MalformedVerdictError{Reason: err.Error(), Raw: raw}
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, &MalformedVerdictError{Reason: err.Error(), Raw: raw}
	}
	if err := sch.Validate(doc); err != nil {
		return nil, &MalformedVerdictError{Reason: validationReason(err), Raw: raw}
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &MalformedVerdictError{Reason: err.Error(), Raw: raw}
	}
	return &p, nil
}

func validationReason(err error) string {
	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var msgs []string
	var walk func(*sjsonschema.ValidationError)
	walk = func(e *sjsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := "/" + strings.Join(e.InstanceLocation, "/")
			msgs = append(msgs, fmt.Sprintf("%s: %v", loc, e.ErrorKind))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
