package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID is the canonical identifier of the test spec schema.
const SchemaID = "https://github.com/ormasoftchile/llmtest/schemas/testspec-v0.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go TestSpec struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&TestSpec{})
	s.ID = SchemaID
	s.Title = "llmtest test specification v0"
	s.Description = "Schema for agent-judged integration test YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
