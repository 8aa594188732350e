package chain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/leolilley/ryeos/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// jsonSchemaType maps an InputField's declared type name to the JSON
// Schema primitive it corresponds to. Unrecognized type names are left
// unconstrained (no "type" keyword), matching spec.md's treatment of
// unknown declared types as advisory rather than a hard schema error.
var jsonSchemaType = map[string]string{
	"string":  "string",
	"number":  "number",
	"integer": "integer",
	"boolean": "boolean",
	"object":  "object",
	"array":   "array",
}

// ValidateParams checks params against a tool's declared Inputs: every
// required field must be present, and every field present with a
// recognized declared type must match that type. It compiles a JSON
// Schema document from inputs on each call rather than caching a
// compiled schema, since tool metadata is re-resolved (and may change)
// on every dispatch per spec.md's chain resolution model.
func ValidateParams(inputs []models.InputField, params map[string]any) error {
	if len(inputs) == 0 {
		return nil
	}

	schema := buildSchema(inputs)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inputs.json", bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("chain: build input schema: %w", err)
	}
	compiled, err := compiler.Compile("inputs.json")
	if err != nil {
		return fmt.Errorf("chain: compile input schema: %w", err)
	}

	if err := compiled.Validate(toInterfaceMap(params)); err != nil {
		return fmt.Errorf("%w: %v", ErrInputValidation, err)
	}
	return nil
}

// buildSchema renders inputs as a JSON Schema object document: one
// "properties" entry per field (typed when the declared type is
// recognized), and a "required" array listing every required field.
func buildSchema(inputs []models.InputField) []byte {
	properties := make(map[string]any, len(inputs))
	var required []string
	for _, in := range inputs {
		prop := map[string]any{}
		if t, ok := jsonSchemaType[in.Type]; ok {
			prop["type"] = t
		}
		properties[in.Name] = prop
		if in.Required {
			required = append(required, in.Name)
		}
	}

	doc := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	out, _ := json.Marshal(doc)
	return out
}

// toInterfaceMap converts a map[string]any into the plain
// map[string]interface{}/[]interface{}/json-number tree jsonschema's
// Validate expects, by round-tripping through encoding/json.
func toInterfaceMap(params map[string]any) any {
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return params
	}
	return v
}
