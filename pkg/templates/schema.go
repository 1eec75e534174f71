package templates

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema is the shape the engine accepts for a workflow body.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["nodes"],
	"properties": {
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "type"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"parameters": {"type": "object"},
					"credentials": {"type": "object"}
				}
			}
		},
		"connections": {"type": "object"},
		"settings": {"type": "object"}
	}
}`

var definitionSchemaLoader = gojsonschema.NewStringLoader(definitionSchema)

// ValidateDefinition checks a definition against the engine workflow schema.
func ValidateDefinition(definition json.RawMessage) error {
	result, err := gojsonschema.Validate(definitionSchemaLoader, gojsonschema.NewBytesLoader(definition))
	if err != nil {
		return fmt.Errorf("definition is not valid JSON: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("definition does not match schema: %s", strings.Join(problems, "; "))
	}

	return nil
}
