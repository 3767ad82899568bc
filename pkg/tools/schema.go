package tools

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/boristopalov/toolgym/pkg/core"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// GenerateSchema derives a JSON Schema parameters object from a Go input struct.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal schema for %T: %v", v, err))
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("unmarshal schema for %T: %v", v, err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// LoadSchemas reads a YAML list of tool schemas.
func LoadSchemas(path string) ([]core.ToolSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool schemas: %w", err)
	}
	return ParseSchemas(data)
}

// ParseSchemas decodes a YAML (or JSON) list of tool schemas.
func ParseSchemas(data []byte) ([]core.ToolSchema, error) {
	var schemas []core.ToolSchema
	if err := yaml.Unmarshal(data, &schemas); err != nil {
		return nil, fmt.Errorf("parse tool schemas: %w", err)
	}
	seen := make(map[string]bool, len(schemas))
	for i, s := range schemas {
		if s.Function.Name == "" {
			return nil, fmt.Errorf("tool schema %d has no function name", i)
		}
		if seen[s.Function.Name] {
			return nil, fmt.Errorf("tool schema %q declared twice", s.Function.Name)
		}
		seen[s.Function.Name] = true
		if s.Type == "" {
			schemas[i].Type = "function"
		}
	}
	return schemas, nil
}

// SubmissionSchema is the default schema advertised for the submission tool.
func SubmissionSchema(name string) core.ToolSchema {
	if name == "" {
		name = DefaultSubmissionTool
	}
	return core.ToolSchema{
		Type: "function",
		Function: core.FunctionSpec{
			Name:        name,
			Description: "Submit the final answer. Calling this ends the episode.",
			Parameters:  GenerateSchema[submissionInput](),
		},
	}
}

type submissionInput struct {
	Answer Number `json:"answer" jsonschema_description:"The final numeric answer."`
}
