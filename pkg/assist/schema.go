package assist

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var entryList = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string", "minLength": 1},
			"value": map[string]any{"type": "string", "minLength": 1},
		},
		"required":             []string{"name", "value"},
		"additionalProperties": false,
	},
}

// responseSchema describes the JSON object the model must return
var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":       map[string]any{"type": "string"},
		"eligibility": entryList,
		"fees":        entryList,
		"application_process": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
	},
	"additionalProperties": false,
}

type modelEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// modelResponse is the decoded model output. Absent keys mean "not found".
type modelResponse struct {
	Title              string       `json:"title"`
	Eligibility        []modelEntry `json:"eligibility"`
	Fees               []modelEntry `json:"fees"`
	ApplicationProcess []string     `json:"application_process"`
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("response.json")
}

// decodeResponse validates raw against schema and decodes it
func decodeResponse(schema *jsonschema.Schema, raw []byte) (*modelResponse, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal model output as JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("JSON does not match schema: %w", err)
	}
	var out modelResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode model output JSON: %w", err)
	}
	return &out, nil
}
