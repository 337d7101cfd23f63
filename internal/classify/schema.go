package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// batchSchema constrains the decoded model payload to an array of label
// objects before any vocabulary coercion runs. It is deliberately loose about
// field values (coercion owns those) and strict about structure.
var batchSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ai_category":           map[string]any{"type": "string"},
			"ai_subtopic":           map[string]any{"type": "string"},
			"ai_confidence":         map[string]any{"type": "string"},
			"ai_issue_type":         map[string]any{"type": "string"},
			"ai_urgency":            map[string]any{"type": "string"},
			"ai_sentiment":          map[string]any{"type": "string"},
			"ai_resolution_quality": map[string]any{"type": "string"},
			"ai_reopen_risk":        map[string]any{"type": "string"},
			"ai_feedback_driver":    map[string]any{"type": "string"},
			"ai_closure_theme":      map[string]any{"type": "string"},
			"ai_extra_summary":      map[string]any{"type": "string"},
		},
	},
}

func compileBatchSchema() (*jsonschema.Schema, error) {
	encoded, err := json.Marshal(batchSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("batch_labels.json", bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("batch_labels.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateBatchShape(schema *jsonschema.Schema, payload []byte) error {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
