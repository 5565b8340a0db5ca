package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// guessSchema returns the JSON schema the completion response is checked
// against. Every field may be a string, a number or null; extra keys are
// ignored.
func guessSchema() map[string]any {
	loose := func() map[string]any {
		return map[string]any{"type": []string{"string", "number", "null"}}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rechnungsnummer":   loose(),
			"datum":             loose(),
			"lieferant":         loose(),
			"betragNetto":       loose(),
			"mwstSatz":          loose(),
			"mwstBetrag":        loose(),
			"betragBrutto":      loose(),
			"leistungszeitraum": loose(),
		},
	}
}

func compileGuessSchema() (*jsonschema.Schema, error) {
	b, err := json.Marshal(guessSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("invoice.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateGuess checks body against the compiled schema.
func validateGuess(schema *jsonschema.Schema, body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return nil
}

// jsonBody cuts the JSON object out of a response that may be wrapped in a
// markdown code fence or surrounded by prose.
func jsonBody(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(content)
	}
	return content[start : end+1]
}
