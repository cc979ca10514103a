package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// parseInferredJSON pulls the JSON object out of a model response and
// flattens every value to a string. Providers answer with numbers, strings,
// booleans or null for the same key, so no shape is assumed.
func parseInferredJSON(text string) (*InferredFields, error) {
	text = stripCodeFence(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	return &InferredFields{
		Amount:     field(raw, "amount"),
		Currency:   field(raw, "currency"),
		Vendor:     field(raw, "vendor"),
		Date:       field(raw, "date"),
		Category:   field(raw, "category"),
		Notes:      field(raw, "notes"),
		IsExpense:  field(raw, "is_expense"),
		Confidence: field(raw, "confidence"),
	}, nil
}

func field(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(v)
		if strings.EqualFold(s, "null") {
			return ""
		}
		return s
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		// Nested objects and arrays are not meaningful for any field
		return ""
	}
}

// stripCodeFence removes the markdown fences models like to wrap output in
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
