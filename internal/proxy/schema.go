package proxy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// droppedSchemaKeys are stripped outright: they describe constraints Gemini's
// function-declaration schema doesn't understand.
var droppedSchemaKeys = map[string]bool{
	"$schema":            true,
	"additionalProperties": true,
	"format":             true,
	"default":            true,
	"uniqueItems":        true,
}

// validationKeyOrder lists the keys folded into the description text (in
// this order) rather than dropped
// silently, so the model still sees the constraint even though the upstream
// schema can't express it structurally.
var validationKeyOrder = []string{
	"minLength", "maxLength", "minimum", "maximum",
	"exclusiveMinimum", "exclusiveMaximum", "minItems", "maxItems",
}

// SanitizeSchema recursively cleans an Anthropic tool's input_schema into
// the shape Gemini's functionDeclarations.parameters accepts (component E):
// unsupported keywords dropped, validation constraints folded into
// description, type normalized to a single uppercase string.
func SanitizeSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	cleaned := sanitizeValue(v)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitizeObject(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}

func sanitizeObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}

	for key := range droppedSchemaKeys {
		delete(out, key)
	}

	var parts []string
	for _, key := range validationKeyOrder {
		if raw, ok := out[key]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", key, raw))
			delete(out, key)
		}
	}
	if len(parts) > 0 {
		joined := strings.Join(parts, ", ")
		if desc, ok := out["description"].(string); ok && desc != "" {
			out["description"] = fmt.Sprintf("%s (%s)", desc, joined)
		} else {
			out["description"] = fmt.Sprintf("Validation: %s", joined)
		}
	}

	out["type"] = normalizeType(out["type"])

	for k, v := range out {
		if k == "type" {
			continue
		}
		out[k] = sanitizeValue(v)
	}

	return out
}

// normalizeType collapses a type value (bare string, array possibly
// containing "null", or absent) into a single uppercase type string: an
// array yields its first non-null entry, or its first entry if every entry
// is "null".
func normalizeType(t any) any {
	switch val := t.(type) {
	case string:
		return strings.ToUpper(val)
	case []any:
		for _, e := range val {
			if s, ok := e.(string); ok && s != "null" {
				return strings.ToUpper(s)
			}
		}
		if len(val) > 0 {
			if s, ok := val[0].(string); ok {
				return strings.ToUpper(s)
			}
		}
		return "STRING"
	default:
		return "STRING"
	}
}
