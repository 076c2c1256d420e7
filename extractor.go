package triage

import (
	"encoding/json"
	"maps"

	"github.com/google/jsonschema-go/jsonschema"
)

// Extractor provides JSON Schema generation and validated parsing for the
// argument type T. The tool builder uses it so the schema advertised to the
// engine and the schema enforced on incoming arguments are the same artifact.
type Extractor[T any] struct {
	schemaMap map[string]any
	resolved  *jsonschema.Resolved
}

// NewExtractor creates an Extractor for type T. When strict is true, the
// generated schema has additionalProperties: false and all properties
// required for every object.
func NewExtractor[T any](strict bool) (*Extractor[T], error) {
	schemaMap, resolved, err := generateSchema[T](strict)
	if err != nil {
		return nil, err
	}
	return &Extractor[T]{
		schemaMap: schemaMap,
		resolved:  resolved,
	}, nil
}

// Schema returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps are shared; callers must not mutate them.
func (e *Extractor[T]) Schema() map[string]any {
	return maps.Clone(e.schemaMap)
}

// ParseAndValidate deserializes argsJSON into T after schema validation.
// Invalid JSON and schema violations come back as FormatError so the
// Controller can route them through its correction loop.
func (e *Extractor[T]) ParseAndValidate(argsJSON []byte) (T, error) {
	var zero T
	var v any
	if err := json.Unmarshal(argsJSON, &v); err != nil {
		return zero, wrapJSONParseError(argsJSON, err)
	}
	if err := validateAgainstSchema(e.resolved, argsJSON, v); err != nil {
		return zero, err
	}
	var args T
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return zero, wrapJSONParseError(argsJSON, err)
	}
	return args, nil
}
