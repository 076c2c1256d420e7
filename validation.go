package triage

// schemaValidator validates a JSON-like value (e.g. map[string]any from
// json.Unmarshal). Both tool argument extraction and response validation use
// it; *jsonschema.Resolved implements it.
type schemaValidator interface {
	Validate(v any) error
}

// validateAgainstSchema runs schema validation on the already-parsed value v.
// raw is the original payload, kept only for the FormatError value field.
func validateAgainstSchema(validate schemaValidator, raw []byte, v any) error {
	if err := validate.Validate(v); err != nil {
		return &FormatError{Field: "arguments", Value: string(raw), Reason: err.Error()}
	}
	return nil
}

// wrapJSONParseError returns a FormatError for JSON unmarshal failures so
// parse errors take the same recoverable path as schema violations.
func wrapJSONParseError(raw []byte, err error) error {
	return &FormatError{Field: "arguments", Value: string(raw), Reason: "json parse error: " + err.Error()}
}
