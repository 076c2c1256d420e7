package triage

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// responseSchema is the closed schema every candidate response must satisfy
// before normalization. department_referral may be absent, null, or a string;
// emptiness and the referral invariant are enforced after the structural pass.
var responseSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []any{"text", "urgency_level", "appointment_needed"},
	"properties": map[string]any{
		"text":                map[string]any{"type": "string"},
		"urgency_level":       map[string]any{"type": "string"},
		"appointment_needed":  map[string]any{"type": "boolean"},
		"follow_up_required":  map[string]any{"type": "boolean"},
		"department_referral": map[string]any{"type": []any{"string", "null"}},
	},
}

const urgencyHint = `Use exactly one of "routine", "urgent", "emergency" for urgency_level.`

// candidate mirrors the raw engine output before normalization.
type candidate struct {
	Text               string  `json:"text"`
	Urgency            string  `json:"urgency_level"`
	AppointmentNeeded  bool    `json:"appointment_needed"`
	FollowUpRequired   bool    `json:"follow_up_required"`
	DepartmentReferral *string `json:"department_referral"`
}

// Validator normalizes and type-checks candidate engine output against the
// closed response schema. Validation is pure and deterministic: identical
// candidates always validate identically, and an already-valid Response
// round-trips unchanged.
type Validator struct {
	resolved *jsonschema.Resolved
}

// NewValidator compiles the response schema once.
func NewValidator() (*Validator, error) {
	resolved, err := compileRawSchema(responseSchema)
	if err != nil {
		return nil, err
	}
	return &Validator{resolved: resolved}, nil
}

// Schema returns a shallow copy of the response JSON Schema, for engines that
// support structured output constraints.
func (v *Validator) Schema() map[string]any {
	return maps.Clone(responseSchema)
}

// Validate checks raw candidate output and returns the typed Response.
// Structural defects and out-of-enum urgency come back as *SchemaError for
// the Controller's corrective re-prompt; a referral that merely violates the
// referral invariant is auto-nulled rather than rejected.
func (v *Validator) Validate(raw []byte) (Response, error) {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, &SchemaError{
			Reason: "candidate is not valid JSON: " + err.Error(),
			Hint:   "Respond with a single JSON object and no surrounding text.",
		}
	}
	if err := v.resolved.Validate(parsed); err != nil {
		return Response{}, &SchemaError{
			Reason: err.Error(),
			Hint:   "The response object must contain text (string), urgency_level (string), appointment_needed (boolean), optional follow_up_required (boolean) and department_referral (string or null).",
		}
	}
	var c candidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return Response{}, &SchemaError{Reason: "candidate does not decode: " + err.Error()}
	}

	urgency := Urgency(strings.ToLower(strings.TrimSpace(c.Urgency)))
	switch urgency {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency:
	default:
		return Response{}, &SchemaError{
			Reason: fmt.Sprintf("urgency_level %q is not a valid triage level", c.Urgency),
			Hint:   urgencyHint,
		}
	}

	referral := c.DepartmentReferral
	if referral != nil && strings.TrimSpace(*referral) == "" {
		return Response{}, &SchemaError{
			Reason: "department_referral must be null or a non-empty department name",
			Hint:   "Use null when no referral is needed.",
		}
	}
	// Referral only makes sense when an appointment is needed or the case is
	// an emergency; otherwise it is dropped as benign noise.
	if referral != nil && !c.AppointmentNeeded && urgency != UrgencyEmergency {
		referral = nil
	}

	return Response{
		Text:               c.Text,
		Urgency:            urgency,
		AppointmentNeeded:  c.AppointmentNeeded,
		FollowUpRequired:   c.FollowUpRequired,
		DepartmentReferral: referral,
	}, nil
}
