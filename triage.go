package triage

import (
	"context"
	"encoding/json"
	"time"
)

// Urgency is the closed triage classification attached to every response.
type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// Message roles used in the conversation passed to the reasoning engine.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// PatientContext is the immutable per-session patient identity. It is built
// once by the Binder at the start of a turn and passed by value through the
// Dispatcher to tool handlers; nothing in this package mutates it afterwards.
type PatientContext struct {
	ID                  string
	Name                string
	Email               string
	Phone               string
	MedicalRecordNumber string
	InsuranceID         string
	Appointments        []Appointment
}

// Appointment is a read-only record from the appointment store.
// ID is always in canonical form: "APT-" followed by exactly five digits.
type Appointment struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	DoctorName  string    `json:"doctor_name"`
	Department  string    `json:"department"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
}

// Slot is a single availability window returned by check_doctor_availability.
type Slot struct {
	DoctorName string    `json:"doctor_name"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Response is the validated, typed triage response returned to the caller.
// Invariant: DepartmentReferral is nil unless AppointmentNeeded is true or
// Urgency is emergency. Only the Validator constructs values of this type.
type Response struct {
	Text               string  `json:"text"`
	Urgency            Urgency `json:"urgency_level"`
	AppointmentNeeded  bool    `json:"appointment_needed"`
	FollowUpRequired   bool    `json:"follow_up_required"`
	DepartmentReferral *string `json:"department_referral"`
}

// ToolCall is a single tool execution request as produced by the engine.
type ToolCall struct {
	ID       string          `json:"id"`
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args"`
}

// ToolResult is the outcome of one tool invocation. Exactly one of Value and
// Err is meaningful. It is transient, scoped to the invocation that produced it.
type ToolResult struct {
	CallID   string
	ToolName string
	Value    json.RawMessage
	Err      error
}

// CorrectionRequest is issued by the Controller back to the reasoning engine
// when a candidate response violates the schema. It never reaches the caller.
type CorrectionRequest struct {
	Reason string
	Hint   string
}

// Tool is the contract for a clinical instrument callable by the engine.
// Handlers receive the bound PatientContext so patient-scoped authorization
// happens inside the handler, never in the engine's hands.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a valid JSON Schema map, as advertised to the engine.
	Parameters() map[string]any
	Invoke(ctx context.Context, pc PatientContext, argsJSON []byte) (json.RawMessage, error)
}

// ToolMetadata is implemented by tools created with NewTool and provides
// optional per-tool settings. Dispatcher uses Timeout() to override its
// default execution timeout when set.
type ToolMetadata interface {
	Timeout() time.Duration
}

// ToolDef is the provider-agnostic tool definition handed to the engine.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one entry in the conversation passed to the engine. Regular
// messages use Role and Content; assistant messages may carry ToolCalls;
// tool result messages link back via ToolCallID and ToolName.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// GenerateRequest is the input to one engine invocation.
type GenerateRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDef
}

// GenerateReply is the engine's answer: either one or more tool calls to
// execute, or a final candidate response as raw JSON. When both are set the
// tool calls are served first and the candidate is ignored.
type GenerateReply struct {
	ToolCalls []ToolCall
	Candidate json.RawMessage
}

// Engine is the opaque external reasoning capability consumed by the
// Controller. Implementations must honor ctx cancellation and deadlines.
type Engine interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateReply, error)
}
