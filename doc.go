// Package triage turns free-form natural-language queries about healthcare
// appointments into validated, typed clinical-triage responses.
//
// # Overview
//
// A reasoning engine (an opaque external capability, see Engine) is augmented
// with deterministic lookup tools and an automatic self-correction loop.
// The package is the orchestration layer around it: binding per-session
// patient identity, dispatching tool calls safely, validating structured
// output against a closed schema, enforcing patient-scoped access control,
// and bounding retries when output or tool input is malformed.
//
// Pipeline per turn: query + session → Binder produces the immutable
// PatientContext → Controller invokes the Engine with context and tool
// definitions → requested tool calls pass Dispatcher → Guard → handler →
// result, fed back to the engine → the final candidate goes through the
// Validator → the Controller returns the validated Response or, on a
// recoverable failure, re-prompts within a fixed correction budget.
//
// # Key concepts
//
//   - Single source of truth: the JSON Schema advertised to the engine for a
//     tool is exactly the schema its incoming arguments are validated against.
//   - Self-correction: FormatError (malformed tool argument) and SchemaError
//     (malformed candidate output) are resolved inside the Controller's
//     bounded loop and never escape to the caller.
//   - Safety over availability: when the budget runs out, the caller gets a
//     fixed escalation Response, never unvalidated engine output.
//
// See Controller and HandleTurn for the entry point, RegisterClinicalTools
// for the built-in tools, and the anthropic subpackage for a real Engine.
package triage
