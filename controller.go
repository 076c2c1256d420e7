package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// maxHandlerAttempts caps invocations of any single handler within one turn:
// the first call plus at most two corrective retries.
const maxHandlerAttempts = 3

// Texts of the fixed terminal responses. The system never emits unvalidated
// engine output; when a turn cannot complete safely it ends with one of these.
const (
	fallbackText = "We could not complete your request automatically. Your inquiry has been escalated to our clinical staff, who will contact you shortly."
	deniedText   = "We could not verify your access to the requested appointment record. Your inquiry has been escalated to our clinical staff for identity verification."
	downText     = "Our assistant is temporarily unavailable. Your inquiry has been escalated to our clinical staff, who will contact you shortly."
)

// Controller orchestrates one turn: it invokes the reasoning engine, routes
// tool requests through the Dispatcher, validates the final candidate, and
// drives a bounded correction loop when output or tool input is malformed.
// All turn state (patient context, conversation, correction counters) is
// local to HandleTurn, so one Controller serves many concurrent sessions.
type Controller struct {
	binder     *Binder
	dispatcher *Dispatcher
	engine     Engine
	validator  *Validator
	opts       controllerOptions
}

// NewController wires the turn pipeline. The Controller owns response
// construction: callers only ever see what came out of the Validator or one
// of the fixed terminal responses.
func NewController(engine Engine, binder *Binder, dispatcher *Dispatcher, opts ...ControllerOption) (*Controller, error) {
	o := controllerOptions{
		maxCorrections: 2,
		maxToolRounds:  8,
		engineTimeout:  60 * time.Second,
		systemPrompt:   defaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Controller{
		binder:     binder,
		dispatcher: dispatcher,
		engine:     engine,
		validator:  validator,
		opts:       o,
	}, nil
}

// FallbackResponse is the fixed response emitted when the correction budget
// is exhausted.
func FallbackResponse() Response {
	return escalation(fallbackText)
}

func escalation(text string) Response {
	return Response{
		Text:              text,
		Urgency:           UrgencyUrgent,
		AppointmentNeeded: false,
	}
}

// HandleTurn processes one query for one session and returns a validated
// response. Identity, configuration, and internal faults surface as errors;
// everything user-facing (including access denial, engine unavailability, and
// an exhausted correction budget) comes back as a terminal Response with a
// nil error. Cancelling ctx abandons the turn.
func (c *Controller) HandleTurn(ctx context.Context, sessionID, query string) (Response, error) {
	turnID := uuid.NewString()
	log := c.opts.logger.With("turn", turnID, "session", sessionID)

	pc, err := c.binder.Bind(ctx, sessionID)
	if err != nil {
		return Response{}, err
	}
	log.Info("turn started", "patient", pc.ID)

	system := buildSystemPrompt(c.opts.systemPrompt, pc)
	tools := c.dispatcher.ToolDefs()
	messages := []Message{{Role: RoleUser, Content: query}}

	corrections := 0
	toolRounds := 0
	attempts := make(map[string]int)

	for {
		reply, err := c.generate(ctx, GenerateRequest{System: system, Messages: messages, Tools: tools})
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			log.Error("engine failure", "error", err)
			return escalation(downText), nil
		}

		if len(reply.ToolCalls) > 0 {
			toolRounds++
			if toolRounds > c.opts.maxToolRounds {
				log.Warn("tool round budget exhausted", "rounds", toolRounds)
				return FallbackResponse(), nil
			}
			messages = append(messages, Message{Role: RoleAssistant, ToolCalls: reply.ToolCalls})
			for _, call := range reply.ToolCalls {
				if call.ID == "" {
					call.ID = uuid.NewString()
				}
				result := c.invokeWithCorrection(ctx, pc, call, &corrections, attempts)
				msg, terminal, err := c.resolveToolResult(log, result)
				if err != nil {
					return Response{}, err
				}
				if terminal != nil {
					return *terminal, nil
				}
				messages = append(messages, msg)
			}
			continue
		}

		if len(reply.Candidate) == 0 {
			// Engine produced neither tool calls nor a candidate; treat it
			// like a schema violation and re-prompt within the budget.
			if corrections >= c.opts.maxCorrections {
				return FallbackResponse(), nil
			}
			corrections++
			cr := CorrectionRequest{Reason: "the reply contained no response object", Hint: "Answer with the final JSON object now."}
			messages = append(messages, Message{Role: RoleUser, Content: cr.prompt()})
			continue
		}

		resp, err := c.validator.Validate(reply.Candidate)
		if err == nil {
			log.Info("turn done", "urgency", resp.Urgency, "corrections", corrections)
			return resp, nil
		}
		var se *SchemaError
		if !errors.As(err, &se) {
			return Response{}, err
		}
		if corrections >= c.opts.maxCorrections {
			log.Warn("correction budget exhausted", "reason", se.Reason)
			return FallbackResponse(), nil
		}
		corrections++
		log.Info("schema correction", "round", corrections, "reason", se.Reason)
		cr := CorrectionRequest{Reason: se.Reason, Hint: se.Hint}
		messages = append(messages, Message{Role: RoleUser, Content: cr.prompt()})
	}
}

// generate bounds one engine call with the configured timeout. A timeout or
// engine failure is terminal (ErrServiceUnavailable), never retried, so
// external latency cannot compound with the internal correction budget.
func (c *Controller) generate(ctx context.Context, req GenerateRequest) (*GenerateReply, error) {
	callCtx := ctx
	if c.opts.engineTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.engineTimeout)
		defer cancel()
	}
	reply, err := c.engine.Generate(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if reply == nil {
		return nil, fmt.Errorf("%w: engine returned no reply", ErrServiceUnavailable)
	}
	return reply, nil
}

// invokeWithCorrection runs one tool call. On a FormatError it retries the
// same handler once with the offending argument normalized to the canonical
// appointment id form; the retry consumes one round of the shared correction
// budget. No handler runs more than maxHandlerAttempts times per turn.
func (c *Controller) invokeWithCorrection(ctx context.Context, pc PatientContext, call ToolCall, corrections *int, attempts map[string]int) ToolResult {
	if attempts[call.ToolName] >= maxHandlerAttempts {
		return ToolResult{CallID: call.ID, ToolName: call.ToolName, Err: ErrMaxCorrections}
	}
	attempts[call.ToolName]++
	res := c.dispatcher.Invoke(ctx, pc, call)

	var fe *FormatError
	if !errors.As(res.Err, &fe) {
		return res
	}
	if *corrections >= c.opts.maxCorrections {
		return ToolResult{CallID: call.ID, ToolName: call.ToolName, Err: fmt.Errorf("%w: %v", ErrMaxCorrections, res.Err)}
	}
	patched, ok := normalizeCallArgs(call.Args, fe)
	if !ok {
		// Normalization cannot repair the argument; the caller falls back.
		return res
	}
	*corrections++
	if attempts[call.ToolName] >= maxHandlerAttempts {
		return ToolResult{CallID: call.ID, ToolName: call.ToolName, Err: ErrMaxCorrections}
	}
	attempts[call.ToolName]++
	retry := call
	retry.Args = patched
	return c.dispatcher.Invoke(ctx, pc, retry)
}

// normalizeCallArgs patches the argument named by the FormatError with its
// canonical appointment id form. It reports false when the argument is absent,
// not a string, or not normalizable, in which case no retry is possible.
func normalizeCallArgs(args json.RawMessage, fe *FormatError) (json.RawMessage, bool) {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return nil, false
	}
	raw, ok := m[fe.Field].(string)
	if !ok {
		return nil, false
	}
	canonical, err := CanonicalAppointmentID(raw)
	if err != nil || canonical == raw {
		return nil, false
	}
	m[fe.Field] = canonical
	patched, err := json.Marshal(m)
	if err != nil {
		return nil, false
	}
	return patched, true
}

// resolveToolResult classifies one tool outcome: a conversation message to
// feed back to the engine, a terminal response ending the turn, or a hard
// error surfaced to the caller.
func (c *Controller) resolveToolResult(log *slog.Logger, res ToolResult) (Message, *Response, error) {
	switch {
	case res.Err == nil:
		return Message{Role: RoleTool, ToolCallID: res.CallID, ToolName: res.ToolName, Content: string(res.Value)}, nil, nil
	case errors.Is(res.Err, ErrAccessDenied):
		log.Warn("access denied", "tool", res.ToolName, "error", res.Err)
		resp := escalation(deniedText)
		return Message{}, &resp, nil
	case errors.Is(res.Err, ErrMaxCorrections):
		log.Warn("tool correction budget exhausted", "tool", res.ToolName)
		resp := FallbackResponse()
		return Message{}, &resp, nil
	case errors.Is(res.Err, ErrUnknownTool), IsSystemError(res.Err):
		return Message{}, nil, res.Err
	case errors.Is(res.Err, ErrNotFound):
		// A missing record is a normal lookup outcome; the engine decides
		// how to phrase it for the patient.
		return Message{Role: RoleTool, ToolCallID: res.CallID, ToolName: res.ToolName, Content: toolErrorContent(res.Err)}, nil, nil
	case IsRecoverable(res.Err):
		// Normalization could not repair the argument.
		log.Warn("unrecoverable tool argument", "tool", res.ToolName, "error", res.Err)
		resp := FallbackResponse()
		return Message{}, &resp, nil
	default:
		return Message{}, nil, res.Err
	}
}

// toolErrorContent serializes a benign tool failure for the engine.
func toolErrorContent(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
