package triage_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebound/triage"
	"github.com/carebound/triage/testutil"
)

func candidate(text string, urgency string, needed bool, referral *string) json.RawMessage {
	m := map[string]any{
		"text":                text,
		"urgency_level":       urgency,
		"appointment_needed":  needed,
		"follow_up_required":  false,
		"department_referral": referral,
	}
	b, _ := json.Marshal(m)
	return b
}

func strptr(s string) *string { return &s }

// Scenario: "Status of appointment 12345" for the patient owning APT-12345.
// The handler normalizes the id before lookup; no correction round is spent.
func TestHandleTurn_StatusLookup(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{ToolCalls: []triage.ToolCall{{
			ID:       "c1",
			ToolName: triage.ToolAppointmentStatus,
			Args:     json.RawMessage(`{"appointment_id": "12345"}`),
		}}},
		triage.GenerateReply{Candidate: candidate("Your appointment is scheduled.", "routine", false, nil)},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "Status of appointment 12345")
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyRoutine, resp.Urgency)
	assert.False(t, resp.AppointmentNeeded)
	assert.Nil(t, resp.DepartmentReferral)

	// The tool result fed back to the engine carries the canonical id.
	require.Equal(t, 2, engine.Calls())
	second := engine.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, triage.RoleTool, last.Role)
	assert.Contains(t, last.Content, "APT-12345")
}

// Scenario: an emergency answered directly, no tool call needed.
func TestHandleTurn_EmergencyDirect(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{Candidate: candidate("Call 911 now.", "emergency", true, strptr("Emergency"))},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "I have severe chest pain")
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyEmergency, resp.Urgency)
	assert.True(t, resp.AppointmentNeeded)
	require.NotNil(t, resp.DepartmentReferral)
	assert.Equal(t, "Emergency", *resp.DepartmentReferral)
}

// Scenario: asking about another patient's appointment ends the turn with the
// fixed escalation response, never with the record's data.
func TestHandleTurn_AccessDeniedIsTerminal(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{ToolCalls: []triage.ToolCall{{
			ID:       "c1",
			ToolName: triage.ToolAppointmentStatus,
			Args:     json.RawMessage(`{"appointment_id": "67890"}`),
		}}},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "Status of appointment 67890")
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyUrgent, resp.Urgency)
	assert.False(t, resp.AppointmentNeeded)
	assert.Nil(t, resp.DepartmentReferral)
	assert.Contains(t, resp.Text, "escalated")

	// The engine is never consulted again after the denial.
	assert.Equal(t, 1, engine.Calls())
}

// Scenario: invalid urgency triggers one corrective re-prompt; the corrected
// candidate passes within the budget.
func TestHandleTurn_SchemaCorrection(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{Candidate: candidate("Go to the ER.", "Critical", true, strptr("Emergency"))},
		triage.GenerateReply{Candidate: candidate("Go to the ER.", "emergency", true, strptr("Emergency"))},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "chest pain")
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyEmergency, resp.Urgency)

	require.Equal(t, 2, engine.Calls())
	second := engine.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, triage.RoleUser, last.Role)
	assert.Contains(t, last.Content, "Critical")
	assert.Contains(t, strings.ToLower(last.Content), "invalid")
}

// Scenario: doctor availability lookup feeding a scheduling answer.
func TestHandleTurn_DoctorAvailability(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{ToolCalls: []triage.ToolCall{{
			ID:       "c1",
			ToolName: triage.ToolDoctorAvailability,
			Args:     json.RawMessage(`{"doctor_name": "Dr. Smith", "from": "2024-12-09", "to": "2024-12-13"}`),
		}}},
		triage.GenerateReply{Candidate: candidate("Dr. Smith is free Monday, Wednesday and Friday.", "routine", true, nil)},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "When is Dr. Smith available?")
	require.NoError(t, err)
	assert.True(t, resp.AppointmentNeeded)
	assert.Nil(t, resp.DepartmentReferral)

	second := engine.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Contains(t, last.Content, "slots")
}

// A non-canonical id sent to the strict validation tool is repaired by the
// controller and retried against the same handler within the budget.
func TestHandleTurn_ToolFormatCorrection(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{ToolCalls: []triage.ToolCall{{
			ID:       "c1",
			ToolName: triage.ToolValidateAppointment,
			Args:     json.RawMessage(`{"patient_id": "P001", "appointment_id": "12345"}`),
		}}},
		triage.GenerateReply{Candidate: candidate("That appointment is yours.", "routine", false, nil)},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "Is appointment 12345 mine?")
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyRoutine, resp.Urgency)

	second := engine.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	require.Equal(t, triage.RoleTool, last.Role)
	assert.Contains(t, last.Content, "true")
}

// An argument normalization cannot repair ends the turn with the fallback.
func TestHandleTurn_UnrepairableArgumentFallsBack(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{ToolCalls: []triage.ToolCall{{
			ID:       "c1",
			ToolName: triage.ToolValidateAppointment,
			Args:     json.RawMessage(`{"patient_id": "P001", "appointment_id": "no-digits"}`),
		}}},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "validate this")
	require.NoError(t, err)
	assert.Equal(t, triage.FallbackResponse(), resp)
}

// A missing appointment is fed back to the engine as a lookup outcome, not
// retried and not terminal.
func TestHandleTurn_NotFoundFeedsBack(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{ToolCalls: []triage.ToolCall{{
			ID:       "c1",
			ToolName: triage.ToolAppointmentStatus,
			Args:     json.RawMessage(`{"appointment_id": "00001"}`),
		}}},
		triage.GenerateReply{Candidate: candidate("I could not find that appointment.", "routine", false, nil)},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "status of appointment 1")
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyRoutine, resp.Urgency)

	second := engine.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	require.Equal(t, triage.RoleTool, last.Role)
	assert.Contains(t, last.Content, "not found")
	assert.Equal(t, 2, engine.Calls())
}

// Exhausting the correction budget with persistently invalid candidates
// yields the fixed fallback, never unvalidated output.
func TestHandleTurn_CorrectionBudgetExhausted(t *testing.T) {
	bad := triage.GenerateReply{Candidate: candidate("nope", "Critical", false, nil)}
	engine := testutil.NewScriptedEngine(bad, bad, bad, bad)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "help")
	require.NoError(t, err)
	assert.Equal(t, triage.FallbackResponse(), resp)
	assert.Equal(t, triage.UrgencyUrgent, resp.Urgency)
	assert.False(t, resp.AppointmentNeeded)
	assert.Nil(t, resp.DepartmentReferral)

	// First attempt plus exactly two corrective rounds.
	assert.Equal(t, 3, engine.Calls())
}

// The shared budget counts tool-format and schema corrections together.
func TestHandleTurn_BudgetSharedAcrossKinds(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		// Round 1: malformed tool argument, repaired (one correction).
		triage.GenerateReply{ToolCalls: []triage.ToolCall{{
			ID:       "c1",
			ToolName: triage.ToolValidateAppointment,
			Args:     json.RawMessage(`{"patient_id": "P001", "appointment_id": "12345"}`),
		}}},
		// Round 2: invalid candidate (second correction).
		triage.GenerateReply{Candidate: candidate("bad", "Critical", false, nil)},
		// Round 3: still invalid; the budget is gone.
		triage.GenerateReply{Candidate: candidate("bad", "Critical", false, nil)},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "validate 12345")
	require.NoError(t, err)
	assert.Equal(t, triage.FallbackResponse(), resp)
	assert.Equal(t, 3, engine.Calls())
}

func TestHandleTurn_MaxCorrectionsConfigurable(t *testing.T) {
	bad := triage.GenerateReply{Candidate: candidate("nope", "Critical", false, nil)}
	engine := testutil.NewScriptedEngine(bad, bad)
	c, err := testutil.NewTestController(engine, triage.WithMaxCorrections(0))
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "help")
	require.NoError(t, err)
	assert.Equal(t, triage.FallbackResponse(), resp)
	assert.Equal(t, 1, engine.Calls())
}

// No single handler runs more than three times in one turn, even when the
// engine keeps requesting it with bad arguments across rounds.
func TestHandleTurn_HandlerAttemptCap(t *testing.T) {
	badCall := triage.GenerateReply{ToolCalls: []triage.ToolCall{{
		ID:       "c1",
		ToolName: triage.ToolValidateAppointment,
		Args:     json.RawMessage(`{"patient_id": "P001", "appointment_id": "12345"}`),
	}}}
	engine := testutil.NewScriptedEngine(badCall, badCall, badCall, badCall)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "validate")
	require.NoError(t, err)
	assert.Equal(t, triage.FallbackResponse(), resp)
}

// An engine failure is terminal ServiceUnavailable: the caller still gets a
// safe escalation response, never an error-shaped turn.
func TestHandleTurn_EngineFailure(t *testing.T) {
	engine := testutil.NewScriptedEngine() // empty script: first call fails
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	resp, err := c.HandleTurn(context.Background(), testutil.JaneSession, "hello")
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyUrgent, resp.Urgency)
	assert.Contains(t, resp.Text, "unavailable")
}

func TestHandleTurn_UnknownSessionIsHardFailure(t *testing.T) {
	engine := testutil.NewScriptedEngine()
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	_, err = c.HandleTurn(context.Background(), "session-nobody", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, triage.ErrIdentity)
	assert.Equal(t, 0, engine.Calls(), "the engine is never consulted without a bound identity")
}

func TestHandleTurn_UnknownToolIsHardFailure(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{ToolCalls: []triage.ToolCall{{
			ID:       "c1",
			ToolName: "not_a_tool",
			Args:     json.RawMessage(`{}`),
		}}},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	_, err = c.HandleTurn(context.Background(), testutil.JaneSession, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, triage.ErrUnknownTool)
}

func TestHandleTurn_Cancellation(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{Candidate: candidate("ok", "routine", false, nil)},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.HandleTurn(ctx, testutil.JaneSession, "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// The system prompt carries the bound patient's context so the engine can
// answer history questions without a tool call.
func TestHandleTurn_SystemPromptCarriesPatientContext(t *testing.T) {
	engine := testutil.NewScriptedEngine(
		triage.GenerateReply{Candidate: candidate("ok", "routine", false, nil)},
	)
	c, err := testutil.NewTestController(engine)
	require.NoError(t, err)

	_, err = c.HandleTurn(context.Background(), testutil.JaneSession, "When is my next appointment?")
	require.NoError(t, err)
	require.Equal(t, 1, engine.Calls())
	system := engine.Requests[0].System
	assert.Contains(t, system, "Jane Doe")
	assert.Contains(t, system, "MRN-789456")
	assert.Contains(t, system, "APT-12345")
}

// Turns across sessions share nothing but the read-only store.
func TestHandleTurn_ConcurrentSessions(t *testing.T) {
	mk := func() *testutil.ScriptedEngine {
		return testutil.NewScriptedEngine(
			triage.GenerateReply{ToolCalls: []triage.ToolCall{{
				ID:       "c1",
				ToolName: triage.ToolAppointmentStatus,
				Args:     json.RawMessage(`{"appointment_id": "67890"}`),
			}}},
			triage.GenerateReply{Candidate: candidate("Your appointment is confirmed.", "routine", false, nil)},
		)
	}
	c, err := testutil.NewTestController(mk())
	require.NoError(t, err)

	// P002 owns APT-67890: same query that is denied for Jane succeeds here.
	resp, err := c.HandleTurn(context.Background(), testutil.OtherSession, "status of 67890")
	require.NoError(t, err)
	assert.Equal(t, triage.UrgencyRoutine, resp.Urgency)

	done := make(chan error, 8)
	for range 8 {
		go func() {
			cc, err := testutil.NewTestController(mk())
			if err != nil {
				done <- err
				return
			}
			_, err = cc.HandleTurn(context.Background(), testutil.OtherSession, "status of 67890")
			done <- err
		}()
	}
	for range 8 {
		require.NoError(t, <-done)
	}
}
