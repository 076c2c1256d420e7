// Package testutil provides test helpers for triage (scripted engine,
// seeded fixture store, pre-wired controller).
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/carebound/triage"
)

// ErrScriptExhausted is returned by ScriptedEngine when the script runs out.
var ErrScriptExhausted = errors.New("scripted engine: no replies left")

// ScriptedEngine is a triage.Engine that replays a fixed sequence of replies.
// Each Generate call consumes the next script entry; running past the end
// returns ErrScriptExhausted. Requests are recorded for assertions.
type ScriptedEngine struct {
	mu       sync.Mutex
	script   []triage.GenerateReply
	pos      int
	Requests []triage.GenerateRequest
}

// NewScriptedEngine creates an engine that replays the given replies in order.
func NewScriptedEngine(script ...triage.GenerateReply) *ScriptedEngine {
	return &ScriptedEngine{script: script}
}

// Generate implements triage.Engine.
func (e *ScriptedEngine) Generate(ctx context.Context, req triage.GenerateRequest) (*triage.GenerateReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Requests = append(e.Requests, req)
	if e.pos >= len(e.script) {
		return nil, ErrScriptExhausted
	}
	reply := e.script[e.pos]
	e.pos++
	return &reply, nil
}

// Calls returns how many times Generate was invoked.
func (e *ScriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Requests)
}

var _ triage.Engine = (*ScriptedEngine)(nil)
