package triage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Middleware wraps a Tool with cross-cutting behavior (logging, recovery).
type Middleware func(Tool) Tool

// WithLogging returns a middleware that logs start, end, duration, and errors.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Tool) Tool {
		return &loggingTool{toolBase: toolBase{next: next}, logger: logger}
	}
}

// WithRecovery returns a middleware that recovers panics and returns SystemError.
func WithRecovery() Middleware {
	return func(next Tool) Tool {
		return &recoveryTool{toolBase{next: next}}
	}
}

// toolBase delegates Tool and ToolMetadata to the wrapped Tool; used by
// middleware wrappers.
type toolBase struct{ next Tool }

func (b *toolBase) Name() string               { return b.next.Name() }
func (b *toolBase) Description() string        { return b.next.Description() }
func (b *toolBase) Parameters() map[string]any { return b.next.Parameters() }

func (b *toolBase) Timeout() time.Duration {
	if tm, ok := b.next.(ToolMetadata); ok {
		return tm.Timeout()
	}
	return 0
}

type loggingTool struct {
	toolBase
	logger *slog.Logger
}

func (m *loggingTool) Invoke(ctx context.Context, pc PatientContext, args []byte) (json.RawMessage, error) {
	m.logger.Info("tool start", "tool", m.next.Name(), "patient", pc.ID)
	start := time.Now()
	res, err := m.next.Invoke(ctx, pc, args)
	dur := time.Since(start)
	if err != nil {
		m.logger.Error("tool error", "tool", m.next.Name(), "duration", dur, "error", err)
		return nil, err
	}
	m.logger.Info("tool end", "tool", m.next.Name(), "duration", dur)
	return res, nil
}

type recoveryTool struct{ toolBase }

func (r *recoveryTool) Invoke(ctx context.Context, pc PatientContext, args []byte) (res json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &SystemError{Err: &panicError{p: p}}
		}
	}()
	return r.next.Invoke(ctx, pc, args)
}

// Use stores the given middlewares and reapplies them from scratch to all
// registered tools (onion order: first middleware is outermost). Tools
// registered after Use also get these middlewares. Calling Use again replaces
// the chain and rewraps from raw tools, avoiding double-wrapping.
func (d *Dispatcher) Use(middlewares ...Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = middlewares
	for name, raw := range d.rawTools {
		t := raw
		for i := len(middlewares) - 1; i >= 0; i-- {
			t = middlewares[i](t)
		}
		d.tools[name] = t
	}
}
