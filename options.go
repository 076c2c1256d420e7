package triage

import (
	"context"
	"log/slog"
	"time"
)

// toolOptions hold optional tool settings.
type toolOptions struct {
	strict  bool
	timeout time.Duration
}

// ToolOption configures a tool (e.g. WithStrict, WithToolTimeout).
type ToolOption func(*toolOptions)

// WithStrict sets strict mode for the argument schema: additionalProperties:
// false for all objects, and all properties become required.
func WithStrict() ToolOption {
	return func(o *toolOptions) {
		o.strict = true
	}
}

// WithToolTimeout sets a per-tool timeout, overriding the dispatcher default.
func WithToolTimeout(d time.Duration) ToolOption {
	return func(o *toolOptions) {
		o.timeout = d
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	timeout        time.Duration
	maxConcurrency int
	recoverPanics  bool
	onBefore       func(context.Context, ToolCall)
	onAfter        func(context.Context, ToolCall, ToolResult, time.Duration)
}

// WithDefaultTimeout sets the default execution timeout for tool handlers.
func WithDefaultTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.timeout = d
	}
}

// WithMaxConcurrency limits concurrent tool executions across turns
// (semaphore). Pass 0 or negative to disable the semaphore.
func WithMaxConcurrency(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.maxConcurrency = n
	}
}

// WithRecoverPanics enables panic recovery in Invoke (returns SystemError).
func WithRecoverPanics(enable bool) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.recoverPanics = enable
	}
}

// WithOnBeforeInvoke sets a hook called before each tool invocation.
func WithOnBeforeInvoke(fn func(context.Context, ToolCall)) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterInvoke sets a hook called after each tool invocation.
func WithOnAfterInvoke(fn func(context.Context, ToolCall, ToolResult, time.Duration)) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.onAfter = fn
	}
}

// ControllerOption configures a Controller.
type ControllerOption func(*controllerOptions)

type controllerOptions struct {
	maxCorrections int
	maxToolRounds  int
	engineTimeout  time.Duration
	logger         *slog.Logger
	systemPrompt   string
}

// WithMaxCorrections bounds corrective rounds per turn, shared between
// tool-format retries and schema re-prompts. Default 2.
func WithMaxCorrections(n int) ControllerOption {
	return func(o *controllerOptions) {
		o.maxCorrections = n
	}
}

// WithMaxToolRounds bounds engine round-trips that request tools within one
// turn, so a tool-happy engine cannot loop a turn forever. Default 8.
func WithMaxToolRounds(n int) ControllerOption {
	return func(o *controllerOptions) {
		o.maxToolRounds = n
	}
}

// WithEngineTimeout bounds each call into the reasoning engine. A timeout is
// terminal (ErrServiceUnavailable), never retried. Default 60s.
func WithEngineTimeout(d time.Duration) ControllerOption {
	return func(o *controllerOptions) {
		o.engineTimeout = d
	}
}

// WithLogger sets the controller's structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(o *controllerOptions) {
		o.logger = logger
	}
}

// WithSystemPrompt overrides the built-in triage system prompt.
func WithSystemPrompt(prompt string) ControllerOption {
	return func(o *controllerOptions) {
		o.systemPrompt = prompt
	}
}
