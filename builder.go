package triage

import (
	"context"
	"encoding/json"
	"maps"
	"time"
)

// tool is the internal implementation of Tool built by NewTool.
type tool struct {
	name        string
	description string
	schema      map[string]any
	invoke      func(context.Context, PatientContext, []byte) (json.RawMessage, error)
	opts        toolOptions
}

// NewTool builds a Tool from a typed handler. Schema generation and argument
// validation are delegated to Extractor[T]; the schema advertised to the
// engine is exactly the one incoming arguments are checked against.
// Handler errors pass through untouched when recoverable (FormatError) or
// access/lookup related; anything else is wrapped as SystemError so internal
// details never reach the engine.
func NewTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, pc PatientContext, args T) (R, error),
	opts ...ToolOption,
) (Tool, error) {
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	ext, err := NewExtractor[T](o.strict)
	if err != nil {
		return nil, err
	}
	invoke := func(ctx context.Context, pc PatientContext, argsJSON []byte) (json.RawMessage, error) {
		args, err := ext.ParseAndValidate(argsJSON)
		if err != nil {
			return nil, err
		}
		res, err := fn(ctx, pc, args)
		if err != nil {
			return nil, wrapHandlerError(err)
		}
		b, err := json.Marshal(res)
		if err != nil {
			return nil, &SystemError{Err: err}
		}
		return b, nil
	}
	return &tool{
		name:        name,
		description: description,
		schema:      ext.Schema(),
		invoke:      invoke,
		opts:        o,
	}, nil
}

func (t *tool) Name() string        { return t.name }
func (t *tool) Description() string { return t.description }

// Parameters returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps (e.g. under "properties") are shared; callers must not mutate them.
func (t *tool) Parameters() map[string]any { return maps.Clone(t.schema) }

func (t *tool) Invoke(ctx context.Context, pc PatientContext, argsJSON []byte) (json.RawMessage, error) {
	return t.invoke(ctx, pc, argsJSON)
}

func (t *tool) Timeout() time.Duration { return t.opts.timeout }

// wrapHandlerError passes through domain errors the Controller understands;
// everything else becomes SystemError.
func wrapHandlerError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsRecoverable(err), isDomainError(err):
		return err
	default:
		return &SystemError{Err: err}
	}
}

var (
	_ Tool         = (*tool)(nil)
	_ ToolMetadata = (*tool)(nil)
)
