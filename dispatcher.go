package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Dispatcher routes named tool invocations to registered handlers, with
// timeout, semaphore, and optional panic recovery. It is the only component
// with access to the appointment store (through the handlers it hosts).
type Dispatcher struct {
	tools       map[string]Tool // wrapped with middlewares, used by Invoke
	rawTools    map[string]Tool // unwrapped, used by Use() to re-apply middlewares from scratch
	sem         chan struct{}
	opts        dispatcherOptions
	done        chan struct{}
	running     sync.WaitGroup
	mu          sync.Mutex
	middlewares []Middleware
}

// NewDispatcher creates a Dispatcher with the given options.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	o := dispatcherOptions{
		timeout:        5 * time.Second,
		maxConcurrency: 10,
		recoverPanics:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	return &Dispatcher{
		tools:    make(map[string]Tool),
		rawTools: make(map[string]Tool),
		sem:      sem,
		opts:     o,
		done:     make(chan struct{}),
	}
}

// Register adds a tool. Stored middlewares (see Use) are applied to the tool
// before registration. A tool with the same name is replaced. Safe for
// concurrent use with Invoke and other Register calls.
func (d *Dispatcher) Register(t Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := t.Name()
	d.rawTools[name] = t
	for i := len(d.middlewares) - 1; i >= 0; i-- {
		t = d.middlewares[i](t)
	}
	d.tools[name] = t
}

// ToolDefs returns the registered tools as engine-facing definitions, sorted
// by name for deterministic order.
func (d *Dispatcher) ToolDefs() []ToolDef {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]ToolDef, 0, len(names))
	for _, name := range names {
		t := d.tools[name]
		out = append(out, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// GetTool returns the tool with the given name (after middlewares are
// applied), or (nil, false) if not found.
func (d *Dispatcher) GetTool(name string) (Tool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tools[name]
	return t, ok
}

// Invoke runs one tool call under the bound patient context. An unregistered
// name is a configuration fault (ErrUnknownTool), never retried. The
// after-invoke hook is always called with the final result.
func (d *Dispatcher) Invoke(ctx context.Context, pc PatientContext, call ToolCall) ToolResult {
	res := ToolResult{CallID: call.ID, ToolName: call.ToolName}

	d.mu.Lock()
	select {
	case <-d.done:
		d.mu.Unlock()
		res.Err = ErrShutdown
		return res
	default:
	}
	tool, ok := d.tools[call.ToolName]
	if !ok {
		d.mu.Unlock()
		res.Err = fmt.Errorf("%w: %s", ErrUnknownTool, call.ToolName)
		return res
	}
	d.running.Add(1)
	d.mu.Unlock()
	defer d.running.Done()

	if err := d.acquireSemaphore(ctx); err != nil {
		res.Err = err
		return res
	}
	defer d.releaseSemaphore()

	timeout := d.opts.timeout
	if tm, ok := tool.(ToolMetadata); ok && tm.Timeout() > 0 {
		timeout = tm.Timeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if d.opts.onBefore != nil {
		d.opts.onBefore(ctx, call)
	}
	start := time.Now()
	defer func() {
		if d.opts.onAfter != nil {
			d.opts.onAfter(ctx, call, res, time.Since(start))
		}
	}()

	res.Value, res.Err = d.invokeRecovered(ctx, tool, pc, call.Args)
	return res
}

// invokeRecovered runs the tool, converting a panic into SystemError when
// recovery is enabled.
func (d *Dispatcher) invokeRecovered(ctx context.Context, tool Tool, pc PatientContext, args json.RawMessage) (value json.RawMessage, err error) {
	if d.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				value = nil
				err = &SystemError{Err: &panicError{p: p}}
			}
		}()
	}
	return tool.Invoke(ctx, pc, args)
}

func (d *Dispatcher) acquireSemaphore(ctx context.Context) error {
	if d.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) releaseSemaphore() {
	if d.sem != nil {
		<-d.sem
	}
}

// Shutdown closes the dispatcher for new calls and waits for in-flight
// invocations or ctx to cancel.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	select {
	case <-d.done:
		d.mu.Unlock()
		return nil
	default:
		close(d.done)
	}
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
