// Package tools implements the tool executor: a registry of invocable
// tools with schema-validated input, progress reporting, and at-most-once
// execution per invocation id.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mindwell-app/mindwell/internal/log"
)

var (
	// ErrUnknownTool indicates no tool is registered under the name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool indicates a tool name is already registered.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrInvalidInput indicates the input failed schema validation.
	ErrInvalidInput = errors.New("invalid tool input")
)

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Progress is intermediate status reported by a running tool. It maps to
// file_reading events on the wire.
type Progress struct {
	Status    string
	Title     string
	PageCount int
}

// ProgressFunc receives progress updates during one invocation.
type ProgressFunc func(Progress)

// HandlerFunc performs the tool's side effect. The returned value must be
// JSON-serializable; it is fed back to the model as the tool result.
type HandlerFunc func(ctx context.Context, input json.RawMessage, report ProgressFunc) (any, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition
	Run HandlerFunc
}

// invocationResult is the recorded outcome of one invocation id.
type invocationResult struct {
	output any
	err    error
}

// Executor dispatches tool invocations.
//
// Executor performs at-most-once execution per invocation id: retrying an
// id returns the recorded result without re-running the side effect, so
// callers may safely retry without double effects.
//
// Safe for concurrent use.
type Executor struct {
	logger log.Logger

	mu       sync.Mutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Resolved
	executed map[string]invocationResult
}

// NewExecutor creates an empty executor.
func NewExecutor(logger log.Logger) *Executor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Executor{
		logger:   logger,
		tools:    make(map[string]Tool),
		schemas:  make(map[string]*jsonschema.Resolved),
		executed: make(map[string]invocationResult),
	}
}

// Register adds a tool. The input schema is resolved once at registration
// so Execute only validates.
func (e *Executor) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Run == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tools[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}

	if t.InputSchema != nil {
		resolved, err := t.InputSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("resolving schema for %q: %w", t.Name, err)
		}
		e.schemas[t.Name] = resolved
	}

	e.tools[t.Name] = t
	return nil
}

// Definitions returns the registered tool definitions in no particular
// order, for handing to the model completion service.
func (e *Executor) Definitions() []Definition {
	e.mu.Lock()
	defer e.mu.Unlock()

	defs := make([]Definition, 0, len(e.tools))
	for _, t := range e.tools {
		defs = append(defs, t.Definition)
	}
	return defs
}

// Execute runs the named tool with the given invocation id.
//
// A repeated invocation id returns the previously recorded result without
// re-executing. A panicking handler is recovered and reported as an error
// result; tool failures are never fatal to the caller's session.
func (e *Executor) Execute(ctx context.Context, invocationID, name string, input json.RawMessage, report ProgressFunc) (any, error) {
	e.mu.Lock()
	if prior, ok := e.executed[invocationID]; ok {
		e.mu.Unlock()
		e.logger.Debug("duplicate tool invocation, returning recorded result", "invocation_id", invocationID, "tool", name)
		return prior.output, prior.err
	}
	tool, ok := e.tools[name]
	schema := e.schemas[name]
	e.mu.Unlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, name)
		e.record(invocationID, nil, err)
		return nil, err
	}

	if schema != nil {
		if err := validateInput(schema, input); err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
			e.record(invocationID, nil, err)
			return nil, err
		}
	}

	if report == nil {
		report = func(Progress) {}
	}

	output, err := e.run(ctx, tool, input, report)
	e.record(invocationID, output, err)
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", name, "invocation_id", invocationID, "error", err)
	} else {
		e.logger.Debug("tool executed", "tool", name, "invocation_id", invocationID)
	}
	return output, err
}

// run invokes the handler with panic recovery.
func (e *Executor) run(ctx context.Context, tool Tool, input json.RawMessage, report ProgressFunc) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("tool %q panicked: %v", tool.Name, r)
		}
	}()
	return tool.Run(ctx, input, report)
}

func (e *Executor) record(invocationID string, output any, err error) {
	if invocationID == "" {
		return
	}
	e.mu.Lock()
	e.executed[invocationID] = invocationResult{output: output, err: err}
	e.mu.Unlock()
}

// validateInput checks raw JSON input against a resolved schema.
func validateInput(schema *jsonschema.Resolved, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var instance any
	if err := json.Unmarshal(input, &instance); err != nil {
		return fmt.Errorf("parsing input: %w", err)
	}
	return schema.Validate(instance)
}
