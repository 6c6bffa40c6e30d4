// Package orchestrator drives one model-call loop per inbound chat request
// and serializes text deltas, tool invocations, and terminal outcomes into
// a single ordered event stream.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mindwell-app/mindwell/internal/event"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/tools"
)

// Role tags for history turns fed to the completion service.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolRequest is a model-requested tool invocation.
type ToolRequest struct {
	// Ref is the model-assigned invocation reference; empty if the
	// provider does not assign one.
	Ref   string
	Name  string
	Input json.RawMessage
}

// ToolResponse feeds one tool outcome back into the model call.
type ToolResponse struct {
	Ref     string
	Name    string
	Output  any
	Error   string
	IsError bool
}

// Turn is one role-tagged entry in the completion history.
type Turn struct {
	Role          string
	Content       string
	ToolRequests  []ToolRequest
	ToolResponses []ToolResponse
}

// Response is the settled result of one completion call.
type Response struct {
	Text         string
	ToolRequests []ToolRequest
}

// StreamFunc receives incremental text deltas during a completion call.
// Returning an error aborts the call.
type StreamFunc func(ctx context.Context, chunk string) error

// Completer abstracts the model completion service: it accepts a
// role-tagged history plus invocable tool definitions, streams text
// deltas through the callback, and returns the settled response which
// may request tool invocations.
type Completer interface {
	Complete(ctx context.Context, history []Turn, defs []tools.Definition, stream StreamFunc) (*Response, error)
}

// ErrTurnLimit indicates the tool-call loop hit its bounded iteration cap.
var ErrTurnLimit = errors.New("tool-call turn limit exceeded")

// Config contains the orchestrator's dependencies.
type Config struct {
	Completer Completer
	Executor  *tools.Executor
	Logger    log.Logger

	// MaxTurns bounds the completion/tool loop. Defaults to 5.
	MaxTurns int

	// RateLimiter throttles completion attempts. Nil uses a default of
	// 10 req/s sustained with a burst of 30.
	RateLimiter *rate.Limiter

	// Retry configures transient-error retry for completion calls.
	// Zero value uses defaults.
	Retry RetryConfig
}

// Orchestrator owns the per-conversation stream sessions.
//
// Exactly one session may be active per conversation: starting a new
// stream supersedes (cancels) any prior in-flight session for the same
// conversation id.
type Orchestrator struct {
	completer Completer
	executor  *tools.Executor
	logger    log.Logger
	maxTurns  int
	limiter   *rate.Limiter
	retry     RetryConfig

	mu     sync.Mutex
	active map[string]*registration
}

// registration identifies one live session; compared by pointer so a
// superseded session never deregisters its successor.
type registration struct {
	cancel context.CancelFunc
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Completer == nil {
		return nil, errors.New("completer is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("tool executor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	return &Orchestrator{
		completer: cfg.Completer,
		executor:  cfg.Executor,
		logger:    cfg.Logger,
		maxTurns:  maxTurns,
		limiter:   limiter,
		retry:     retry,
		active:    make(map[string]*registration),
	}, nil
}

// Request opens one stream session.
type Request struct {
	// ConversationID scopes session supersession and logging.
	ConversationID string

	// ContextID optionally scopes tool execution (e.g. which document
	// space tools may read). Passed through to tools via context.
	ContextID string

	// History is the role-tagged message history, oldest first, ending
	// with the user turn to answer.
	History []Turn
}

// session is the ephemeral per-request state: the running text
// accumulator for the final event.
type session struct {
	text []byte
}

// Stream opens a stream session and returns its live event channel.
// The channel is closed when the session ends; a context cancellation
// (including supersession by a newer call) closes it without a terminal
// event, which clients treat as an implicit end of stream.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan event.Event {
	ctx, cancel := context.WithCancel(ctx)
	reg := &registration{cancel: cancel}

	o.mu.Lock()
	if prior, ok := o.active[req.ConversationID]; ok {
		o.logger.Debug("superseding in-flight stream", "conversation_id", req.ConversationID)
		prior.cancel()
	}
	o.active[req.ConversationID] = reg
	o.mu.Unlock()

	events := make(chan event.Event)
	go func() {
		defer close(events)
		defer func() {
			o.mu.Lock()
			// Only deregister if we are still the registered session;
			// a superseding call may have replaced the entry already.
			if current, ok := o.active[req.ConversationID]; ok && current == reg {
				delete(o.active, req.ConversationID)
			}
			o.mu.Unlock()
			cancel()
		}()
		o.run(ctx, req, events)
	}()
	return events
}

// CancelConversation cancels the in-flight session for a conversation,
// if any. Used on shutdown and by explicit client aborts.
func (o *Orchestrator) CancelConversation(conversationID string) {
	o.mu.Lock()
	reg, ok := o.active[conversationID]
	if ok {
		delete(o.active, conversationID)
	}
	o.mu.Unlock()
	if ok {
		reg.cancel()
	}
}

// run executes the completion + tool loop for one session.
func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- event.Event) {
	sess := &session{}
	history := append([]Turn(nil), req.History...)
	defs := o.executor.Definitions()

	if !o.emit(ctx, events, event.Connected()) {
		return
	}

	for turn := 0; turn < o.maxTurns; turn++ {
		resp, err := o.completeWithRetry(ctx, history, defs, events, sess)
		if err != nil {
			// Session-fatal: one error event, then close. No tool_call
			// is ever left dangling here because results are emitted
			// inside the same loop iteration as their calls.
			o.logger.Error("completion failed", "conversation_id", req.ConversationID, "error", err)
			o.emit(ctx, events, event.Errorf(err.Error()))
			return
		}

		if len(resp.ToolRequests) == 0 {
			if !o.emit(ctx, events, event.Final(string(sess.text))) {
				return
			}
			o.emit(ctx, events, event.EndOfStream())
			o.logger.Debug("stream completed",
				"conversation_id", req.ConversationID,
				"turns", turn+1,
				"text_len", len(sess.text))
			return
		}

		responses := make([]ToolResponse, 0, len(resp.ToolRequests))
		for _, tr := range resp.ToolRequests {
			tres, ok := o.invokeTool(ctx, req, events, tr)
			if !ok {
				return
			}
			responses = append(responses, tres)
		}

		history = append(history,
			Turn{Role: RoleAssistant, Content: resp.Text, ToolRequests: resp.ToolRequests},
			Turn{Role: RoleTool, ToolResponses: responses},
		)
	}

	o.logger.Warn("tool-call turn limit reached", "conversation_id", req.ConversationID, "max_turns", o.maxTurns)
	o.emit(ctx, events, event.Errorf(ErrTurnLimit.Error()))
}

// invokeTool emits the tool_call / progress / tool_result sequence for one
// invocation and executes it. Tool failures become isError results, not
// session errors: the loop continues so the model can react.
func (o *Orchestrator) invokeTool(ctx context.Context, req Request, events chan<- event.Event, tr ToolRequest) (ToolResponse, bool) {
	id := tr.Ref
	if id == "" {
		id = uuid.NewString()
	}

	if !o.emit(ctx, events, event.ToolCall(id, tr.Name)) {
		return ToolResponse{}, false
	}

	progressOK := true
	output, err := o.executor.Execute(toolContext(ctx, req.ContextID), id, tr.Name, tr.Input, func(p tools.Progress) {
		if !o.emit(ctx, events, event.FileReading(p.Status, p.Title, p.PageCount)) {
			progressOK = false
		}
	})
	if !progressOK {
		return ToolResponse{}, false
	}

	tres := ToolResponse{Ref: tr.Ref, Name: tr.Name, Output: output}
	if err != nil {
		tres.IsError = true
		tres.Error = err.Error()
	}

	// Exactly one tool_result per invocation, even on failure.
	if !o.emit(ctx, events, event.ToolResult(id, tres.IsError)) {
		return ToolResponse{}, false
	}
	return tres, true
}

// completeWithRetry performs one completion call with rate limiting and
// exponential-backoff retry on transient errors. A turn that has already
// streamed text is never retried: replaying deltas would duplicate
// client-visible content.
func (o *Orchestrator) completeWithRetry(ctx context.Context, history []Turn, defs []tools.Definition, events chan<- event.Event, sess *session) (*Response, error) {
	streamed := 0
	stream := func(cbCtx context.Context, chunk string) error {
		if chunk == "" {
			return nil
		}
		streamed += len(chunk)
		sess.text = append(sess.text, chunk...)
		if !o.emit(cbCtx, events, event.Text(chunk)) {
			return fmt.Errorf("stream consumer gone: %w", cbCtx.Err())
		}
		return nil
	}

	var lastErr error
	delay := o.retry.InitialInterval

	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		// Rate limit each attempt, not just the first.
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := o.completer.Complete(ctx, history, defs, stream)
		if err == nil {
			// Non-streaming completers deliver all text in the settled
			// response; surface it as a single delta.
			if streamed == 0 && resp.Text != "" {
				sess.text = append(sess.text, resp.Text...)
				if !o.emit(ctx, events, event.Text(resp.Text)) {
					return nil, fmt.Errorf("stream consumer gone: %w", ctx.Err())
				}
			}
			return resp, nil
		}

		lastErr = err
		if streamed > 0 || !retryableError(err) {
			return nil, fmt.Errorf("completion: %w", err)
		}
		if attempt == o.retry.MaxRetries {
			break
		}

		o.logger.Debug("retrying completion after transient error",
			"attempt", attempt+1, "delay", delay, "error", err)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
		delay = min(delay*2, o.retry.MaxInterval)
	}

	return nil, fmt.Errorf("completion after %d retries: %w", o.retry.MaxRetries, lastErr)
}

// emit sends one event, respecting cancellation so an abandoned consumer
// never wedges the session goroutine.
func (o *Orchestrator) emit(ctx context.Context, events chan<- event.Event, ev event.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// contextIDKey carries the request's tool-scoping context identifier.
type contextIDKey struct{}

func toolContext(ctx context.Context, contextID string) context.Context {
	if contextID == "" {
		return ctx
	}
	return context.WithValue(ctx, contextIDKey{}, contextID)
}

// ContextID extracts the tool-scoping context identifier, if any.
func ContextID(ctx context.Context) string {
	id, _ := ctx.Value(contextIDKey{}).(string)
	return id
}
