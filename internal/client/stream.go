package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mindwell-app/mindwell/internal/event"
	"github.com/mindwell-app/mindwell/internal/log"
)

// HistoryTurn is one role-tagged entry sent when opening a stream.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest opens a stream session on the server.
type ChatRequest struct {
	ConversationID string        `json:"conversationId"`
	ContextID      string        `json:"contextId,omitempty"`
	History        []HistoryTurn `json:"history"`
}

// StreamClient opens chat streams against the server and drives the
// assembler and reconciler for each turn. At most one stream task runs
// per conversation: opening a new one cancels the prior task first.
type StreamClient struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewStreamClient creates a StreamClient. A nil httpClient gets a
// default with no overall timeout: streams are long-lived, cancellation
// is per-request via context.
func NewStreamClient(baseURL string, httpClient *http.Client, logger log.Logger) *StreamClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &StreamClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		active:     make(map[string]context.CancelFunc),
	}
}

// Cancel aborts the in-flight stream task for a conversation, if any.
// The aborted task finalizes its placeholder per the implicit
// end-of-stream rules.
func (c *StreamClient) Cancel(conversationID string) {
	c.mu.Lock()
	cancel, ok := c.active[conversationID]
	if ok {
		delete(c.active, conversationID)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stream runs one complete turn: it opens the event stream, feeds every
// decoded frame to the assembler, and settles the turn through the
// reconciler (commit, discard, or error surface). It returns once the
// turn has settled.
func (c *StreamClient) Stream(ctx context.Context, rec *Reconciler, req ChatRequest, asm *Assembler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if prior, ok := c.active[req.ConversationID]; ok {
		c.logger.Debug("canceling prior stream task", "conversation_id", req.ConversationID)
		prior()
	}
	c.active[req.ConversationID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, req.ConversationID)
		c.mu.Unlock()
	}()

	if err := c.consume(ctx, req, asm); err != nil {
		// Transport failure before any terminal event: implicit end of
		// stream. Content survives; an empty placeholder is discarded.
		c.logger.Warn("stream transport error", "conversation_id", req.ConversationID, "error", err)
		asm.Finish()
	}

	return c.settle(ctx, rec, asm)
}

// consume opens the HTTP stream and applies frames until EOF or a
// terminal event.
func (c *StreamClient) consume(ctx context.Context, req ChatRequest, asm *Assembler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream rejected: %s", resp.Status)
	}

	reader := event.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			if !asm.Done() {
				asm.Finish()
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}

		asm.Apply(ev)
		if asm.Done() {
			return nil
		}
	}
}

// settle routes the assembled outcome through the reconciler.
func (c *StreamClient) settle(ctx context.Context, rec *Reconciler, asm *Assembler) error {
	msg := asm.Message()

	switch {
	case asm.Discarded():
		rec.Discard(msg)
		if asm.Err() != "" {
			return fmt.Errorf("stream failed before content: %s", asm.Err())
		}
		return nil

	case asm.Err() != "":
		rec.EndTurnWithError(msg)
		return fmt.Errorf("stream ended with error: %s", asm.Err())

	default:
		// Commit may outlive a canceled stream context.
		commitCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			commitCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
		}
		return rec.Finalize(commitCtx, msg)
	}
}
