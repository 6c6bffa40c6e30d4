// Package llm provides the genkit-backed model completion service.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/mindwell-app/mindwell/internal/config"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/orchestrator"
	"github.com/mindwell-app/mindwell/internal/tools"
)

// systemPrompt frames the assistant for every completion call.
const systemPrompt = `You are Mindwell, a thoughtful journaling companion.
You help the user reflect on their conversations, notes, and documents.
Use the available tools when the user's request depends on stored
documents, past conversations, or web pages. Answer concisely.`

// errExternalExecution marks tool handlers that must never run inside
// genkit: the orchestrator executes tools and feeds results back itself.
var errExternalExecution = errors.New("tool is executed by the orchestrator")

// NewGenkit initializes a genkit instance for the configured provider.
// Supports gemini (default) and ollama.
func NewGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// Client is the genkit-backed Completer. Generation runs with tool
// requests returned to the caller rather than executed in-library, so
// the orchestrator can drive the tool loop and surface per-invocation
// events.
type Client struct {
	g         *genkit.Genkit
	modelName string
	logger    log.Logger
	toolRefs  []ai.ToolRef
}

// NewClient creates a Client and registers the model-facing tool
// declarations with genkit.
func NewClient(g *genkit.Genkit, cfg *config.Config, logger log.Logger, defs []tools.Definition) (*Client, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	c := &Client{
		g:         g,
		modelName: cfg.FullModelName(),
		logger:    logger,
	}
	c.toolRefs = declareTools(g, defs)
	return c, nil
}

// Typed declarations give the model full property schemas. Handlers
// never run; generation returns tool requests to the orchestrator.
type readDocumentArgs struct {
	DocumentID string `json:"document_id" jsonschema_description:"Identifier of the document to read"`
}

type fetchURLArgs struct {
	URL string `json:"url" jsonschema_description:"Absolute http(s) URL to fetch"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema_description:"Text to search for"`
}

func declareTools(g *genkit.Genkit, defs []tools.Definition) []ai.ToolRef {
	refs := make([]ai.ToolRef, 0, len(defs))
	for _, def := range defs {
		switch def.Name {
		case "read_document":
			refs = append(refs, genkit.DefineTool(g, def.Name, def.Description,
				func(*ai.ToolContext, readDocumentArgs) (string, error) {
					return "", errExternalExecution
				}))
		case "fetch_url":
			refs = append(refs, genkit.DefineTool(g, def.Name, def.Description,
				func(*ai.ToolContext, fetchURLArgs) (string, error) {
					return "", errExternalExecution
				}))
		case "search_conversations":
			refs = append(refs, genkit.DefineTool(g, def.Name, def.Description,
				func(*ai.ToolContext, searchArgs) (string, error) {
					return "", errExternalExecution
				}))
		default:
			refs = append(refs, genkit.DefineTool(g, def.Name, def.Description,
				func(*ai.ToolContext, map[string]any) (string, error) {
					return "", errExternalExecution
				}))
		}
	}
	return refs
}

// Complete runs one model call over the given history, streaming text
// deltas through stream and returning the settled response with any
// unexecuted tool requests.
func (c *Client) Complete(ctx context.Context, history []orchestrator.Turn, _ []tools.Definition, stream orchestrator.StreamFunc) (*orchestrator.Response, error) {
	messages, err := toMessages(history)
	if err != nil {
		return nil, err
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
		ai.WithTools(c.toolRefs...),
		ai.WithReturnToolRequests(true),
	}
	if stream != nil {
		opts = append(opts, ai.WithStreaming(func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
			return stream(cbCtx, chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	out := &orchestrator.Response{Text: resp.Text()}
	for _, tr := range resp.ToolRequests() {
		input, err := json.Marshal(tr.Input)
		if err != nil {
			return nil, fmt.Errorf("encoding tool input for %s: %w", tr.Name, err)
		}
		out.ToolRequests = append(out.ToolRequests, orchestrator.ToolRequest{
			Ref:   tr.Ref,
			Name:  tr.Name,
			Input: input,
		})
	}

	c.logger.Debug("completion settled",
		"text_len", len(out.Text),
		"tool_requests", len(out.ToolRequests))
	return out, nil
}

// toMessages converts role-tagged history turns into genkit messages,
// including tool request and response parts so the model sees the full
// exchange.
func toMessages(history []orchestrator.Turn) ([]*ai.Message, error) {
	messages := make([]*ai.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case orchestrator.RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Content)))

		case orchestrator.RoleAssistant:
			var parts []*ai.Part
			if turn.Content != "" {
				parts = append(parts, ai.NewTextPart(turn.Content))
			}
			for _, tr := range turn.ToolRequests {
				var input any
				if len(tr.Input) > 0 {
					if err := json.Unmarshal(tr.Input, &input); err != nil {
						return nil, fmt.Errorf("decoding tool input for %s: %w", tr.Name, err)
					}
				}
				parts = append(parts, &ai.Part{
					Kind: ai.PartToolRequest,
					ToolRequest: &ai.ToolRequest{
						Name:  tr.Name,
						Ref:   tr.Ref,
						Input: input,
					},
				})
			}
			messages = append(messages, &ai.Message{Role: ai.RoleModel, Content: parts})

		case orchestrator.RoleTool:
			parts := make([]*ai.Part, 0, len(turn.ToolResponses))
			for _, tres := range turn.ToolResponses {
				output := tres.Output
				if tres.IsError {
					output = map[string]any{"error": tres.Error}
				}
				parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
					Name:   tres.Name,
					Ref:    tres.Ref,
					Output: output,
				}))
			}
			messages = append(messages, &ai.Message{Role: ai.RoleTool, Content: parts})

		default:
			return nil, fmt.Errorf("unknown history role %q", turn.Role)
		}
	}
	return messages, nil
}
