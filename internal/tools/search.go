package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SearchMatch is one hit from a conversation search.
type SearchMatch struct {
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Snippet        string `json:"snippet"`
}

// MessageSearcher searches committed message content.
type MessageSearcher interface {
	SearchMessages(ctx context.Context, query string, limit int) ([]SearchMatch, error)
}

const searchResultLimit = 10

type searchInput struct {
	Query string `json:"query"`
}

// NewSearchConversations returns the search_conversations tool.
func NewSearchConversations(searcher MessageSearcher) Tool {
	return Tool{
		Definition: Definition{
			Name:        "search_conversations",
			Description: "Search past conversation messages for relevant content.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {
						Type:        "string",
						Description: "Text to search for",
					},
				},
				Required: []string{"query"},
			},
		},
		Run: func(ctx context.Context, input json.RawMessage, report ProgressFunc) (any, error) {
			var in searchInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("parsing search_conversations input: %w", err)
			}

			report(Progress{Status: "searching"})

			matches, err := searcher.SearchMessages(ctx, in.Query, searchResultLimit)
			if err != nil {
				return nil, fmt.Errorf("searching messages: %w", err)
			}
			return map[string]any{"matches": matches}, nil
		},
	}
}
