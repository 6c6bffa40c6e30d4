package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Document is a stored document readable by the read_document tool.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	PageCount int    `json:"pageCount"`
}

// DocumentSource provides document lookup. Defined here, on the consumer
// side, so the store package stays decoupled from tooling.
type DocumentSource interface {
	Document(ctx context.Context, id string) (*Document, error)
}

// maxDocumentChars bounds how much document text is returned to the model.
const maxDocumentChars = 20000

type readDocumentInput struct {
	DocumentID string `json:"document_id"`
}

// NewReadDocument returns the read_document tool. It reports file_reading
// progress (title, page count) while the document is loaded.
func NewReadDocument(src DocumentSource) Tool {
	return Tool{
		Definition: Definition{
			Name:        "read_document",
			Description: "Read the content of a document the user has uploaded or referenced.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"document_id": {
						Type:        "string",
						Description: "Identifier of the document to read",
					},
				},
				Required: []string{"document_id"},
			},
		},
		Run: func(ctx context.Context, input json.RawMessage, report ProgressFunc) (any, error) {
			var in readDocumentInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("parsing read_document input: %w", err)
			}

			report(Progress{Status: "reading"})

			doc, err := src.Document(ctx, in.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("loading document %s: %w", in.DocumentID, err)
			}

			report(Progress{Status: "reading", Title: doc.Title, PageCount: doc.PageCount})

			content := doc.Content
			if len(content) > maxDocumentChars {
				content = content[:maxDocumentChars]
			}
			return map[string]any{
				"title":     doc.Title,
				"pageCount": doc.PageCount,
				"content":   content,
			}, nil
		},
	}
}
