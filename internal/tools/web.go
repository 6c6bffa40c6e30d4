package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/google/jsonschema-go/jsonschema"
)

const (
	// fetchTimeout bounds one page fetch.
	fetchTimeout = 30 * time.Second

	// maxArticleChars bounds how much extracted text is returned.
	maxArticleChars = 20000
)

type fetchURLInput struct {
	URL string `json:"url"`
}

// NewFetchURL returns the fetch_url tool: fetches a web page and extracts
// its readable text content.
func NewFetchURL() Tool {
	return Tool{
		Definition: Definition{
			Name:        "fetch_url",
			Description: "Fetch a web page and return its readable text content.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"url": {
						Type:        "string",
						Description: "Absolute http(s) URL to fetch",
					},
				},
				Required: []string{"url"},
			},
		},
		Run: func(ctx context.Context, input json.RawMessage, report ProgressFunc) (any, error) {
			var in fetchURLInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("parsing fetch_url input: %w", err)
			}

			parsed, err := url.Parse(in.URL)
			if err != nil {
				return nil, fmt.Errorf("parsing url: %w", err)
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return nil, fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
			}

			report(Progress{Status: "fetching", Title: parsed.Host})

			article, err := readability.FromURL(in.URL, fetchTimeout)
			if err != nil {
				return nil, fmt.Errorf("fetching %s: %w", in.URL, err)
			}

			report(Progress{Status: "extracting", Title: article.Title})

			text := article.TextContent
			if len(text) > maxArticleChars {
				text = text[:maxArticleChars]
			}
			return map[string]any{
				"title":   article.Title,
				"excerpt": article.Excerpt,
				"content": text,
			}, nil
		},
	}
}
