package fetch

import (
	"context"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/tools"
)

// Register adds the web_fetch tool to the registry.
func Register(reg *tools.Registry, f *Fetcher) {
	reg.Register(&tools.Tool{
		Name:        "web_fetch",
		Description: "Fetch a web page and extract its readable text content. Returns the page title and main text with HTML markup removed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to fetch",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters of extracted text to return (default 50000)",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) *tools.Result {
			url, _ := args["url"].(string)
			maxChars := 0
			switch v := args["max_chars"].(type) {
			case float64:
				maxChars = int(v)
			case int:
				maxChars = v
			}

			res, err := f.Fetch(ctx, url, maxChars)
			if err != nil {
				return tools.Fail(err.Error())
			}
			return &tools.Result{
				Success: true,
				Content: res.Content,
				Message: res.Title,
			}
		},
	})
}
