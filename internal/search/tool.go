package search

import (
	"context"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/tools"
)

// Register adds the web_search tool to the registry.
func Register(reg *tools.Registry, p Provider) {
	reg.Register(&tools.Tool{
		Name:        "web_search",
		Description: "Search the web and return a list of results with titles, URLs, and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Number of results to return (default 5, max 20)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) *tools.Result {
			query, _ := args["query"].(string)
			if query == "" {
				return &tools.Result{Success: false, Error: "web_search: query is required"}
			}
			count := 5
			switch v := args["count"].(type) {
			case float64:
				count = int(v)
			case int:
				count = v
			}
			if count > 20 {
				count = 20
			}

			items, err := p.Search(ctx, query, count)
			if err != nil {
				return tools.Fail(err.Error())
			}
			return &tools.Result{
				Success: true,
				Content: FormatResults(query, items),
			}
		},
	})
}
