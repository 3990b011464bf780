// Package search provides web search via a pluggable provider, with a
// SearXNG implementation.
package search

import (
	"context"
	"fmt"
	"strings"
)

// Item is a single search result.
type Item struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Provider performs web searches.
type Provider interface {
	// Name returns the provider's identifier.
	Name() string
	// Search runs a query and returns up to count results.
	Search(ctx context.Context, query string, count int) ([]Item, error)
}

// FormatResults renders search results as readable text for the model.
func FormatResults(query string, items []Item) string {
	if len(items) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n\n", query)
	for i, it := range items {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, it.Title, it.URL)
		if it.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", it.Snippet)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
