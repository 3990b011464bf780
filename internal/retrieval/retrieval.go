// Package retrieval queries an external workspace-indexing service for
// code chunks relevant to the user's prompt. Results are injected into
// the outgoing request as extra context; the conversation history never
// stores them.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/httpkit"
)

// Chunk is one retrieved snippet with its source location.
type Chunk struct {
	Text     string  `json:"text"`
	FilePath string  `json:"file_path"`
	Score    float64 `json:"score"`
}

// Response is the retrieval service's answer for a query.
type Response struct {
	Results      []Chunk `json:"results"`
	ChunksCount  int     `json:"chunks_count"`
	SourcesCount int     `json:"sources_count"`
}

// Searcher answers context queries for a workspace.
type Searcher interface {
	Search(ctx context.Context, query, workdir string) (*Response, error)
}

// Client talks to the retrieval service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a retrieval client for the given service URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

type searchRequest struct {
	Query   string `json:"query"`
	Workdir string `json:"workdir"`
}

// Search asks the service for chunks relevant to query in workdir.
func (c *Client) Search(ctx context.Context, query, workdir string) (*Response, error) {
	payload, err := json.Marshal(searchRequest{Query: query, Workdir: workdir})
	if err != nil {
		return nil, fmt.Errorf("retrieval: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("retrieval: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval: status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("retrieval: decode response: %w", err)
	}
	return &decoded, nil
}

// FormatContext renders retrieved chunks as a context block for the
// model. Returns "" when nothing was retrieved.
func FormatContext(resp *Response) string {
	if resp == nil || len(resp.Results) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, ch := range resp.Results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s", ch.FilePath, ch.Text)
	}
	return sb.String()
}
