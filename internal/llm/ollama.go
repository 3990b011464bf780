package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/config"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/history"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/httpkit"
)

// Client is a client for the Ollama chat API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Ollama client. A zero timeout disables the
// overall request deadline, which streaming responses need.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger,
	}
}

// frame is one line of the chunked response: an incremental update to
// the in-progress model turn.
type frame struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role      string             `json:"role"`
		Content   string             `json:"content"`
		Thinking  string             `json:"thinking"`
		ToolCalls []history.ToolCall `json:"tool_calls"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// ChatStream sends a streaming chat request and ingests the response
// frame by frame, invoking cb for each structured event. It returns the
// accumulated turn.
//
// A line that fails to parse is
// logged and dropped rather than aborting the stream, since one
// malformed frame must not lose an otherwise-complete response.
// Cancelling ctx closes the underlying connection; the partial
// accumulation up to that point is returned with Aborted set, and cb
// receives a KindAborted terminal event instead of KindError.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, cb Callback) (*StreamResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "chat request", "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return c.aborted(cb, &accumulator{}), nil
		}
		err = fmt.Errorf("request failed: %w", err)
		c.emit(cb, Event{Kind: KindError, Err: err})
		return nil, err
	}
	defer resp.Body.Close()

	// A non-2xx status is a terminal stream error carrying the full
	// error body, never a partial stream.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 64*1024))
		c.emit(cb, Event{Kind: KindError, Err: err})
		return nil, err
	}

	return c.ingest(ctx, resp.Body, cb)
}

// accumulator holds the running state of one turn's ingestion.
type accumulator struct {
	content   strings.Builder
	thinking  strings.Builder
	toolCalls []history.ToolCall
	usage     Usage
	done      bool
}

// ingest runs the line-buffered frame loop: append each received chunk
// to a growable buffer, split on newline, hold back the final possibly
// incomplete fragment, and apply every complete line as one frame.
func (c *Client) ingest(ctx context.Context, body io.Reader, cb Callback) (*StreamResult, error) {
	acc := &accumulator{}
	var pending []byte
	chunk := make([]byte, 16*1024)

	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]
				c.applyLine(ctx, line, acc, cb)
			}
		}

		if acc.done {
			break
		}

		if readErr != nil {
			if ctx.Err() != nil {
				return c.aborted(cb, acc), nil
			}
			if errors.Is(readErr, io.EOF) {
				// Residual content that never saw its newline is
				// attempted as one final frame; failure is non-fatal.
				if len(bytes.TrimSpace(pending)) > 0 {
					c.applyLine(ctx, pending, acc, cb)
				}
				break
			}
			err := fmt.Errorf("read stream: %w", readErr)
			c.emit(cb, Event{Kind: KindError, Err: err})
			return nil, err
		}
	}

	c.emit(cb, Event{Kind: KindDone, Usage: &acc.usage})
	return &StreamResult{
		Content:   acc.content.String(),
		Thinking:  acc.thinking.String(),
		ToolCalls: acc.toolCalls,
		Usage:     acc.usage,
	}, nil
}

// applyLine parses one complete line as a frame and applies it
// cumulatively: thinking and content concatenate, tool calls append.
func (c *Client) applyLine(ctx context.Context, line []byte, acc *accumulator, cb Callback) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		c.logger.Warn("dropping malformed stream frame", "error", err, "bytes", len(line))
		return
	}
	c.logger.Log(ctx, config.LevelTrace, "frame", "line", string(line))

	if f.Message.Thinking != "" {
		acc.thinking.WriteString(f.Message.Thinking)
		c.emit(cb, Event{Kind: KindThinking, Text: f.Message.Thinking})
	}
	if f.Message.Content != "" {
		acc.content.WriteString(f.Message.Content)
		c.emit(cb, Event{Kind: KindContent, Text: f.Message.Content})
	}
	if len(f.Message.ToolCalls) > 0 {
		// Append, never overwrite: the server can spread a partial
		// tool-call list across multiple frames.
		acc.toolCalls = append(acc.toolCalls, f.Message.ToolCalls...)
		c.emit(cb, Event{Kind: KindToolCalls, ToolCalls: f.Message.ToolCalls})
	}
	if f.Done {
		// Usage counters are optional on the terminal frame.
		acc.usage = Usage{PromptTokens: f.PromptEvalCount, ResponseTokens: f.EvalCount}
		acc.done = true
	}
}

func (c *Client) aborted(cb Callback, acc *accumulator) *StreamResult {
	c.emit(cb, Event{Kind: KindAborted})
	return &StreamResult{
		Content:   acc.content.String(),
		Thinking:  acc.thinking.String(),
		ToolCalls: acc.toolCalls,
		Usage:     acc.usage,
		Aborted:   true,
	}
}

func (c *Client) emit(cb Callback, e Event) {
	if cb != nil {
		cb(e)
	}
}

// Ping checks if the inference server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}

// ListModels returns the models available on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}
