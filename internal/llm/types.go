// Package llm implements the Ollama chat client and the stream
// ingester that turns its chunked newline-delimited JSON responses into
// structured events.
package llm

import (
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/history"
)

// Options are the model generation parameters sent with every request.
type Options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	Seed          *int    `json:"seed,omitempty"`
}

// ChatRequest is the wire body for POST /api/chat.
type ChatRequest struct {
	Model    string            `json:"model"`
	Messages []history.Message `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  *Options          `json:"options,omitempty"`
	Tools    []map[string]any  `json:"tools,omitempty"`
	Think    string            `json:"think,omitempty"`
}

// Usage carries the token counters from a terminal frame. Both fields
// are optional on the wire; zero values mean the server did not report.
type Usage struct {
	PromptTokens   int
	ResponseTokens int
}

// EventKind identifies the type of stream event.
type EventKind int

const (
	// KindThinking is an incremental reasoning fragment.
	KindThinking EventKind = iota

	// KindContent is an incremental text fragment.
	KindContent

	// KindToolCalls carries newly accumulated tool calls. Deltas are
	// append-only; the full batch is in the final StreamResult.
	KindToolCalls

	// KindDone signals normal stream completion. Usage is set.
	KindDone

	// KindAborted signals a caller-triggered interrupt. Partial
	// accumulated content is preserved in the StreamResult.
	KindAborted

	// KindError signals a terminal transport or protocol failure.
	KindError
)

// Event is a single structured update from the stream ingester.
// Consumers switch on Kind to determine what data is available.
type Event struct {
	Kind EventKind

	// Text is set for KindThinking and KindContent events.
	Text string

	// ToolCalls is set for KindToolCalls events.
	ToolCalls []history.ToolCall

	// Usage is set for KindDone events.
	Usage *Usage

	// Err is set for KindError events.
	Err error
}

// Callback receives streaming events in arrival order.
type Callback func(Event)

// StreamResult is the accumulated outcome of one streamed model turn.
type StreamResult struct {
	Content   string
	Thinking  string
	ToolCalls []history.ToolCall
	Usage     Usage

	// Aborted is true when the stream ended via caller interrupt.
	// Content and Thinking hold everything accumulated to that point.
	Aborted bool
}
