// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (agent loop, stream client,
// tool executor, safety governor) to subscribers (the WebSocket handler
// feeding the rendering layer). The bus is nil-safe: calling Publish on
// a nil *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the agent loop controller.
	SourceAgent = "agent"
	// SourceStream identifies events from the stream ingester.
	SourceStream = "stream"
	// SourceTools identifies events from the tool executor.
	SourceTools = "tools"
	// SourceSafety identifies events from the safety governor.
	SourceSafety = "safety"
	// SourcePermission identifies events from the permission gate.
	SourcePermission = "permission"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of an agent turn.
	// Data: request_id, model, messages.
	KindTurnStart = "turn_start"
	// KindThinkingDelta carries an incremental reasoning fragment.
	// Data: request_id, text.
	KindThinkingDelta = "thinking_delta"
	// KindContentDelta carries an incremental text fragment.
	// Data: request_id, text.
	KindContentDelta = "content_delta"
	// KindStreamDone signals a stream completed.
	// Data: request_id, prompt_tokens, response_tokens, tool_calls.
	KindStreamDone = "stream_done"
	// KindToolCall signals the start of a tool execution.
	// Data: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindPermissionPrompt signals a tool call awaiting a user decision.
	// Data: request_id, tool, fingerprint.
	KindPermissionPrompt = "permission_prompt"
	// KindSafetyHalt signals the governor stopped the loop.
	// Data: request_id, reason.
	KindSafetyHalt = "safety_halt"
	// KindTurnComplete signals the end of an agent turn.
	// Data: request_id, iterations, tool_calls, elapsed_ms, halted.
	KindTurnComplete = "turn_complete"
	// KindCancelled signals a user-initiated cancellation.
	// Data: request_id.
	KindCancelled = "cancelled"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full, drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
