package history

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// History is the exclusively-owned message log for one conversation.
// Components never hold references into it; Messages returns copies and
// all writes go through the Add* methods.
type History struct {
	mu     sync.RWMutex
	system string
	msgs   []Message
}

// New creates an empty history with an optional pinned system prompt.
// The system prompt is not part of the log; it is prepended to every
// wire snapshot so it can never be compacted or mutated away.
func New(systemPrompt string) *History {
	return &History{system: systemPrompt}
}

// AddUser appends a user message.
func (h *History) AddUser(content string) {
	h.append(Message{Role: RoleUser, Content: content})
}

// AddAssistant appends an assistant message. Content may be empty when
// the message carries only tool calls.
func (h *History) AddAssistant(content, thinking string, toolCalls []ToolCall) {
	h.append(Message{
		Role:      RoleAssistant,
		Content:   content,
		Thinking:  thinking,
		ToolCalls: toolCalls,
	})
}

// AddStopped appends a user-cancelled assistant message, preserving the
// partial text accumulated before the abort.
func (h *History) AddStopped(partial, thinking string) {
	h.append(Message{
		Role:        RoleAssistant,
		Content:     partial,
		Thinking:    thinking,
		UserStopped: true,
	})
}

// AddToolResult appends a tool-role message carrying one execution
// result. toolName must match a call in a preceding assistant message.
func (h *History) AddToolResult(toolName, content string) {
	h.append(Message{Role: RoleTool, ToolName: toolName, Content: content})
}

// Inject appends a corrective message authored by the safety governor.
// Role is usually RoleUser so the model treats it as instruction.
func (h *History) Inject(role, content string) {
	h.append(Message{Role: role, Content: content, Injected: true})
}

// Restore replaces the log with previously persisted messages. Used
// when resuming a stored conversation; the messages keep their original
// IDs and timestamps.
func (h *History) Restore(msgs []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = make([]Message, len(msgs))
	for i, m := range msgs {
		h.msgs[i] = m.clone()
	}
}

func (h *History) append(m Message) {
	m.ID = uuid.NewString()
	m.Timestamp = time.Now()
	h.mu.Lock()
	h.msgs = append(h.msgs, m)
	h.mu.Unlock()
}

// Messages returns a deep copy of the log.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of messages in the log.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// WireOptions control how a wire snapshot is derived.
type WireOptions struct {
	// RetrievalContext, when non-empty, is appended to the outgoing
	// copy of the most recent user message. It is never written back
	// into the log.
	RetrievalContext string

	// StripThinking clears reasoning traces from historical assistant
	// messages, for model families whose traces compound across turns.
	StripThinking bool
}

// WireMessages derives a fresh, wire-ready copy of the conversation:
// pinned system prompt first, then the log, with retrieval context
// injected and bookkeeping stripped. The caller owns the returned
// slice; nothing here aliases the log.
func (h *History) WireMessages(opts WireOptions) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, 0, len(h.msgs)+1)
	if h.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: h.system})
	}

	// Governor-injected correctives are user-role too; the retrieval
	// context belongs on the user's actual prompt.
	lastUser := -1
	for i, m := range h.msgs {
		if m.Role == RoleUser && !m.Injected {
			lastUser = i
		}
	}

	for i, m := range h.msgs {
		c := m.clone()
		if opts.StripThinking && c.Role == RoleAssistant {
			c.Thinking = ""
		}
		if opts.RetrievalContext != "" && i == lastUser {
			var b strings.Builder
			b.WriteString(c.Content)
			b.WriteString("\n\n[Workspace context]\n")
			b.WriteString(opts.RetrievalContext)
			c.Content = b.String()
		}
		out = append(out, c)
	}

	return out
}

// EstimateTokens estimates the token count of the full log plus system
// prompt. Four characters per token is the conventional rough cut; the
// governor compares the result against the model's context window with
// a safety margin wide enough to absorb the estimate's error.
func (h *History) EstimateTokens() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	chars := len(h.system)
	for _, m := range h.msgs {
		chars += len(m.Content) + len(m.Thinking)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + argumentChars(tc.Function.Arguments)
		}
	}
	return chars / 4
}

// argumentChars sizes a call's arguments at their serialized length,
// since that is what every subsequent request re-sends. A large file
// write or edit payload dominates a turn's footprint and must show up
// in the estimate.
func argumentChars(args map[string]any) int {
	if len(args) == 0 {
		return 0
	}
	data, err := json.Marshal(args)
	if err != nil {
		return 32 * len(args)
	}
	return len(data)
}
