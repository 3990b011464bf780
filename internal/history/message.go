// Package history owns the conversation message log. All mutation goes
// through explicit append operations on [History]; other components read
// snapshots. The wire-ready request form is derived fresh per request by
// [History.WireMessages] and never written back, so retrieval context and
// transport-only fields cannot pollute what the model remembers.
package history

import (
	"encoding/json"
	"time"
)

// Roles a message can carry.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a single tool invocation requested by the model.
// Arguments are always a structured object after normalization; a
// JSON-encoded string here is a protocol violation that the custom
// unmarshaler below corrects at the first boundary crossing.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its arguments.
type ToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// ArgumentsInvalid records that the wire payload carried a
	// string-encoded argument blob that did not decode. The normalizer
	// turns such calls into per-call failures instead of dropping the
	// whole batch.
	ArgumentsInvalid bool `json:"-"`
}

// UnmarshalJSON accepts arguments either as an object or as a
// JSON-encoded string. Some models (and some proxy layers) emit the
// string form; storing it that way causes opaque rejections when the
// request is sent back, so it is coerced to an object on ingestion.
// A string that does not decode leaves Arguments nil; the normalizer
// reports that as a per-call failure.
func (f *ToolFunction) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name = raw.Name
	f.Arguments, f.ArgumentsInvalid = decodeArguments(raw.Arguments)
	return nil
}

// MarshalJSON always emits arguments as a JSON object, never as a
// string and never as null. This is the serialization half of the
// double defense: a string where the server expects an object causes an
// opaque transport-level rejection, so the invariant is enforced at
// every boundary crossing rather than assumed.
func (f ToolFunction) MarshalJSON() ([]byte, error) {
	args := f.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal(struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}{Name: f.Name, Arguments: args})
}

// decodeArguments turns a raw arguments payload into a map, unwrapping
// one level of string encoding if present. The bool reports a payload
// that was present but undecodable.
func decodeArguments(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, true
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, true
	}
	return obj, false
}

// Message is the canonical conversation message. One shape for every
// role; provider-specific requirements live in the wire adapter, not
// here.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Thinking holds the model's reasoning trace for assistant
	// messages. It is kept for display but may be stripped from the
	// wire form for model families whose traces compound across turns.
	Thinking string `json:"thinking,omitempty"`

	// ToolCalls is assistant-authored only.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolName identifies, on tool-role messages, which call this is
	// the result for.
	ToolName string `json:"tool_name,omitempty"`

	// Bookkeeping. Never serialized to the wire.
	ID          string    `json:"-"`
	Timestamp   time.Time `json:"-"`
	UserStopped bool      `json:"-"` // Partial text preserved after cancellation
	Injected    bool      `json:"-"` // Governor-authored corrective message
}

// HasToolCalls reports whether the message carries tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// clone returns a deep copy safe to hand across the wire boundary.
func (m Message) clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the call.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Function.Arguments != nil {
		args := make(map[string]any, len(tc.Function.Arguments))
		for k, v := range tc.Function.Arguments {
			args[k] = v
		}
		out.Function.Arguments = args
	}
	return out
}
