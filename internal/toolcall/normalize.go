// Package toolcall normalizes and validates the raw tool-call batch
// accumulated by the stream ingester. Invalid calls are a
// model-behavior problem, not a system fault: each one becomes a
// synthetic failed result that is fed back into the conversation so the
// model can correct itself.
package toolcall

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/history"
)

// channelMarker is an output artifact some model families leak into
// tool names (a channel delimiter from their chat template). A name
// containing it is truncated at the marker before validation.
const channelMarker = "<|channel|>"

// Registry is the read-only view of the tool set the normalizer
// validates names against.
type Registry interface {
	// Has reports whether a tool with this name is registered.
	Has(name string) bool
	// Names returns all registered tool names.
	Names() []string
}

// Checked is one normalized call. Reason is non-empty when the call
// failed normalization; such calls are answered with a synthetic failed
// result instead of being executed.
type Checked struct {
	Call   history.ToolCall
	Reason string
}

// OK reports whether the call passed normalization.
func (c Checked) OK() bool { return c.Reason == "" }

// Normalize sanitizes a raw tool-call batch: argument payloads are
// guaranteed structured objects, names are cleaned of corruption
// markers and checked against the registry, and every call receives an
// ID if the server assigned none. A failure invalidates only the call
// it occurred on, never the batch. The result preserves the model's
// request order, valid and failed calls interleaved as issued.
func Normalize(raw []history.ToolCall, reg Registry) []Checked {
	out := make([]Checked, 0, len(raw))
	for _, call := range raw {
		call = call.Clone()

		if call.ID == "" {
			call.ID = uuid.NewString()
		}

		call.Function.Name = cleanName(call.Function.Name)

		if call.Function.ArgumentsInvalid {
			out = append(out, Checked{
				Call:   call,
				Reason: fmt.Sprintf("tool %q was called with arguments that are not valid JSON; send a JSON object", call.Function.Name),
			})
			continue
		}
		if call.Function.Arguments == nil {
			call.Function.Arguments = map[string]any{}
		}

		if !reg.Has(call.Function.Name) {
			out = append(out, Checked{
				Call:   call,
				Reason: unknownToolMessage(call.Function.Name, reg),
			})
			continue
		}

		out = append(out, Checked{Call: call})
	}
	return out
}

// cleanName strips the channel-delimiter artifact from a tool name.
func cleanName(name string) string {
	if idx := strings.Index(name, channelMarker); idx >= 0 {
		name = name[:idx]
	}
	return strings.TrimSpace(name)
}

func unknownToolMessage(name string, reg Registry) string {
	names := reg.Names()
	sort.Strings(names)
	return fmt.Sprintf("unknown tool %q; valid tools are: %s", name, strings.Join(names, ", "))
}
