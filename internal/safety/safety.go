// Package safety decides whether the agent loop may continue.
//
// The loop re-invokes itself after every tool batch, so runaway
// behavior (duplicate calls, endless tool-only turns, context
// exhaustion) must be detected and stopped here, without a human in
// the loop. All checks are deterministic functions of the conversation
// history; nothing is cached between evaluations.
package safety

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/config"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/history"
)

// Injection is a corrective message the controller appends to history
// before the next request.
type Injection struct {
	Role    string
	Content string
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Halt       bool
	Reason     string
	Injections []Injection
}

// Continue returns a non-halting verdict with optional injections.
func Continue(inj ...Injection) Verdict {
	return Verdict{Injections: inj}
}

// Halt returns a halting verdict with a user-visible reason.
func Halt(reason string) Verdict {
	return Verdict{Halt: true, Reason: reason}
}

// State holds the derived counters one evaluation works from. It is
// recomputed from history every time, never carried across turns.
type State struct {
	ContextUsageRatio     float64
	ConsecutiveEmptyTurns int
	LastToolCalls         []history.ToolCall
	TotalToolCalls        int
}

// Governor evaluates the conversation after each tool batch.
type Governor struct {
	cfg           config.SafetyConfig
	contextWindow int
	family        string
	logger        *slog.Logger
}

// NewGovernor creates a governor for the given model. The model's
// family name (the part before the first colon) selects family
// specific behavior such as extra nudges and thinking stripping.
func NewGovernor(cfg config.SafetyConfig, model string, contextWindow int, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		cfg:           cfg,
		contextWindow: contextWindow,
		family:        Family(model),
		logger:        logger,
	}
}

// Family extracts the model family from a full model name,
// e.g. "qwen3:30b" yields "qwen3".
func Family(model string) string {
	if i := strings.IndexByte(model, ':'); i >= 0 {
		return model[:i]
	}
	return model
}

// thinkingStripFamilies lists model families whose reasoning traces
// must be removed from historical assistant turns before the next
// request. These models re-ingest their own thinking otherwise and
// the traces compound until the context drowns.
var thinkingStripFamilies = map[string]bool{
	"qwen3":       true,
	"deepseek-r1": true,
}

// nudgeFamilies lists model families that need an extra hint once the
// empty-response escalation starts. These models tend to keep calling
// tools silently instead of summarizing.
var nudgeFamilies = map[string]bool{
	"gpt-oss": true,
}

// StripThinking reports whether historical thinking content should be
// removed before building the next request for this model.
func (g *Governor) StripThinking() bool {
	return thinkingStripFamilies[g.family]
}

// Derive computes the safety counters from the message log.
func (g *Governor) Derive(msgs []history.Message, estimatedTokens int) State {
	st := State{}

	if g.contextWindow > 0 {
		st.ContextUsageRatio = float64(estimatedTokens) / float64(g.contextWindow)
	}

	// Walk backward counting assistant turns that carry tool calls but
	// no text. Tool-role results and our own injected nudges in between
	// do not break the run, otherwise the escalation could never pass
	// its first threshold.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == history.RoleTool || m.Injected {
			continue
		}
		if m.Role == history.RoleAssistant && m.HasToolCalls() && strings.TrimSpace(m.Content) == "" {
			st.ConsecutiveEmptyTurns++
			continue
		}
		break
	}

	for _, m := range msgs {
		if m.Role != history.RoleAssistant {
			continue
		}
		st.TotalToolCalls += len(m.ToolCalls)
		for _, tc := range m.ToolCalls {
			st.LastToolCalls = append(st.LastToolCalls, tc)
		}
	}
	if n := len(st.LastToolCalls); n > 2 {
		st.LastToolCalls = st.LastToolCalls[n-2:]
	}

	return st
}

// Evaluate inspects the history and returns Continue, possibly with
// corrective injections, or Halt with a reason. Checks are layered and
// the first matching layer wins.
func (g *Governor) Evaluate(msgs []history.Message, estimatedTokens int) Verdict {
	st := g.Derive(msgs, estimatedTokens)

	if g.cfg.ContextUsageLimit > 0 && st.ContextUsageRatio > g.cfg.ContextUsageLimit {
		g.logger.Warn("context critically full",
			"ratio", fmt.Sprintf("%.2f", st.ContextUsageRatio),
			"limit", g.cfg.ContextUsageLimit,
		)
		return Halt(fmt.Sprintf("context critically full (%.0f%% of %d tokens)",
			st.ContextUsageRatio*100, g.contextWindow))
	}

	if len(st.LastToolCalls) == 2 && sameCall(st.LastToolCalls[0], st.LastToolCalls[1]) {
		g.logger.Warn("duplicate tool call detected", "tool", st.LastToolCalls[1].Function.Name)
		return Continue(Injection{
			Role: history.RoleUser,
			Content: "You just repeated the exact same tool call. Do not call it again. " +
				"Answer the question now using the results you already have.",
		})
	}

	switch {
	case st.ConsecutiveEmptyTurns >= g.cfg.EmptyHaltAt:
		g.logger.Warn("halting on repeated empty responses", "turns", st.ConsecutiveEmptyTurns)
		return Halt("repeated tool-only turns without any text response")
	case st.ConsecutiveEmptyTurns == g.cfg.EmptyForceAt:
		return Continue(Injection{
			Role: history.RoleUser,
			Content: "STOP calling tools. You must now write a text answer summarizing " +
				"what you found. Respond with text only.",
		})
	case st.ConsecutiveEmptyTurns == g.cfg.EmptyNudgeAt:
		inj := []Injection{{
			Role:    history.RoleUser,
			Content: "Please respond with text, not only tool calls. Summarize your progress so far.",
		}}
		if nudgeFamilies[g.family] {
			inj = append(inj, Injection{
				Role:    history.RoleUser,
				Content: "Write your answer in the final response channel as plain text.",
			})
		}
		return Continue(inj...)
	}

	if g.cfg.MaxToolCalls > 0 && st.TotalToolCalls > g.cfg.MaxToolCalls {
		g.logger.Warn("tool call budget exceeded", "count", st.TotalToolCalls, "limit", g.cfg.MaxToolCalls)
		return Halt(fmt.Sprintf("safety limit exceeded (%d tool calls)", st.TotalToolCalls))
	}

	return Continue()
}

// sameCall reports structural equality of two tool calls by name and
// argument payload. IDs are request-scoped and ignored.
func sameCall(a, b history.ToolCall) bool {
	if a.Function.Name != b.Function.Name {
		return false
	}
	return reflect.DeepEqual(a.Function.Arguments, b.Function.Arguments)
}
