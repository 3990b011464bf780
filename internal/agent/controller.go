// Package agent implements the core agent loop: send the conversation
// to the model, ingest the streamed response, run any tool calls it
// requested, and loop until the model answers in text or the safety
// governor stops it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/events"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/history"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/llm"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/permission"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/retrieval"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/safety"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/toolcall"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/tools"
)

// State is the controller's current phase, exposed for observability.
type State string

const (
	StateIdle          State = "idle"
	StateRequesting    State = "requesting"
	StateStreaming     State = "streaming"
	StateToolExecuting State = "tool_executing"
	StateSafetyCheck   State = "safety_check"
)

// ErrBusy is returned when a turn is started while another is running.
// The loop is single-flight per conversation: each step's output is the
// next step's input.
var ErrBusy = errors.New("a turn is already in progress")

// TurnResult is the outcome of one user turn, spanning however many
// loop iterations it took.
type TurnResult struct {
	Content    string
	Thinking   string
	Iterations int
	ToolCalls  int

	// Halted is true when the safety governor stopped the loop.
	// Reason is user-visible and not an error.
	Halted bool
	Reason string

	// Stopped is true when the user cancelled mid-stream. Content
	// holds the partial text accumulated up to the abort.
	Stopped bool
}

// Config holds the per-conversation loop parameters.
type Config struct {
	Model            string
	Options          *llm.Options
	Think            string
	Workdir          string
	IterationTimeout time.Duration

	// RetrievalMaxFailures disables retrieval for the rest of the
	// session after this many consecutive search failures.
	RetrievalMaxFailures int

	// ConversationID resumes persistence under an existing stored
	// conversation. Empty starts a new one.
	ConversationID string
}

// Controller drives the agent loop for one conversation.
type Controller struct {
	cfg      Config
	client   *llm.Client
	hist     *history.History
	registry *tools.Registry
	gate     *permission.Gate
	prompter permission.Prompter
	governor *safety.Governor
	bus      *events.Bus
	logger   *slog.Logger

	// Optional collaborators.
	retriever   retrieval.Searcher
	store       *history.Store
	convID      string
	convEnsured bool

	mu                sync.Mutex
	state             State
	cancel            context.CancelFunc
	retrievalFailures int
	retrievalDisabled bool
}

// New creates a controller. retriever, store, and bus may be nil.
func New(cfg Config, client *llm.Client, hist *history.History, registry *tools.Registry,
	gate *permission.Gate, prompter permission.Prompter, governor *safety.Governor,
	retriever retrieval.Searcher, store *history.Store, bus *events.Bus, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IterationTimeout <= 0 {
		cfg.IterationTimeout = 10 * time.Minute
	}
	if cfg.RetrievalMaxFailures <= 0 {
		cfg.RetrievalMaxFailures = 3
	}
	convID := cfg.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	return &Controller{
		cfg:       cfg,
		client:    client,
		hist:      hist,
		registry:  registry,
		gate:      gate,
		prompter:  prompter,
		governor:  governor,
		retriever: retriever,
		store:     store,
		convID:    convID,
		bus:       bus,
		logger:    logger,
		state:     StateIdle,
	}
}

// State returns the controller's current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Cancel aborts the in-flight turn, if any. The stream is interrupted,
// partial assistant text is preserved in history, and no further tool
// execution or safety evaluation happens.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run processes one user message through the agent loop and blocks
// until the model produces a final answer, the governor halts, or the
// user cancels. cb receives streaming events as they arrive and may be
// nil.
func (c *Controller) Run(ctx context.Context, userMessage string, cb llm.Callback) (*TurnResult, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	turnCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateRequesting
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.state = StateIdle
		c.mu.Unlock()
	}()

	requestID := uuid.NewString()
	started := time.Now()

	c.hist.AddUser(userMessage)
	c.persistLast()

	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindTurnStart,
		Data: map[string]any{
			"request_id": requestID,
			"model":      c.cfg.Model,
			"messages":   c.hist.Len(),
		},
	})

	retrievalContext := c.lookupContext(turnCtx, userMessage)

	result := &TurnResult{}
	for {
		result.Iterations++

		sr, err := c.iterate(turnCtx, requestID, retrievalContext, cb)
		if err != nil {
			return nil, err
		}

		if sr.timedOut {
			result.Halted = true
			result.Reason = fmt.Sprintf("iteration exceeded %s time limit", c.cfg.IterationTimeout)
			c.publish(events.SourceSafety, events.KindSafetyHalt, map[string]any{
				"request_id": requestID, "reason": result.Reason,
			})
			return result, nil
		}

		if sr.Aborted {
			c.hist.AddStopped(sr.Content, sr.Thinking)
			c.persistLast()
			c.publish(events.SourceAgent, events.KindCancelled, map[string]any{"request_id": requestID})
			result.Content = sr.Content
			result.Thinking = sr.Thinking
			result.Stopped = true
			return result, nil
		}

		if len(sr.ToolCalls) == 0 {
			c.hist.AddAssistant(sr.Content, sr.Thinking, nil)
			c.persistLast()
			result.Content = sr.Content
			result.Thinking = sr.Thinking
			c.publish(events.SourceAgent, events.KindTurnComplete, map[string]any{
				"request_id": requestID,
				"iterations": result.Iterations,
				"tool_calls": result.ToolCalls,
				"elapsed_ms": time.Since(started).Milliseconds(),
				"halted":     false,
			})
			return result, nil
		}

		c.setState(StateToolExecuting)
		executed := c.runToolBatch(turnCtx, requestID, sr.StreamResult)
		result.ToolCalls += executed

		if turnCtx.Err() != nil {
			c.publish(events.SourceAgent, events.KindCancelled, map[string]any{"request_id": requestID})
			result.Stopped = true
			return result, nil
		}

		c.setState(StateSafetyCheck)
		verdict := c.governor.Evaluate(c.hist.Messages(), c.hist.EstimateTokens())
		if verdict.Halt {
			result.Halted = true
			result.Reason = verdict.Reason
			c.publish(events.SourceSafety, events.KindSafetyHalt, map[string]any{
				"request_id": requestID, "reason": verdict.Reason,
			})
			c.publish(events.SourceAgent, events.KindTurnComplete, map[string]any{
				"request_id": requestID,
				"iterations": result.Iterations,
				"tool_calls": result.ToolCalls,
				"elapsed_ms": time.Since(started).Milliseconds(),
				"halted":     true,
			})
			return result, nil
		}
		for _, inj := range verdict.Injections {
			c.hist.Inject(inj.Role, inj.Content)
			c.persistLast()
		}

		c.setState(StateRequesting)
	}
}

// iterResult extends the stream result with the iteration-deadline
// condition, which is a governor-style halt rather than a cancel.
type iterResult struct {
	*llm.StreamResult
	timedOut bool
}

// iterate performs one Requesting -> Streaming pass: build the wire
// request from history and open the stream. The iteration carries its
// own wall-clock ceiling, distinct from the user's cancellation signal.
func (c *Controller) iterate(turnCtx context.Context, requestID, retrievalContext string, cb llm.Callback) (*iterResult, error) {
	iterCtx, cancel := context.WithTimeout(turnCtx, c.cfg.IterationTimeout)
	defer cancel()

	wire := c.hist.WireMessages(history.WireOptions{
		RetrievalContext: retrievalContext,
		StripThinking:    c.governor.StripThinking(),
	})

	req := llm.ChatRequest{
		Model:    c.cfg.Model,
		Messages: wire,
		Options:  c.cfg.Options,
		Tools:    c.registry.Declarations(),
		Think:    c.cfg.Think,
	}

	c.setState(StateStreaming)
	sr, err := c.client.ChatStream(iterCtx, req, func(e llm.Event) {
		c.forward(requestID, e)
		if cb != nil {
			cb(e)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}

	if sr.Aborted && iterCtx.Err() == context.DeadlineExceeded && turnCtx.Err() == nil {
		// The iteration ceiling fired, not the user. Preserve what
		// streamed so far and report a timeout halt.
		if sr.Content != "" || sr.Thinking != "" {
			c.hist.AddStopped(sr.Content, sr.Thinking)
			c.persistLast()
		}
		return &iterResult{StreamResult: sr, timedOut: true}, nil
	}

	return &iterResult{StreamResult: sr}, nil
}

// runToolBatch appends the assistant turn and processes its tool calls
// in request order. Sequential on purpose: later calls may depend on
// working-directory changes made by earlier ones. Returns the number of
// calls processed.
func (c *Controller) runToolBatch(ctx context.Context, requestID string, sr *llm.StreamResult) int {
	checked := toolcall.Normalize(sr.ToolCalls, c.registry)

	// The assistant message is appended first, tool results follow it,
	// both in the model's request order.
	all := make([]history.ToolCall, len(checked))
	for i, ck := range checked {
		all[i] = ck.Call
	}
	c.hist.AddAssistant(sr.Content, sr.Thinking, all)
	c.persistLast()

	for _, ck := range checked {
		if !ck.OK() {
			res := tools.Fail(ck.Reason)
			c.hist.AddToolResult(ck.Call.Function.Name, res.ModelText())
			c.persistLast()
			continue
		}
		if ctx.Err() != nil {
			return len(checked)
		}
		name := ck.Call.Function.Name
		args := ck.Call.Function.Arguments

		c.publish(events.SourceTools, events.KindToolCall, map[string]any{
			"request_id": requestID, "tool": name,
		})

		if !c.gate.IsAllowed(name, args) {
			c.publish(events.SourcePermission, events.KindPermissionPrompt, map[string]any{
				"request_id":  requestID,
				"tool":        name,
				"fingerprint": permission.Fingerprint(name, args),
			})
		}

		decision, err := c.gate.Authorize(ctx, c.prompter, name, args)
		if err != nil {
			c.logger.Warn("permission prompt failed", "tool", name, "error", err)
			decision = permission.Deny
		}

		var res *tools.Result
		start := time.Now()
		if decision == permission.Deny {
			res = tools.Fail(permission.DeniedMessage(name))
		} else {
			res = c.registry.Execute(ctx, name, args)
		}

		c.hist.AddToolResult(name, res.ModelText())
		c.persistLast()

		c.publish(events.SourceTools, events.KindToolDone, map[string]any{
			"request_id":  requestID,
			"tool":        name,
			"ok":          res.Success,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}

	return len(checked)
}

// lookupContext queries the retrieval collaborator for workspace
// context. Failures are counted; after a few consecutive ones the
// feature is disabled for the rest of the session instead of retried
// forever.
func (c *Controller) lookupContext(ctx context.Context, query string) string {
	if c.retriever == nil || c.retrievalDisabled {
		return ""
	}

	resp, err := c.retriever.Search(ctx, query, c.cfg.Workdir)
	if err != nil {
		c.retrievalFailures++
		c.logger.Warn("retrieval search failed",
			"error", err, "consecutive", c.retrievalFailures)
		if c.retrievalFailures >= c.cfg.RetrievalMaxFailures {
			c.retrievalDisabled = true
			c.logger.Warn("retrieval disabled for this session",
				"failures", c.retrievalFailures)
		}
		return ""
	}
	c.retrievalFailures = 0

	formatted := retrieval.FormatContext(resp)
	if formatted != "" {
		c.logger.Debug("retrieval context injected",
			"chunks", resp.ChunksCount, "sources", resp.SourcesCount)
	}
	return formatted
}

// forward republishes stream events onto the bus.
func (c *Controller) forward(requestID string, e llm.Event) {
	switch e.Kind {
	case llm.KindThinking:
		c.publish(events.SourceStream, events.KindThinkingDelta, map[string]any{
			"request_id": requestID, "text": e.Text,
		})
	case llm.KindContent:
		c.publish(events.SourceStream, events.KindContentDelta, map[string]any{
			"request_id": requestID, "text": e.Text,
		})
	case llm.KindDone:
		data := map[string]any{"request_id": requestID}
		if e.Usage != nil {
			data["prompt_tokens"] = e.Usage.PromptTokens
			data["response_tokens"] = e.Usage.ResponseTokens
		}
		c.publish(events.SourceStream, events.KindStreamDone, data)
	}
}

func (c *Controller) publish(source, kind string, data map[string]any) {
	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// persistLast saves the newest history message when a store is
// configured. Persistence failures are logged, never fatal.
func (c *Controller) persistLast() {
	if c.store == nil {
		return
	}
	if !c.convEnsured {
		if err := c.store.EnsureConversation(c.convID, c.cfg.Model); err != nil {
			c.logger.Warn("failed to create conversation row", "error", err)
			return
		}
		c.convEnsured = true
	}
	msgs := c.hist.Messages()
	if len(msgs) == 0 {
		return
	}
	if err := c.store.SaveMessage(c.convID, msgs[len(msgs)-1]); err != nil {
		c.logger.Warn("failed to persist message", "error", err)
	}
}
