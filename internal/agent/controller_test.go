package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/config"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/events"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/history"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/llm"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/permission"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/safety"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedServer replies to successive /api/chat requests with the
// given NDJSON bodies, in order. Requests past the script repeat the
// last body.
func scriptedServer(t *testing.T, bodies ...string) *httptest.Server {
	t.Helper()
	var n atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(n.Add(1)) - 1
		if i >= len(bodies) {
			i = len(bodies) - 1
		}
		io.WriteString(w, bodies[i])
	}))
}

type allowAll struct{}

func (allowAll) Prompt(context.Context, string, string, map[string]any) (permission.Decision, error) {
	return permission.AllowOnce, nil
}

type denyAll struct{}

func (denyAll) Prompt(context.Context, string, string, map[string]any) (permission.Decision, error) {
	return permission.Deny, nil
}

func newController(t *testing.T, serverURL string, registry *tools.Registry, prompter permission.Prompter, bus *events.Bus) (*Controller, *history.History) {
	t.Helper()
	logger := discardLogger()
	client := llm.NewClient(serverURL, 0, logger)
	hist := history.New("you are a test assistant")
	gate, err := permission.Open(t.TempDir(), "qwen3:8b", "/w", logger)
	if err != nil {
		t.Fatal(err)
	}
	governor := safety.NewGovernor(config.SafetyConfig{
		ContextUsageLimit: 0.90,
		EmptyNudgeAt:      2,
		EmptyForceAt:      3,
		EmptyHaltAt:       4,
		MaxToolCalls:      50,
	}, "qwen3:8b", 32768, logger)

	ctrl := New(Config{
		Model:            "qwen3:8b",
		IterationTimeout: 30 * time.Second,
	}, client, hist, registry, gate, prompter, governor, nil, nil, bus, logger)
	return ctrl, hist
}

func textResponse(text string) string {
	return fmt.Sprintf(`{"message":{"role":"assistant","content":%q}}`+"\n"+
		`{"done":true,"prompt_eval_count":10,"eval_count":5}`+"\n", text)
}

func toolResponse(name string, args map[string]any) string {
	payload, _ := json.Marshal(args)
	return fmt.Sprintf(`{"message":{"role":"assistant","tool_calls":[{"function":{"name":%q,"arguments":%s}}]}}`+"\n"+
		`{"done":true}`+"\n", name, payload)
}

func TestRunTextOnlyTurn(t *testing.T) {
	srv := scriptedServer(t, textResponse("just an answer"))
	defer srv.Close()

	ctrl, hist := newController(t, srv.URL, tools.NewRegistry(discardLogger()), allowAll{}, nil)

	res, err := ctrl.Run(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "just an answer" || res.Iterations != 1 || res.ToolCalls != 0 {
		t.Errorf("result = %+v", res)
	}

	msgs := hist.Messages()
	if len(msgs) != 2 {
		t.Fatalf("history = %d messages, want user+assistant", len(msgs))
	}
	if msgs[1].Role != history.RoleAssistant || msgs[1].Content != "just an answer" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
}

func TestRunToolLoop(t *testing.T) {
	srv := scriptedServer(t,
		toolResponse("greet", map[string]any{"name": "world"}),
		textResponse("greeting done"),
	)
	defer srv.Close()

	var executed atomic.Int64
	registry := tools.NewRegistry(discardLogger())
	registry.Register(&tools.Tool{
		Name:        "greet",
		Description: "d",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) *tools.Result {
			executed.Add(1)
			return &tools.Result{Success: true, Message: "hi " + args["name"].(string)}
		},
	})

	ctrl, hist := newController(t, srv.URL, registry, allowAll{}, nil)

	res, err := ctrl.Run(context.Background(), "greet the world", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "greeting done" {
		t.Errorf("final content = %q", res.Content)
	}
	if res.Iterations != 2 || res.ToolCalls != 1 {
		t.Errorf("result = %+v", res)
	}
	if executed.Load() != 1 {
		t.Errorf("tool executed %d times", executed.Load())
	}

	// History order: user, assistant(tool call), tool result, assistant.
	msgs := hist.Messages()
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	want := []string{history.RoleUser, history.RoleAssistant, history.RoleTool, history.RoleAssistant}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if !msgs[1].HasToolCalls() {
		t.Error("assistant tool-call message lost its calls")
	}
	if msgs[2].ToolName != "greet" || !strings.Contains(msgs[2].Content, "hi world") {
		t.Errorf("tool result = %+v", msgs[2])
	}
}

func TestRunDeniedToolFeedsRefusalBack(t *testing.T) {
	srv := scriptedServer(t,
		toolResponse("greet", map[string]any{"name": "x"}),
		textResponse("understood, I will not do that"),
	)
	defer srv.Close()

	registry := tools.NewRegistry(discardLogger())
	registry.Register(&tools.Tool{
		Name:       "greet",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) *tools.Result {
			t.Error("denied tool was executed")
			return nil
		},
	})

	ctrl, hist := newController(t, srv.URL, registry, denyAll{}, nil)

	res, err := ctrl.Run(context.Background(), "do it", nil)
	if err != nil {
		t.Fatalf("Run: %v (denial is a conversational outcome, not an error)", err)
	}
	if res.Halted {
		t.Error("denial halted the loop")
	}

	var toolMsg *history.Message
	msgs := hist.Messages()
	for i := range msgs {
		if msgs[i].Role == history.RoleTool {
			toolMsg = &msgs[i]
			break
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool result for the denied call")
	}
	if !strings.Contains(toolMsg.Content, "denied") {
		t.Errorf("denial result = %q", toolMsg.Content)
	}
}

func TestRunUnknownToolFeedsErrorBack(t *testing.T) {
	srv := scriptedServer(t,
		toolResponse("not_a_tool", map[string]any{}),
		textResponse("my mistake"),
	)
	defer srv.Close()

	ctrl, hist := newController(t, srv.URL, tools.NewRegistry(discardLogger()), allowAll{}, nil)

	res, err := ctrl.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run: %v (invalid calls must stay conversational)", err)
	}
	if res.Content != "my mistake" {
		t.Errorf("content = %q", res.Content)
	}

	found := false
	for _, m := range hist.Messages() {
		if m.Role == history.RoleTool && strings.Contains(m.Content, "unknown tool") {
			found = true
		}
	}
	if !found {
		t.Error("unknown-tool failure not fed back into the conversation")
	}
}

// multiToolResponse scripts one assistant turn carrying several tool
// calls in the given order.
func multiToolResponse(calls ...string) string {
	return fmt.Sprintf(`{"message":{"role":"assistant","tool_calls":[%s]}}`+"\n"+
		`{"done":true}`+"\n", strings.Join(calls, ","))
}

func oneCall(name string, args map[string]any) string {
	payload, _ := json.Marshal(args)
	return fmt.Sprintf(`{"function":{"name":%q,"arguments":%s}}`, name, payload)
}

func TestRunInterleavedBatchKeepsRequestOrder(t *testing.T) {
	srv := scriptedServer(t,
		multiToolResponse(
			oneCall("greet", map[string]any{"name": "a"}),
			oneCall("bogus", map[string]any{}),
			oneCall("greet", map[string]any{"name": "b"}),
		),
		textResponse("done"),
	)
	defer srv.Close()

	registry := tools.NewRegistry(discardLogger())
	registry.Register(&tools.Tool{
		Name:       "greet",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) *tools.Result {
			return &tools.Result{Success: true, Message: "hi " + args["name"].(string)}
		},
	})

	ctrl, hist := newController(t, srv.URL, registry, allowAll{}, nil)
	if _, err := ctrl.Run(context.Background(), "go", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := hist.Messages()
	var assistant *history.Message
	var results []history.Message
	for i := range msgs {
		switch msgs[i].Role {
		case history.RoleAssistant:
			if msgs[i].HasToolCalls() {
				assistant = &msgs[i]
			}
		case history.RoleTool:
			results = append(results, msgs[i])
		}
	}
	if assistant == nil {
		t.Fatal("no assistant tool-call message")
	}

	wantNames := []string{"greet", "bogus", "greet"}
	for i, tc := range assistant.ToolCalls {
		if tc.Function.Name != wantNames[i] {
			t.Errorf("assistant call %d = %q, want %q", i, tc.Function.Name, wantNames[i])
		}
	}
	if len(results) != 3 {
		t.Fatalf("tool results = %d, want 3", len(results))
	}
	for i, r := range results {
		if r.ToolName != wantNames[i] {
			t.Errorf("result %d = %q, want %q", i, r.ToolName, wantNames[i])
		}
	}
	if !strings.Contains(results[0].Content, "hi a") {
		t.Errorf("result 0 = %q", results[0].Content)
	}
	if !strings.Contains(results[1].Content, "unknown tool") {
		t.Errorf("result 1 = %q", results[1].Content)
	}
	if !strings.Contains(results[2].Content, "hi b") {
		t.Errorf("result 2 = %q", results[2].Content)
	}
}

func TestRunPublishesPermissionPrompt(t *testing.T) {
	srv := scriptedServer(t,
		toolResponse("greet", map[string]any{"name": "x"}),
		textResponse("done"),
	)
	defer srv.Close()

	registry := tools.NewRegistry(discardLogger())
	registry.Register(&tools.Tool{
		Name:       "greet",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) *tools.Result {
			return &tools.Result{Success: true}
		},
	})

	bus := events.New()
	sub := bus.Subscribe(64)
	defer bus.Unsubscribe(sub)

	ctrl, _ := newController(t, srv.URL, registry, allowAll{}, bus)
	if _, err := ctrl.Run(context.Background(), "go", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var sawPrompt, sawToolDone bool
	for {
		select {
		case e := <-sub:
			if e.Source == events.SourcePermission && e.Kind == events.KindPermissionPrompt {
				sawPrompt = true
				if e.Data["tool"] != "greet" {
					t.Errorf("prompt event tool = %v", e.Data["tool"])
				}
				if fp, _ := e.Data["fingerprint"].(string); fp == "" {
					t.Error("prompt event missing fingerprint")
				}
			}
			if e.Kind == events.KindToolDone {
				sawToolDone = true
			}
		default:
			if !sawPrompt {
				t.Error("no permission_prompt event for an unauthorized call")
			}
			if !sawToolDone {
				t.Error("no tool_done event")
			}
			return
		}
	}
}

func TestRunSafetyHaltOnEmptyTurns(t *testing.T) {
	// The model calls a different no-op tool command forever without
	// ever producing text; the governor must halt at the threshold.
	bodies := []string{
		toolResponse("noop", map[string]any{"n": 1}),
		toolResponse("noop", map[string]any{"n": 2}),
		toolResponse("noop", map[string]any{"n": 3}),
		toolResponse("noop", map[string]any{"n": 4}),
		toolResponse("noop", map[string]any{"n": 5}),
	}
	srv := scriptedServer(t, bodies...)
	defer srv.Close()

	registry := tools.NewRegistry(discardLogger())
	registry.Register(&tools.Tool{
		Name:       "noop",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) *tools.Result {
			return &tools.Result{Success: true}
		},
	})

	ctrl, _ := newController(t, srv.URL, registry, allowAll{}, nil)

	res, err := ctrl.Run(context.Background(), "spin", nil)
	if err != nil {
		t.Fatalf("Run: %v (a governor halt is not an error)", err)
	}
	if !res.Halted {
		t.Fatal("loop never halted")
	}
	if !strings.Contains(res.Reason, "tool-only") {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.Iterations != 4 {
		t.Errorf("iterations = %d, want halt after the 4th empty turn", res.Iterations)
	}
}

func TestRunCancellationPreservesPartialText(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		io.WriteString(w, `{"message":{"content":"partial "}}`+"\n")
		flusher.Flush()
		close(started)
		// Stall until the client goes away.
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctrl, hist := newController(t, srv.URL, tools.NewRegistry(discardLogger()), allowAll{}, nil)

	done := make(chan struct{})
	var res *TurnResult
	var runErr error
	go func() {
		defer close(done)
		res, runErr = ctrl.Run(context.Background(), "q", nil)
	}()

	<-started
	ctrl.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	if runErr != nil {
		t.Fatalf("cancellation surfaced as error: %v", runErr)
	}
	if !res.Stopped {
		t.Fatal("Stopped not set")
	}
	if res.Content != "partial " {
		t.Errorf("partial content = %q", res.Content)
	}

	msgs := hist.Messages()
	last := msgs[len(msgs)-1]
	if !last.UserStopped || last.Content != "partial " {
		t.Errorf("history did not preserve the stopped message: %+v", last)
	}

	if ctrl.State() != StateIdle {
		t.Errorf("state = %q after cancel, want idle", ctrl.State())
	}
}

func TestRunSingleFlight(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-blocked
		io.WriteString(w, textResponse("late"))
	}))
	defer srv.Close()

	ctrl, _ := newController(t, srv.URL, tools.NewRegistry(discardLogger()), allowAll{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(context.Background(), "first", nil)
	}()

	// Wait for the first turn to occupy the controller.
	deadline := time.Now().Add(2 * time.Second)
	for ctrl.State() == StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("first turn never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := ctrl.Run(context.Background(), "second", nil); err != ErrBusy {
		t.Errorf("concurrent Run returned %v, want ErrBusy", err)
	}

	close(blocked)
	<-done
}
