package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureConversation("c1", "qwen3:8b"); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}

	msgs := []Message{
		{Role: RoleUser, Content: "list files"},
		{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{{
			ID: "tc1",
			Function: ToolFunction{
				Name:      "bash",
				Arguments: map[string]any{"command": "ls"},
			},
		}}},
		{Role: RoleTool, ToolName: "bash", Content: `{"success":true}`},
		{Role: RoleAssistant, Content: "two files", UserStopped: false},
	}
	base := time.Now().Add(-time.Minute)
	for i := range msgs {
		msgs[i].Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := s.SaveMessage("c1", msgs[i]); err != nil {
			t.Fatalf("SaveMessage %d: %v", i, err)
		}
	}

	loaded, err := s.LoadMessages("c1")
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(loaded) != 4 {
		t.Fatalf("loaded %d messages, want 4", len(loaded))
	}
	if loaded[0].Role != RoleUser || loaded[0].Content != "list files" {
		t.Errorf("first message = %+v", loaded[0])
	}
	if !loaded[1].HasToolCalls() {
		t.Fatal("tool calls lost")
	}
	args := loaded[1].ToolCalls[0].Function.Arguments
	if args["command"] != "ls" {
		t.Errorf("arguments = %v", args)
	}
	if loaded[2].ToolName != "bash" {
		t.Errorf("tool result = %+v", loaded[2])
	}
}

func TestStoreRoundTripKeepsInjectedFlag(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureConversation("c1", "m"); err != nil {
		t.Fatal(err)
	}

	for _, m := range []Message{
		{Role: RoleUser, Content: "real question"},
		{Role: RoleUser, Content: "Please respond with text.", Injected: true},
	} {
		if err := s.SaveMessage("c1", m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	loaded, err := s.LoadMessages("c1")
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d, want 2", len(loaded))
	}
	if loaded[0].Injected {
		t.Error("real user message marked injected after reload")
	}
	if !loaded[1].Injected {
		t.Error("governor injection became an ordinary user message after reload")
	}
}

func TestStoreEnsureConversationIdempotent(t *testing.T) {
	s := openTestStore(t)
	for range 3 {
		if err := s.EnsureConversation("c1", "m"); err != nil {
			t.Fatalf("EnsureConversation: %v", err)
		}
	}
}

func TestStoreLatestConversation(t *testing.T) {
	s := openTestStore(t)

	id, model, err := s.LatestConversation()
	if err != nil {
		t.Fatalf("LatestConversation on empty store: %v", err)
	}
	if id != "" || model != "" {
		t.Errorf("empty store returned %q/%q", id, model)
	}

	if err := s.EnsureConversation("old", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureConversation("new", "b"); err != nil {
		t.Fatal(err)
	}
	// Touch "new" so it is the most recently updated.
	if err := s.SaveMessage("new", Message{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	id, model, err = s.LatestConversation()
	if err != nil {
		t.Fatalf("LatestConversation: %v", err)
	}
	if id != "new" || model != "b" {
		t.Errorf("latest = %q/%q, want new/b", id, model)
	}
}

func TestHistoryRestore(t *testing.T) {
	h := New("system prompt")
	h.AddUser("stale")

	h.Restore([]Message{
		{Role: RoleUser, Content: "earlier question"},
		{Role: RoleAssistant, Content: "earlier answer"},
	})

	msgs := h.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want restored log to replace the old one", len(msgs))
	}
	if msgs[0].Content != "earlier question" || msgs[1].Content != "earlier answer" {
		t.Errorf("restored = %+v", msgs)
	}

	// Restored history still pins the system prompt on the wire.
	wire := h.WireMessages(WireOptions{})
	if wire[0].Role != RoleSystem || wire[0].Content != "system prompt" {
		t.Errorf("wire[0] = %+v", wire[0])
	}
}
