package history

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestToolFunctionUnmarshalStringAndObjectEquivalent(t *testing.T) {
	objectForm := `{"name":"read_file","arguments":{"path":"main.go","limit":10}}`
	stringForm := `{"name":"read_file","arguments":"{\"path\":\"main.go\",\"limit\":10}"}`

	var fromObject, fromString ToolFunction
	if err := json.Unmarshal([]byte(objectForm), &fromObject); err != nil {
		t.Fatalf("object form: %v", err)
	}
	if err := json.Unmarshal([]byte(stringForm), &fromString); err != nil {
		t.Fatalf("string form: %v", err)
	}

	if !reflect.DeepEqual(fromObject, fromString) {
		t.Errorf("string and object forms diverged:\n object: %#v\n string: %#v", fromObject, fromString)
	}
	if fromString.Arguments["path"] != "main.go" {
		t.Errorf("arguments not decoded: %#v", fromString.Arguments)
	}
}

func TestToolFunctionUnmarshalEdgeCases(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantName    string
		wantInvalid bool
		wantNilArgs bool
	}{
		{"missing arguments", `{"name":"bash"}`, "bash", false, true},
		{"null arguments", `{"name":"bash","arguments":null}`, "bash", false, true},
		{"empty object", `{"name":"bash","arguments":{}}`, "bash", false, false},
		{"undecodable string", `{"name":"bash","arguments":"not json"}`, "bash", true, true},
		{"number payload", `{"name":"bash","arguments":42}`, "bash", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f ToolFunction
			if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if f.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", f.Name, tt.wantName)
			}
			if f.ArgumentsInvalid != tt.wantInvalid {
				t.Errorf("ArgumentsInvalid = %v, want %v", f.ArgumentsInvalid, tt.wantInvalid)
			}
			if (f.Arguments == nil) != tt.wantNilArgs {
				t.Errorf("Arguments = %#v, wantNil=%v", f.Arguments, tt.wantNilArgs)
			}
		})
	}
}

func TestToolFunctionMarshalAlwaysObject(t *testing.T) {
	tests := []struct {
		name string
		f    ToolFunction
	}{
		{"nil arguments", ToolFunction{Name: "bash"}},
		{"empty arguments", ToolFunction{Name: "bash", Arguments: map[string]any{}}},
		{"populated", ToolFunction{Name: "bash", Arguments: map[string]any{"command": "ls"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.f)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var raw struct {
				Arguments json.RawMessage `json:"arguments"`
			}
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatalf("reparse: %v", err)
			}
			s := strings.TrimSpace(string(raw.Arguments))
			if !strings.HasPrefix(s, "{") {
				t.Errorf("arguments serialized as %s, want a JSON object", s)
			}
		})
	}
}

func TestToolCallWireRoundTrip(t *testing.T) {
	// A call whose arguments arrived string-encoded must survive a
	// marshal/unmarshal cycle as a structured object at every boundary.
	in := `{"id":"c1","function":{"name":"edit_file","arguments":"{\"path\":\"a.go\",\"old_string\":\"x\",\"new_string\":\"y\"}"}}`

	var call ToolCall
	if err := json.Unmarshal([]byte(in), &call); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	wire, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(wire), `"arguments":"`) {
		t.Fatalf("arguments re-serialized as a string: %s", wire)
	}

	var back ToolCall
	if err := json.Unmarshal(wire, &back); err != nil {
		t.Fatalf("second unmarshal: %v", err)
	}
	if !reflect.DeepEqual(call.Function.Arguments, back.Function.Arguments) {
		t.Errorf("round trip changed arguments:\n before: %#v\n after:  %#v",
			call.Function.Arguments, back.Function.Arguments)
	}
}

func TestCloneIsDeep(t *testing.T) {
	call := ToolCall{ID: "c1", Function: ToolFunction{
		Name:      "bash",
		Arguments: map[string]any{"command": "ls"},
	}}
	cp := call.Clone()
	cp.Function.Arguments["command"] = "rm"

	if call.Function.Arguments["command"] != "ls" {
		t.Error("Clone shares argument map with original")
	}
}
