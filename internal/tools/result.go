// Package tools defines the tool registry and the sandboxed execution
// layer behind it: file operations contained to the session working
// directory, shell execution with credential and environment defenses,
// and web search/fetch.
package tools

import "encoding/json"

// Result is the uniform outcome shape every handler returns. Exactly
// one payload group is populated: stdout/stderr for shell, Content for
// reads and fetches, Files for listings, Message for everything else.
// Immutable once produced; the controller wraps it into a tool-role
// message.
type Result struct {
	Success bool `json:"success"`

	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`

	Content string   `json:"content,omitempty"`
	Files   []string `json:"files,omitempty"`
	Message string   `json:"message,omitempty"`

	Error string `json:"error,omitempty"`
}

// Fail builds a failed result with a human-readable error.
func Fail(err string) *Result {
	return &Result{Success: false, Error: err}
}

// ModelText renders the result as the text fed back to the model.
func (r *Result) ModelText() string {
	data, err := json.Marshal(r)
	if err != nil {
		if r.Error != "" {
			return `{"success":false,"error":"result serialization failed"}`
		}
		return `{"success":true}`
	}
	return string(data)
}
