// Package permission gates every tool invocation behind a persisted,
// fingerprint-based allow-list with a human-in-the-loop prompt for
// anything not yet authorized. Credential-sensitive shell commands get
// salted fingerprints so an "always allow" can never durably cover them.
package permission

import (
	"fmt"
	"regexp"
	"strings"
)

// ShellTool is the registered name of the shell execution tool.
// Fingerprints for it key on the command, not the tool name.
const ShellTool = "bash"

// credentialPatterns match commands that expose or carry secrets:
// inline password/token assignments, environment dumps, and reads of
// known credential files. Matching is case-insensitive on the whole
// command line.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b[A-Z0-9_]*(?:PASSWD|PASSWORD|SECRET|TOKEN|API_?KEY)[A-Z0-9_]*=`),
	regexp.MustCompile(`(?i)^\s*(?:printenv|env|set|export)\s*(?:$|\|)`),
	regexp.MustCompile(`(?i)\bprintenv\b`),
	regexp.MustCompile(`(?i)\b(?:cat|less|more|head|tail|grep|cp|scp)\b[^|;&]*(?:\.env\b|\.git-credentials|\.netrc|_netrc|id_rsa|id_ed25519|\.aws/credentials|\.ssh/)`),
	regexp.MustCompile(`(?i)--password[= ]`),
}

// CredentialSensitive reports whether a shell command matches a known
// credential-exposure pattern.
func CredentialSensitive(command string) bool {
	for _, p := range credentialPatterns {
		if p.MatchString(command) {
			return true
		}
	}
	return false
}

// Fingerprint computes the allow-list key for a tool invocation.
//
// Shell commands key on their first whitespace-delimited token
// ("bash:ls"), so an "always allow" for ls covers every ls invocation.
// A command matching a credential-sensitive pattern is instead salted
// with a prefix of the full command line: the resulting key is specific
// to that exact invocation and is additionally refused persistence by
// [Gate.RecordAllowed], so no prior decision can ever silently cover a
// secret-bearing command.
//
// Every other tool fingerprints as its own name.
func Fingerprint(toolName string, args map[string]any) string {
	if toolName != ShellTool {
		return toolName
	}

	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	first := command
	if idx := strings.IndexFunc(command, func(r rune) bool { return r == ' ' || r == '\t' }); idx >= 0 {
		first = command[:idx]
	}

	if CredentialSensitive(command) {
		return fmt.Sprintf("%s:%s!%s", ShellTool, first, prefix(command, 48))
	}
	return ShellTool + ":" + first
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
