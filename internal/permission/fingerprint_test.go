package permission

import (
	"strings"
	"testing"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"non-shell tool is its name", "read_file", map[string]any{"path": "a.go"}, "read_file"},
		{"shell first token", "bash", map[string]any{"command": "ls -la /tmp"}, "bash:ls"},
		{"shell single token", "bash", map[string]any{"command": "pwd"}, "bash:pwd"},
		{"shell leading whitespace", "bash", map[string]any{"command": "  git status"}, "bash:git"},
		{"shell missing command", "bash", nil, "bash:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fingerprint(tt.tool, tt.args); got != tt.want {
				t.Errorf("Fingerprint = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFingerprintCredentialSalting(t *testing.T) {
	// Same first token, so a plain "always allow" for cat would cover
	// the sensitive variant if the salt were missing.
	plain := Fingerprint(ShellTool, map[string]any{"command": "cat notes.txt"})
	salted := Fingerprint(ShellTool, map[string]any{"command": "cat .env"})

	if plain == salted {
		t.Fatal("credential-sensitive command shares fingerprint with plain command")
	}
	if plain != "bash:cat" {
		t.Errorf("plain fingerprint = %q", plain)
	}
	if !strings.Contains(salted, "!") {
		t.Errorf("salted fingerprint not marked: %q", salted)
	}

	// Two different credential-bearing commands with the same first
	// token must not collapse onto one key.
	a := Fingerprint(ShellTool, map[string]any{"command": "export P4PASSWD=hunter2"})
	b := Fingerprint(ShellTool, map[string]any{"command": "export OTHER_TOKEN=abc123"})
	if a == b {
		t.Error("distinct credential commands share a fingerprint")
	}
}

func TestCredentialSensitive(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"ls -la", false},
		{"git status", false},
		{"echo hello", false},
		{"P4PASSWD=secret p4 sync", true},
		{"export API_KEY=abc", true},
		{"MY_SECRET=1 ./run.sh", true},
		{"GITHUB_TOKEN=x gh api /user", true},
		{"printenv", true},
		{"env | grep HOME", true},
		{"cat .env", true},
		{"cat ~/.netrc", true},
		{"head -n5 ~/.ssh/id_rsa", true},
		{"grep key ~/.aws/credentials", true},
		{"mysql --password=root", true},
		{"environment.sh", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := CredentialSensitive(tt.command); got != tt.want {
				t.Errorf("CredentialSensitive(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}
