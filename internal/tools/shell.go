package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/permission"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/session"
)

// secretEnvNames are environment variables never inherited by child
// processes, in addition to any name carrying a secret-looking suffix.
var secretEnvNames = map[string]bool{
	"AWS_SECRET_ACCESS_KEY": true,
	"AWS_SESSION_TOKEN":     true,
	"GITHUB_TOKEN":          true,
	"GH_TOKEN":              true,
	"OPENAI_API_KEY":        true,
	"ANTHROPIC_API_KEY":     true,
	"GOOGLE_API_KEY":        true,
	"NPM_TOKEN":             true,
	"P4PASSWD":              true,
}

var secretEnvSuffixes = []string{"_TOKEN", "_SECRET", "_PASSWORD", "_API_KEY", "_ACCESS_KEY"}

// ShellExec provides sandboxed command execution. It shares the session
// working directory with the file tools: a successful cd updates it for
// every subsequent call.
type ShellExec struct {
	workdir        *session.WorkDir
	procs          *ProcessRegistry
	defaultTimeout time.Duration
	maxOutputBytes int
	logger         *slog.Logger
}

// ShellConfig configures the shell executor.
type ShellConfig struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// NewShellExec creates a shell executor.
func NewShellExec(workdir *session.WorkDir, procs *ProcessRegistry, cfg ShellConfig, logger *slog.Logger) *ShellExec {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellExec{
		workdir:        workdir,
		procs:          procs,
		defaultTimeout: cfg.DefaultTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
		logger:         logger,
	}
}

// Exec runs one shell command. Commands matching credential-exposure
// patterns are rejected before any process spawns; the child inherits a
// scrubbed environment; output is bounded; timeout kills the process.
// Commands are never retried; errors return verbatim to the model.
func (s *ShellExec) Exec(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return Fail("command is required")
	}

	if permission.CredentialSensitive(command) {
		return Fail("command blocked: it matches a credential-exposure pattern (inline secrets, environment dumps, or credential file access)")
	}

	timeout := s.defaultTimeout
	if t := intArg(args, "timeout"); t > 0 {
		timeout = time.Duration(t) * time.Second
	}
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	translated := translateCommand(command, runtime.GOOS)
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", translated)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", translated)
	}
	cmd.Dir = s.workdir.Path()
	cmd.Env = scrubEnv(os.Environ())

	var stdout, stderr boundedBuffer
	stdout.max = s.maxOutputBytes
	stderr.max = s.maxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Fail(fmt.Sprintf("failed to start command: %v", err))
	}
	s.procs.Track(cmd.Process)
	err := cmd.Wait()
	s.procs.Untrack(cmd.Process.Pid)

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		result.Error = fmt.Sprintf("command timed out after %s", timeout)
		return result
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Error = fmt.Sprintf("exit status %d", result.ExitCode)
		} else {
			result.ExitCode = -1
			result.Error = err.Error()
		}
		return result
	}

	result.Success = true
	s.applyDirectoryChange(command)
	return result
}

// applyDirectoryChange updates the shared working directory when the
// command was a plain cd that exited successfully and the target
// exists. Later calls in the same batch then resolve against it.
func (s *ShellExec) applyDirectoryChange(command string) {
	fields := strings.Fields(command)
	if len(fields) != 2 || fields[0] != "cd" {
		return
	}
	target := strings.Trim(fields[1], `"'`)
	if err := s.workdir.Set(target); err != nil {
		s.logger.Debug("cd succeeded in shell but directory not adopted", "target", target, "error", err)
		return
	}
	s.logger.Debug("working directory changed", "dir", s.workdir.Path())
}

// scrubEnv removes known secret variables from an environment list.
func scrubEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if secretEnv(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func secretEnv(name string) bool {
	upper := strings.ToUpper(name)
	if secretEnvNames[upper] {
		return true
	}
	for _, suffix := range secretEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// boundedBuffer stores at most max bytes and drops the rest, noting the
// truncation. Keeps runaway commands from exhausting memory.
type boundedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n\n[... output truncated ...]"
	}
	return b.buf.String()
}

// Register adds the shell tool to the registry.
func (s *ShellExec) Register(r *Registry) {
	r.Register(&Tool{
		Name:        permission.ShellTool,
		Description: "Execute a shell command in the working directory. A successful `cd <dir>` changes the working directory for subsequent commands.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command to execute",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (default 30, max 300)",
				},
			},
			"required": []string{"command"},
		},
		Handler: s.Exec,
	})
}
