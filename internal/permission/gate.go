package permission

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of a human-in-the-loop permission prompt.
type Decision int

const (
	// Deny refuses this call. The gate synthesizes a failed tool
	// result; the loop continues.
	Deny Decision = iota

	// AllowOnce permits this call without persisting anything.
	AllowOnce

	// AllowAlways permits this call and persists its fingerprint.
	AllowAlways
)

// Prompter is the external decision-maker consulted for calls whose
// fingerprint is not in the allow-list. Implementations block until the
// user decides or ctx is cancelled.
type Prompter interface {
	Prompt(ctx context.Context, toolName, fingerprint string, args map[string]any) (Decision, error)
}

// Record is the on-disk allow-list schema.
type Record struct {
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
	WorkingDirectory string    `json:"working_directory"`
	AllowedTools     []string  `json:"allowed_tools"`
}

// Gate holds the allow-list for one (model-family, working-directory)
// scope and persists every mutation immediately.
type Gate struct {
	mu      sync.Mutex
	path    string
	record  Record
	allowed map[string]struct{}
	logger  *slog.Logger
}

// DefaultDir returns the conventional hidden-folder store location.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ollmini/permissions"
	}
	return filepath.Join(home, ".ollmini", "permissions")
}

// ModelFamily reduces a model name to its family: the part before the
// first tag separator ("qwen3:8b" → "qwen3").
func ModelFamily(model string) string {
	if idx := strings.IndexByte(model, ':'); idx >= 0 {
		return model[:idx]
	}
	return model
}

// Open loads (or initializes) the allow-list for the given scope.
// Corrupt on-disk state self-heals to defaults: loss of stored
// permissions is acceptable, loss of the session is not.
func Open(dir, model, workingDir string, logger *slog.Logger) (*Gate, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create permission store: %w", err)
	}

	g := &Gate{
		path:   filepath.Join(dir, storeFilename(model, workingDir)),
		logger: logger,
	}
	g.record = g.load(model, workingDir)
	g.allowed = make(map[string]struct{}, len(g.record.AllowedTools))
	for _, fp := range g.record.AllowedTools {
		g.allowed[fp] = struct{}{}
	}
	return g, nil
}

// storeFilename derives one file per (model-family, working-directory)
// pair. The directory is hashed so the name stays filesystem-safe.
func storeFilename(model, workingDir string) string {
	sum := sha256.Sum256([]byte(workingDir))
	return fmt.Sprintf("%s-%x.json", ModelFamily(model), sum[:6])
}

// load reads the record, reinitializing defaults on any corruption:
// unreadable file, non-object JSON, or a missing allowed_tools array.
func (g *Gate) load(model, workingDir string) Record {
	fresh := Record{
		Model:            model,
		CreatedAt:        time.Now(),
		WorkingDirectory: workingDir,
		AllowedTools:     []string{},
	}

	data, err := os.ReadFile(g.path)
	if err != nil {
		return fresh
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		g.logger.Warn("permission store corrupt, reinitializing", "path", g.path, "error", err)
		return fresh
	}
	if rec.AllowedTools == nil {
		g.logger.Warn("permission store missing allowed_tools, reinitializing", "path", g.path)
		return fresh
	}
	return rec
}

// IsAllowed reports whether the invocation's fingerprint is in the
// persisted allow-list.
func (g *Gate) IsAllowed(toolName string, args map[string]any) bool {
	fp := Fingerprint(toolName, args)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.allowed[fp]
	return ok
}

// RecordAllowed adds the invocation's fingerprint to the allow-list and
// persists immediately. Credential-sensitive shell commands are
// accepted for this session's in-memory set but never written to disk.
func (g *Gate) RecordAllowed(toolName string, args map[string]any) error {
	fp := Fingerprint(toolName, args)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.allowed[fp]; ok {
		return nil
	}
	g.allowed[fp] = struct{}{}

	if toolName == ShellTool {
		if command, _ := args["command"].(string); CredentialSensitive(command) {
			g.logger.Info("credential-sensitive command allowed for session only", "fingerprint", fp)
			return nil
		}
	}

	g.record.AllowedTools = append(g.record.AllowedTools, fp)
	return g.persist()
}

// persist writes the record atomically (write-then-rename).
func (g *Gate) persist() error {
	data, err := json.MarshalIndent(g.record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal permission record: %w", err)
	}

	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write permission record: %w", err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		return fmt.Errorf("replace permission record: %w", err)
	}
	return nil
}

// Authorize is the per-call decision flow: a fingerprinted allow-list
// hit permits silently; otherwise the prompter is consulted. AllowAlways
// persists before returning. The returned Decision is Deny only when
// the user refused; the caller then synthesizes a failed tool result
// instructing the model to stop attempting that action.
func (g *Gate) Authorize(ctx context.Context, prompter Prompter, toolName string, args map[string]any) (Decision, error) {
	if g.IsAllowed(toolName, args) {
		return AllowOnce, nil
	}
	if prompter == nil {
		return Deny, nil
	}

	decision, err := prompter.Prompt(ctx, toolName, Fingerprint(toolName, args), args)
	if err != nil {
		return Deny, fmt.Errorf("permission prompt: %w", err)
	}

	if decision == AllowAlways {
		if err := g.RecordAllowed(toolName, args); err != nil {
			// The allow stands for this session even if persistence failed.
			g.logger.Warn("failed to persist permission", "tool", toolName, "error", err)
		}
	}
	return decision, nil
}

// DeniedMessage is the failed-result text returned to the model when
// the user denies a call.
func DeniedMessage(toolName string) string {
	return fmt.Sprintf("the user denied permission to run %q; do not attempt this action again, explain to the user what you wanted to do and why", toolName)
}
