// Package config handles ollmini configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/ollmini/config.yaml, /etc/ollmini/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ollmini", "config.yaml"))
	}

	paths = append(paths, "/etc/ollmini/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all ollmini configuration.
type Config struct {
	Ollama      OllamaConfig    `yaml:"ollama"`
	Models      ModelsConfig    `yaml:"models"`
	Workspace   WorkspaceConfig `yaml:"workspace"`
	ShellExec   ShellExecConfig `yaml:"shell_exec"`
	Permissions PermConfig      `yaml:"permissions"`
	Safety      SafetyConfig    `yaml:"safety"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Search      SearchConfig    `yaml:"search"`
	Events      EventsConfig    `yaml:"events"`
	DataDir     string          `yaml:"data_dir"`
	LogLevel    string          `yaml:"log_level"`
}

// OllamaConfig defines the inference server connection.
type OllamaConfig struct {
	URL string `yaml:"url"` // Default: http://localhost:11434

	// RequestTimeout bounds a single streaming request end to end.
	// Zero means no client-side timeout (streams can run long).
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// ModelsConfig defines the active model and its generation options.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	Options   ModelOptions  `yaml:"options"`
	Available []ModelConfig `yaml:"available"`
}

// ModelOptions are generation parameters sent with every chat request.
type ModelOptions struct {
	Temperature   float64 `yaml:"temperature"`
	NumCtx        int     `yaml:"num_ctx"`
	TopP          float64 `yaml:"top_p"`
	TopK          int     `yaml:"top_k"`
	RepeatPenalty float64 `yaml:"repeat_penalty"`
	Seed          *int    `yaml:"seed,omitempty"`
}

// ModelConfig defines a single model's capabilities. ContextWindow is
// the lookup the safety governor uses for the context-overflow check.
type ModelConfig struct {
	Name          string `yaml:"name"`
	SupportsTools bool   `yaml:"supports_tools"`
	Thinking      bool   `yaml:"thinking"` // Model emits reasoning traces
	ContextWindow int    `yaml:"context_window"`
}

// ContextWindow returns the configured context window for a model name,
// falling back to a conservative default when the model is unknown.
func (m ModelsConfig) ContextWindow(name string) int {
	for _, mc := range m.Available {
		if mc.Name == name {
			return mc.ContextWindow
		}
	}
	return 8192
}

// WorkspaceConfig defines the agent's workspace for file and shell tools.
type WorkspaceConfig struct {
	// Path is the root directory for file operations. All file tool
	// paths resolve relative to it; paths that escape it are rejected.
	// If empty, file and shell tools are disabled.
	Path string `yaml:"path"`
}

// ShellExecConfig defines shell execution settings.
type ShellExecConfig struct {
	// Enabled allows shell command execution. Disabled by default for safety.
	Enabled bool `yaml:"enabled"`
	// DefaultTimeoutSec is the per-command timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
	// MaxOutputBytes bounds captured stdout/stderr (default 100KB).
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// PermConfig defines the persisted tool allow-list store.
type PermConfig struct {
	// Dir overrides the store location. Default: ~/.ollmini/permissions.
	Dir string `yaml:"dir"`
}

// SafetyConfig holds the loop-termination thresholds. The defaults are
// deliberate and should rarely be changed; they exist so deployments
// can tighten them, not as tunables to raise casually.
type SafetyConfig struct {
	// ContextUsageLimit halts the loop when estimated token usage
	// exceeds this fraction of the model's context window. Default 0.90.
	ContextUsageLimit float64 `yaml:"context_usage_limit"`
	// EmptyNudgeAt injects a mild text reminder at this many
	// consecutive tool-only assistant turns. Default 2.
	EmptyNudgeAt int `yaml:"empty_nudge_at"`
	// EmptyForceAt injects a forceful instruction. Default 3.
	EmptyForceAt int `yaml:"empty_force_at"`
	// EmptyHaltAt halts the loop. Default 4.
	EmptyHaltAt int `yaml:"empty_halt_at"`
	// MaxToolCalls is the absolute per-conversation ceiling. Default 50.
	MaxToolCalls int `yaml:"max_tool_calls"`
	// IterationTimeoutSec bounds one full loop iteration. Default 600.
	IterationTimeoutSec int `yaml:"iteration_timeout_sec"`
}

// RetrievalConfig defines the optional RAG sidecar.
type RetrievalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"` // Default 10
	// MaxFailures disables retrieval for the session after this many
	// consecutive search failures. Default 3.
	MaxFailures int `yaml:"max_failures"`
}

// SearchConfig defines web search providers.
type SearchConfig struct {
	Provider   string `yaml:"provider"` // e.g. "searxng"
	SearxngURL string `yaml:"searxng_url"`
}

// EventsConfig defines the local event stream endpoint for the UI.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Default: 127.0.0.1
	Port    int    `yaml:"port"`    // Default: 7391
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			URL: "http://localhost:11434",
		},
		Models: ModelsConfig{
			Default: "qwen3:8b",
			Options: ModelOptions{
				Temperature:   0.7,
				NumCtx:        8192,
				TopP:          0.9,
				TopK:          40,
				RepeatPenalty: 1.1,
			},
			Available: []ModelConfig{
				{Name: "qwen3:8b", SupportsTools: true, Thinking: true, ContextWindow: 32768},
				{Name: "llama3.1:8b", SupportsTools: true, ContextWindow: 131072},
				{Name: "gpt-oss:20b", SupportsTools: true, Thinking: true, ContextWindow: 131072},
			},
		},
		ShellExec: ShellExecConfig{
			DefaultTimeoutSec: 30,
			MaxOutputBytes:    100 * 1024,
		},
		Safety: SafetyConfig{
			ContextUsageLimit:   0.90,
			EmptyNudgeAt:        2,
			EmptyForceAt:        3,
			EmptyHaltAt:         4,
			MaxToolCalls:        50,
			IterationTimeoutSec: 600,
		},
		Retrieval: RetrievalConfig{
			TimeoutSec:  10,
			MaxFailures: 3,
		},
		Events: EventsConfig{
			Address: "127.0.0.1",
			Port:    7391,
		},
	}
}

// IterationTimeout returns the per-iteration ceiling as a Duration.
func (s SafetyConfig) IterationTimeout() time.Duration {
	if s.IterationTimeoutSec <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.IterationTimeoutSec) * time.Second
}
