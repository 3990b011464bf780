// Ollmini is a desktop agent client for Ollama-compatible inference
// servers. It streams model responses, lets the model invoke local
// tools (file read/write/edit, shell execution, web search/fetch)
// under a persisted permission model, and automatically continues the
// conversation with tool results until the model answers in text or
// the safety governor halts the loop.
//
// Usage:
//
//	ollmini chat             Start an interactive chat session
//	ollmini ask <question>   Ask a single question and exit
//	ollmini models           List models available on the server
//	ollmini version          Print version and build information
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/agent"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/buildinfo"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/config"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/events"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/fetch"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/history"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/llm"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/permission"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/retrieval"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/safety"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/search"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/session"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/tools"
	"github.com/Bierdieb/ollmini-devBox-sub001/internal/web"
)

const defaultSystemPrompt = `You are a capable coding and research assistant running on the user's machine. You can read, write, and edit files in the workspace, run shell commands, and search or fetch the web when those tools are available. Use tools when they help; always finish with a clear text answer.`

// main constructs the OS-level environment and delegates to run so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var resume bool
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-resume":
			resume = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "chat":
		return runChat(ctx, stdout, stderr, configPath, resume, nil)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: ollmini ask <question>")
		}
		return runChat(ctx, stdout, stderr, configPath, resume, cmdArgs)
	case "models":
		return runModels(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Ollmini - Local Agent Client for Ollama")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ollmini [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Start an interactive chat session")
	fmt.Fprintln(w, "  ask          Ask a single question and exit")
	fmt.Fprintln(w, "  models       List models available on the server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -resume           Continue the most recent stored conversation")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		// No config anywhere: run on defaults.
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

func runModels(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client := llm.NewClient(cfg.Ollama.URL, time.Duration(cfg.Ollama.RequestTimeoutSec)*time.Second, slog.Default())

	names, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, n := range names {
		marker := " "
		if n == cfg.Models.Default {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %s\n", marker, n)
	}
	return nil
}

// runChat boots the full agent and either processes one question
// (question non-nil) or enters the interactive read-eval loop.
func runChat(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, resume bool, question []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if level, err = config.ParseLogLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	logger := newLogger(stderr, level)
	logger.Info("starting", "version", buildinfo.String(), "config", cfgPath)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model := cfg.Models.Default
	client := llm.NewClient(cfg.Ollama.URL, time.Duration(cfg.Ollama.RequestTimeoutSec)*time.Second, logger)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("inference server unreachable at %s: %w", cfg.Ollama.URL, err)
	}

	// Workspace and tools
	registry := tools.NewRegistry(logger)
	procs := tools.NewProcessRegistry()
	defer procs.KillAll()

	workdirPath := cfg.Workspace.Path
	if workdirPath == "" {
		workdirPath, _ = os.Getwd()
	}
	workdir, err := session.NewWorkDir(workdirPath)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	tools.NewFileTools(workdir).RegisterAll(registry)
	if cfg.ShellExec.Enabled {
		shell := tools.NewShellExec(workdir, procs, tools.ShellConfig{
			DefaultTimeout: time.Duration(cfg.ShellExec.DefaultTimeoutSec) * time.Second,
			MaxOutputBytes: cfg.ShellExec.MaxOutputBytes,
		}, logger)
		shell.Register(registry)
	}
	fetch.Register(registry, fetch.New())
	if cfg.Search.Provider == "searxng" && cfg.Search.SearxngURL != "" {
		search.Register(registry, search.NewSearXNG(cfg.Search.SearxngURL))
	}
	logger.Info("tools registered", "tools", registry.Names(), "workdir", workdir.Path())

	// Permission gate
	permDir := cfg.Permissions.Dir
	if permDir == "" {
		permDir = permission.DefaultDir()
	}
	gate, err := permission.Open(permDir, model, workdir.Path(), logger)
	if err != nil {
		return fmt.Errorf("permission store: %w", err)
	}

	// Optional collaborators
	var retriever retrieval.Searcher
	if cfg.Retrieval.Enabled && cfg.Retrieval.URL != "" {
		retriever = retrieval.NewClient(cfg.Retrieval.URL, time.Duration(cfg.Retrieval.TimeoutSec)*time.Second)
	}

	var store *history.Store
	if cfg.DataDir != "" {
		store, err = history.OpenStore(filepath.Join(cfg.DataDir, "ollmini.db"))
		if err != nil {
			logger.Warn("history persistence disabled", "error", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	var bus *events.Bus
	if cfg.Events.Enabled {
		bus = events.New()
		srv := web.NewServer(fmt.Sprintf("%s:%d", cfg.Events.Address, cfg.Events.Port), bus, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("events endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	governor := safety.NewGovernor(cfg.Safety, model, cfg.Models.ContextWindow(model), logger)
	hist := history.New(defaultSystemPrompt)

	var conversationID string
	if resume && store != nil {
		id, storedModel, err := store.LatestConversation()
		switch {
		case err != nil:
			logger.Warn("resume failed", "error", err)
		case id == "":
			logger.Info("no stored conversation to resume")
		default:
			msgs, err := store.LoadMessages(id)
			if err != nil {
				logger.Warn("resume failed", "error", err)
				break
			}
			hist.Restore(msgs)
			conversationID = id
			logger.Info("resumed conversation", "id", id, "messages", len(msgs), "model", storedModel)
		}
	}

	stdin := bufio.NewReader(os.Stdin)
	prompter := &cliPrompter{in: stdin, out: stdout}

	opts := llm.Options(cfg.Models.Options)
	ctrl := agent.New(agent.Config{
		Model:                model,
		Options:              &opts,
		Workdir:              workdir.Path(),
		IterationTimeout:     cfg.Safety.IterationTimeout(),
		RetrievalMaxFailures: cfg.Retrieval.MaxFailures,
		ConversationID:       conversationID,
	}, client, hist, registry, gate, prompter, governor, retriever, store, bus, logger)

	if len(question) > 0 {
		return oneTurn(ctx, stdout, ctrl, strings.Join(question, " "))
	}

	fmt.Fprintf(stdout, "ollmini %s | model %s | workdir %s\n", buildinfo.Info()["version"], model, workdir.Path())
	fmt.Fprintln(stdout, "Type a message, or /quit to exit.")
	for {
		fmt.Fprint(stdout, "\n> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Fprintln(stdout)
			return nil
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		}
		if err := oneTurn(ctx, stdout, ctrl, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(stdout, "error: %v\n", err)
		}
	}
}

// oneTurn runs a single user message through the loop, streaming
// content to stdout as it arrives.
func oneTurn(ctx context.Context, stdout io.Writer, ctrl *agent.Controller, message string) error {
	inThinking := false
	res, err := ctrl.Run(ctx, message, func(e llm.Event) {
		switch e.Kind {
		case llm.KindThinking:
			if !inThinking {
				fmt.Fprint(stdout, "[thinking] ")
				inThinking = true
			}
		case llm.KindContent:
			if inThinking {
				fmt.Fprintln(stdout)
				inThinking = false
			}
			fmt.Fprint(stdout, e.Text)
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout)
	if res.Stopped {
		fmt.Fprintln(stdout, "[stopped]")
	}
	if res.Halted {
		fmt.Fprintf(stdout, "[loop stopped: %s]\n", res.Reason)
	}
	return nil
}

// cliPrompter asks for tool permission on the terminal.
type cliPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *cliPrompter) Prompt(ctx context.Context, toolName, fingerprint string, args map[string]any) (permission.Decision, error) {
	detail := ""
	if toolName == permission.ShellTool {
		if cmd, ok := args["command"].(string); ok {
			detail = cmd
		}
	} else if len(args) > 0 {
		if data, err := json.Marshal(args); err == nil {
			detail = string(data)
		}
	}

	fmt.Fprintf(p.out, "\nPermission requested: %s\n", toolName)
	if detail != "" {
		fmt.Fprintf(p.out, "  %s\n", detail)
	}
	for {
		fmt.Fprint(p.out, "Allow? [y]es once / [a]lways / [n]o: ")
		line, err := p.in.ReadString('\n')
		if err != nil {
			return permission.Deny, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return permission.AllowOnce, nil
		case "a", "always":
			return permission.AllowAlways, nil
		case "n", "no", "":
			return permission.Deny, nil
		}
	}
}
