package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Bierdieb/ollmini-devBox-sub001/internal/session"
)

// deniedFilenames are credential-bearing files rejected even when their
// path is contained in the working directory.
var deniedFilenames = map[string]bool{
	".env":                true,
	".env.local":          true,
	".env.production":     true,
	".env.development":    true,
	".git-credentials":    true,
	".netrc":              true,
	"_netrc":              true,
	"id_rsa":              true,
	"id_ed25519":          true,
	"credentials":         true, // ~/.aws/credentials and friends
	"secrets.json":        true,
	"settings.local.json": true,
}

// maxReadBytes bounds file content returned to the model.
const maxReadBytes = 50 * 1024

// FileTools provides read/write/edit/list handlers contained to the
// shared session working directory.
type FileTools struct {
	workdir *session.WorkDir
}

// NewFileTools creates file tools rooted at the session working directory.
func NewFileTools(workdir *session.WorkDir) *FileTools {
	return &FileTools{workdir: workdir}
}

// resolve anchors path at the working directory, verifies containment,
// and applies the credential-file denylist. All checks happen before
// any I/O.
func (ft *FileTools) resolve(path string) (string, error) {
	abs, err := ft.workdir.Resolve(path)
	if err != nil {
		return "", err
	}
	if deniedFilenames[strings.ToLower(filepath.Base(abs))] {
		return "", fmt.Errorf("access to credential file denied: %s", filepath.Base(abs))
	}
	return abs, nil
}

// Read returns file contents, optionally a line window.
func (ft *FileTools) Read(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return Fail("path is required")
	}

	abs, err := ft.resolve(path)
	if err != nil {
		return Fail(err.Error())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(fmt.Sprintf("file not found: %s", path))
		}
		return Fail(fmt.Sprintf("failed to read file: %v", err))
	}

	content := string(data)

	offset := intArg(args, "offset")
	limit := intArg(args, "limit")
	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")
		start := 0
		if offset > 0 {
			start = offset - 1
		}
		if start >= len(lines) {
			return Fail(fmt.Sprintf("offset %d exceeds file length (%d lines)", offset, len(lines)))
		}
		end := len(lines)
		if limit > 0 && start+limit < end {
			end = start + limit
		}
		content = strings.Join(lines[start:end], "\n")
		if start > 0 || end < len(lines) {
			content = fmt.Sprintf("[Lines %d-%d of %d]\n%s", start+1, end, len(lines), content)
		}
	}

	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n\n[... truncated, use offset/limit for more ...]"
	}

	return &Result{Success: true, Content: content}
}

// Write writes content to a file, creating directories as needed.
func (ft *FileTools) Write(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return Fail("path is required")
	}

	abs, err := ft.resolve(path)
	if err != nil {
		return Fail(err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Fail(fmt.Sprintf("failed to create directory: %v", err))
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Fail(fmt.Sprintf("failed to write file: %v", err))
	}

	return &Result{Success: true, Message: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
}

// Edit performs a surgical text replacement. The old text must occur in
// the file, and exactly once unless replace_all is set.
func (ft *FileTools) Edit(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	oldText, _ := args["old_string"].(string)
	newText, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	if path == "" {
		return Fail("path is required")
	}
	if oldText == "" {
		return Fail("old_string is required")
	}

	abs, err := ft.resolve(path)
	if err != nil {
		return Fail(err.Error())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(fmt.Sprintf("file not found: %s", path))
		}
		return Fail(fmt.Sprintf("failed to read file: %v", err))
	}
	content := string(data)

	count := strings.Count(content, oldText)
	if count == 0 {
		if len(oldText) > 100 {
			return Fail(fmt.Sprintf("old_string not found in file (first 100 chars: %q...)", oldText[:100]))
		}
		return Fail(fmt.Sprintf("old_string not found in file: %q", oldText))
	}
	if count > 1 && !replaceAll {
		return Fail(fmt.Sprintf("old_string appears %d times in file; must be unique, or set replace_all", count))
	}

	var newContent string
	if replaceAll {
		newContent = strings.ReplaceAll(content, oldText, newText)
	} else {
		newContent = strings.Replace(content, oldText, newText, 1)
	}

	if err := os.WriteFile(abs, []byte(newContent), 0o644); err != nil {
		return Fail(fmt.Sprintf("failed to write file: %v", err))
	}

	replaced := 1
	if replaceAll {
		replaced = count
	}
	return &Result{Success: true, Message: fmt.Sprintf("replaced %d occurrence(s) in %s", replaced, path)}
}

// List lists directory entries. Directories carry a trailing slash.
func (ft *FileTools) List(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	abs, err := ft.resolve(path)
	if err != nil {
		return Fail(err.Error())
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(fmt.Sprintf("directory not found: %s", path))
		}
		return Fail(fmt.Sprintf("failed to read directory: %v", err))
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		files = append(files, name)
	}

	return &Result{Success: true, Files: files}
}

// RegisterAll adds the file tools to the registry.
func (ft *FileTools) RegisterAll(r *Registry) {
	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read a file from the workspace. Supports an optional line window via offset/limit.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the working directory",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "1-indexed first line to return",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to return",
				},
			},
			"required": []string{"path"},
		},
		Handler: ft.Read,
	})

	r.Register(&Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the working directory",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full file content to write",
				},
			},
			"required": []string{"path", "content"},
		},
		Handler: ft.Write,
	})

	r.Register(&Tool{
		Name:        "edit_file",
		Description: "Replace text in a file. old_string must match exactly and be unique unless replace_all is true.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the working directory",
				},
				"old_string": map[string]any{
					"type":        "string",
					"description": "Exact text to replace",
				},
				"new_string": map[string]any{
					"type":        "string",
					"description": "Replacement text",
				},
				"replace_all": map[string]any{
					"type":        "boolean",
					"description": "Replace every occurrence instead of requiring uniqueness",
				},
			},
			"required": []string{"path", "old_string", "new_string"},
		},
		Handler: ft.Edit,
	})

	r.Register(&Tool{
		Name:        "list_dir",
		Description: "List files and directories at a workspace path. Directories end with a slash.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the working directory (default: .)",
				},
			},
		},
		Handler: ft.List,
	})
}

// intArg reads an integer argument. JSON numbers decode as float64.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
