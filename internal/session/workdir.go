// Package session holds per-session mutable state shared between tool
// handlers. The working directory lives here as an explicit, owned
// object rather than a free-floating variable, so its mutation points
// (cd commands that succeed) are visible and testable.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WorkDir is the shared working directory for filesystem and shell
// tools. All file paths resolve against it and every resolved path
// must remain contained within it.
type WorkDir struct {
	mu   sync.RWMutex
	path string
}

// NewWorkDir creates a WorkDir rooted at path. The path is made
// absolute at construction time so containment checks compare like
// with like.
func NewWorkDir(path string) (*WorkDir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	return &WorkDir{path: abs}, nil
}

// Path returns the current working directory.
func (w *WorkDir) Path() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.path
}

// Set updates the working directory. The target must exist and be a
// directory; relative targets resolve against the current directory.
func (w *WorkDir) Set(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(w.path, target)
	}
	target = filepath.Clean(target)

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("directory does not exist: %s", path)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}

	w.path = target
	return nil
}

// Resolve converts a tool-supplied path to an absolute path anchored at
// the working directory and verifies the result stays inside it. Both
// `..` traversal and absolute paths pointing elsewhere are rejected
// before any I/O happens.
func (w *WorkDir) Resolve(path string) (string, error) {
	w.mu.RLock()
	root := w.path
	w.mu.RUnlock()

	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Clean(filepath.Join(root, path))
	}

	if abs != root && !isSubpath(root, abs) {
		return "", fmt.Errorf("path escapes working directory: %s", path)
	}

	return abs, nil
}

// isSubpath reports whether child is strictly inside parent. A plain
// prefix check is not enough: /work-evil must not pass for /work.
func isSubpath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	if rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return false
	}
	return rel != "."
}
