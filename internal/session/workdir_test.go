package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveContainment(t *testing.T) {
	root := t.TempDir()
	wd, err := NewWorkDir(root)
	if err != nil {
		t.Fatalf("NewWorkDir: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative inside", "src/x.go", false},
		{"dot", ".", false},
		{"nested relative", "a/b/c.txt", false},
		{"traversal escape", "../../etc/passwd", true},
		{"absolute escape", "/etc/passwd", true},
		{"dotdot at root", "..", true},
		{"sneaky traversal", "src/../../outside", true},
		{"traversal that stays inside", "src/../ok.txt", false},
		{"absolute inside", filepath.Join(root, "file.txt"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wd.Resolve(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Resolve(%q) = %q, want containment error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.path, err)
			}
			if got != root && !strings.HasPrefix(got, root+string(filepath.Separator)) {
				t.Errorf("Resolve(%q) = %q, not under %q", tt.path, got, root)
			}
		})
	}
}

func TestResolveRejectsSiblingPrefix(t *testing.T) {
	root := t.TempDir()
	wd, err := NewWorkDir(root)
	if err != nil {
		t.Fatalf("NewWorkDir: %v", err)
	}

	// A sibling directory sharing the root as a name prefix must not
	// pass the containment check.
	if _, err := wd.Resolve(root + "-evil/file"); err == nil {
		t.Error("sibling prefix path passed containment")
	}
}

func TestSet(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(root, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	wd, err := NewWorkDir(root)
	if err != nil {
		t.Fatalf("NewWorkDir: %v", err)
	}

	if err := wd.Set("sub"); err != nil {
		t.Fatalf("Set relative: %v", err)
	}
	if wd.Path() != sub {
		t.Errorf("Path() = %q, want %q", wd.Path(), sub)
	}

	if err := wd.Set(".."); err != nil {
		t.Fatalf("Set ..: %v", err)
	}
	if wd.Path() != root {
		t.Errorf("Path() = %q, want %q", wd.Path(), root)
	}

	if err := wd.Set("missing"); err == nil {
		t.Error("Set to missing directory succeeded")
	}
	if err := wd.Set(file); err == nil {
		t.Error("Set to regular file succeeded")
	}
	if wd.Path() != root {
		t.Errorf("failed Set mutated path to %q", wd.Path())
	}
}
