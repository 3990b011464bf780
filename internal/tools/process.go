package tools

import (
	"os"
	"sync"
)

// ProcessRegistry tracks every child process the shell tool spawns so
// all outstanding processes can be forcibly terminated on application
// shutdown. Nil-safe: Track/Untrack/KillAll on a nil registry are no-ops.
type ProcessRegistry struct {
	mu    sync.Mutex
	procs map[int]*os.Process
}

// NewProcessRegistry creates an empty registry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{procs: make(map[int]*os.Process)}
}

// Track records a running child process.
func (pr *ProcessRegistry) Track(p *os.Process) {
	if pr == nil || p == nil {
		return
	}
	pr.mu.Lock()
	pr.procs[p.Pid] = p
	pr.mu.Unlock()
}

// Untrack removes a process once it has been reaped.
func (pr *ProcessRegistry) Untrack(pid int) {
	if pr == nil {
		return
	}
	pr.mu.Lock()
	delete(pr.procs, pid)
	pr.mu.Unlock()
}

// Count returns the number of outstanding processes.
func (pr *ProcessRegistry) Count() int {
	if pr == nil {
		return 0
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return len(pr.procs)
}

// KillAll force-terminates every outstanding child process. Called on
// application shutdown; errors from already-exited processes are
// ignored.
func (pr *ProcessRegistry) KillAll() {
	if pr == nil {
		return
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for pid, p := range pr.procs {
		_ = p.Kill()
		delete(pr.procs, pid)
	}
}
