// Package registry maps live pids to their tracked processes and owns the
// per-pip state: compiled manifest, decision cache, and process tree. A pip
// and everything it owns exists from registration until its tree completes.
package registry

import (
	"fmt"
	"sync"

	"github.com/majorcontext/rampart/internal/access"
	"github.com/majorcontext/rampart/internal/manifest"
	"github.com/majorcontext/rampart/internal/proctree"
)

// Pip is one registered build step. It satisfies access.Pip.
type Pip struct {
	id        string
	rootPID   int
	treeSize  int
	flags     access.Flags
	policy    *manifest.Index
	decisions *access.Cache
	tree      *proctree.Tracker
}

func (p *Pip) ID() string               { return p.id }
func (p *Pip) RootPID() int             { return p.rootPID }
func (p *Pip) TreeSize() int            { return p.treeSize }
func (p *Pip) Flags() access.Flags      { return p.flags }
func (p *Pip) Policy() *manifest.Index  { return p.policy }
func (p *Pip) Decisions() *access.Cache { return p.decisions }
func (p *Pip) Tree() *proctree.Tracker  { return p.tree }

// TrackedProcess is one live process attributed to a pip. It satisfies
// access.Process.
type TrackedProcess struct {
	pid int
	pip *Pip
}

func (t *TrackedProcess) Pid() int        { return t.pid }
func (t *TrackedProcess) Pip() access.Pip { return t.pip }

// Registry is the concurrent pid-to-process table.
type Registry struct {
	mu    sync.RWMutex
	procs map[int]*TrackedProcess
	pips  map[string]*Pip
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		procs: make(map[int]*TrackedProcess),
		pips:  make(map[string]*Pip),
	}
}

// AddPip registers a pip, its root process, and its process tree. The
// onCompleted callback fires exactly once when the whole tree has exited;
// the registry tears the pip down before invoking it.
func (r *Registry) AddPip(id string, rootPID, treeSize int, flags access.Flags, policy *manifest.Index, onCompleted func(*Pip)) (*Pip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pips[id]; ok {
		return nil, fmt.Errorf("registry: pip %q already registered", id)
	}

	pip := &Pip{
		id:        id,
		rootPID:   rootPID,
		treeSize:  treeSize,
		flags:     flags,
		policy:    policy,
		decisions: access.NewCache(),
	}
	pip.tree = proctree.NewTracker(treeSize, func() {
		r.removePip(pip)
		if onCompleted != nil {
			onCompleted(pip)
		}
	})

	r.pips[id] = pip
	r.procs[rootPID] = &TrackedProcess{pid: rootPID, pip: pip}
	pip.tree.Touch(rootPID)
	return pip, nil
}

// Lookup resolves a pid to its tracked process.
func (r *Registry) Lookup(pid int) (access.Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proc, ok := r.procs[pid]
	if !ok {
		return nil, false
	}
	return proc, true
}

// Pip returns a registered pip by id.
func (r *Registry) Pip(id string) (*Pip, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pip, ok := r.pips[id]
	return pip, ok
}

// Spawn attributes a new child process to a pip and registers it in the
// tree. Spawning under an unknown or completed pip is an error.
func (r *Registry) Spawn(pipID string, childPID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pip, ok := r.pips[pipID]
	if !ok {
		return fmt.Errorf("registry: spawn for unknown pip %q", pipID)
	}
	// The tree is updated under the registry lock so a concurrent
	// completion cannot tear the pip down between the admission and the
	// table insert. A spawn never completes a tree, so the completion
	// callback cannot re-enter here.
	if !pip.tree.ReportChildProcessSpawned(childPID) && pip.tree.Completed() {
		return fmt.Errorf("registry: spawn for completed pip %q", pipID)
	}
	r.procs[childPID] = &TrackedProcess{pid: childPID, pip: pip}
	return nil
}

// Adopt lazily admits a pid whose first access outran its spawn
// registration. A benign reordering, not an error.
func (r *Registry) Adopt(pipID string, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pip, ok := r.pips[pipID]
	if !ok {
		return fmt.Errorf("registry: adopt for unknown pip %q", pipID)
	}
	if _, exists := r.procs[pid]; exists {
		return nil
	}
	if pip.tree.Completed() {
		return fmt.Errorf("registry: adopt for completed pip %q", pipID)
	}
	pip.tree.Touch(pid)
	r.procs[pid] = &TrackedProcess{pid: pid, pip: pip}
	return nil
}

// Exited removes a process and updates its pip's tree. The tree's
// completion callback may fire from inside this call.
func (r *Registry) Exited(pid int) {
	r.mu.Lock()
	proc, ok := r.procs[pid]
	if ok {
		delete(r.procs, pid)
	}
	r.mu.Unlock()

	if ok {
		proc.pip.tree.ReportProcessExited(pid)
	}
}

func (r *Registry) removePip(pip *Pip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pips, pip.id)
	for pid, proc := range r.procs {
		if proc.pip == pip {
			delete(r.procs, pid)
		}
	}
}
