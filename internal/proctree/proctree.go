// Package proctree tracks the live process tree of a pip. A pip is complete
// only when its root process and every descendant it spawned, directly or
// transitively, has exited; descendants can keep issuing attributable
// accesses after the root is gone.
package proctree

import "sync"

// Tracker maintains the set of live descendants for one pip and fires a
// completion callback exactly once, when the declared tree has fully
// drained.
//
// The OS does not guarantee spawn-before-access-before-exit delivery order,
// so the tracker lazily admits a pid it has never seen: a child's first
// access or even its exit may arrive ahead of its spawn registration.
type Tracker struct {
	mu          sync.Mutex
	live        map[int]struct{}
	seen        map[int]struct{}
	declared    int
	completed   bool
	onCompleted func()
}

// NewTracker creates a tracker for a pip whose declared tree size is
// declared (root process included). onCompleted fires exactly once, outside
// the tracker's lock, when every declared process has been seen and the live
// set is empty. A nil callback is allowed.
func NewTracker(declared int, onCompleted func()) *Tracker {
	if declared < 1 {
		declared = 1
	}
	return &Tracker{
		live:        make(map[int]struct{}),
		seen:        make(map[int]struct{}),
		declared:    declared,
		onCompleted: onCompleted,
	}
}

// ReportChildProcessSpawned registers a new descendant. Returns false when
// the tree has already completed or the pid was already admitted.
func (t *Tracker) ReportChildProcessSpawned(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return false
	}
	if _, ok := t.seen[pid]; ok {
		return false
	}
	t.seen[pid] = struct{}{}
	t.live[pid] = struct{}{}
	return true
}

// Touch lazily admits a pid whose first access arrived before its spawn
// registration. A known pid is a no-op.
func (t *Tracker) Touch(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return
	}
	if _, ok := t.seen[pid]; ok {
		return
	}
	t.seen[pid] = struct{}{}
	t.live[pid] = struct{}{}
}

// ReportProcessExited removes a descendant from the live set. An exit for a
// pid never explicitly spawned still counts toward the declared tree (the
// spawn notification may simply not have been delivered yet). Returns true
// when this exit completed the tree.
func (t *Tracker) ReportProcessExited(pid int) bool {
	t.mu.Lock()
	if t.completed {
		t.mu.Unlock()
		return false
	}
	if _, ok := t.seen[pid]; !ok {
		t.seen[pid] = struct{}{}
		t.live[pid] = struct{}{}
	}
	delete(t.live, pid)

	fire := len(t.live) == 0 && len(t.seen) >= t.declared
	if fire {
		t.completed = true
	}
	t.mu.Unlock()

	if fire && t.onCompleted != nil {
		t.onCompleted()
	}
	return fire
}

// Completed reports whether the tree has fully drained.
func (t *Tracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// LiveCount returns the number of processes currently alive in the tree.
func (t *Tracker) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}
