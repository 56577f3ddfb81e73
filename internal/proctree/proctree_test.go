package proctree

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSpawnExitCompletes(t *testing.T) {
	var fired atomic.Int32
	tr := NewTracker(1, func() { fired.Add(1) })

	if !tr.ReportChildProcessSpawned(5) {
		t.Fatal("spawn should be admitted")
	}
	if tr.Completed() {
		t.Fatal("tree should not be complete while pid 5 lives")
	}
	if !tr.ReportProcessExited(5) {
		t.Fatal("exit of last pid should complete the tree")
	}
	if fired.Load() != 1 {
		t.Errorf("onCompleted fired %d times, want 1", fired.Load())
	}

	// A second exit for the same pid must not re-fire.
	if tr.ReportProcessExited(5) {
		t.Error("exit after completion should be ignored")
	}
	if fired.Load() != 1 {
		t.Errorf("onCompleted fired %d times after duplicate exit, want 1", fired.Load())
	}
}

func TestDeclaredSizeHoldsCompletion(t *testing.T) {
	var fired atomic.Int32
	tr := NewTracker(2, func() { fired.Add(1) })

	tr.ReportChildProcessSpawned(5)
	tr.ReportProcessExited(5)
	if fired.Load() != 0 {
		t.Fatal("tree of declared size 2 must not complete after one pid")
	}

	tr.ReportChildProcessSpawned(6)
	tr.ReportProcessExited(6)
	if fired.Load() != 1 {
		t.Errorf("onCompleted fired %d times, want 1", fired.Load())
	}
}

func TestExitBeforeSpawn(t *testing.T) {
	var fired atomic.Int32
	tr := NewTracker(1, func() { fired.Add(1) })

	// Exit delivered ahead of its spawn registration still counts.
	if !tr.ReportProcessExited(5) {
		t.Fatal("early exit should complete a size-1 tree")
	}
	if fired.Load() != 1 {
		t.Errorf("onCompleted fired %d times, want 1", fired.Load())
	}

	// The late spawn arrives after completion and is ignored.
	if tr.ReportChildProcessSpawned(5) {
		t.Error("spawn after completion should be rejected")
	}
	if fired.Load() != 1 {
		t.Error("late spawn must not re-fire completion")
	}
}

func TestTouchAdmitsUnseenChild(t *testing.T) {
	tr := NewTracker(2, nil)

	// First access from a child the tracker has never heard of.
	tr.Touch(7)
	if tr.LiveCount() != 1 {
		t.Fatalf("LiveCount = %d, want 1 after Touch", tr.LiveCount())
	}

	// The spawn registration arriving later is a duplicate, not an error.
	if tr.ReportChildProcessSpawned(7) {
		t.Error("spawn of already-touched pid should report duplicate")
	}
	if tr.LiveCount() != 1 {
		t.Errorf("LiveCount = %d, want 1", tr.LiveCount())
	}
}

func TestDuplicateSpawn(t *testing.T) {
	tr := NewTracker(3, nil)
	if !tr.ReportChildProcessSpawned(5) {
		t.Fatal("first spawn should be admitted")
	}
	if tr.ReportChildProcessSpawned(5) {
		t.Error("duplicate spawn should be rejected")
	}
	if tr.LiveCount() != 1 {
		t.Errorf("LiveCount = %d, want 1", tr.LiveCount())
	}
}

func TestConcurrentInterleavings(t *testing.T) {
	const n = 64
	var fired atomic.Int32
	tr := NewTracker(n, func() { fired.Add(1) })

	var wg sync.WaitGroup
	for pid := 1; pid <= n; pid++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			// Half the pids exit "before" their spawn is registered.
			if pid%2 == 0 {
				tr.ReportProcessExited(pid)
				tr.ReportChildProcessSpawned(pid)
			} else {
				tr.ReportChildProcessSpawned(pid)
				tr.Touch(pid)
				tr.ReportProcessExited(pid)
			}
		}(pid)
	}
	wg.Wait()

	if !tr.Completed() {
		t.Error("tree should be complete")
	}
	if fired.Load() != 1 {
		t.Errorf("onCompleted fired %d times, want exactly 1", fired.Load())
	}
}
