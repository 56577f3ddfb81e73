package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/majorcontext/rampart/internal/access"
	"github.com/majorcontext/rampart/internal/manifest"
)

func testIndex(t *testing.T) *manifest.Index {
	t.Helper()
	m, err := manifest.Parse([]byte("default:\n  access: deny\n"))
	if err != nil {
		t.Fatal(err)
	}
	return manifest.Compile(m)
}

func TestAddPipAndLookup(t *testing.T) {
	r := New()
	pip, err := r.AddPip("pip-1", 100, 3, access.FlagFailOnDenied, testIndex(t), nil)
	if err != nil {
		t.Fatalf("AddPip: %v", err)
	}
	if pip.ID() != "pip-1" || pip.RootPID() != 100 || pip.TreeSize() != 3 {
		t.Errorf("pip = %q/%d/%d", pip.ID(), pip.RootPID(), pip.TreeSize())
	}

	proc, ok := r.Lookup(100)
	if !ok {
		t.Fatal("root pid should be tracked")
	}
	if proc.Pip().ID() != "pip-1" {
		t.Errorf("Pip().ID() = %q", proc.Pip().ID())
	}

	if _, ok := r.Lookup(999); ok {
		t.Error("unknown pid should not resolve")
	}

	if _, err := r.AddPip("pip-1", 200, 1, 0, testIndex(t), nil); err == nil {
		t.Error("duplicate pip id should be rejected")
	}
}

func TestSpawnAndExit(t *testing.T) {
	r := New()
	var completed atomic.Int32
	_, err := r.AddPip("pip-1", 100, 2, 0, testIndex(t), func(p *Pip) {
		completed.Add(1)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Spawn("pip-1", 101); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, ok := r.Lookup(101); !ok {
		t.Fatal("spawned child should be tracked")
	}

	r.Exited(101)
	if _, ok := r.Lookup(101); ok {
		t.Error("exited child should be removed")
	}
	if completed.Load() != 0 {
		t.Fatal("tree must not complete while the root lives")
	}

	r.Exited(100)
	if completed.Load() != 1 {
		t.Errorf("completed fired %d times, want 1", completed.Load())
	}

	// Teardown: the pip and its processes are gone.
	if _, ok := r.Pip("pip-1"); ok {
		t.Error("completed pip should be removed")
	}
	if _, ok := r.Lookup(100); ok {
		t.Error("completed pip's processes should be removed")
	}
}

func TestSpawnUnknownPip(t *testing.T) {
	r := New()
	if err := r.Spawn("nope", 101); err == nil {
		t.Error("spawn under unknown pip should fail")
	}
	if err := r.Adopt("nope", 101); err == nil {
		t.Error("adopt under unknown pip should fail")
	}
}

func TestAdoptBeforeSpawn(t *testing.T) {
	r := New()
	if _, err := r.AddPip("pip-1", 100, 2, 0, testIndex(t), nil); err != nil {
		t.Fatal(err)
	}

	// A child's first access arrives before its spawn registration.
	if err := r.Adopt("pip-1", 101); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	proc, ok := r.Lookup(101)
	if !ok {
		t.Fatal("adopted pid should be tracked")
	}
	if proc.Pip().ID() != "pip-1" {
		t.Errorf("adopted into %q", proc.Pip().ID())
	}

	// The late spawn notification is harmless.
	if err := r.Spawn("pip-1", 101); err != nil {
		t.Errorf("late Spawn: %v", err)
	}
	if proc.Pip().Tree().LiveCount() != 2 {
		t.Errorf("LiveCount = %d, want 2 (root + adopted child)", proc.Pip().Tree().LiveCount())
	}
}

func TestExitedUnknownPid(t *testing.T) {
	r := New()
	r.Exited(12345) // must not panic
}

func TestSpawnRacingCompletion(t *testing.T) {
	for i := 0; i < 200; i++ {
		r := New()
		if _, err := r.AddPip("pip-1", 100, 1, 0, testIndex(t), nil); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		var spawnErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Exited(100)
		}()
		go func() {
			defer wg.Done()
			spawnErr = r.Spawn("pip-1", 101)
		}()
		wg.Wait()

		// Either the child got in before the root's exit, keeping the
		// tree alive, or the spawn was rejected. A tracked process must
		// never outlive its pip.
		proc, tracked := r.Lookup(101)
		if spawnErr != nil && tracked {
			t.Fatal("rejected child is still tracked")
		}
		if tracked {
			if _, ok := r.Pip("pip-1"); !ok {
				t.Fatal("tracked child points at a torn-down pip")
			}
			if proc.Pip().Tree().Completed() {
				t.Fatal("tracked child admitted into a completed tree")
			}
		}
	}
}
