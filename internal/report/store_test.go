package report

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_AppendChains(t *testing.T) {
	store := newTestStore(t)

	e1, err := store.Append(EntryAccess, AccessRecord{PipID: "pip-1", Pid: 42, Operation: "open", Path: "/work/a", Allowed: true})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e1.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", e1.Sequence)
	}
	if e1.PrevHash != "" {
		t.Errorf("PrevHash = %q, want empty for first entry", e1.PrevHash)
	}

	e2, err := store.Append(EntryTreeCompleted, TreeRecord{PipID: "pip-1", RootPID: 42})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("PrevHash = %q, want %q", e2.PrevHash, e1.Hash)
	}
}

func TestStore_VerifyIntactChain(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := store.Append(EntryAccess, AccessRecord{Pid: i, Operation: "open", Path: "/work/a"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	bad, err := store.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if bad != 0 {
		t.Errorf("Verify reported bad entry %d on intact chain", bad)
	}
}

func TestStore_VerifyDetectsTampering(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := store.Append(EntryAccess, AccessRecord{Pid: i, Operation: "open", Path: "/work/a"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if _, err := store.db.Exec(`UPDATE reports SET data = '{"pid":999}' WHERE seq = 2`); err != nil {
		t.Fatalf("tampering: %v", err)
	}

	bad, err := store.Verify()
	if err == nil {
		t.Fatal("Verify should detect tampering")
	}
	if bad != 2 {
		t.Errorf("bad entry = %d, want 2", bad)
	}
}

func TestStore_ReopenContinuesChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	e1, err := store.Append(EntryAccess, AccessRecord{Pid: 1, Operation: "open", Path: "/a"})
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	e2, err := store.Append(EntryAccess, AccessRecord{Pid: 2, Operation: "open", Path: "/b"})
	if err != nil {
		t.Fatal(err)
	}
	if e2.Sequence != 2 {
		t.Errorf("Sequence = %d, want 2 after reopen", e2.Sequence)
	}
	if e2.PrevHash != e1.Hash {
		t.Error("chain should continue across reopen")
	}
}

func TestStore_GetAndCount(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(1); err != ErrNotFound {
		t.Errorf("Get on empty store = %v, want ErrNotFound", err)
	}

	if _, err := store.Append(EntryAccess, AccessRecord{Pid: 7, Operation: "exec", Path: "/bin/cc"}); err != nil {
		t.Fatal(err)
	}

	e, err := store.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Type != EntryAccess {
		t.Errorf("Type = %q", e.Type)
	}
	if !e.VerifyHash() {
		t.Error("hash should verify after round-trip")
	}
	if time.Since(e.Timestamp) > time.Minute {
		t.Errorf("Timestamp = %v looks wrong", e.Timestamp)
	}
	if store.Count() != 1 {
		t.Errorf("Count = %d, want 1", store.Count())
	}
}
