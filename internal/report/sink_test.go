package report

import (
	"path/filepath"
	"testing"

	"github.com/majorcontext/rampart/internal/access"
	"github.com/majorcontext/rampart/internal/event"
	"github.com/majorcontext/rampart/internal/manifest"
)

func TestAuditSink_Report(t *testing.T) {
	store := newTestStore(t)
	sink := NewAuditSink(store)
	sink.Attribute = func(pid int) string { return "pip-1" }

	policy := manifest.PolicyResult{Path: "/work/a", Scope: "/work", ReportAccess: true}
	got := sink.Report(event.OpOpen, policy, access.CheckResult{Allowed: true, Report: true}, 42)
	if got != access.Reported {
		t.Errorf("Report = %v, want Reported", got)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	data, ok := entries[0].Data.(map[string]any)
	if !ok {
		t.Fatalf("Data has type %T", entries[0].Data)
	}
	if data["pip_id"] != "pip-1" {
		t.Errorf("pip_id = %v", data["pip_id"])
	}
	if data["path"] != "/work/a" {
		t.Errorf("path = %v", data["path"])
	}
}

func TestAuditSink_SkipsUnreportedDecisions(t *testing.T) {
	store := newTestStore(t)
	sink := NewAuditSink(store)

	got := sink.Report(event.OpOpen, manifest.PolicyResult{}, access.CheckResult{Allowed: true, Report: false}, 42)
	if got != access.Skipped {
		t.Errorf("Report = %v, want Skipped", got)
	}
	if store.Count() != 0 {
		t.Errorf("Count = %d, want 0", store.Count())
	}
}

func TestAuditSink_FailedDelivery(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatal(err)
	}
	store.Close() // closed db makes every insert fail

	sink := NewAuditSink(store)
	got := sink.Report(event.OpOpen, manifest.PolicyResult{}, access.CheckResult{Allowed: false, Report: true}, 42)
	if got != access.Failed {
		t.Errorf("Report = %v, want Failed", got)
	}
}

func TestAuditSink_TreeCompleted(t *testing.T) {
	store := newTestStore(t)
	sink := NewAuditSink(store)

	if got := sink.ReportTreeCompleted("pip-1", 42); got != access.Reported {
		t.Errorf("ReportTreeCompleted = %v, want Reported", got)
	}
	e, err := store.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if e.Type != EntryTreeCompleted {
		t.Errorf("Type = %q, want %q", e.Type, EntryTreeCompleted)
	}
}

func TestNullSink(t *testing.T) {
	if got := (NullSink{}).Report(event.OpOpen, manifest.PolicyResult{}, access.CheckResult{Report: true}, 1); got != access.Reported {
		t.Errorf("Report = %v, want Reported", got)
	}
	if got := (NullSink{}).Report(event.OpOpen, manifest.PolicyResult{}, access.CheckResult{Report: false}, 1); got != access.Skipped {
		t.Errorf("Report = %v, want Skipped", got)
	}
}
