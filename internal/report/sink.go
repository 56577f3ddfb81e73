package report

import (
	"github.com/majorcontext/rampart/internal/access"
	"github.com/majorcontext/rampart/internal/event"
	"github.com/majorcontext/rampart/internal/log"
	"github.com/majorcontext/rampart/internal/manifest"
)

// AuditSink persists access reports to a hash-chained store. It satisfies
// access.Sink.
type AuditSink struct {
	store *Store

	// Attribute resolves a pid to its pip id for the record. Optional.
	Attribute func(pid int) string
}

// NewAuditSink creates a sink over an open store.
func NewAuditSink(store *Store) *AuditSink {
	return &AuditSink{store: store}
}

// Report appends one access decision to the chain. A decision marked not
// report-worthy is skipped; a store error is Failed and never blocks the
// decision itself.
func (s *AuditSink) Report(op event.Kind, policy manifest.PolicyResult, check access.CheckResult, pid int) access.ReportResult {
	if !check.Report {
		return access.Skipped
	}

	rec := AccessRecord{
		Pid:       pid,
		Operation: op.String(),
		Path:      policy.Path,
		Scope:     policy.Scope,
		Allowed:   check.Allowed,
		Audit:     check.Audit,
	}
	if s.Attribute != nil {
		rec.PipID = s.Attribute(pid)
	}

	if _, err := s.store.Append(EntryAccess, rec); err != nil {
		log.Warn("access report delivery failed", "pid", pid, "op", op.String(), "error", err)
		return access.Failed
	}
	return access.Reported
}

// ReportTreeCompleted records that a pip's whole process tree has exited
// and its observed access set is final.
func (s *AuditSink) ReportTreeCompleted(pipID string, rootPID int) access.ReportResult {
	if _, err := s.store.Append(EntryTreeCompleted, TreeRecord{PipID: pipID, RootPID: rootPID}); err != nil {
		log.Warn("tree-completed report delivery failed", "pip", pipID, "error", err)
		return access.Failed
	}
	return access.Reported
}

// NullSink discards every report. Useful for dry runs and tests.
type NullSink struct{}

func (NullSink) Report(op event.Kind, policy manifest.PolicyResult, check access.CheckResult, pid int) access.ReportResult {
	if !check.Report {
		return access.Skipped
	}
	return access.Reported
}
