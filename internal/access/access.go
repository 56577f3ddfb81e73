// Package access implements the check-and-report pipeline: every observed
// file access is canonicalized, checked against the pip's manifest, and
// reported to the orchestrator exactly once per logical (operation, path)
// pair, no matter how many redundant syscalls the build tool issued.
package access

import (
	"errors"
	"fmt"

	"github.com/majorcontext/rampart/internal/canon"
	"github.com/majorcontext/rampart/internal/event"
	"github.com/majorcontext/rampart/internal/manifest"
	"github.com/majorcontext/rampart/internal/proctree"
)

// ErrUntrackedProcess is returned by Bind when a pid has no tracked process.
var ErrUntrackedProcess = errors.New("access: pid is not a tracked process")

// Flags carries pip-level enforcement configuration.
type Flags uint32

const (
	// FlagFailOnDenied makes a denied access fail the intercepted
	// operation. Without it denials are downgraded to allow-but-audit.
	FlagFailOnDenied Flags = 1 << iota
	// FlagReportAllowed surfaces allowed accesses to the orchestrator, not
	// only denials.
	FlagReportAllowed
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Decision is how the intercepted operation should complete.
type Decision int

const (
	Allow Decision = iota
	Deny
	// AllowAudit lets the operation proceed but flags it for the
	// orchestrator: the access was outside policy, and the pip is not
	// configured to fail on denials.
	AllowAudit
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case AllowAudit:
		return "allow-audit"
	}
	return "unknown"
}

// ReportResult is the outcome of one report emission.
type ReportResult int

const (
	// Reported: delivered to the orchestrator.
	Reported ReportResult = iota
	// Skipped: the decision said this access is not worth surfacing.
	Skipped
	// Failed: delivery was attempted and failed. Non-fatal; the access
	// decision stands regardless.
	Failed
)

func (r ReportResult) String() string {
	switch r {
	case Reported:
		return "reported"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Pip is the pipeline's view of one build step: its identity, enforcement
// flags, compiled manifest, decision cache, and process tree.
type Pip interface {
	ID() string
	Flags() Flags
	Policy() *manifest.Index
	Decisions() *Cache
	Tree() *proctree.Tracker
}

// Process is one tracked process belonging to a pip.
type Process interface {
	Pid() int
	Pip() Pip
}

// Registry resolves a pid to its tracked process.
type Registry interface {
	Lookup(pid int) (Process, bool)
}

// Sink delivers access reports to the orchestrator. Implementations decide
// nothing: a report whose check says "do not surface" must come back
// Skipped, a delivery error comes back Failed.
type Sink interface {
	Report(op event.Kind, policy manifest.PolicyResult, check CheckResult, pid int) ReportResult
}

// Handler checks the accesses of one OS-level message. Bind must be the
// first call; using an unbound handler is a programming error and panics.
type Handler struct {
	registry Registry
	canon    canon.Canonicalizer
	resolver canon.Resolver
	sink     Sink
	stats    *Stats

	proc Process
}

// NewHandler creates a handler over the shared collaborators. One handler
// serves one message at a time; create or rebind per message.
func NewHandler(reg Registry, c canon.Canonicalizer, r canon.Resolver, sink Sink, stats *Stats) *Handler {
	if stats == nil {
		stats = &Stats{}
	}
	return &Handler{registry: reg, canon: c, resolver: r, sink: sink, stats: stats}
}

// Bind attaches the handler to the tracked process owning pid. The pip's
// tracker lazily admits the pid, so an access that outraces its spawn
// registration is still attributed correctly.
func (h *Handler) Bind(pid int) error {
	proc, ok := h.registry.Lookup(pid)
	if !ok {
		return fmt.Errorf("%w: pid %d", ErrUntrackedProcess, pid)
	}
	h.proc = proc
	proc.Pip().Tree().Touch(pid)
	return nil
}

// Bound reports whether a tracked process has been bound.
func (h *Handler) Bound() bool { return h.proc != nil }

// Process returns the bound tracked process.
func (h *Handler) Process() Process {
	h.mustBind()
	return h.proc
}

// Pip returns the pip owning the bound process.
func (h *Handler) Pip() Pip {
	h.mustBind()
	return h.proc.Pip()
}

func (h *Handler) mustBind() {
	if h.proc == nil {
		panic("access: handler used before Bind")
	}
}

// CheckAndReport runs the pipeline for one logical access: canonicalize the
// path, consult the pip's decision cache, and on a miss resolve policy,
// apply the checker, and report. The first caller for a given (operation,
// canonical path) pair does the work; concurrent and later callers get the
// cached decision with no second lookup and no second report.
func (h *Handler) CheckAndReport(op event.Kind, path string, checker Checker, isDir bool) CheckResult {
	h.mustBind()
	pip := h.proc.Pip()
	pid := h.proc.Pid()

	canonical := h.canon.Canonicalize(path)
	key := Key{Op: op, Path: canonical}

	check, hit := pip.Decisions().Do(key, func() CheckResult {
		h.stats.Lookups.Add(1)
		policy := pip.Policy().Resolve(canonical)
		check := checker(op, policy, isDir)

		// Allowed accesses are only surfaced when the pip asks for them.
		if check.Allowed && !pip.Flags().Has(FlagReportAllowed) && !check.Audit {
			check.Report = false
		}

		switch h.sink.Report(op, policy, check, pid) {
		case Reported:
			h.stats.Reported.Add(1)
		case Skipped:
			h.stats.Skipped.Add(1)
		case Failed:
			h.stats.ReportFailures.Add(1)
		}
		return check
	})
	if hit {
		h.stats.CacheHits.Add(1)
	}
	return check
}

// HandleEvent runs a canonical event through the pipeline end to end:
// resolution, canonicalization, per-path checks, and sealing. Rename-shaped
// events check both paths. Fork and exit events are process-lifecycle
// bookkeeping and do not belong here.
func (h *Handler) HandleEvent(ev *event.Event) (CheckResult, error) {
	if !ev.Valid() {
		return CheckResult{}, event.ErrInvalid
	}
	if err := h.Bind(ev.Pid()); err != nil {
		return CheckResult{}, err
	}

	if err := canon.ResolveEvent(ev, h.resolver); err != nil {
		// The failure is judged through the decision cache keyed on the
		// raw path, so a retried broken access is reported once, not once
		// per syscall.
		check := h.CheckAndReport(ev.Kind(), ev.SrcPath(), CheckUnresolvable(ev.Errno()), ev.IsDirectory())
		ev.Seal()
		return check, err
	}

	checker := CheckerFor(ev.Kind())
	check := h.CheckAndReport(ev.Kind(), ev.SrcPath(), checker, ev.IsDirectory())

	if ev.DstPath() != "" {
		// The destination of a rename/link is a write at the target path;
		// deny wins over the source decision. The event's mode describes
		// the source node, not the destination, so the directory-specific
		// write semantics do not apply here.
		dstCheck := h.CheckAndReport(ev.Kind(), ev.DstPath(), CheckWrite, false)
		if !dstCheck.Allowed {
			check = dstCheck
		}
	}

	ev.Seal()
	return check, nil
}

// Decide maps a check outcome to the completion of the intercepted
// operation under the bound pip's flags.
func (h *Handler) Decide(check CheckResult) Decision {
	h.mustBind()
	return check.Decision(h.proc.Pip().Flags())
}
