package access

import (
	"golang.org/x/sys/unix"

	"github.com/majorcontext/rampart/internal/event"
	"github.com/majorcontext/rampart/internal/manifest"
)

// CheckResult encodes what the checker concluded about one access: whether
// policy allows it, whether it is worth surfacing to the orchestrator, and
// whether an allowed access should still be flagged for audit.
type CheckResult struct {
	Allowed bool
	Report  bool
	Audit   bool
}

// Decision maps the check outcome to the completion of the intercepted
// operation. A denial is only a hard Deny when the pip fails on denied
// accesses; otherwise the operation proceeds under audit.
func (c CheckResult) Decision(flags Flags) Decision {
	if c.Allowed {
		return Allow
	}
	if flags.Has(FlagFailOnDenied) {
		return Deny
	}
	return AllowAudit
}

// Checker judges one operation against the policy in force for a path.
// Checkers are pure: same inputs, same result. isDir selects
// directory-specific semantics (enumeration rather than read, entry
// creation rather than content write).
type Checker func(op event.Kind, policy manifest.PolicyResult, isDir bool) CheckResult

func result(allowed bool, policy manifest.PolicyResult) CheckResult {
	return CheckResult{
		Allowed: allowed,
		// Denials are always report-worthy; allowed accesses follow the
		// scope's report setting.
		Report: !allowed || policy.ReportAccess,
	}
}

// CheckRead permits reading file content, or enumerating when the path is a
// directory.
func CheckRead(op event.Kind, policy manifest.PolicyResult, isDir bool) CheckResult {
	if isDir {
		return result(policy.Allowed.Has(manifest.PermEnumerate), policy)
	}
	return result(policy.Allowed.Has(manifest.PermRead), policy)
}

// CheckWrite permits writing file content. A write targeting a directory is
// entry creation and needs the create permission.
func CheckWrite(op event.Kind, policy manifest.PolicyResult, isDir bool) CheckResult {
	if isDir {
		return result(policy.Allowed.Has(manifest.PermCreate), policy)
	}
	return result(policy.Allowed.Has(manifest.PermWrite), policy)
}

// CheckCreate permits creating a new node at the path.
func CheckCreate(op event.Kind, policy manifest.PolicyResult, isDir bool) CheckResult {
	return result(policy.Allowed.Has(manifest.PermCreate), policy)
}

// CheckEnumerate permits listing a directory.
func CheckEnumerate(op event.Kind, policy manifest.PolicyResult, isDir bool) CheckResult {
	return result(policy.Allowed.Has(manifest.PermEnumerate), policy)
}

// CheckExec permits executing the path.
func CheckExec(op event.Kind, policy manifest.PolicyResult, isDir bool) CheckResult {
	return result(policy.Allowed.Has(manifest.PermExec), policy)
}

// CheckProbe handles existence probes. Probing is always allowed, since
// build tools stat speculative paths constantly, but the probe is still
// surfaced when the scope reports accesses, so the orchestrator sees the
// full dependency fingerprint.
func CheckProbe(op event.Kind, policy manifest.PolicyResult, isDir bool) CheckResult {
	return CheckResult{Allowed: true, Report: policy.ReportAccess}
}

// CheckUnresolvable judges an access whose path resolution failed with
// errno. Policy cannot be evaluated without a canonical path, so the access
// is denied and always surfaced.
func CheckUnresolvable(errno unix.Errno) Checker {
	return func(op event.Kind, policy manifest.PolicyResult, isDir bool) CheckResult {
		return CheckResult{Allowed: false, Report: true}
	}
}

// CheckerFor returns the stock checker for an operation kind.
func CheckerFor(kind event.Kind) Checker {
	switch kind {
	case event.OpRead, event.OpOpen, event.OpReadlink:
		return CheckRead
	case event.OpWrite, event.OpRename, event.OpUnlink:
		return CheckWrite
	case event.OpCreate:
		return CheckCreate
	case event.OpEnumerate:
		return CheckEnumerate
	case event.OpExec:
		return CheckExec
	case event.OpStat, event.OpProbe:
		return CheckProbe
	default:
		return CheckRead
	}
}
