package access

import (
	"testing"

	"github.com/majorcontext/rampart/internal/event"
	"github.com/majorcontext/rampart/internal/manifest"
)

func policyWith(perms manifest.Perm) manifest.PolicyResult {
	return manifest.PolicyResult{Path: "/work/x", Scope: "/work", Allowed: perms, ReportAccess: true}
}

func TestCheckRead(t *testing.T) {
	if got := CheckRead(event.OpRead, policyWith(manifest.PermRead), false); !got.Allowed {
		t.Error("read with PermRead should be allowed")
	}
	if got := CheckRead(event.OpRead, policyWith(manifest.PermWrite), false); got.Allowed {
		t.Error("read without PermRead should be denied")
	}
	// Reading a directory is enumeration.
	if got := CheckRead(event.OpRead, policyWith(manifest.PermRead), true); got.Allowed {
		t.Error("directory read without PermEnumerate should be denied")
	}
	if got := CheckRead(event.OpRead, policyWith(manifest.PermEnumerate), true); !got.Allowed {
		t.Error("directory read with PermEnumerate should be allowed")
	}
}

func TestCheckWrite(t *testing.T) {
	if got := CheckWrite(event.OpWrite, policyWith(manifest.PermWrite), false); !got.Allowed {
		t.Error("write with PermWrite should be allowed")
	}
	// Writing a directory is entry creation.
	if got := CheckWrite(event.OpWrite, policyWith(manifest.PermWrite), true); got.Allowed {
		t.Error("directory write without PermCreate should be denied")
	}
	if got := CheckWrite(event.OpWrite, policyWith(manifest.PermCreate), true); !got.Allowed {
		t.Error("directory write with PermCreate should be allowed")
	}
}

func TestCheckProbe(t *testing.T) {
	got := CheckProbe(event.OpProbe, policyWith(0), false)
	if !got.Allowed {
		t.Error("probes are always allowed")
	}
	if !got.Report {
		t.Error("probe under a reporting scope should be surfaced")
	}

	noReport := manifest.PolicyResult{Path: "/usr/lib/x", Scope: "/usr"}
	if got := CheckProbe(event.OpProbe, noReport, false); got.Report {
		t.Error("probe under a non-reporting scope should not be surfaced")
	}
}

func TestDenialsAlwaysReported(t *testing.T) {
	// Even when the scope opts out of reporting, denials are surfaced.
	noReport := manifest.PolicyResult{Path: "/usr/secret", Scope: "/usr"}
	for _, checker := range []Checker{CheckRead, CheckWrite, CheckCreate, CheckEnumerate, CheckExec} {
		got := checker(event.OpOpen, noReport, false)
		if got.Allowed {
			t.Error("empty permission mask should deny")
		}
		if !got.Report {
			t.Error("denial should always be report-worthy")
		}
	}
}

func TestCheckerFor(t *testing.T) {
	// Spot-check the operation-to-checker mapping through behavior: exec
	// requires PermExec, enumerate requires PermEnumerate.
	execChecker := CheckerFor(event.OpExec)
	if got := execChecker(event.OpExec, policyWith(manifest.PermRead), false); got.Allowed {
		t.Error("exec should require PermExec")
	}
	if got := execChecker(event.OpExec, policyWith(manifest.PermExec), false); !got.Allowed {
		t.Error("exec with PermExec should be allowed")
	}

	enumChecker := CheckerFor(event.OpEnumerate)
	if got := enumChecker(event.OpEnumerate, policyWith(manifest.PermEnumerate), true); !got.Allowed {
		t.Error("enumerate with PermEnumerate should be allowed")
	}
}

func TestDecisionMapping(t *testing.T) {
	allowed := CheckResult{Allowed: true}
	denied := CheckResult{Allowed: false}

	if allowed.Decision(0) != Allow {
		t.Error("allowed check should map to Allow")
	}
	if denied.Decision(FlagFailOnDenied) != Deny {
		t.Error("denied check with FlagFailOnDenied should map to Deny")
	}
	if denied.Decision(0) != AllowAudit {
		t.Error("denied check without FlagFailOnDenied should map to AllowAudit")
	}
}
