package access

import "sync/atomic"

// Stats counts pipeline activity. Report failures are observable here
// rather than retried; a failed delivery never reverses a decision.
type Stats struct {
	Lookups        atomic.Uint64
	CacheHits      atomic.Uint64
	Reported       atomic.Uint64
	Skipped        atomic.Uint64
	ReportFailures atomic.Uint64
}
