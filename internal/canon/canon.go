// Package canon turns canonical events into policy-ready form: it resolves
// relative paths and handles into absolute paths according to each event's
// resolution requirement, and strips the overlay-mount prefix so the same
// logical file is never seen under two physical prefixes.
package canon

import (
	"strings"
)

// Canonicalizer strips a known overlay-mount prefix from absolute paths.
// The sandbox mounts the pip's writable layer under a private prefix; policy
// scopes and cache keys are declared against the logical tree, so the prefix
// must be removed before any path is used for lookup or de-duplication.
type Canonicalizer struct {
	// OverlayPrefix is the mount prefix to strip, without a trailing slash
	// (for example "/rampart/upper"). Empty disables stripping.
	OverlayPrefix string
}

// Canonicalize returns the logical form of an absolute path. Paths outside
// the overlay prefix are returned unchanged.
func (c Canonicalizer) Canonicalize(path string) string {
	if c.OverlayPrefix == "" || path == "" {
		return path
	}
	if path == c.OverlayPrefix {
		return "/"
	}
	if strings.HasPrefix(path, c.OverlayPrefix) && path[len(c.OverlayPrefix)] == '/' {
		return path[len(c.OverlayPrefix):]
	}
	return path
}
