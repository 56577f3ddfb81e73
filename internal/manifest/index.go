package manifest

import "strings"

// PolicyResult is the outcome of a policy lookup for one absolute path.
type PolicyResult struct {
	// Path is the canonical path the lookup was for.
	Path string
	// Scope is the matched scope path, or "" when only the default applied.
	Scope string
	// Level is the depth of the matched scope (number of path segments);
	// 0 for the default policy.
	Level int
	// Exact is true when the path is the scope path itself rather than a
	// descendant inheriting the scope's policy.
	Exact bool
	// Allowed is the permission mask in force for the path.
	Allowed Perm
	// ReportAccess is whether accesses to the path are surfaced to the
	// orchestrator.
	ReportAccess bool
}

type trieNode struct {
	children map[string]*trieNode
	scope    *Scope
	level    int
}

// Index is a compiled manifest: a path-segment trie where the longest
// matching declared scope wins. Lookups are read-only and safe for
// concurrent use; reloading swaps in a new Index rather than mutating one.
type Index struct {
	root      *trieNode
	defPerm   Perm
	defReport bool
}

// Compile builds the lookup index from a parsed manifest.
func Compile(m *Manifest) *Index {
	idx := &Index{
		root:      &trieNode{children: map[string]*trieNode{}},
		defReport: m.Default.Report,
	}
	if m.Default.Access == "allow" {
		idx.defPerm = PermRead | PermWrite | PermCreate | PermEnumerate | PermExec
	}

	for i := range m.Scopes {
		s := &m.Scopes[i]
		node := idx.root
		level := 0
		for _, seg := range splitPath(s.Path) {
			level++
			child, ok := node.children[seg]
			if !ok {
				child = &trieNode{children: map[string]*trieNode{}, level: level}
				node.children[seg] = child
			}
			node = child
		}
		node.scope = s
	}
	return idx
}

// Resolve finds the policy in force for an absolute path: the deepest
// declared scope that is a prefix of the path, or the manifest default when
// no scope matches.
func (idx *Index) Resolve(absPath string) PolicyResult {
	segs := splitPath(absPath)

	node := idx.root
	var best *trieNode
	if node.scope != nil { // a scope declared for "/" itself
		best = node
	}
	for _, seg := range segs {
		child, ok := node.children[seg]
		if !ok {
			break
		}
		node = child
		if node.scope != nil {
			best = node
		}
	}

	if best == nil {
		return PolicyResult{
			Path:         absPath,
			Allowed:      idx.defPerm,
			ReportAccess: idx.defReport,
		}
	}
	return PolicyResult{
		Path:         absPath,
		Scope:        best.scope.Path,
		Level:        best.level,
		Exact:        best.level == len(segs) && best == node,
		Allowed:      best.scope.perms,
		ReportAccess: best.scope.ReportAccess(),
	}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
