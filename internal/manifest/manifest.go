// Package manifest handles the per-pip access manifest: the declared set of
// path scopes a build step may touch, compiled into a prefix index for
// policy lookup.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Perm is a bitmask of operations a scope permits.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermCreate
	PermEnumerate
	PermExec
)

// Has reports whether every bit of p2 is allowed.
func (p Perm) Has(p2 Perm) bool { return p&p2 == p2 }

var permNames = map[string]Perm{
	"read":      PermRead,
	"write":     PermWrite,
	"create":    PermCreate,
	"enumerate": PermEnumerate,
	"execute":   PermExec,
}

func (p Perm) String() string {
	var parts []string
	for _, name := range []string{"read", "write", "create", "enumerate", "execute"} {
		if p.Has(permNames[name]) {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Scope declares one path prefix and what a pip may do beneath it.
type Scope struct {
	Path   string   `yaml:"path"`
	Allow  []string `yaml:"allow"`
	Report *bool    `yaml:"report,omitempty"`

	perms Perm
}

// Default declares the policy for paths matching no scope.
type Default struct {
	Access string `yaml:"access"` // "allow" or "deny"
	Report bool   `yaml:"report"`
}

// Manifest is the parsed form of a rampart access manifest.
type Manifest struct {
	Default Default `yaml:"default"`
	Scopes  []Scope `yaml:"scopes"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	switch m.Default.Access {
	case "", "deny":
		m.Default.Access = "deny"
	case "allow":
	default:
		return fmt.Errorf("default.access: unknown value %q (want allow or deny)", m.Default.Access)
	}

	for i := range m.Scopes {
		s := &m.Scopes[i]
		if s.Path == "" {
			return fmt.Errorf("scopes[%d]: path is required", i)
		}
		if !strings.HasPrefix(s.Path, "/") {
			return fmt.Errorf("scopes[%d]: path %q must be absolute", i, s.Path)
		}
		s.Path = strings.TrimRight(s.Path, "/")
		if s.Path == "" {
			s.Path = "/"
		}
		for _, op := range s.Allow {
			perm, ok := permNames[op]
			if !ok {
				return fmt.Errorf("scopes[%d]: unknown operation %q", i, op)
			}
			s.perms |= perm
		}
	}
	return nil
}

// Perms returns the compiled permission mask for a scope.
func (s *Scope) Perms() Perm { return s.perms }

// ReportAccess returns whether accesses under this scope are reported,
// defaulting to true.
func (s *Scope) ReportAccess() bool {
	if s.Report == nil {
		return true
	}
	return *s.Report
}
