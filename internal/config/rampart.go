// Package config handles rampart.yaml daemon configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the parsed rampart.yaml.
type Config struct {
	// OverlayPrefix is the overlay-mount prefix stripped from observed
	// paths before policy lookup and de-duplication.
	OverlayPrefix string `yaml:"overlay_prefix,omitempty"`
	// Manifest is the path to the access manifest.
	Manifest string `yaml:"manifest"`
	// AuditDB is the path of the SQLite report store.
	AuditDB string `yaml:"audit_db,omitempty"`
	// Workers is the number of event workers (default 4).
	Workers int `yaml:"workers,omitempty"`

	Enforcement EnforcementConfig `yaml:"enforcement,omitempty"`
	Log         LogConfig         `yaml:"log,omitempty"`
}

// EnforcementConfig sets default pip flags.
type EnforcementConfig struct {
	// FailOnDenied makes denied accesses fail the intercepted operation
	// instead of downgrading to allow-but-audit.
	FailOnDenied bool `yaml:"fail_on_denied,omitempty"`
	// ReportAllowed surfaces allowed accesses, not only denials.
	ReportAllowed bool `yaml:"report_allowed,omitempty"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	Verbose   bool   `yaml:"verbose,omitempty"`
	JSON      bool   `yaml:"json,omitempty"`
	DebugFile string `yaml:"debug_file,omitempty"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}
	if c.OverlayPrefix != "" {
		if !strings.HasPrefix(c.OverlayPrefix, "/") {
			return fmt.Errorf("overlay_prefix %q must be absolute", c.OverlayPrefix)
		}
		c.OverlayPrefix = strings.TrimRight(c.OverlayPrefix, "/")
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	return nil
}
