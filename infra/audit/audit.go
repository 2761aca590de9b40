// Package audit provides the file and database backends of the offer audit
// log.
package audit

import (
	"fmt"

	"github.com/kilianp07/villadispatch/core/audit"
)

// Config selects the audit backend.
type Config struct {
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "audit.db"
		case "jsonl":
			c.Path = "logs/audit.jsonl"
		}
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 10
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 90
	}
}

// Open returns the configured audit store.
func Open(cfg Config) (audit.Store, error) {
	switch cfg.Backend {
	case "memory":
		return audit.NewMemoryStore(), nil
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	}
	return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
}
