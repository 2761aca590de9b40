package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/factory"
	"github.com/kilianp07/villadispatch/core/metrics"
	"github.com/kilianp07/villadispatch/infra/audit"
	"github.com/kilianp07/villadispatch/infra/directory"
	"github.com/kilianp07/villadispatch/infra/store"
)

type Config struct {
	Store     store.Config           `json:"store"`
	Dispatch  dispatch.Config        `json:"dispatch"`
	Directory directory.Config       `json:"directory"`
	Notifiers []factory.ModuleConfig `json:"notifiers"`
	Audit     audit.Config           `json:"audit"`
	Metrics   metrics.Config         `json:"metrics"`
	HTTP      HTTPConfig             `json:"http"`
	Sentry    SentryConfig           `json:"sentry"`
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Directory.SetDefaults()
	c.Audit.SetDefaults()
	c.Metrics.SetDefaults()
	c.HTTP.SetDefaults()
}

// Validate checks the sections that can be wrong after defaults.
func (c Config) Validate() error {
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	if c.Store.Driver == store.DriverPostgres && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("store: postgres.dsn is required")
	}
	switch c.Audit.Backend {
	case "memory", "jsonl", "sqlite":
	default:
		return fmt.Errorf("audit: unknown backend %q", c.Audit.Backend)
	}
	return c.HTTP.Validate()
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides: K_DISPATCH__MAX_ATTEMPTS=4 sets dispatch.max_attempts.
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
