// Package store opens the configured dispatch.Store backend.
package store

import (
	"context"
	"fmt"

	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/infra/store/memory"
	"github.com/kilianp07/villadispatch/infra/store/postgres"
	"github.com/kilianp07/villadispatch/infra/store/sqlite"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the storage backend.
type Config struct {
	Driver   string          `json:"driver"`
	SQLite   sqlite.Config   `json:"sqlite"`
	Postgres postgres.Config `json:"postgres"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Driver == DriverSQLite && c.SQLite.Path == "" {
		c.SQLite.Path = "villadispatch.db"
	}
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (dispatch.Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		return sqlite.Open(cfg.SQLite)
	case DriverPostgres:
		return postgres.Open(ctx, cfg.Postgres)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
