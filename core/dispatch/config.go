package dispatch

import (
	"fmt"
	"time"
)

// LadderStep overrides one rung of the escalation ladder.
type LadderStep struct {
	Attempt       int  `json:"attempt"`
	Tier          Tier `json:"tier"`
	ExpiryMinutes int  `json:"expiry_minutes"`
}

// Config defines dispatch settings. It is passed explicitly to the manager
// and sweeper; nothing reads it from shared state.
type Config struct {
	DispatchWindowDays   int          `json:"dispatch_window_days"`
	DefaultExpiryMinutes int          `json:"default_expiry_minutes"`
	MaxAttempts          int          `json:"max_attempts"`
	TxRetries            int          `json:"tx_retries"`
	SweepIntervalSeconds int          `json:"sweep_interval_seconds"`
	SweepPageSize        int          `json:"sweep_page_size"`
	SweepMaxPages        int          `json:"sweep_max_pages"`
	NotifyTimeoutSeconds int          `json:"notify_timeout_seconds"`
	Ladder               []LadderStep `json:"ladder"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.DispatchWindowDays <= 0 {
		c.DispatchWindowDays = 7
	}
	if c.DefaultExpiryMinutes <= 0 {
		c.DefaultExpiryMinutes = 30
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.TxRetries < 0 {
		c.TxRetries = 0
	} else if c.TxRetries == 0 {
		c.TxRetries = 3
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 30
	}
	if c.SweepPageSize <= 0 {
		c.SweepPageSize = 100
	}
	if c.SweepMaxPages <= 0 {
		c.SweepMaxPages = 10
	}
	if c.NotifyTimeoutSeconds <= 0 {
		c.NotifyTimeoutSeconds = 10
	}
}

// Validate checks the settings and the resulting ladder.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("dispatch: max_attempts must be >= 1")
	}
	if c.DispatchWindowDays < 1 {
		return fmt.Errorf("dispatch: dispatch_window_days must be >= 1")
	}
	_, err := c.BuildLadder()
	return err
}

// BuildLadder merges the configured overrides into the default ladder.
func (c Config) BuildLadder() (Ladder, error) {
	return NewLadder(c.DefaultExpiry(), c.Ladder)
}

func (c Config) DispatchWindow() time.Duration {
	return time.Duration(c.DispatchWindowDays) * 24 * time.Hour
}

func (c Config) DefaultExpiry() time.Duration {
	return time.Duration(c.DefaultExpiryMinutes) * time.Minute
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}
