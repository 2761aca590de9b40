package config

import "fmt"

// HTTPConfig defines the API listener and its auth settings.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	// JWTSecret signs and verifies HS256 bearer tokens.
	JWTSecret       string  `json:"jwt_secret"`
	TokenTTLMinutes int     `json:"token_ttl_minutes"`
	RateLimitRPS    float64 `json:"rate_limit_rps"`
	RateLimitBurst  int     `json:"rate_limit_burst"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.TokenTTLMinutes <= 0 {
		c.TokenTTLMinutes = 60
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 5
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 10
	}
}

// Validate checks mandatory fields.
func (c HTTPConfig) Validate() error {
	if c.Enabled && c.JWTSecret == "" {
		return fmt.Errorf("http: jwt_secret is required")
	}
	return nil
}
