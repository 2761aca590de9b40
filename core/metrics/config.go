package metrics

import "github.com/kilianp07/villadispatch/core/factory"

// Config defines settings for metrics export.
type Config struct {
	PrometheusEnabled bool                   `json:"prometheus_enabled"`
	PrometheusPort    string                 `json:"prometheus_port"`
	Sinks             []factory.ModuleConfig `json:"sinks"`
}

// SetDefaults applies the default Prometheus listen address.
func (c *Config) SetDefaults() {
	if c.PrometheusEnabled && c.PrometheusPort == "" {
		c.PrometheusPort = ":9102"
	}
}
