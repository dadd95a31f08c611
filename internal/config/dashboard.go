package config

import "time"

// DashboardConfig tunes the dashboard connector's reconnect policy
// (spec §6): the core never blocks on these values, they govern the
// transport's own backoff loop.
type DashboardConfig struct {
	AutoReconnect             bool `yaml:"auto_reconnect"`
	MaxReconnectAttempts      int  `yaml:"max_reconnect_attempts"`
	ReconnectDelayMS          int  `yaml:"reconnect_delay_ms"`
	MaxReconnectDelayMS       int  `yaml:"max_reconnect_delay_ms"`
	ConnectionCheckIntervalMS int  `yaml:"connection_check_interval_ms"`
}

// DefaultDashboardConfig returns spec §6's dashboard connection defaults.
func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		AutoReconnect:             true,
		MaxReconnectAttempts:      10,
		ReconnectDelayMS:          1000,
		MaxReconnectDelayMS:       30000,
		ConnectionCheckIntervalMS: 5000,
	}
}

func (d DashboardConfig) ReconnectDelay() time.Duration {
	return time.Duration(d.ReconnectDelayMS) * time.Millisecond
}

func (d DashboardConfig) MaxReconnectDelay() time.Duration {
	return time.Duration(d.MaxReconnectDelayMS) * time.Millisecond
}

func (d DashboardConfig) ConnectionCheckInterval() time.Duration {
	return time.Duration(d.ConnectionCheckIntervalMS) * time.Millisecond
}
