package config

import "time"

// WaiterConfig holds DependencyWaiter's default global timeout (spec §4.7, §6).
type WaiterConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

// DefaultWaiterConfig returns spec §6's dependency-wait default.
func DefaultWaiterConfig() WaiterConfig {
	return WaiterConfig{TimeoutMS: 600000}
}

func (w WaiterConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMS) * time.Millisecond
}
