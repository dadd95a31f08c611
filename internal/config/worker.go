package config

import "time"

// WorkerConfig tunes the scrape job queue's worker pool (spec §4.10, §6).
type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	BrowserPoolSize   int `yaml:"browser_pool_size"`
	JobTimeoutSeconds int `yaml:"job_timeout_seconds"`
	PollIntervalMS    int `yaml:"poll_interval_ms"`
}

// DefaultWorkerConfig returns spec §6's worker tuning defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxConcurrentJobs: 2,
		BrowserPoolSize:   3,
		JobTimeoutSeconds: 3600,
		PollIntervalMS:    15000,
	}
}

// JobTimeout is JobTimeoutSeconds as a time.Duration convenience.
func (w WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(w.JobTimeoutSeconds) * time.Second
}

// PollInterval is PollIntervalMS as a time.Duration convenience.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}
