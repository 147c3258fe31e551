package scanner

import "time"

// Config holds the scanner tunables. Zero fields take the defaults.
type Config struct {
	// Interval between scan cycles.
	Interval time.Duration `yaml:"interval"`

	// BatchSize is the announcement limit per provider call.
	BatchSize int `yaml:"batch_size"`

	// RetryAttempts caps attempts per agent per cycle.
	RetryAttempts int `yaml:"retry_attempts"`

	// BaseDelay is the first retry delay; attempt n waits BaseDelay*2^(n-1).
	BaseDelay time.Duration `yaml:"base_delay"`

	// Workers bounds concurrent agent scans within a cycle.
	Workers int `yaml:"workers"`

	// CallTimeout bounds every provider and store call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultConfig returns the default scanner configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      60 * time.Second,
		BatchSize:     100,
		RetryAttempts: 5,
		BaseDelay:     time.Second,
		Workers:       4,
		CallTimeout:   15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	return c
}

// backoff returns the delay before attempt (1-based retries).
func (c Config) backoff(attempt int) time.Duration {
	return c.BaseDelay << (attempt - 1)
}
