package config

import "time"

// WorkerOption applies a setting to a WorkerConfig.
type WorkerOption func(*WorkerConfig)

// WorkerConfig extends Config with the settings specific to a single
// decryption worker process: which share index it owns and how strict it
// is about request freshness.
type WorkerConfig struct {
	*Config

	serverID        int
	freshnessWindow time.Duration
}

// NewWorker returns a WorkerConfig with defaults applied, overridden by
// both the shared opts and the worker-specific workerOpts, in that order.
func NewWorker(opts []Option, workerOpts ...WorkerOption) *WorkerConfig {
	c := &WorkerConfig{
		Config:          New(opts...),
		freshnessWindow: DefaultFreshnessWindow,
	}
	for _, opt := range workerOpts {
		opt(c)
	}
	return c
}

// ServerID returns the index of the secret key share this worker owns.
func (c *WorkerConfig) ServerID() int { return c.serverID }

// FreshnessWindow returns the maximum age a signed request's timestamp
// may have before this worker rejects it as stale.
func (c *WorkerConfig) FreshnessWindow() time.Duration { return c.freshnessWindow }

// WithServerID sets the index of the secret key share this worker owns,
// matching the SERVER_ID environment variable of the original service.
func WithServerID(id int) WorkerOption {
	return func(c *WorkerConfig) { c.serverID = id }
}

// WithWorkerFreshnessWindow overrides the request freshness window.
func WithWorkerFreshnessWindow(d time.Duration) WorkerOption {
	return func(c *WorkerConfig) { c.freshnessWindow = d }
}
