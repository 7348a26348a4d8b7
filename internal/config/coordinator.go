package config

import "time"

// CoordinatorOption applies a setting to a CoordinatorConfig.
type CoordinatorOption func(*CoordinatorConfig)

// CoordinatorConfig extends Config with the settings specific to the
// decryption coordinator: the threshold scheme's parameters, its HTTP
// adapter, and the timing windows from spec.md's concurrency model.
type CoordinatorConfig struct {
	*Config

	nServers        int
	threshold       int
	httpBindAddr    string
	httpAuthToken   string
	collectTimeout  time.Duration
	freshnessWindow time.Duration
}

// NewCoordinator returns a CoordinatorConfig with defaults applied,
// overridden by both the shared opts and the coordinator-specific
// coordOpts, in that order.
func NewCoordinator(opts []Option, coordOpts ...CoordinatorOption) *CoordinatorConfig {
	c := &CoordinatorConfig{
		Config:          New(opts...),
		nServers:        3,
		threshold:       1,
		httpBindAddr:    DefaultHTTPBindAddr,
		collectTimeout:  DefaultCollectTimeout,
		freshnessWindow: DefaultFreshnessWindow,
	}
	for _, opt := range coordOpts {
		opt(c)
	}
	return c
}

// NServers returns the total number of workers key material is dealt to.
func (c *CoordinatorConfig) NServers() int { return c.nServers }

// Threshold returns the number of additional shares, beyond one, required
// to decrypt: threshold+1 shares must agree.
func (c *CoordinatorConfig) Threshold() int { return c.threshold }

// HTTPBindAddr returns the address the informative HTTP adapter listens
// on.
func (c *CoordinatorConfig) HTTPBindAddr() string { return c.httpBindAddr }

// HTTPAuthToken returns the bearer token HTTP callers must present, or ""
// if the adapter is unauthenticated.
func (c *CoordinatorConfig) HTTPAuthToken() string { return c.httpAuthToken }

// CollectTimeout returns how long Decrypt waits for threshold+1 partial
// decryptions before giving up.
func (c *CoordinatorConfig) CollectTimeout() time.Duration { return c.collectTimeout }

// FreshnessWindow returns the maximum age a signed request's timestamp
// may have before workers reject it as stale.
func (c *CoordinatorConfig) FreshnessWindow() time.Duration { return c.freshnessWindow }

// WithServers sets the worker count and threshold the key set is dealt
// under.
func WithServers(n, threshold int) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		c.nServers = n
		c.threshold = threshold
	}
}

// WithHTTPBindAddr overrides the HTTP adapter's listen address.
func WithHTTPBindAddr(addr string) CoordinatorOption {
	return func(c *CoordinatorConfig) { c.httpBindAddr = addr }
}

// WithHTTPAuthToken sets the bearer token required of HTTP callers.
func WithHTTPAuthToken(token string) CoordinatorOption {
	return func(c *CoordinatorConfig) { c.httpAuthToken = token }
}

// WithCollectTimeout overrides the share-collection timeout.
func WithCollectTimeout(d time.Duration) CoordinatorOption {
	return func(c *CoordinatorConfig) { c.collectTimeout = d }
}

// WithFreshnessWindow overrides the request freshness window.
func WithFreshnessWindow(d time.Duration) CoordinatorOption {
	return func(c *CoordinatorConfig) { c.freshnessWindow = d }
}
