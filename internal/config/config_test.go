package config

import (
	"testing"
	"time"

	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	require.Equal(t, DefaultBrokerURL, c.BrokerURL())
	require.Equal(t, DefaultMetricsBindAddr, c.MetricsBindAddr())
	require.Equal(t, DefaultNonceCacheSize, c.NonceCacheSize())
}

func TestNewAppliesOptions(t *testing.T) {
	fc := clock.NewFakeClock()
	c := New(
		WithBrokerURL("amqp://example.invalid/"),
		WithClock(fc),
		WithMetricsBindAddr(":9999"),
		WithNonceCacheSize(16),
	)
	require.Equal(t, "amqp://example.invalid/", c.BrokerURL())
	require.Equal(t, fc, c.Clock())
	require.Equal(t, ":9999", c.MetricsBindAddr())
	require.Equal(t, 16, c.NonceCacheSize())
}

func TestNewCoordinatorDefaults(t *testing.T) {
	c := NewCoordinator(nil)
	require.Equal(t, 3, c.NServers())
	require.Equal(t, 1, c.Threshold())
	require.Equal(t, DefaultCollectTimeout, c.CollectTimeout())
	require.Equal(t, DefaultFreshnessWindow, c.FreshnessWindow())
}

func TestNewCoordinatorAppliesOptions(t *testing.T) {
	c := NewCoordinator(
		[]Option{WithBrokerURL("amqp://coordinator.invalid/")},
		WithServers(7, 3),
		WithCollectTimeout(5*time.Second),
		WithHTTPAuthToken("secret-token"),
	)
	require.Equal(t, "amqp://coordinator.invalid/", c.BrokerURL())
	require.Equal(t, 7, c.NServers())
	require.Equal(t, 3, c.Threshold())
	require.Equal(t, 5*time.Second, c.CollectTimeout())
	require.Equal(t, "secret-token", c.HTTPAuthToken())
}

func TestNewWorkerAppliesOptions(t *testing.T) {
	c := NewWorker(nil, WithServerID(2), WithWorkerFreshnessWindow(20*time.Second))
	require.Equal(t, 2, c.ServerID())
	require.Equal(t, 20*time.Second, c.FreshnessWindow())
}
