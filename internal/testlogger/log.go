// Package testlogger configures the repo's logger for use inside tests.
package testlogger

import (
	"os"
	"testing"

	"github.com/drand/threshold-decrypt/internal/log"
)

// Level returns the level to log at based on the THRESHOLD_DECRYPT_TEST_LOGS env var.
func Level(t testing.TB) int {
	level := log.InfoLevel
	debugEnv, isDebug := os.LookupEnv("THRESHOLD_DECRYPT_TEST_LOGS")
	if isDebug && debugEnv == "DEBUG" {
		t.Log("enabling debug level logs")
		level = log.DebugLevel
	}
	return level
}

// New returns a logger configured for the given test.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), true).With("testName", t.Name())
}
