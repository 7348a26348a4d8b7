package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drand/threshold-decrypt/internal/testlogger"
)

func TestReportFailureAndUpdate(t *testing.T) {
	m := NewCollectionMonitor(testlogger.New(t), 5, 2)
	m.period = 5 * time.Millisecond

	m.ReportFailure(1)
	m.ReportFailure(3)

	m.lock.RLock()
	require.Len(t, m.failures, 2)
	m.lock.RUnlock()

	m.Update(7, 3)
	m.lock.RLock()
	require.Equal(t, 7, m.nServers)
	require.Equal(t, 3, m.threshold)
	m.lock.RUnlock()
}

func TestStartAndStopDoNotBlock(t *testing.T) {
	m := NewCollectionMonitor(testlogger.New(t), 4, 1)
	m.period = time.Millisecond

	m.Start()
	m.ReportFailure(0)
	time.Sleep(10 * time.Millisecond)
	m.Stop()
}
