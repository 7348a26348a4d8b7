package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/drand/threshold-decrypt/internal/log"
)

// CollectionMonitor watches, over a rolling period, which workers have
// failed to return a usable partial decryption. It is the decrypt-side
// analogue of the teacher's beacon-signing threshold monitor: instead of
// warning when too many nodes miss a beacon round, it warns when too
// many workers are failing to contribute shares, which predicts an
// imminent Decrypt timeout before one actually happens.
type CollectionMonitor struct {
	lock      sync.RWMutex
	log       log.Logger
	nServers  int
	threshold int
	failures  map[int]bool
	ctx       context.Context
	cancel    func()
	period    time.Duration
}

// NewCollectionMonitor returns a monitor for a deployment of nServers
// workers requiring threshold+1 to decrypt.
func NewCollectionMonitor(l log.Logger, nServers, threshold int) *CollectionMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &CollectionMonitor{
		log:       l,
		nServers:  nServers,
		threshold: threshold,
		failures:  make(map[int]bool),
		ctx:       ctx,
		cancel:    cancel,
		period:    1 * time.Minute,
	}
}

// Start begins the periodic reporting loop in a new goroutine.
func (m *CollectionMonitor) Start() {
	m.log.Infow("starting collection monitor", "nServers", m.nServers, "threshold", m.threshold)

	go func() {
		for {
			select {
			case <-m.ctx.Done():
				m.log.Infow("ending collection monitor")
				return
			default:
				m.report()
				m.lock.Lock()
				m.failures = make(map[int]bool)
				m.lock.Unlock()
				time.Sleep(m.period)
			}
		}
	}()
}

func (m *CollectionMonitor) report() {
	m.lock.RLock()
	defer m.lock.RUnlock()

	maxFailures := m.nServers - m.threshold

	var failingServers []string
	for id := range m.failures {
		failingServers = append(failingServers, fmt.Sprintf("%d", id))
	}

	fields := []interface{}{
		"nServers", m.nServers,
		"threshold", m.threshold,
		"failures", len(failingServers),
		"servers", strings.Join(failingServers, ","),
	}

	switch {
	case len(failingServers) >= maxFailures:
		m.log.Errorw("failing workers crossed the decrypt threshold margin in the last period", fields...)
	case len(failingServers) >= maxFailures/2:
		m.log.Warnw("failing workers crossed half the decrypt threshold margin in the last period", fields...)
	default:
		m.log.Debugw("collection monitor healthy", fields...)
	}
}

// Stop ends the reporting loop.
func (m *CollectionMonitor) Stop() {
	m.cancel()
}

// ReportFailure records that serverID failed to contribute a share to
// the most recent Decrypt call.
func (m *CollectionMonitor) ReportFailure(serverID int) {
	m.lock.Lock()
	m.failures[serverID] = true
	m.lock.Unlock()
}

// Update adjusts the worker count and threshold, for use after a
// redeploy changes the topology.
func (m *CollectionMonitor) Update(nServers, threshold int) {
	m.lock.Lock()
	m.nServers = nServers
	m.threshold = threshold
	m.lock.Unlock()
}
