// Package metrics exposes the Prometheus instrumentation for the
// coordinator and worker processes, following the same registry-plus-
// HTTP-handler shape as the teacher's own metrics package, trimmed down
// and relabeled for the threshold-decryption domain: share collection,
// collection timeouts, combine failures, and per-reason request
// rejections, rather than DKG/beacon/group metrics.
package metrics

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drand/threshold-decrypt/internal/log"
)

// Registry owns every metric this service exports and the registry they
// are grouped under. Unlike the teacher's package-level globals, Registry
// is a value so tests can construct an isolated instance instead of
// sharing process-wide state.
type Registry struct {
	reg *prometheus.Registry

	sharesCollected     *prometheus.CounterVec
	collectionTimeouts  prometheus.Counter
	collectionShortfall prometheus.Gauge
	combineFailures     prometheus.Counter
	requestsRejected    *prometheus.CounterVec
	workerProvisioned   *prometheus.GaugeVec
}

// New builds and registers the full metric set.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		sharesCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decrypt_shares_collected_total",
			Help: "Number of partial decryptions accepted, by worker id.",
		}, []string{"server_id"}),
		collectionTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decrypt_collection_timeouts_total",
			Help: "Number of Decrypt calls that did not collect enough shares within the collection window.",
		}),
		collectionShortfall: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "decrypt_collection_last_shortfall",
			Help: "Shares still missing when the most recent collection timeout fired.",
		}),
		combineFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decrypt_combine_failures_total",
			Help: "Number of Combine calls that failed despite having threshold+1 shares.",
		}),
		requestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_requests_rejected_total",
			Help: "Number of requests a worker rejected, by reason.",
		}, []string{"reason"}),
		workerProvisioned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_provisioned",
			Help: "1 if the worker holds its secret key share, 0 otherwise.",
		}, []string{"server_id"}),
	}

	collectorList := []prometheus.Collector{
		r.sharesCollected,
		r.collectionTimeouts,
		r.collectionShortfall,
		r.combineFailures,
		r.requestsRejected,
		r.workerProvisioned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range collectorList {
		// registration of a fresh registry's own collectors cannot fail.
		_ = r.reg.Register(c)
	}

	return r
}

// ShareCollected implements coordinator.Metrics.
func (r *Registry) ShareCollected(serverID int) {
	r.sharesCollected.WithLabelValues(fmt.Sprintf("%d", serverID)).Inc()
}

// CollectionTimedOut implements coordinator.Metrics.
func (r *Registry) CollectionTimedOut(collected, required int) {
	r.collectionTimeouts.Inc()
	r.collectionShortfall.Set(float64(required - collected))
}

// CombineFailed implements coordinator.Metrics.
func (r *Registry) CombineFailed() {
	r.combineFailures.Inc()
}

// RequestRejected implements workerproc.Metrics.
func (r *Registry) RequestRejected(reason string) {
	r.requestsRejected.WithLabelValues(reason).Inc()
}

// Provisioned implements workerproc.Metrics.
func (r *Registry) Provisioned(serverID int) {
	r.workerProvisioned.WithLabelValues(fmt.Sprintf("%d", serverID)).Set(1)
}

// Start serves /metrics on bindAddr. If bindAddr has no port separator it
// is treated as a bare port on localhost, matching the teacher's Start.
func (r *Registry) Start(logger log.Logger, bindAddr string) net.Listener {
	logger.Infow("metrics starting", "desired_addr", bindAddr)

	if !strings.Contains(bindAddr, ":") {
		bindAddr = "127.0.0.1:" + bindAddr
	}
	//nolint:noctx
	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		logger.Warnw("metrics listen failed", "err", err)
		return nil
	}
	logger.Infow("metrics listener started", "addr", l.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg}))

	s := http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		logger.Warnw("metrics server finished", "err", s.Serve(l))
	}()
	return l
}
