// Package metrics exposes Prometheus collectors for the chunk store and the
// HTTP server serving them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chunkstore"

// StoreMetrics contains all collectors reported by storage, index and merge code.
type StoreMetrics struct {
	// BackendOperations counts backend calls by backend, operation and result.
	BackendOperations *prometheus.CounterVec

	// BackendDuration tracks backend call latency by backend and operation.
	BackendDuration *prometheus.HistogramVec

	// SharedHandles is the number of physical handles held by the resource registry.
	SharedHandles prometheus.Gauge

	// OpenCursors is the number of index cursors not yet closed.
	OpenCursors prometheus.Gauge

	// MergedChunks counts chunks written to merged documents by strategy.
	MergedChunks *prometheus.CounterVec
}

// NewStoreMetrics creates the chunk store collectors without registering them.
func NewStoreMetrics() *StoreMetrics {
	return &StoreMetrics{
		BackendOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "operations_total",
				Help:      "Total number of chunk backend operations",
			},
			[]string{"backend", "op", "result"},
		),
		BackendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "operation_duration_seconds",
				Help:      "Chunk backend operation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "op"},
		),
		SharedHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "shared_handles",
			Help:      "Number of open shared storage handles",
		}),
		OpenCursors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "open_cursors",
			Help:      "Number of index cursors that have not been closed",
		}),
		MergedChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "merge",
				Name:      "chunks_total",
				Help:      "Total number of chunks written to merged documents",
			},
			[]string{"strategy"},
		),
	}
}

// Collectors returns every collector for registration.
func (m *StoreMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BackendOperations,
		m.BackendDuration,
		m.SharedHandles,
		m.OpenCursors,
		m.MergedChunks,
	}
}

// ObserveBackend records the outcome and latency of one backend operation.
func (m *StoreMetrics) ObserveBackend(backend, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BackendOperations.WithLabelValues(backend, op, result).Inc()
	m.BackendDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

var (
	// Registry is the process-wide Prometheus registry served by MetricsServer.
	Registry = prometheus.NewRegistry()

	// Store holds the process-wide chunk store collectors.
	Store = NewStoreMetrics()
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	Registry.MustRegister(Store.Collectors()...)
}

// MetricsServer serves the process-wide registry on /metrics.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) (*MetricsServer, error) {
	if addr == "" {
		return nil, errors.New("metrics address is empty")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
