// Package metrics exposes Prometheus counters and gauges for a single
// run/transfer invocation. Unlike a long-lived server, the listener this
// package starts exists only for the lifetime of one CLI invocation — there
// is no scheduling daemon to keep it running between cron-triggered runs.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the counters and gauges updated over the course of one
// command invocation.
type Collector struct {
	registry *prometheus.Registry

	SnapshotsCreated prometheus.Counter
	SnapshotsDeleted prometheus.Counter
	TransferBytes    prometheus.Counter
	RunDuration      prometheus.Histogram
	RunOutcome       *prometheus.CounterVec
}

// NewCollector builds a Collector registered against a fresh, private
// registry (not the global default one), so multiple invocations in the
// same test process never collide on metric registration.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	return &Collector{
		registry: reg,
		SnapshotsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "snapkeep",
			Name:      "snapshots_created_total",
			Help:      "Number of snapshots created by this invocation.",
		}),
		SnapshotsDeleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "snapkeep",
			Name:      "snapshots_deleted_total",
			Help:      "Number of snapshots deleted by retention sweeps in this invocation.",
		}),
		TransferBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "snapkeep",
			Name:      "transfer_bytes_total",
			Help:      "Bytes streamed from source to destination in this invocation.",
		}),
		RunDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "snapkeep",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a run/transfer invocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RunOutcome: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapkeep",
			Name:      "run_outcome_total",
			Help:      "Run outcomes by result (success, failed, interrupted).",
		}, []string{"outcome"}),
	}
}

// Serve starts an HTTP server exposing /metrics in Prometheus text format
// and blocks until ctx is cancelled, then shuts the server down. Intended
// to be run in its own goroutine for the duration of a run/transfer
// invocation.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
