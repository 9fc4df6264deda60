// Package metrics exposes a live, optional Prometheus view of a running
// benchmark. It is purely additive: the spec's own summary pipeline
// (internal/engine.Statistics) remains the source of truth for the final
// report; this package lets an in-flight run be scraped.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors a run updates as outcomes are
// folded. RequestsTotal and RequestDuration follow the status buckets and
// latencies of internal/engine.Statistics; ActiveWorkers counts running
// worker goroutines.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ActiveWorkers   prometheus.Gauge
}

// New registers and returns a fresh Metrics on its own registry, so
// multiple benchmark runs in the same process (e.g. in tests) never
// collide on the default global registry.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surge_requests_total",
			Help: "Total HTTP requests originated, partitioned by status bucket.",
		}, []string{"bucket"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surge_request_duration_seconds",
			Help:    "Observed request round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surge_active_workers",
			Help: "Number of worker goroutines currently running.",
		}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.ActiveWorkers)
	return m, reg
}

// ObserveBucket records one completed request in the named status
// bucket (see internal/engine.StatusBucket) with its latency.
func (m *Metrics) ObserveBucket(bucket string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(bucket).Inc()
	m.RequestDuration.Observe(elapsed.Seconds())
}

// Serve starts a blocking HTTP server exposing reg on /metrics at addr.
// It returns when ctx is canceled, shutting the server down gracefully.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
