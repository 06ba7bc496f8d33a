// Package metrics exposes crawler and work queue activity to Prometheus.
//
// Every instance owns its registry, so tests and multiple crawlers never
// collide on the global one. A nil *Metrics is valid: all methods are no-ops.
//
//	┌───────────────────────────────────┬───────┬──────────────────────────┐
//	│ Metric                            │ Type  │ Labels                   │
//	├───────────────────────────────────┼───────┼──────────────────────────┤
//	│ indexdog_queue_length             │ gauge │                          │
//	│ indexdog_queue_backing_length     │ gauge │                          │
//	│ indexdog_queue_pops_total         │ count │ mode                     │
//	│ indexdog_queue_stale_hints_total  │ count │                          │
//	│ indexdog_queue_evictions_total    │ count │                          │
//	│ indexdog_files_indexed_total      │ count │ source                   │
//	│ indexdog_bytes_indexed_total      │ count │                          │
//	│ indexdog_directories_listed_total │ count │                          │
//	│ indexdog_errors_total             │ count │ stage                    │
//	│ indexdog_watcher_events_total     │ count │ op                       │
//	└───────────────────────────────────┴───────┴──────────────────────────┘
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "indexdog"

// Pop modes.
const (
	ModeHinted = "hinted"
	ModeRandom = "random"
)

// Index sources.
const (
	SourceExtracted = "extracted"
	SourceCached    = "cached"
)

// Metrics holds the collectors of one crawler run.
type Metrics struct {
	registry *prometheus.Registry

	QueueLength        prometheus.Gauge
	QueueBackingLength prometheus.Gauge
	QueuePops          *prometheus.CounterVec
	StaleHints         prometheus.Counter
	Evictions          prometheus.Counter
	FilesIndexed       *prometheus.CounterVec
	BytesIndexed       prometheus.Counter
	DirectoriesListed  prometheus.Counter
	Errors             *prometheus.CounterVec
	WatcherEvents      *prometheus.CounterVec
}

// New creates metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Live tasks in the work queue",
		}),
		QueueBackingLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_backing_length",
			Help:      "Backing sequence length including uncompacted removed tasks",
		}),
		QueuePops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_pops_total",
			Help:      "Tasks popped from the work queue by selection mode",
		}, []string{"mode"}),
		StaleHints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_stale_hints_total",
			Help:      "Hints discarded because no queued task carried the key",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_evictions_total",
			Help:      "Tasks removed from the queue before being processed",
		}),
		FilesIndexed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_indexed_total",
			Help:      "Files indexed by metadata source",
		}, []string{"source"}),
		BytesIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_indexed_total",
			Help:      "Total size of indexed files",
		}),
		DirectoriesListed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directories_listed_total",
			Help:      "Directories listed by the crawler",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Non-fatal errors by pipeline stage",
		}, []string{"stage"}),
		WatcherEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_events_total",
			Help:      "Filesystem events received in follow mode",
		}, []string{"op"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetQueue records the current queue lengths.
func (m *Metrics) SetQueue(length, backing int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(length))
	m.QueueBackingLength.Set(float64(backing))
}

// AddPops counts popped tasks for one selection mode.
func (m *Metrics) AddPops(mode string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.QueuePops.WithLabelValues(mode).Add(float64(n))
}

// AddStaleHints counts discarded hints.
func (m *Metrics) AddStaleHints(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleHints.Add(float64(n))
}

// AddEvictions counts tasks dropped before processing.
func (m *Metrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evictions.Add(float64(n))
}

// FileIndexed counts one indexed file of the given size.
func (m *Metrics) FileIndexed(source string, size int64) {
	if m == nil {
		return
	}
	m.FilesIndexed.WithLabelValues(source).Inc()
	m.BytesIndexed.Add(float64(size))
}

// DirectoryListed counts one listed directory.
func (m *Metrics) DirectoryListed() {
	if m == nil {
		return
	}
	m.DirectoriesListed.Inc()
}

// Error counts a non-fatal error in stage.
func (m *Metrics) Error(stage string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(stage).Inc()
}

// WatcherEvent counts one filesystem event.
func (m *Metrics) WatcherEvent(op string) {
	if m == nil {
		return
	}
	m.WatcherEvents.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
// The listener is bound before Serve returns, so bind errors are reported
// synchronously. Serving errors are sent to errCh.
func (m *Metrics) Serve(ctx context.Context, addr string, errCh chan<- error) (net.Addr, error) {
	if m == nil {
		return nil, errors.New("metrics disabled")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && errCh != nil {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	return ln.Addr(), nil
}
