package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for count resolution.
type Metrics struct {
	primaryOK      prometheus.Counter
	primaryFailed  prometheus.Counter
	fallbackScans  prometheus.Counter
	windowsQueried prometheus.Counter
	eventsFound    prometheus.Counter
	scanErrors     prometheus.Counter
	staleDiscarded prometheus.Counter
	endpointServed *prometheus.CounterVec
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			primaryOK: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pumpmybag_primary_success_total",
				Help: "Counts resolved by the aggregation service",
			}),
			primaryFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pumpmybag_primary_failures_total",
				Help: "Aggregation service calls that failed and fell back",
			}),
			fallbackScans: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pumpmybag_fallback_scans_total",
				Help: "Log scans started by the fallback path",
			}),
			windowsQueried: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pumpmybag_windows_queried_total",
				Help: "Block-range windows queried with eth_getLogs",
			}),
			eventsFound: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pumpmybag_events_found_total",
				Help: "Matching GMSent events found by log scans",
			}),
			scanErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pumpmybag_scan_errors_total",
				Help: "Log scans aborted by a failed query",
			}),
			staleDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pumpmybag_stale_results_discarded_total",
				Help: "Resolutions discarded because the address changed",
			}),
			endpointServed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pumpmybag_endpoint_requests_total",
				Help: "Aggregation endpoint responses by outcome (ok, error)",
			}, []string{"status"}),
		}
		prometheus.MustRegister(
			metrics.primaryOK,
			metrics.primaryFailed,
			metrics.fallbackScans,
			metrics.windowsQueried,
			metrics.eventsFound,
			metrics.scanErrors,
			metrics.staleDiscarded,
			metrics.endpointServed,
		)
	})
	return metrics
}

// PrimarySuccess increments the aggregation success counter.
func (m *Metrics) PrimarySuccess() {
	if m != nil {
		m.primaryOK.Inc()
	}
}

// PrimaryFailure increments the aggregation failure counter.
func (m *Metrics) PrimaryFailure() {
	if m != nil {
		m.primaryFailed.Inc()
	}
}

// FallbackScan increments the fallback scan counter.
func (m *Metrics) FallbackScan() {
	if m != nil {
		m.fallbackScans.Inc()
	}
}

// WindowQueried increments the queried windows counter.
func (m *Metrics) WindowQueried() {
	if m != nil {
		m.windowsQueried.Inc()
	}
}

// EventsFound adds n to the events counter.
func (m *Metrics) EventsFound(n uint64) {
	if m != nil && n > 0 {
		m.eventsFound.Add(float64(n))
	}
}

// ScanError increments the scan error counter.
func (m *Metrics) ScanError() {
	if m != nil {
		m.scanErrors.Inc()
	}
}

// StaleDiscarded increments the stale result counter.
func (m *Metrics) StaleDiscarded() {
	if m != nil {
		m.staleDiscarded.Inc()
	}
}

// EndpointServed records an aggregation endpoint response.
func (m *Metrics) EndpointServed(status string) {
	if m != nil {
		m.endpointServed.WithLabelValues(status).Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
