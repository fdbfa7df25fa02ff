package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the clone pool.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	clonesTotal      *prometheus.CounterVec
	cacheResultTotal *prometheus.CounterVec

	// Histograms
	cloneDuration *prometheus.HistogramVec

	// Gauges
	uptime         prometheus.GaugeFunc
	inFlightClones prometheus.Gauge
	poolEntries    prometheus.Gauge
}

// Default histogram buckets for clone duration (in milliseconds). A clone
// is an external process over the network, so the range skews much higher
// than an in-process RPC call.
var defaultBuckets = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		clonesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clones_total",
				Help:      "Total number of lookup_or_clone/clone_in calls by status and join state",
			},
			[]string{"status", "joined"}, // status: success|failed, joined: true|false
		),

		cacheResultTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_result_total",
				Help:      "Total non-blocking lookup calls by result",
			},
			[]string{"result"}, // hit|miss
		),

		cloneDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clone_duration_milliseconds",
				Help:      "Duration of lookup_or_clone calls in milliseconds, including calls that joined an existing entry",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		inFlightClones: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_clones",
				Help:      "Number of cache entries currently mid-clone",
			},
		),

		poolEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_entries",
				Help:      "Total number of cache entries (settled + in-flight) held by the pool",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the pool daemon started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.clonesTotal,
		pm.cacheResultTotal,
		pm.cloneDuration,
		pm.uptime,
		pm.inFlightClones,
		pm.poolEntries,
	)

	promMetrics = pm
}

// RecordPrometheusClone records a settled lookup_or_clone/clone_in call.
func RecordPrometheusClone(status string, joined bool, durationMs int64) {
	if promMetrics == nil {
		return
	}
	joinedLabel := "false"
	if joined {
		joinedLabel = "true"
	}
	promMetrics.clonesTotal.WithLabelValues(status, joinedLabel).Inc()
	promMetrics.cloneDuration.WithLabelValues(status).Observe(float64(durationMs))
}

// RecordPrometheusCacheResult records a non-blocking lookup's outcome.
func RecordPrometheusCacheResult(hit bool) {
	if promMetrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	promMetrics.cacheResultTotal.WithLabelValues(result).Inc()
}

// SetInFlightClones sets the current count of mid-clone cache entries.
func SetInFlightClones(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.inFlightClones.Set(float64(count))
}

// SetPoolEntries sets the current total cache-entry count.
func SetPoolEntries(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.poolEntries.Set(float64(count))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
