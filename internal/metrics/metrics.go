package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	iconsLoaded         *prometheus.CounterVec
	iconLoadDuration    prometheus.Histogram
	activeLayers        prometheus.Gauge
	mapReady            prometheus.Gauge
	positionSyncs       *prometheus.CounterVec
	trackedDevices      prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP and map metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	iconsLoaded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Name:      "icons_loaded_total",
		Help:      "Icon composite attempts by result",
	}, []string{"result"})

	iconLoadDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetmap",
		Name:      "icon_load_duration_seconds",
		Help:      "Time to load, composite and register a single icon",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	activeLayers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetmap",
		Name:      "active_layers",
		Help:      "Number of dynamic layers currently on the map",
	})

	mapReady := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetmap",
		Name:      "map_ready",
		Help:      "1 once the base style and every category icon are loaded",
	})

	positionSyncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmap",
		Name:      "position_syncs_total",
		Help:      "Position source refreshes from the database by result",
	}, []string{"result"})

	trackedDevices := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetmap",
		Name:      "tracked_devices",
		Help:      "Devices in the last successful position refresh",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		iconsLoaded,
		iconLoadDuration,
		activeLayers,
		mapReady,
		positionSyncs,
		trackedDevices,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		iconsLoaded:         iconsLoaded,
		iconLoadDuration:    iconLoadDuration,
		activeLayers:        activeLayers,
		mapReady:            mapReady,
		positionSyncs:       positionSyncs,
		trackedDevices:      trackedDevices,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveIconLoad records one icon composite attempt.
func (m *Metrics) ObserveIconLoad(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.iconsLoaded.WithLabelValues(result).Inc()
	m.iconLoadDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetActiveLayers(n int) {
	if m == nil {
		return
	}
	m.activeLayers.Set(float64(n))
}

func (m *Metrics) SetMapReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.mapReady.Set(1)
		return
	}
	m.mapReady.Set(0)
}

// ObservePositionSync records one position refresh. devices is only used on
// success.
func (m *Metrics) ObservePositionSync(result string, devices int) {
	if m == nil {
		return
	}
	m.positionSyncs.WithLabelValues(result).Inc()
	if result == "ok" {
		m.trackedDevices.Set(float64(devices))
	}
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
