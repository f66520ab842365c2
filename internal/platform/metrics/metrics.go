package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the traffic player.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	refreshesTotal  *prometheus.CounterVec
	normalizedTotal prometheus.Counter
	fetchErrors     *prometheus.CounterVec
	frameFeatures   prometheus.Gauge
	playing         prometheus.Gauge
	liveClients     prometheus.Gauge
}

// New creates and registers Prometheus metrics for the player.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficmap_requests_total",
			Help: "Total number of control API requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficmap_errors_total",
			Help: "Total number of control API responses with error status (4xx or 5xx)",
		}),
		refreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficmap_refreshes_total",
			Help: "Frame refreshes by outcome (rendered, skipped, stale, failed)",
		}, []string{"outcome"}),
		normalizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficmap_payloads_normalized_total",
			Help: "Traffic payloads replaced by an empty FeatureCollection because they were malformed",
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficmap_fetch_errors_total",
			Help: "Failed requests to the traffic data service by endpoint",
		}, []string{"endpoint"}),
		frameFeatures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trafficmap_frame_features",
			Help: "Number of road segments in the last rendered frame",
		}),
		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trafficmap_playing",
			Help: "1 while timeline playback is running",
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trafficmap_live_clients",
			Help: "Connected websocket map clients",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.refreshesTotal,
		m.normalizedTotal,
		m.fetchErrors,
		m.frameFeatures,
		m.playing,
		m.liveClients,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// IncRefresh counts one refresh with the given outcome label.
func (m *Metrics) IncRefresh(outcome string) {
	if m != nil {
		m.refreshesTotal.WithLabelValues(outcome).Inc()
	}
}

// IncNormalized counts a malformed payload that was replaced by an empty collection.
func (m *Metrics) IncNormalized() {
	if m != nil {
		m.normalizedTotal.Inc()
	}
}

// IncFetchError counts a failed request to endpoint.
func (m *Metrics) IncFetchError(endpoint string) {
	if m != nil {
		m.fetchErrors.WithLabelValues(endpoint).Inc()
	}
}

// SetFrameFeatures records the feature count of the last rendered frame.
func (m *Metrics) SetFrameFeatures(n int) {
	if m != nil {
		m.frameFeatures.Set(float64(n))
	}
}

// SetPlaying sets the playback gauge.
func (m *Metrics) SetPlaying(on bool) {
	if m == nil {
		return
	}
	if on {
		m.playing.Set(1)
	} else {
		m.playing.Set(0)
	}
}

// SetLiveClients sets the websocket client gauge.
func (m *Metrics) SetLiveClients(n int) {
	if m != nil {
		m.liveClients.Set(float64(n))
	}
}

// Registry exposes the underlying registry (for tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
