package federation

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks registry and proxy activity
type Metrics struct {
	// Registry metrics
	Peers           prometheus.Gauge
	Reconciliations prometheus.Counter
	PeersDiscovered prometheus.Counter
	PeersLost       prometheus.Counter
	DevicesFiltered *prometheus.CounterVec

	// Routing metrics
	EventsRouted    *prometheus.CounterVec
	EventsUnclaimed *prometheus.CounterVec
	CommandMisses   *prometheus.CounterVec

	// Request metrics
	RequestsIssued  *prometheus.CounterVec
	RequestFailures *prometheus.CounterVec

	// Fan-out search metrics
	SearchRounds    prometheus.Counter
	SearchCompleted prometheus.Counter
	SearchTimeouts  prometheus.Counter
}

// NewMetrics creates and registers the federation metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Metrics{
		Peers: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "whpvr_peers",
			Help: "Number of recording peers in the registry",
		}),
		Reconciliations: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "whpvr_reconciliations_total",
			Help: "Total number of device list reconciliations",
		}),
		PeersDiscovered: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "whpvr_peers_discovered_total",
			Help: "Total number of device proxies created",
		}),
		PeersLost: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "whpvr_peers_lost_total",
			Help: "Total number of device proxies released after loss",
		}),
		DevicesFiltered: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "whpvr_devices_filtered_total",
			Help: "Discovered devices that did not produce a proxy",
		}, []string{"reason"}),

		EventsRouted: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "whpvr_events_routed_total",
			Help: "Protocol events claimed by a device proxy",
		}, []string{"event"}),
		EventsUnclaimed: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "whpvr_events_unclaimed_total",
			Help: "Protocol events no device proxy claimed",
		}, []string{"event"}),
		CommandMisses: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "whpvr_command_misses_total",
			Help: "Commands addressed to a device that is not registered",
		}, []string{"command"}),

		RequestsIssued: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "whpvr_requests_issued_total",
			Help: "Requests sent to peers",
		}, []string{"action"}),
		RequestFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "whpvr_request_failures_total",
			Help: "Requests the transport refused to send",
		}, []string{"action"}),

		SearchRounds: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "whpvr_search_rounds_total",
			Help: "Fan-out searches started",
		}),
		SearchCompleted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "whpvr_search_completed_total",
			Help: "Fan-out searches every peer finished",
		}),
		SearchTimeouts: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "whpvr_search_timeouts_total",
			Help: "Fan-out searches abandoned by the watchdog",
		}),
	}
}

// Handler returns an HTTP handler exposing the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
