// Package metrics provides Prometheus metrics for filetier servers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ServerMetrics holds the metrics for one dispatcher or tier server. Each
// server carries its own registry so several instances can run in one
// process (as the tests do) without collector collisions.
type ServerMetrics struct {
	registry *prometheus.Registry

	// Command outcomes, labeled by protocol verb and "ok"/"error".
	CommandsTotal *prometheus.CounterVec

	// Payload bytes moved over client-facing connections.
	BytesReceived prometheus.Counter
	BytesSent     prometheus.Counter

	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
}

// New creates the metric set for a server. component is "dispatcher" or
// "backend"; tier names the extension class a backend owns and is empty
// for the dispatcher.
func New(component, tier string) *ServerMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{"component": component}
	if tier != "" {
		constLabels["tier"] = tier
	}

	return &ServerMetrics{
		registry: registry,
		CommandsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name:        "filetier_commands_total",
			Help:        "Total protocol commands handled, by verb and outcome",
			ConstLabels: constLabels,
		}, []string{"verb", "status"}),
		BytesReceived: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name:        "filetier_bytes_received_total",
			Help:        "Total payload bytes received from peers",
			ConstLabels: constLabels,
		}),
		BytesSent: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name:        "filetier_bytes_sent_total",
			Help:        "Total payload bytes sent to peers",
			ConstLabels: constLabels,
		}),
		ActiveConnections: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name:        "filetier_active_connections",
			Help:        "Currently open client connections",
			ConstLabels: constLabels,
		}),
		ConnectionsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name:        "filetier_connections_total",
			Help:        "Total accepted client connections",
			ConstLabels: constLabels,
		}),
	}
}

// Command records one handled command.
func (m *ServerMetrics) Command(verb string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CommandsTotal.WithLabelValues(verb, status).Inc()
}

// Handler returns the scrape handler for this server's registry.
func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in a background goroutine. Scrape serving
// is best effort and never takes the file server down with it.
func (m *ServerMetrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics endpoint stopped")
		}
	}()
}
