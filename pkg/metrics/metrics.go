package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Live websocket connections on this instance",
	})

	EventsInbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_inbound_total",
			Help: "Inbound client events by type and outcome",
		},
		[]string{"type", "result"},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_deliveries_total",
			Help: "Per-connection fan-out attempts by outcome",
		},
		[]string{"result"},
	)

	PersistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_persist_duration_seconds",
			Help:    "Time spent storing chat events, queueing included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	SignalsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_signals_dropped_total",
		Help: "Signaling frames dropped because the target had no live connection",
	})

	BusMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bus_messages_total",
			Help: "Cross-instance bus traffic by direction",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(ConnectionsActive, EventsInbound, Deliveries, PersistDuration, SignalsDropped, BusMessages)
}

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
