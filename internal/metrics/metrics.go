// Package metrics provides Prometheus metrics for the Slack/IRC bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	SlackEventsTotal    *prometheus.CounterVec
	IRCCommandsTotal    *prometheus.CounterVec
	MessagesRelayed     *prometheus.CounterVec
	RTMReconnectsTotal  prometheus.Counter
	IRCClientsConnected prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SlackEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_slack_events_total",
				Help: "Total number of RTM events received by type.",
			},
			[]string{"type"},
		),
		IRCCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_irc_commands_total",
				Help: "Total number of IRC commands handled by command and outcome.",
			},
			[]string{"command", "outcome"},
		),
		MessagesRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_messages_relayed_total",
				Help: "Total number of messages relayed by direction.",
			},
			[]string{"direction"},
		),
		RTMReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_rtm_reconnects_total",
				Help: "Total number of RTM websocket reconnects.",
			},
		),
		IRCClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_irc_clients_connected",
				Help: "Whether an IRC client is currently connected (0 or 1).",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.SlackEventsTotal)
	reg.MustRegister(m.IRCCommandsTotal)
	reg.MustRegister(m.MessagesRelayed)
	reg.MustRegister(m.RTMReconnectsTotal)
	reg.MustRegister(m.IRCClientsConnected)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSlackEvent increments the RTM event counter.
func (m *Metrics) RecordSlackEvent(eventType string) {
	m.SlackEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordIRCCommand increments the IRC command counter.
func (m *Metrics) RecordIRCCommand(command, outcome string) {
	m.IRCCommandsTotal.WithLabelValues(command, outcome).Inc()
}

// RecordRelay increments the relay counter for a direction ("inbound" or
// "outbound").
func (m *Metrics) RecordRelay(direction string) {
	m.MessagesRelayed.WithLabelValues(direction).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// RecordReconnect increments the RTM reconnect counter.
func (m *Metrics) RecordReconnect() {
	m.RTMReconnectsTotal.Inc()
}

// SetIRCConnected sets whether an IRC client is currently attached.
func (m *Metrics) SetIRCConnected(connected bool) {
	if connected {
		m.IRCClientsConnected.Set(1)
	} else {
		m.IRCClientsConnected.Set(0)
	}
}
