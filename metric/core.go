package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not per-component)
type Metrics struct {
	// Connection metrics
	ConnectionsActive *prometheus.GaugeVec   // by direction
	ConnectionsTotal  *prometheus.CounterVec // by direction, outcome
	HandshakeOutcomes *prometheus.CounterVec // by stage, result
	FramesTransferred *prometheus.CounterVec // by connection, direction
	BytesTransferred  *prometheus.CounterVec // by connection, direction
	AcksSent          *prometheus.CounterVec // by connection
	ProtocolErrors    *prometheus.CounterVec // by connection, kind

	// NATS metrics
	NATSConnected    prometheus.Gauge
	NATSReconnects   prometheus.Counter
	TapPublishErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "spinemlnet",
				Subsystem: "connections",
				Name:      "active",
				Help:      "Connections currently established, by data direction",
			},
			[]string{"direction"},
		),

		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinemlnet",
				Subsystem: "connections",
				Name:      "total",
				Help:      "Connections accepted since start, by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),

		HandshakeOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinemlnet",
				Subsystem: "handshake",
				Name:      "outcomes_total",
				Help:      "Handshake attempts by terminal stage and result",
			},
			[]string{"stage", "result"},
		),

		FramesTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinemlnet",
				Subsystem: "frames",
				Name:      "transferred_total",
				Help:      "Complete frames moved across the wire",
			},
			[]string{"connection", "direction"},
		),

		BytesTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinemlnet",
				Subsystem: "frames",
				Name:      "bytes_total",
				Help:      "Frame payload bytes moved across the wire",
			},
			[]string{"connection", "direction"},
		),

		AcksSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinemlnet",
				Subsystem: "frames",
				Name:      "acks_sent_total",
				Help:      "RECVD acknowledgements written to clients",
			},
			[]string{"connection"},
		),

		ProtocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spinemlnet",
				Subsystem: "errors",
				Name:      "protocol_total",
				Help:      "Protocol and transport errors by connection and kind",
			},
			[]string{"connection", "kind"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "spinemlnet",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "spinemlnet",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		TapPublishErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "spinemlnet",
				Subsystem: "nats",
				Name:      "tap_publish_errors_total",
				Help:      "Frame tap publish failures (best effort, never fatal)",
			},
		),
	}
}

// RecordConnectionOpened increments the active gauge for a direction
func (m *Metrics) RecordConnectionOpened(direction string) {
	m.ConnectionsActive.WithLabelValues(direction).Inc()
}

// RecordConnectionClosed decrements the active gauge and counts the outcome
func (m *Metrics) RecordConnectionClosed(direction, outcome string) {
	m.ConnectionsActive.WithLabelValues(direction).Dec()
	m.ConnectionsTotal.WithLabelValues(direction, outcome).Inc()
}

// RecordHandshake counts a handshake terminal state
func (m *Metrics) RecordHandshake(stage, result string) {
	m.HandshakeOutcomes.WithLabelValues(stage, result).Inc()
}

// RecordFrame counts one complete frame and its payload bytes
func (m *Metrics) RecordFrame(connection, direction string, bytes int) {
	m.FramesTransferred.WithLabelValues(connection, direction).Inc()
	m.BytesTransferred.WithLabelValues(connection, direction).Add(float64(bytes))
}

// RecordAck counts one acknowledgement written to a client
func (m *Metrics) RecordAck(connection string) {
	m.AcksSent.WithLabelValues(connection).Inc()
}

// RecordProtocolError counts a protocol or transport error
func (m *Metrics) RecordProtocolError(connection, kind string) {
	m.ProtocolErrors.WithLabelValues(connection, kind).Inc()
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordTapPublishError increments the tap publish failure counter
func (m *Metrics) RecordTapPublishError() {
	m.TapPublishErrors.Inc()
}
