package metric

import "github.com/prometheus/client_golang/prometheus"

const namespace = "oscquery"

// Metrics contains the server-wide metrics. All Record methods are no-ops on a nil
// receiver.
type Metrics struct {
	OSCPackets       *prometheus.CounterVec
	DecodeFailures   *prometheus.CounterVec
	DispatchMessages *prometheus.CounterVec
	Triggers         prometheus.Counter
	GraphNodes       prometheus.Gauge
	WSClients        prometheus.Gauge
	WSCommands       *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	NATSConnected    prometheus.Gauge
}

// Dispatch results recorded by RecordDispatch.
const (
	DispatchApplied   = "applied"
	DispatchUnmatched = "unmatched"
	DispatchReadOnly  = "readonly"
)

// NewMetrics creates the core metrics. They are not registered anywhere until handed to
// a MetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		OSCPackets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "osc",
				Name:      "packets_total",
				Help:      "OSC packets received, by transport",
			},
			[]string{"transport"},
		),
		DecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "osc",
				Name:      "decode_failures_total",
				Help:      "Inbound payloads dropped because they did not decode, by transport",
			},
			[]string{"transport"},
		),
		DispatchMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "messages_total",
				Help:      "OSC messages dispatched against the tree, by result (applied, unmatched, readonly)",
			},
			[]string{"result"},
		),
		Triggers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_total",
				Help:      "Paths re-read and broadcast",
			},
		),
		GraphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "nodes",
				Help:      "Live nodes in the tree, including the root",
			},
		),
		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "clients",
				Help:      "Open WebSocket connections",
			},
		),
		WSCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "commands_total",
				Help:      "WebSocket text commands received, by command",
			},
			[]string{"command"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Change notifications fanned out, by kind",
			},
			[]string{"kind"},
		),
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS mirror connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.OSCPackets,
		m.DecodeFailures,
		m.DispatchMessages,
		m.Triggers,
		m.GraphNodes,
		m.WSClients,
		m.WSCommands,
		m.Notifications,
		m.NATSConnected,
	}
}

// RecordPacket counts an inbound packet.
func (m *Metrics) RecordPacket(transport string) {
	if m == nil {
		return
	}
	m.OSCPackets.WithLabelValues(transport).Inc()
}

// RecordDecodeFailure counts a dropped payload.
func (m *Metrics) RecordDecodeFailure(transport string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(transport).Inc()
}

// RecordDispatch counts one dispatched message.
func (m *Metrics) RecordDispatch(result string) {
	if m == nil {
		return
	}
	m.DispatchMessages.WithLabelValues(result).Inc()
}

// RecordTrigger counts a trigger.
func (m *Metrics) RecordTrigger() {
	if m == nil {
		return
	}
	m.Triggers.Inc()
}

// SetGraphNodes records the tree size.
func (m *Metrics) SetGraphNodes(n int) {
	if m == nil {
		return
	}
	m.GraphNodes.Set(float64(n))
}

// AddWSClients adjusts the open connection gauge by delta.
func (m *Metrics) AddWSClients(delta int) {
	if m == nil {
		return
	}
	m.WSClients.Add(float64(delta))
}

// RecordWSCommand counts a text command.
func (m *Metrics) RecordWSCommand(command string) {
	if m == nil {
		return
	}
	m.WSCommands.WithLabelValues(command).Inc()
}

// RecordNotification counts a fanned out notification.
func (m *Metrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

// RecordNATSStatus updates the NATS connection gauge.
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1.0
	}
	m.NATSConnected.Set(v)
}
