// Package gipmetrics exposes Prometheus metrics for the gipd daemon.
package gipmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gipd"
	subsystem = "gip"
)

// Label names for GIP metrics.
const (
	labelAdapter   = "adapter_id"
	labelClient    = "client_id"
	labelFromState = "from_state"
	labelToState   = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus GIP Metrics
// -------------------------------------------------------------------------

// Collector holds all GIP Prometheus metrics.
//
//   - Clients tracks currently connected clients per adapter.
//   - Packet counters track TX/RX/drop volumes per client.
//   - StateTransitions records lifecycle FSM changes for alerting.
//   - AuthFailures and ChunkOverflows flag protocol-level anomalies.
type Collector struct {
	// Clients tracks the number of currently connected clients per adapter.
	Clients *prometheus.GaugeVec

	// PacketsSent counts GIP packets transmitted per client.
	PacketsSent *prometheus.CounterVec

	// PacketsReceived counts GIP packets received per client.
	PacketsReceived *prometheus.CounterVec

	// PacketsDropped counts GIP packets dropped (malformed header, short
	// body, chunk overflow) per client.
	PacketsDropped *prometheus.CounterVec

	// StateTransitions counts lifecycle FSM transitions, labeled with the
	// old and new state for precise alerting (e.g. Identified->Disconnected).
	StateTransitions *prometheus.CounterVec

	// AuthFailures counts authentication handshake failures per client.
	AuthFailures *prometheus.CounterVec

	// ChunkOverflows counts chunk reassembly overflows per client
	// (spec.md §8 B1).
	ChunkOverflows *prometheus.CounterVec
}

// NewCollector creates a Collector with all GIP metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Clients,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.StateTransitions,
		c.AuthFailures,
		c.ChunkOverflows,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	adapterLabels := []string{labelAdapter}
	clientLabels := []string{labelAdapter, labelClient}
	transitionLabels := []string{labelAdapter, labelClient, labelFromState, labelToState}

	return &Collector{
		Clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "clients",
			Help:      "Number of currently connected GIP clients.",
		}, adapterLabels),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total GIP packets transmitted.",
		}, clientLabels),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total GIP packets received.",
		}, clientLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total GIP packets dropped due to validation failure.",
		}, clientLabels),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total GIP client lifecycle FSM transitions.",
		}, transitionLabels),

		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total authentication handshake failures.",
		}, clientLabels),

		ChunkOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chunk_overflows_total",
			Help:      "Total chunk reassembly overflows.",
		}, clientLabels),
	}
}

// -------------------------------------------------------------------------
// Client Lifecycle
// -------------------------------------------------------------------------

// RegisterClient increments the connected-clients gauge for adapterID.
func (c *Collector) RegisterClient(adapterID int) {
	c.Clients.WithLabelValues(adapterLabel(adapterID)).Inc()
}

// UnregisterClient decrements the connected-clients gauge for adapterID.
func (c *Collector) UnregisterClient(adapterID int) {
	c.Clients.WithLabelValues(adapterLabel(adapterID)).Dec()
}

// -------------------------------------------------------------------------
// Packet Counters
// -------------------------------------------------------------------------

// IncPacketsSent increments the transmitted packets counter for clientID.
func (c *Collector) IncPacketsSent(adapterID int, clientID uint8) {
	c.PacketsSent.WithLabelValues(adapterLabel(adapterID), clientLabel(clientID)).Inc()
}

// IncPacketsReceived increments the received packets counter for clientID.
func (c *Collector) IncPacketsReceived(adapterID int, clientID uint8) {
	c.PacketsReceived.WithLabelValues(adapterLabel(adapterID), clientLabel(clientID)).Inc()
}

// IncPacketsDropped increments the dropped packets counter for clientID.
func (c *Collector) IncPacketsDropped(adapterID int, clientID uint8) {
	c.PacketsDropped.WithLabelValues(adapterLabel(adapterID), clientLabel(clientID)).Inc()
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the state transition counter with the
// old and new state labels. Used for alerting on disconnect churn.
func (c *Collector) RecordStateTransition(adapterID int, clientID uint8, from, to string) {
	c.StateTransitions.WithLabelValues(adapterLabel(adapterID), clientLabel(clientID), from, to).Inc()
}

// -------------------------------------------------------------------------
// Authentication / Chunking
// -------------------------------------------------------------------------

// IncAuthFailures increments the authentication failure counter for clientID.
func (c *Collector) IncAuthFailures(adapterID int, clientID uint8) {
	c.AuthFailures.WithLabelValues(adapterLabel(adapterID), clientLabel(clientID)).Inc()
}

// IncChunkOverflows increments the chunk overflow counter for clientID.
func (c *Collector) IncChunkOverflows(adapterID int, clientID uint8) {
	c.ChunkOverflows.WithLabelValues(adapterLabel(adapterID), clientLabel(clientID)).Inc()
}

func adapterLabel(adapterID int) string {
	return strconv.Itoa(adapterID)
}

func clientLabel(clientID uint8) string {
	return strconv.Itoa(int(clientID))
}
