// Package rtmfpmetrics provides the Prometheus-backed implementation of
// rtmfp.MetricsReporter.
package rtmfpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanjayc77/cumulus/internal/rtmfp"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "rtmfpd"
	subsystem = "rtmfp"
)

const labelReason = "reason"

// -------------------------------------------------------------------------
// Collector — Prometheus RTMFP Metrics
// -------------------------------------------------------------------------

// Collector holds all RTMFP Prometheus metrics and implements
// rtmfp.MetricsReporter so the core engine can report straight into it.
type Collector struct {
	Sessions            prometheus.Gauge
	SessionsTotal       prometheus.Counter
	PacketsSent         prometheus.Counter
	PacketsReceived     prometheus.Counter
	PacketsDropped      *prometheus.CounterVec
	FlowMessagesSent    prometheus.Counter
	FlowMessagesRecv    prometheus.Counter
	RetransmitsTriggered prometheus.Counter
	AcksProcessed       prometheus.Counter
	HandshakesAttempted prometheus.Counter
	HandshakesCompleted prometheus.Counter
	RendezvousMatches   prometheus.Counter
}

var _ rtmfp.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all RTMFP metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.SessionsTotal,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.FlowMessagesSent,
		c.FlowMessagesRecv,
		c.RetransmitsTriggered,
		c.AcksProcessed,
		c.HandshakesAttempted,
		c.HandshakesCompleted,
		c.RendezvousMatches,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently active RTMFP sessions.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_created_total",
			Help:      "Total RTMFP sessions created.",
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total UDP datagrams transmitted.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total UDP datagrams received.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total datagrams dropped before session dispatch, by reason.",
		}, []string{labelReason}),
		FlowMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flow_messages_sent_total",
			Help:      "Total reliable flow messages transmitted.",
		}),
		FlowMessagesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flow_messages_received_total",
			Help:      "Total reliable flow messages received.",
		}),
		RetransmitsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retransmits_triggered_total",
			Help:      "Total flow fragment retransmissions triggered.",
		}),
		AcksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acks_processed_total",
			Help:      "Total acknowledgment messages processed.",
		}),
		HandshakesAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshakes_attempted_total",
			Help:      "Total stage-1 handshake cookies issued.",
		}),
		HandshakesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshakes_completed_total",
			Help:      "Total stage-2 handshakes completed into a session.",
		}),
		RendezvousMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rendezvous_matches_total",
			Help:      "Total successful P2P rendezvous matches.",
		}),
	}
}

// -------------------------------------------------------------------------
// rtmfp.MetricsReporter
// -------------------------------------------------------------------------

func (c *Collector) SessionCreated() {
	c.Sessions.Inc()
	c.SessionsTotal.Inc()
}

func (c *Collector) SessionDestroyed() { c.Sessions.Dec() }

func (c *Collector) PacketSent()     { c.PacketsSent.Inc() }
func (c *Collector) PacketReceived() { c.PacketsReceived.Inc() }

func (c *Collector) PacketDropped(reason string) {
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) FlowMessageSent()     { c.FlowMessagesSent.Inc() }
func (c *Collector) FlowMessageReceived() { c.FlowMessagesRecv.Inc() }
func (c *Collector) RetransmitTriggered() { c.RetransmitsTriggered.Inc() }
func (c *Collector) AckProcessed()        { c.AcksProcessed.Inc() }
func (c *Collector) HandshakeAttempted()  { c.HandshakesAttempted.Inc() }
func (c *Collector) HandshakeCompleted()  { c.HandshakesCompleted.Inc() }
func (c *Collector) RendezvousMatched()   { c.RendezvousMatches.Inc() }
