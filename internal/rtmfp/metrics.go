package rtmfp

// MetricsReporter is the seam between the core protocol engine and whatever
// observability backend the caller wires up (prometheus, in
// internal/metrics, per §4.10). The core package never imports prometheus
// directly — every type here takes a MetricsReporter, defaulting to
// noopMetrics when the caller doesn't supply one, the same seam the
// teacher's bfd.Manager/Session/EchoSession use for their MetricsReporter
// field.
type MetricsReporter interface {
	// SessionCreated/SessionDestroyed track SessionTable occupancy.
	SessionCreated()
	SessionDestroyed()

	// PacketSent/PacketReceived/PacketDropped track UDP datagram volume.
	PacketSent()
	PacketReceived()
	PacketDropped(reason string)

	// FlowMessageSent/FlowMessageReceived track reassembled application
	// messages crossing a Flow, one count per complete message.
	FlowMessageSent()
	FlowMessageReceived()

	// RetransmitTriggered counts every Trigger.Raise that fired a
	// retransmission (as opposed to one that found nothing due).
	RetransmitTriggered()

	// AckProcessed counts every Flow.Acknowledgment call that succeeded
	// (cleared at least the trailing edge of the send queue).
	AckProcessed()

	// HandshakeAttempted/HandshakeCompleted track Handshake's two-stage
	// cookie exchange funnel.
	HandshakeAttempted()
	HandshakeCompleted()

	// RendezvousMatched counts successful P2P peer-id lookups that
	// resulted in an address-exchange message being queued.
	RendezvousMatched()
}

// noopMetrics is the default MetricsReporter: every method is a no-op, so
// callers that don't configure a collector pay nothing beyond an interface
// call, matching the teacher's noopMetrics{} default.
type noopMetrics struct{}

func (noopMetrics) SessionCreated()        {}
func (noopMetrics) SessionDestroyed()      {}
func (noopMetrics) PacketSent()            {}
func (noopMetrics) PacketReceived()        {}
func (noopMetrics) PacketDropped(string)   {}
func (noopMetrics) FlowMessageSent()       {}
func (noopMetrics) FlowMessageReceived()   {}
func (noopMetrics) RetransmitTriggered()   {}
func (noopMetrics) AckProcessed()          {}
func (noopMetrics) HandshakeAttempted()    {}
func (noopMetrics) HandshakeCompleted()    {}
func (noopMetrics) RendezvousMatched()     {}
