// Package rtmfp implements the core of an RTMFP (Real-Time Media Flow
// Protocol) server: packet framing and encryption, the per-flow reliability
// and fragmentation engine, the session table and scheduler, the AMF0/AMF3
// codec, and peer-to-peer rendezvous.
//
// The package owns no goroutines of its own and performs no I/O: a single
// caller-provided dispatcher loop (internal/server) drives decode/handle/
// encode for each inbound datagram and periodically calls SessionTable.Manage.
// All mutation of Session, Flow, and SessionTable state happens on that one
// goroutine; types here are not safe for concurrent use from multiple
// goroutines except where individually documented (metrics, and the
// snapshot accessors used by the admin HTTP surface).
package rtmfp
