// Package server implements the RTMFP dispatcher: the single UDP socket and
// single-goroutine loop that decodes every inbound datagram, drives the
// handshake, and routes established traffic to Session (§4.8).
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/sanjayc77/cumulus/internal/config"
	"github.com/sanjayc77/cumulus/internal/rtmfp"
)

const (
	// maxDatagramSize bounds the dispatcher's fixed receive buffer, reused
	// on every read (§4.8 step 3).
	maxDatagramSize = 2048

	// pollTimeout bounds how long the dispatcher blocks in a socket read
	// before re-checking the manage tick and the terminate flag (§4.8
	// step 2). It is also the dispatcher's only other blocking point
	// besides a UDP send (§5).
	pollTimeout = 250 * time.Millisecond

	// minPacketSize is RTMFP_MIN_PACKET_SIZE: shorter datagrams are
	// dropped before unscrambling (§4.8 step 3).
	minPacketSize = 12

	// Handshake message steps. The distilled original_source/ set names
	// the two-stage cookie exchange (§4.7) but not its wire encoding, so
	// this dispatcher invents a one-byte step discriminator prefixing
	// every handshake message body; see DESIGN.md.
	handshakeStepStage1Request  = 0x01
	handshakeStepStage2Request  = 0x02
	handshakeStepStage1Response = 0x81
	handshakeStepStage2Response = 0x82
)

// ErrAlreadyRunning is returned by Run when the dispatcher is already bound
// and looping.
var ErrAlreadyRunning = errors.New("server: already running")

// noopMetrics is the default rtmfp.MetricsReporter when the caller supplies
// none, matching the teacher's noopMetrics{} default for an unconfigured
// Manager.
type noopMetrics struct{}

func (noopMetrics) SessionCreated()      {}
func (noopMetrics) SessionDestroyed()    {}
func (noopMetrics) PacketSent()          {}
func (noopMetrics) PacketReceived()      {}
func (noopMetrics) PacketDropped(string) {}
func (noopMetrics) FlowMessageSent()     {}
func (noopMetrics) FlowMessageReceived() {}
func (noopMetrics) RetransmitTriggered() {}
func (noopMetrics) AckProcessed()        {}
func (noopMetrics) HandshakeAttempted()  {}
func (noopMetrics) HandshakeCompleted()  {}
func (noopMetrics) RendezvousMatched()   {}

// noopClientHandler discards every application message, used when the
// caller doesn't wire a real ClientHandler — the dispatcher still needs to
// reassemble flows even if nothing downstream consumes them.
type noopClientHandler struct{}

func (noopClientHandler) AMFMessage(*rtmfp.Flow, string, float64, *rtmfp.AMFReader) {}
func (noopClientHandler) RawMessage(*rtmfp.Flow, uint8, *rtmfp.PacketReader)        {}
func (noopClientHandler) AudioMessage(*rtmfp.Flow, *rtmfp.PacketReader)             {}
func (noopClientHandler) VideoMessage(*rtmfp.Flow, *rtmfp.PacketReader)             {}

// Server is the UDP dispatcher. It is constructed once and driven by Run,
// the long-lived loop an errgroup drives alongside the admin and metrics
// HTTP servers (mirroring the teacher's BFDServer/cmd/gobfd/main.go split
// between a long-running core and its control surface). Stop/SetCirrus are
// control methods serialized by mu; they only ever flip flags the
// dispatcher reads, per §5's rule that the dispatcher may only block in
// socket poll/read and UDP send.
type Server struct {
	cfg    config.RTMFPConfig
	logger *slog.Logger

	metrics rtmfp.MetricsReporter
	handler rtmfp.ClientHandler

	sessions   *rtmfp.SessionTable
	handshake  *rtmfp.Handshake
	rendezvous *rtmfp.Rendezvous

	sock *udpSocket

	mu        sync.Mutex
	running   bool
	cirrus    string
	terminate chan struct{}
	stopped   chan struct{}
}

// New builds a Server. metrics and handler may be nil; nil defaults to a
// no-op metrics reporter and a no-op application handler respectively.
func New(cfg config.RTMFPConfig, hsCfg config.HandshakeConfig, logger *slog.Logger, metrics rtmfp.MetricsReporter, handler rtmfp.ClientHandler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if handler == nil {
		handler = noopClientHandler{}
	}

	ids := rtmfp.NewSessionIDAllocator()
	sessions := rtmfp.NewSessionTable(ids, metrics)
	policy := rtmfp.HandshakePolicy{
		MaxPendingCookies: hsCfg.MaxPendingCookies,
		CookieTTL:         hsCfg.CookieTTL,
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		handler:    handler,
		sessions:   sessions,
		handshake:  rtmfp.NewHandshake(policy, ids, metrics),
		rendezvous: rtmfp.NewRendezvous(sessions, metrics),
	}
}

// SetCirrus records an upstream middle-proxy address. spec.md's Non-goals
// exclude middle-proxy mode, so the dispatcher never consults this value —
// it is recognized purely for configuration-surface parity with the
// reference server (mirrors RTMFPConfig.Cirrus's doc comment).
func (srv *Server) SetCirrus(addr string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.cirrus = addr
}

// Sessions returns a point-in-time snapshot of every live session, for the
// admin HTTP surface (§4.11).
func (srv *Server) Sessions() []rtmfp.SessionSummary {
	return srv.sessions.Snapshot()
}

// PendingHandshakes returns the number of outstanding handshake cookies.
func (srv *Server) PendingHandshakes() int {
	return srv.handshake.Pending()
}

// LocalPort reports the UDP port Run actually bound. Only meaningful after
// Run has started; used by tests and callers that configure port 0 for an
// OS-assigned ephemeral port.
func (srv *Server) LocalPort() uint16 {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.sock == nil {
		return 0
	}
	return srv.sock.LocalPort()
}

// Run binds the UDP socket and drives the dispatcher loop until ctx is
// canceled or Stop is called, then tears down every live session and
// releases the socket (§5 "Cancellation"). It is not safe to call Run twice
// concurrently.
func (srv *Server) Run(ctx context.Context) error {
	srv.mu.Lock()
	if srv.running {
		srv.mu.Unlock()
		return ErrAlreadyRunning
	}
	sock, err := newUDPSocket(srv.cfg.Port)
	if err != nil {
		srv.mu.Unlock()
		return fmt.Errorf("start dispatcher: %w", err)
	}
	srv.sock = sock
	srv.running = true
	srv.terminate = make(chan struct{})
	srv.stopped = make(chan struct{})
	terminate := srv.terminate
	stopped := srv.stopped
	srv.mu.Unlock()

	srv.logger.Info("rtmfp dispatcher listening", "port", srv.cfg.Port)

	defer func() {
		srv.sessions.FailAll("dispatcher shutting down")
		srv.sessions.Clear()
		_ = sock.Close()
		srv.mu.Lock()
		srv.running = false
		srv.mu.Unlock()
		close(stopped)
	}()

	buf := make([]byte, maxDatagramSize)
	var lastManage time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-terminate:
			return nil
		default:
		}

		if srv.cfg.ManageFrequency > 0 && time.Since(lastManage) >= srv.cfg.ManageFrequency {
			now := time.Now()
			if err := srv.sessions.Manage(now, srv.cfg.KeepAliveServer); err != nil {
				srv.logger.Error("session manage failed", "error", err)
			}
			if n := srv.handshake.Prune(now); n > 0 {
				srv.logger.Debug("pruned expired handshake cookies", "count", n)
			}
			lastManage = now
		}

		if err := sock.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, fromAddr, err := sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			srv.logger.Warn("udp socket error, rebinding", "error", err)
			_ = sock.Close()
			sock, err = newUDPSocket(srv.cfg.Port)
			if err != nil {
				return fmt.Errorf("rebind after socket error: %w", err)
			}
			srv.mu.Lock()
			srv.sock = sock
			srv.mu.Unlock()
			continue
		}

		srv.handleDatagram(fromAddr, buf[:n])
	}
}

// Stop signals the dispatcher to exit its poll loop within one quantum and
// blocks until it has torn down every live session (§4.8 "stop() sets a
// terminate flag the dispatcher notices within one poll quantum").
func (srv *Server) Stop() {
	srv.mu.Lock()
	if !srv.running {
		srv.mu.Unlock()
		return
	}
	terminate, stopped := srv.terminate, srv.stopped
	srv.mu.Unlock()

	select {
	case <-terminate:
	default:
		close(terminate)
	}
	<-stopped
}

// handleDatagram implements §4.8 step 3: a one-byte datagram is a ping
// test and is echoed back verbatim; anything under minPacketSize is
// dropped; everything else is unscrambled and routed by session id.
func (srv *Server) handleDatagram(fromAddr netip.AddrPort, data []byte) {
	if len(data) == 1 {
		if err := srv.sock.SendTo(fromAddr, data); err != nil {
			srv.logger.Warn("ping echo failed", "error", err, "from", fromAddr)
		}
		return
	}
	if len(data) < minPacketSize {
		srv.metrics.PacketDropped("short")
		srv.logger.Debug("dropped undersized datagram", "size", len(data), "from", fromAddr)
		return
	}

	scrambled := binary.BigEndian.Uint32(data[:4])
	block := data[4:]
	id, err := rtmfp.UnscrambleSessionID(scrambled, block)
	if err != nil {
		srv.metrics.PacketDropped("unscramble")
		srv.logger.Debug("failed to unscramble session id", "error", err, "from", fromAddr)
		return
	}
	srv.metrics.PacketReceived()

	if id == 0 {
		srv.handleHandshakeDatagram(fromAddr, block)
		return
	}

	session := srv.sessions.ByID(id)
	if session == nil {
		srv.metrics.PacketDropped("unknown_session")
		srv.logger.Debug("dropped datagram for unknown session", "id", id, "from", fromAddr)
		return
	}

	reader, err := session.Decode(block)
	if err != nil {
		srv.metrics.PacketDropped("decode")
		srv.logger.Debug("failed to decode session datagram", "error", err, "session", id)
		return
	}
	if err := session.PacketHandler(reader); err != nil {
		srv.metrics.PacketDropped("handle")
		srv.logger.Warn("packet handling failed", "error", err, "session", id)
		return
	}
	if err := session.Flush(false); err != nil {
		srv.logger.Warn("flush failed", "error", err, "session", id)
	}

	srv.drainRendezvous(session)
}

// drainRendezvous resolves every rendezvous request PacketHandler queued on
// session, since Session itself has no SessionTable reference to resolve
// one against (doc.go's ownership boundary; see DESIGN.md).
func (srv *Server) drainRendezvous(session *rtmfp.Session) {
	for _, req := range session.DrainRendezvousRequests() {
		res, ok, err := srv.rendezvous.Request(session.Peer().Addr, req.WantedPeerID, req.Tag)
		if err != nil {
			srv.logger.Warn("rendezvous request failed", "error", err, "session", session.ID())
			continue
		}
		if !ok {
			continue
		}
		if err := session.SendRendezvousResult(res); err != nil {
			srv.logger.Warn("failed to send rendezvous result", "error", err, "session", session.ID())
			continue
		}
		if err := session.Flush(false); err != nil {
			srv.logger.Warn("flush after rendezvous result failed", "error", err, "session", session.ID())
		}
	}
}

// handleHandshakeDatagram builds the transient session id 0 pseudo-session
// every handshake datagram is decoded and answered through (the symmetric
// well-known key applies only to this traffic), and routes the parsed
// handshake message to stage 1 or stage 2.
func (srv *Server) handleHandshakeDatagram(fromAddr netip.AddrPort, block []byte) {
	engine := rtmfp.NewSymmetricEngine()
	pseudo := rtmfp.NewSession(0, rtmfp.NewPeer(fromAddr), engine, engine, nil, srv.sock)
	pseudo.SetHandshakeHandler(func(sub *rtmfp.PacketReader) error {
		return srv.handleHandshakeMessage(fromAddr, pseudo, sub)
	})

	reader, err := pseudo.Decode(block)
	if err != nil {
		srv.metrics.PacketDropped("handshake_decode")
		srv.logger.Debug("failed to decode handshake datagram", "error", err, "from", fromAddr)
		return
	}
	if err := pseudo.PacketHandler(reader); err != nil {
		srv.metrics.PacketDropped("handshake_handle")
		srv.logger.Debug("handshake handling failed", "error", err, "from", fromAddr)
		return
	}
	if err := pseudo.Flush(true); err != nil {
		srv.logger.Warn("handshake response flush failed", "error", err, "from", fromAddr)
	}
}

// handleHandshakeMessage dispatches on the invented one-byte step
// discriminator (see the const block above and DESIGN.md).
func (srv *Server) handleHandshakeMessage(fromAddr netip.AddrPort, pseudo *rtmfp.Session, sub *rtmfp.PacketReader) error {
	step, err := sub.Read8()
	if err != nil {
		return err
	}
	switch step {
	case handshakeStepStage1Request:
		return srv.handleStage1(fromAddr, pseudo, sub)
	case handshakeStepStage2Request:
		return srv.handleStage2(fromAddr, pseudo, sub)
	default:
		return fmt.Errorf("handshake step %#x: %w", step, rtmfp.ErrProtocolError)
	}
}

// handleStage1 answers a cookie request: subtype(1) + peerKeyLen(u8) +
// peerKey(...) in, step(1) + cookie(64) + serverKeyLen(u16) + serverKey(...)
// out.
func (srv *Server) handleStage1(fromAddr netip.AddrPort, pseudo *rtmfp.Session, sub *rtmfp.PacketReader) error {
	subtype, err := sub.Read8()
	if err != nil {
		return err
	}
	peerKeyLen, err := sub.Read8()
	if err != nil {
		return err
	}
	peerKey := make([]byte, peerKeyLen)
	if err := sub.ReadRaw(peerKey); err != nil {
		return err
	}

	cookie, serverKey, err := srv.handshake.Stage1(fromAddr, subtype, peerKey)
	if err != nil {
		return err
	}

	length := 1 + len(cookie) + 2 + len(serverKey)
	pw, err := pseudo.WriteMessage(rtmfp.HandshakeMessageType, length)
	if err != nil {
		return err
	}
	if err := pw.Write8(handshakeStepStage1Response); err != nil {
		return err
	}
	if err := pw.WriteRaw(cookie[:]); err != nil {
		return err
	}
	if err := pw.Write16(uint16(len(serverKey))); err != nil {
		return err
	}
	return pw.WriteRaw(serverKey)
}

// handleStage2 answers a cookie confirmation: cookieLen(u8) + cookie(...) +
// peerKeyLen(u8) + peerKey(...) in, step(1) + farID(u32) + serverKeyLen(u16)
// + serverKey(...) out. On success it allocates and registers the new
// Session the handshake derived.
func (srv *Server) handleStage2(fromAddr netip.AddrPort, pseudo *rtmfp.Session, sub *rtmfp.PacketReader) error {
	cookieLen, err := sub.Read8()
	if err != nil {
		return err
	}
	cookieIn, err := sub.ReadRawN(int(cookieLen))
	if err != nil {
		return err
	}
	peerKeyLen, err := sub.Read8()
	if err != nil {
		return err
	}
	peerKey := make([]byte, peerKeyLen)
	if err := sub.ReadRaw(peerKey); err != nil {
		return err
	}

	id, decryptKey, encryptKey, err := srv.handshake.Stage2(fromAddr, []byte(cookieIn), peerKey)
	if err != nil {
		return err
	}

	engine := rtmfp.NewAsymmetricEngine(decryptKey, encryptKey)
	session := rtmfp.NewSession(id, rtmfp.NewPeer(fromAddr), engine, engine, srv.handler, srv.sock)
	srv.sessions.Add(session)
	srv.logger.Info("session established", "id", id, "from", fromAddr)

	serverKey := srv.handshake.ServerKey()
	length := 1 + 4 + 2 + len(serverKey)
	pw, err := pseudo.WriteMessage(rtmfp.HandshakeMessageType, length)
	if err != nil {
		return err
	}
	if err := pw.Write8(handshakeStepStage2Response); err != nil {
		return err
	}
	if err := pw.Write32(id); err != nil {
		return err
	}
	if err := pw.Write16(uint16(len(serverKey))); err != nil {
		return err
	}
	return pw.WriteRaw(serverKey)
}
