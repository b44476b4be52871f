package rtmfp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"
)

// Session packet-level message type tags recognized by the parse loop
// (§4.6). 0x10 and 0x11 are both routed through Flow.MessageHandler — this
// implementation's encoder always emits the 0x10 shape (see flow.go's
// flushOne doc comment), but the decoder accepts either uniformly.
const (
	msgTypeHandshake    = 0x30
	msgTypeAck          = 0x51
	msgTypeSessionFail  = 0x18
	msgTypeKeepAlive    = 0x41
	msgTypeClose        = 0x01

	// msgTypeP2PRedirect carries a rendezvous tag and the requesting
	// peer's address to the session a P2P request resolved to. Not named
	// as a wire constant in the retrieval pack's original_source (only
	// Session.h's method signature survived, not its wire encoding); 0x0f
	// reuses the handshake's "rendezvous" sub-type byte (§4.7) since both
	// name the same rendezvous concept and no conflicting use of 0x0f
	// exists at the session message-type level.
	msgTypeP2PRedirect = 0x0f

	// msgTypeRendezvousRequest is sent by an established session (A) to
	// ask the server to match it against a wanted peer id (spec.md line
	// 240: "Session A requests peer id of session B"). Payload: wanted
	// peer id (32 bytes) + tag (string8). Invented alongside
	// msgTypeP2PRedirect for the same reason (see DESIGN.md); assigned an
	// adjacent unused byte.
	msgTypeRendezvousRequest = 0x0e

	// msgTypeRendezvousResult carries the match's address list back to
	// the requester (A): public address first, then each distinct
	// private address, each address-encoded (§6).
	msgTypeRendezvousResult = 0x0d
)

// HandshakeMessageType is the session-id-0 message type tag carrying
// handshake request/response payloads (§4.7). Exported so server.go's
// dispatcher can frame handshake responses on the ephemeral id-0
// pseudo-session it builds outside this package.
const HandshakeMessageType = msgTypeHandshake

// sessionWriteBufferSize mirrors PACKETSEND_SIZE in the reference server: a
// fixed-capacity outbound buffer embedded in the session, never grown.
const sessionWriteBufferSize = 1215

// keepaliveMaxProbes and failedMaxTicks bound the keep-alive and teardown
// ramps described in §4.6.
const (
	keepaliveMaxProbes = 3
	failedMaxTicks     = 10
)

// PacketSender is the narrow send-side surface Session needs from the
// server's UDP socket; server.go's dispatcher supplies the real
// implementation, tests supply a recording fake.
type PacketSender interface {
	SendTo(addr netip.AddrPort, payload []byte) error
}

// Session is the per-peer container: its own id, the peer's view of that id
// ("far id"), the Peer itself, crypto contexts, the flow table, a fixed
// write buffer, and the keep-alive/failure ramp counters. Mutated only by
// the single dispatcher goroutine per doc.go's concurrency contract; the
// few fields admin/metrics snapshot concurrently are atomic.
type Session struct {
	id    uint32
	farID uint32
	peer  *Peer

	decrypt *Engine
	encrypt *Engine

	recvTimestamp     time.Time
	lastPeerTimeField uint16

	writeBuf [sessionWriteBufferSize]byte
	pw       *PacketWriter
	header   int // byte offset where message content starts, after the framing header

	flows map[uint8]*Flow

	timesKeepalive int
	timesFailed    int
	failed         bool
	died           bool

	// p2pAttempts counts rendezvous attempts per requester tag, matching
	// the original's `map<string, uint8> _p2pHandshakeAttemps` (Session.h).
	p2pAttempts map[string]uint8

	handler ClientHandler
	sender  PacketSender

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64

	// pendingRendezvous accumulates rendezvous requests parsed during
	// PacketHandler for the dispatcher to drain and resolve against the
	// SessionTable after the packet is fully processed — Session itself
	// has no table reference (doc.go's ownership boundary).
	pendingRendezvous []RendezvousRequest

	// onHandshake, when set, routes msgTypeHandshake payloads to the
	// dispatcher instead of rejecting them. Only the transient session id
	// 0 pseudo-session the dispatcher builds per handshake datagram sets
	// this; every session allocated by a completed handshake leaves it
	// nil, so a handshake message on an established session is still the
	// protocol error spec.md describes.
	onHandshake func(sub *PacketReader) error
}

// RendezvousRequest is a parsed request for another peer's address,
// queued by handleMessage and drained by the dispatcher.
type RendezvousRequest struct {
	WantedPeerID [32]byte
	Tag          string
}

// NewSession constructs a Session freshly allocated by the handshake.
func NewSession(id uint32, peer *Peer, decrypt, encrypt *Engine, handler ClientHandler, sender PacketSender) *Session {
	s := &Session{
		id:      id,
		peer:    peer,
		decrypt: decrypt,
		encrypt: encrypt,
		handler: handler,
		sender:  sender,
		flows:   make(map[uint8]*Flow),
		p2pAttempts: make(map[string]uint8),
	}
	s.newPacket(false)
	return s
}

// ID returns the session's own id.
func (s *Session) ID() uint32 { return s.id }

// Peer returns the session's remote endpoint.
func (s *Session) Peer() *Peer { return s.peer }

// Failed reports whether the session has entered the teardown ramp.
func (s *Session) Failed() bool { return s.failed }

// Died reports whether the session is ready for removal from the table.
func (s *Session) Died() bool { return s.died }

// Flow looks up an existing flow by id; it returns nil if none exists (the
// caller auto-vivifies via CreateFlow).
func (s *Session) Flow(id uint8) *Flow {
	return s.flows[id]
}

// CreateFlow auto-vivifies a flow the first time a fragment for an unknown
// id arrives.
func (s *Session) CreateFlow(id uint8, signature, name string) *Flow {
	f := NewFlow(id, signature, name, s.handler)
	s.flows[id] = f
	return f
}

// newPacket resets the session's write cursor to a fresh packet, reserving
// placeholder bytes for the checksum, marker, and time fields that Flush
// patches in once the payload is known.
func (s *Session) newPacket(withoutEchoTime bool) {
	s.pw = NewPacketWriter(s.writeBuf[:])
	_ = s.pw.Write16(0) // checksum placeholder, patched in Flush
	_ = s.pw.Write8(0)  // marker placeholder, patched in Flush
	_ = s.pw.Write16(NowField(time.Now()))
	if !withoutEchoTime && !s.recvTimestamp.IsZero() {
		_ = s.pw.Write16(s.lastPeerTimeField)
	}
	s.header = s.pw.Position()
}

// PacketWriter exposes the current outbound packet cursor (flowTransport).
func (s *Session) PacketWriter() *PacketWriter {
	return s.pw
}

// Flush emits the current write buffer as one datagram if it holds more
// than the bare header, then starts a fresh packet. withoutEchoTime
// suppresses the time_echo field on the next packet (used when the peer
// hasn't been heard from recently enough to echo meaningfully).
func (s *Session) Flush(withoutEchoTime bool) error {
	if s.pw.Position() <= s.header {
		return nil // nothing but the header: spec says flush only a non-empty buffer
	}

	// The marker reports time_echo exactly when newPacket wrote it:
	// checksum(2) + marker(1) + time_sent(2) + time_echo(2).
	includeEcho := s.header == 7
	var marker byte
	if includeEcho {
		marker |= markerWithEchoMsg
	}
	s.writeBuf[2] = marker

	length := s.pw.Position()
	for length%aesBlockSize != 0 {
		s.writeBuf[length] = 0
		length++
	}

	sum := Checksum(s.writeBuf[2:length])
	binary.BigEndian.PutUint16(s.writeBuf[0:2], sum)

	if err := s.encrypt.Encrypt(s.writeBuf[:length]); err != nil {
		return fmt.Errorf("encrypt outbound packet for session %d: %w", s.id, err)
	}
	scrambled, err := ScrambleSessionID(s.id, s.writeBuf[:length])
	if err != nil {
		return err
	}

	datagram := make([]byte, 4+length)
	binary.BigEndian.PutUint32(datagram[:4], scrambled)
	copy(datagram[4:], s.writeBuf[:length])

	if s.sender != nil && s.peer != nil {
		if err := s.sender.SendTo(s.peer.Addr, datagram); err != nil {
			return fmt.Errorf("send datagram for session %d: %w", s.id, err)
		}
		s.packetsSent.Add(1)
	}

	s.newPacket(withoutEchoTime)
	return nil
}

// WriteMessage reserves room for a message of the given type and length,
// flushing first if the current packet lacks the capacity.
func (s *Session) WriteMessage(msgType uint8, length int) (*PacketWriter, error) {
	needed := 3 + length // type(1) + size(2) + payload
	if s.pw.Available() < needed {
		if err := s.Flush(false); err != nil {
			return nil, err
		}
	}
	if err := s.pw.Write8(msgType); err != nil {
		return nil, err
	}
	if err := s.pw.Write16(uint16(length)); err != nil {
		return nil, err
	}
	return s.pw, nil
}

// Decode decrypts ciphertext in place using the session's decrypt key,
// verifies the checksum, and returns a reader positioned after the
// checksum field (at the marker byte).
func (s *Session) Decode(ciphertext []byte) (*PacketReader, error) {
	if len(ciphertext)%aesBlockSize != 0 || len(ciphertext) < 2 {
		return nil, fmt.Errorf("decode %d bytes for session %d: %w", len(ciphertext), s.id, ErrProtocolError)
	}
	if err := s.decrypt.Decrypt(ciphertext); err != nil {
		return nil, fmt.Errorf("decrypt inbound packet for session %d: %w", s.id, err)
	}
	sum := binary.BigEndian.Uint16(ciphertext[:2])
	if !VerifyChecksum(ciphertext[2:], sum) {
		return nil, ErrChecksumMismatch
	}
	s.packetsReceived.Add(1)
	return NewPacketReader(ciphertext[2:]), nil
}

// PacketHandler parses the marker/time header and loops over message
// headers until the reader is exhausted, dispatching each to the
// appropriate flow or control handler.
func (s *Session) PacketHandler(reader *PacketReader) error {
	marker, err := reader.Read8()
	if err != nil {
		return err
	}
	timeSent, err := reader.Read16()
	if err != nil {
		return err
	}
	if marker&markerWithEchoMsg != 0 {
		if _, err := reader.Read16(); err != nil { // time_echo, unused by this server role
			return err
		}
	}
	s.recvTimestamp = time.Now()
	s.lastPeerTimeField = timeSent
	s.timesKeepalive = 0

	for reader.Available() > 0 {
		msgType, err := reader.Read8()
		if err != nil {
			return err
		}
		if msgType == 0 {
			break // zero bytes are the padding Flush adds up to the AES block size
		}
		size, err := reader.Read16()
		if err != nil {
			return err
		}
		if reader.Available() < int(size) {
			return fmt.Errorf("message size %d exceeds %d available: %w", size, reader.Available(), ErrProtocolError)
		}
		sub := NewPacketReader(reader.Current()[:size])
		if err := reader.Next(int(size)); err != nil {
			return err
		}

		if err := s.handleMessage(msgType, sub); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleMessage(msgType uint8, sub *PacketReader) error {
	switch msgType {
	case msgTypeHandshake:
		if s.onHandshake != nil {
			return s.onHandshake(sub)
		}
		return fmt.Errorf("handshake message on established session %d: %w", s.id, ErrProtocolError)
	case msgShellHeader, msgShellContinuation:
		return s.handleFlowFragment(sub)
	case msgTypeAck:
		return s.handleAck(sub)
	case msgTypeSessionFail:
		s.failed = true
		return nil
	case msgTypeKeepAlive:
		return nil // inbound keep-alive: recvTimestamp already refreshed above
	case msgTypeClose:
		s.died = true
		return nil
	case msgTypeRendezvousRequest:
		return s.handleRendezvousRequest(sub)
	default:
		return nil // unrecognized type: ignored without logging, not fatal
	}
}

// SetHandshakeHandler installs fn as the receiver of msgTypeHandshake
// payloads. Used only by the dispatcher's transient session id 0
// pseudo-session; see onHandshake's doc comment.
func (s *Session) SetHandshakeHandler(fn func(sub *PacketReader) error) {
	s.onHandshake = fn
}

func (s *Session) handleRendezvousRequest(sub *PacketReader) error {
	var wantedID [32]byte
	if err := sub.ReadRaw(wantedID[:]); err != nil {
		return err
	}
	tag, err := sub.ReadString8()
	if err != nil {
		return err
	}
	s.pendingRendezvous = append(s.pendingRendezvous, RendezvousRequest{WantedPeerID: wantedID, Tag: tag})
	return nil
}

// DrainRendezvousRequests returns and clears any rendezvous requests
// parsed since the last drain.
func (s *Session) DrainRendezvousRequests() []RendezvousRequest {
	reqs := s.pendingRendezvous
	s.pendingRendezvous = nil
	return reqs
}

// SendRendezvousResult queues the match's address list (public address
// first, then distinct private addresses) back to this session.
func (s *Session) SendRendezvousResult(res Result) error {
	var body growWriter
	addrBuf := make([]byte, 19)
	aw := NewPacketWriter(addrBuf)
	if err := aw.WriteAddress(res.Public, true); err != nil {
		return err
	}
	if err := body.WriteRaw(aw.Bytes()); err != nil {
		return err
	}
	for _, priv := range res.Privates {
		aw = NewPacketWriter(addrBuf)
		if err := aw.WriteAddress(priv, false); err != nil {
			return err
		}
		if err := body.WriteRaw(aw.Bytes()); err != nil {
			return err
		}
	}

	pw, err := s.WriteMessage(msgTypeRendezvousResult, len(body.buf))
	if err != nil {
		return err
	}
	return pw.WriteRaw(body.buf)
}

func (s *Session) handleFlowFragment(sub *PacketReader) error {
	flags, err := sub.Read8()
	if err != nil {
		return err
	}
	id, err := sub.Read8()
	if err != nil {
		return err
	}
	stage, err := sub.Read7BitValue()
	if err != nil {
		return err
	}
	nbStageNack, err := sub.Read7BitValue()
	if err != nil {
		return err
	}
	for i := uint32(0); i < nbStageNack; i++ {
		if _, err := sub.Read7BitValue(); err != nil {
			return err
		}
	}

	flow := s.Flow(id)
	if flow == nil {
		flow = s.CreateFlow(id, "", "")
	}
	return flow.MessageHandler(stage, sub, flags)
}

func (s *Session) handleAck(sub *PacketReader) error {
	id, err := sub.Read8()
	if err != nil {
		return err
	}
	stage, err := sub.Read7BitValue()
	if err != nil {
		return err
	}
	flow := s.Flow(id)
	if flow == nil {
		return nil
	}
	if err := flow.Acknowledgment(time.Now(), stage); err != nil {
		return err // caller logs; never escalated to session failure (Open Question c)
	}
	return nil
}

// Manage drives the keep-alive and failure ramp on each management tick.
func (s *Session) Manage(now time.Time, serverPeriod time.Duration) error {
	if s.died {
		return nil
	}
	if s.failed {
		s.timesFailed++
		if err := s.Flush(false); err != nil {
			return err
		}
		if s.timesFailed > failedMaxTicks {
			s.died = true
		}
		return nil
	}
	for _, f := range s.flows {
		due, exhausted := f.trigger.Raise(now)
		if exhausted {
			return s.Fail("retransmission limit reached")
		}
		if due {
			if err := f.Raise(s); err != nil {
				return err
			}
		}
	}
	if err := s.Flush(false); err != nil {
		return err
	}
	if s.recvTimestamp.IsZero() || now.Sub(s.recvTimestamp) > serverPeriod {
		s.timesKeepalive++
		if err := s.sendKeepAliveProbe(); err != nil {
			return err
		}
		if s.timesKeepalive > keepaliveMaxProbes {
			return s.Fail("keepalive timeout")
		}
	}
	return nil
}

func (s *Session) sendKeepAliveProbe() error {
	pw, err := s.WriteMessage(msgTypeKeepAlive, 0)
	if err != nil {
		return err
	}
	_ = pw
	return s.Flush(false)
}

// Fail forces the session into the failed state: every flow gets an empty
// trailing message and a chance to flush, then the teardown ramp begins.
func (s *Session) Fail(reason string) error {
	if s.failed {
		return nil
	}
	s.failed = true
	now := time.Now()
	for _, f := range s.flows {
		if err := f.Fail(now, s); err != nil {
			return fmt.Errorf("fail flow %d on session %d (%s): %w", f.ID(), s.id, reason, err)
		}
	}
	return s.Flush(false)
}

// P2PHandshake queues a redirect message telling this session (the
// rendezvous target) about a peer at requesterAddr wanting to reach it,
// identified by tag. Repeated requests for the same tag beyond
// p2pAttemptLimit are dropped, matching the original's per-tag attempt
// counter (Session.h `_p2pHandshakeAttemps`).
func (s *Session) P2PHandshake(requesterAddr netip.AddrPort, tag string, requester *Session) error {
	if s.p2pAttempts == nil {
		s.p2pAttempts = make(map[string]uint8)
	}
	if s.p2pAttempts[tag] >= p2pAttemptLimit {
		return nil
	}
	s.p2pAttempts[tag]++

	var body growWriter
	if err := body.WriteString8(tag); err != nil {
		return err
	}
	addrWriter := NewPacketWriter(make([]byte, 19))
	if err := addrWriter.WriteAddress(requesterAddr, false); err != nil {
		return err
	}
	if err := body.WriteRaw(addrWriter.Bytes()); err != nil {
		return err
	}

	pw, err := s.WriteMessage(msgTypeP2PRedirect, len(body.buf))
	if err != nil {
		return err
	}
	if err := pw.WriteRaw(body.buf); err != nil {
		return err
	}
	_ = requester
	return nil
}

// Kill marks the session for removal by SessionTable.Manage and releases
// its flows.
func (s *Session) Kill() {
	s.died = true
	s.flows = nil
}

// PacketsSent and PacketsReceived are atomic snapshot accessors for
// metrics/admin surfaces that poll concurrently with the dispatcher.
func (s *Session) PacketsSent() uint64     { return s.packetsSent.Load() }
func (s *Session) PacketsReceived() uint64 { return s.packetsReceived.Load() }
