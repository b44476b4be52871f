package rtmfp

import (
	"net/netip"
	"testing"
	"time"
)

type recordingSender struct {
	sent [][]byte
}

func (s *recordingSender) SendTo(_ netip.AddrPort, payload []byte) error {
	cp := append([]byte(nil), payload...)
	s.sent = append(s.sent, cp)
	return nil
}

func newLoopbackSessionPair(t *testing.T) (client *Session, server *Session, toServer, toClient *recordingSender) {
	t.Helper()
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	toServer = &recordingSender{}
	toClient = &recordingSender{}

	client = NewSession(1, NewPeer(addr), NewAsymmetricEngine(key, key), NewAsymmetricEngine(key, key), nil, toServer)
	server = NewSession(1, NewPeer(addr), NewAsymmetricEngine(key, key), NewAsymmetricEngine(key, key), nil, toClient)
	return client, server, toServer, toClient
}

// deliverKeepAlive writes a keep-alive message through
// client.WriteMessage/Flush, so the datagram lands in the client's sender;
// callers feed it into server.Decode/PacketHandler themselves.
func deliverKeepAlive(t *testing.T, client, server *Session) {
	t.Helper()
	pw, err := client.WriteMessage(msgTypeKeepAlive, 0)
	if err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	_ = pw
	if err := client.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestSessionFlushSkipsEmptyPacket(t *testing.T) {
	client, _, toServer, _ := newLoopbackSessionPair(t)
	if err := client.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(toServer.sent) != 0 {
		t.Fatalf("Flush sent a datagram with nothing but the header: %d sent", len(toServer.sent))
	}
}

func TestSessionWriteMessageAndDecodeRoundTrip(t *testing.T) {
	client, server, toServer, _ := newLoopbackSessionPair(t)
	deliverKeepAlive(t, client, server)

	if len(toServer.sent) != 1 {
		t.Fatalf("sent datagrams = %d, want 1", len(toServer.sent))
	}

	datagram := toServer.sent[0]
	_, block, err := unscrambleDatagram(datagram)
	if err != nil {
		t.Fatalf("unscramble: %v", err)
	}

	reader, err := server.Decode(block)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := server.PacketHandler(reader); err != nil {
		t.Fatalf("PacketHandler: %v", err)
	}
}

// unscrambleDatagram splits a wire datagram into its scrambled session id
// and AES-block-aligned ciphertext, mirroring server.go's dispatcher.
func unscrambleDatagram(datagram []byte) (uint32, []byte, error) {
	var scrambled uint32
	for i := 0; i < 4; i++ {
		scrambled = scrambled<<8 | uint32(datagram[i])
	}
	block := datagram[4:]
	id, err := UnscrambleSessionID(scrambled, block)
	if err != nil {
		return 0, nil, err
	}
	return id, block, nil
}

func TestSessionPacketHandlerHandlesKeepAlive(t *testing.T) {
	client, server, _, _ := newLoopbackSessionPair(t)
	before := server.recvTimestamp
	deliverKeepAliveAndHandle(t, client, server)
	if !server.recvTimestamp.After(before) {
		t.Fatal("PacketHandler did not refresh recvTimestamp on inbound traffic")
	}
}

func deliverKeepAliveAndHandle(t *testing.T, client, server *Session) {
	t.Helper()
	deliverKeepAlive(t, client, server)
	datagram := clientLastSent(t, client)
	_, block, err := unscrambleDatagram(datagram)
	if err != nil {
		t.Fatalf("unscramble: %v", err)
	}
	reader, err := server.Decode(block)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := server.PacketHandler(reader); err != nil {
		t.Fatalf("PacketHandler: %v", err)
	}
}

func clientLastSent(t *testing.T, client *Session) []byte {
	t.Helper()
	sender, ok := client.sender.(*recordingSender)
	if !ok || len(sender.sent) == 0 {
		t.Fatal("no datagram recorded on the client sender")
	}
	return sender.sent[len(sender.sent)-1]
}

func TestSessionPacketHandlerQueuesRendezvousRequest(t *testing.T) {
	server := testSession(t, 1, netip.MustParseAddrPort("127.0.0.1:1935"))

	var body growWriter
	wantedID := [32]byte{0x42}
	if err := body.WriteRaw(wantedID[:]); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if err := body.WriteString8("tag1"); err != nil {
		t.Fatalf("WriteString8: %v", err)
	}

	if err := server.handleMessage(msgTypeRendezvousRequest, NewPacketReader(body.buf)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	reqs := server.DrainRendezvousRequests()
	if len(reqs) != 1 {
		t.Fatalf("DrainRendezvousRequests() = %d entries, want 1", len(reqs))
	}
	if reqs[0].WantedPeerID != wantedID || reqs[0].Tag != "tag1" {
		t.Fatalf("queued request = %+v, want peerID=%x tag=tag1", reqs[0], wantedID)
	}
	if len(server.DrainRendezvousRequests()) != 0 {
		t.Fatal("DrainRendezvousRequests did not clear the queue")
	}
}

func TestSessionHandshakeHandlerOverridesDefaultRejection(t *testing.T) {
	server := testSession(t, 1, netip.MustParseAddrPort("127.0.0.1:1935"))

	called := false
	server.SetHandshakeHandler(func(_ *PacketReader) error {
		called = true
		return nil
	})

	if err := server.handleMessage(msgTypeHandshake, NewPacketReader(nil)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if !called {
		t.Fatal("SetHandshakeHandler's callback was not invoked")
	}
}

func TestSessionHandshakeMessageRejectedWithoutHandler(t *testing.T) {
	server := testSession(t, 1, netip.MustParseAddrPort("127.0.0.1:1935"))
	if err := server.handleMessage(msgTypeHandshake, NewPacketReader(nil)); err == nil {
		t.Fatal("expected an error for an unhandled handshake message on an established session")
	}
}

func TestSessionManageTriggersKeepAliveAfterSilence(t *testing.T) {
	client, toServer := sessionWithSender(t)
	past := time.Now().Add(-time.Hour)
	client.recvTimestamp = past

	if err := client.Manage(time.Now(), time.Millisecond); err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if len(toServer.sent) != 1 {
		t.Fatalf("Manage did not send a keep-alive probe: %d sent", len(toServer.sent))
	}
	if client.timesKeepalive != 1 {
		t.Fatalf("timesKeepalive = %d, want 1", client.timesKeepalive)
	}
}

func TestSessionManageFailsAfterExceedingKeepAliveProbes(t *testing.T) {
	client, _ := sessionWithSender(t)
	client.recvTimestamp = time.Now().Add(-time.Hour)
	client.timesKeepalive = keepaliveMaxProbes

	if err := client.Manage(time.Now(), time.Millisecond); err != nil {
		t.Fatalf("Manage: %v", err)
	}
	if !client.Failed() {
		t.Fatal("Manage did not fail the session after exceeding the keep-alive probe budget")
	}
}

func sessionWithSender(t *testing.T) (*Session, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	s := NewSession(1, NewPeer(netip.MustParseAddrPort("127.0.0.1:1935")), NewSymmetricEngine(), NewSymmetricEngine(), nil, sender)
	return s, sender
}

func TestSessionKillClearsFlows(t *testing.T) {
	s := testSession(t, 1, netip.MustParseAddrPort("127.0.0.1:1935"))
	s.CreateFlow(1, "", "")
	s.Kill()
	if !s.Died() {
		t.Fatal("Kill did not mark the session died")
	}
	if s.flows != nil {
		t.Fatal("Kill did not release the flow table")
	}
}
