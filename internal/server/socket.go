package server

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// udpSocket wraps a bound *net.UDPConn as an rtmfp.PacketSender, and as the
// dispatcher's receive side. It replaces the teacher's netio.UDPSender
// (which layers RFC 5881 source-port allocation and GTSM TTL=255 onto a raw
// socket) with a plain bound UDP socket: RTMFP has no equivalent multi-hop
// TTL requirement, so only the "single socket, send/receive datagrams"
// shape of the teacher's abstraction survives.
type udpSocket struct {
	conn *net.UDPConn
}

// newUDPSocket binds a UDP socket on port, listening on all interfaces.
func newUDPSocket(port uint16) (*udpSocket, error) {
	addr := &net.UDPAddr{Port: int(port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}
	return &udpSocket{conn: conn}, nil
}

// SendTo implements rtmfp.PacketSender.
func (s *udpSocket) SendTo(addr netip.AddrPort, payload []byte) error {
	_, err := s.conn.WriteToUDPAddrPort(payload, addr)
	if err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

// ReadFromUDPAddrPort blocks until a datagram arrives or the read deadline
// set by SetReadDeadline elapses, filling buf and reporting the sender.
func (s *udpSocket) ReadFromUDPAddrPort(buf []byte) (int, netip.AddrPort, error) {
	return s.conn.ReadFromUDPAddrPort(buf)
}

// SetReadDeadline bounds the next ReadFromUDPAddrPort call, giving the
// dispatcher its poll quantum (§4.8 step 2).
func (s *udpSocket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// LocalPort reports the UDP port the socket actually bound, used by tests
// and the admin surface when the dispatcher was started with port 0 (an
// OS-assigned ephemeral port).
func (s *udpSocket) LocalPort() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Close releases the underlying socket.
func (s *udpSocket) Close() error {
	return s.conn.Close()
}
