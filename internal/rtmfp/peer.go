package rtmfp

import "net/netip"

// Peer identifies the remote endpoint of a Session: its observed network
// address, a public address, private addresses, and its 256-bit peer id
// (used to look a peer up for rendezvous requests). NewPeer sets only the
// observed address; the handshake does not fill in the other fields, and
// rendezvous reports Addr as the public address.
type Peer struct {
	Addr         netip.AddrPort
	PublicAddr   netip.AddrPort
	PrivateAddrs []netip.AddrPort
	ID           [32]byte
}

// NewPeer constructs a Peer observed at addr.
func NewPeer(addr netip.AddrPort) *Peer {
	return &Peer{Addr: addr}
}

// HasID reports whether the peer's rendezvous id is set. The handshake does
// not set it; it stays zero until a caller assigns ID.
func (p *Peer) HasID() bool {
	return p.ID != [32]byte{}
}
