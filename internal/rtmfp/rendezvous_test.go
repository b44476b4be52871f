package rtmfp

import (
	"net/netip"
	"testing"
)

func TestRendezvousRequestMatchesByPeerID(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	wantedAddr := netip.MustParseAddrPort("127.0.0.1:2000")
	wanted := testSession(t, 1, wantedAddr)
	wanted.Peer().ID = [32]byte{0xaa}
	wanted.Peer().PrivateAddrs = []netip.AddrPort{
		netip.MustParseAddrPort("192.168.0.1:3000"),
		netip.MustParseAddrPort("192.168.0.2:3000"),
	}
	table.Add(wanted)

	requesterAddr := netip.MustParseAddrPort("127.0.0.1:4000")
	requester := testSession(t, 2, requesterAddr)
	table.Add(requester)

	rv := NewRendezvous(table, nil)
	res, ok, err := rv.Request(requesterAddr, wanted.Peer().ID, "tag1")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !ok {
		t.Fatal("Request did not find the wanted session")
	}
	if res.Public != wantedAddr {
		t.Fatalf("Result.Public = %v, want %v", res.Public, wantedAddr)
	}
	if len(res.Privates) != 2 {
		t.Fatalf("Result.Privates = %v, want 2 entries", res.Privates)
	}
}

func TestRendezvousRequestExcludesRequesterOwnAddress(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	requesterAddr := netip.MustParseAddrPort("127.0.0.1:4000")

	wanted := testSession(t, 1, netip.MustParseAddrPort("127.0.0.1:2000"))
	wanted.Peer().ID = [32]byte{0xbb}
	wanted.Peer().PrivateAddrs = []netip.AddrPort{requesterAddr}
	table.Add(wanted)

	rv := NewRendezvous(table, nil)
	res, ok, err := rv.Request(requesterAddr, wanted.Peer().ID, "tag1")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !ok {
		t.Fatal("Request did not find the wanted session")
	}
	if len(res.Privates) != 0 {
		t.Fatalf("Result.Privates = %v, want none (requester's own address excluded)", res.Privates)
	}
}

func TestRendezvousRequestMissingPeerReturnsNotFound(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	rv := NewRendezvous(table, nil)

	_, ok, err := rv.Request(netip.MustParseAddrPort("127.0.0.1:4000"), [32]byte{0xcc}, "tag1")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if ok {
		t.Fatal("Request matched a peer id that was never registered")
	}
}

func TestRendezvousRequestFailedPeerReturnsNotFound(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	wanted := testSession(t, 1, netip.MustParseAddrPort("127.0.0.1:2000"))
	wanted.Peer().ID = [32]byte{0xdd}
	table.Add(wanted)
	_ = wanted.Fail("test")

	rv := NewRendezvous(table, nil)
	_, ok, err := rv.Request(netip.MustParseAddrPort("127.0.0.1:4000"), wanted.Peer().ID, "tag1")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if ok {
		t.Fatal("Request matched a failed session")
	}
}
