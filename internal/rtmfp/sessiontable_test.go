package rtmfp

import (
	"net/netip"
	"testing"
	"time"
)

func testSession(t *testing.T, id uint32, addr netip.AddrPort) *Session {
	t.Helper()
	peer := NewPeer(addr)
	return NewSession(id, peer, NewSymmetricEngine(), NewSymmetricEngine(), nil, nil)
}

func TestSessionTableAddAndLookup(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	s := testSession(t, 1, addr)

	table.Add(s)

	if got := table.ByID(1); got != s {
		t.Fatalf("ByID(1) = %v, want %v", got, s)
	}
	if got := table.ByPeerAddr(addr); got != s {
		t.Fatalf("ByPeerAddr(%v) = %v, want %v", addr, got, s)
	}
	if got := table.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestSessionTableByPeerID(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	s := testSession(t, 1, addr)
	s.Peer().ID = [32]byte{0x01, 0x02}

	table.Add(s)

	if got := table.ByPeerID(s.Peer().ID); got != s {
		t.Fatalf("ByPeerID = %v, want %v", got, s)
	}
	if got := table.ByPeerID([32]byte{0xff}); got != nil {
		t.Fatalf("ByPeerID(unknown) = %v, want nil", got)
	}
}

func TestSessionTableRemoveReleasesIDAndIndices(t *testing.T) {
	ids := newSessionIDAllocator()
	table := NewSessionTable(ids, nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	id, err := ids.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	s := testSession(t, id, addr)
	table.Add(s)

	table.Remove(id)

	if got := table.ByID(id); got != nil {
		t.Fatalf("ByID after Remove = %v, want nil", got)
	}
	if got := table.ByPeerAddr(addr); got != nil {
		t.Fatalf("ByPeerAddr after Remove = %v, want nil", got)
	}

	reused, err := ids.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if reused != id {
		t.Fatalf("id %d was not released back to the allocator by Remove", id)
	}
}

func TestSessionTableManageRemovesDiedSessions(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	s := testSession(t, 1, addr)
	table.Add(s)
	s.Kill()

	if err := table.Manage(time.Now(), time.Second); err != nil {
		t.Fatalf("Manage: %v", err)
	}

	if got := table.Len(); got != 0 {
		t.Fatalf("Len() after Manage = %d, want 0", got)
	}
}

func TestSessionTableFailAllMarksEverySessionFailed(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	s1 := testSession(t, 1, netip.MustParseAddrPort("127.0.0.1:1"))
	s2 := testSession(t, 2, netip.MustParseAddrPort("127.0.0.1:2"))
	table.Add(s1)
	table.Add(s2)

	table.FailAll("shutdown")

	if !s1.Failed() || !s2.Failed() {
		t.Fatal("FailAll did not mark every session failed")
	}
}

func TestSessionTableClearEmptiesIndicesWithoutTeardown(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	s := testSession(t, 1, netip.MustParseAddrPort("127.0.0.1:1935"))
	table.Add(s)

	table.Clear()

	if got := table.Len(); got != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", got)
	}
	if s.Failed() {
		t.Fatal("Clear should not run the teardown ramp")
	}
}

func TestSessionTableSnapshotReportsSummaries(t *testing.T) {
	table := NewSessionTable(newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	s := testSession(t, 7, addr)
	table.Add(s)

	snap := table.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(snap))
	}
	if snap[0].ID != 7 || snap[0].PeerAddr != addr {
		t.Fatalf("Snapshot()[0] = %+v, want ID=7 PeerAddr=%v", snap[0], addr)
	}
}
