package rtmfp

import (
	"net/netip"
	"sync"
	"time"
)

// SessionTable is the session-id-keyed registry the dispatcher consults on
// every inbound datagram (§4.8 step 4) and sweeps on every management tick
// (§4.6 "Kill"). It mirrors the teacher's Manager: a primary lookup map plus
// a secondary index for a different demux key, both behind one mutex —
// here guarding against the admin HTTP surface's concurrent Snapshot reads,
// since every mutating method is otherwise called only from the single
// dispatcher goroutine (doc.go).
type SessionTable struct {
	mu sync.RWMutex

	byID   map[uint32]*Session
	byPeer map[netip.AddrPort]*Session

	ids     *sessionIDAllocator
	metrics MetricsReporter
}

// NewSessionTable returns an empty table using ids for id allocation.
func NewSessionTable(ids *sessionIDAllocator, metrics MetricsReporter) *SessionTable {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &SessionTable{
		byID:    make(map[uint32]*Session),
		byPeer:  make(map[netip.AddrPort]*Session),
		ids:     ids,
		metrics: metrics,
	}
}

// Add registers a freshly handshaken session in both indices.
func (t *SessionTable) Add(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[s.ID()] = s
	if s.Peer() != nil {
		t.byPeer[s.Peer().Addr] = s
	}
	t.metrics.SessionCreated()
}

// ByID is the primary demux lookup: scrambled session id → Session.
func (t *SessionTable) ByID(id uint32) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// ByPeerAddr looks up a session by its observed UDP source address, used by
// Rendezvous to find the requester's own session when only an address is
// known (the original server's p2pHandshake does the same linear peer
// lookup; here it is an indexed map instead).
func (t *SessionTable) ByPeerAddr(addr netip.AddrPort) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byPeer[addr]
}

// ByPeerID scans for a session whose Peer.ID matches want. Unlike ByID/
// ByPeerAddr this is O(n) in session count: RTMFP peer ids are 256-bit
// values announced only during handshake, used solely by P2P rendezvous
// requests which are not a hot path, so no third index is maintained for
// it (mirrors the original's linear `_sessions.find(peerIdWanted)`).
func (t *SessionTable) ByPeerID(want [32]byte) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.byID {
		if s.Peer() != nil && s.Peer().ID == want {
			return s
		}
	}
	return nil
}

// Remove releases a session's id back to the allocator and drops it from
// both indices.
func (t *SessionTable) Remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	if s.Peer() != nil {
		delete(t.byPeer, s.Peer().Addr)
	}
	t.ids.Release(id)
	t.metrics.SessionDestroyed()
}

// Manage sweeps every live session: drives its keep-alive/failure ramp, and
// removes it once Died() is observed (§4.6 "SessionTable.manage() removes
// _died sessions").
func (t *SessionTable) Manage(now time.Time, serverPeriod time.Duration) error {
	t.mu.RLock()
	snapshot := make([]*Session, 0, len(t.byID))
	for _, s := range t.byID {
		snapshot = append(snapshot, s)
	}
	t.mu.RUnlock()

	var dead []uint32
	for _, s := range snapshot {
		if err := s.Manage(now, serverPeriod); err != nil {
			return err
		}
		if s.Died() {
			dead = append(dead, s.ID())
		}
	}
	for _, id := range dead {
		t.Remove(id)
	}
	return nil
}

// FailAll sends a synthetic failure to every live session, used by the
// dispatcher's shutdown path (§5 "Cancellation": "the sessions table emits
// a synthetic fail to all live sessions and then clears itself").
func (t *SessionTable) FailAll(reason string) {
	t.mu.RLock()
	snapshot := make([]*Session, 0, len(t.byID))
	for _, s := range t.byID {
		snapshot = append(snapshot, s)
	}
	t.mu.RUnlock()

	for _, s := range snapshot {
		_ = s.Fail(reason)
	}
}

// Clear empties both indices without running the teardown ramp, used once
// FailAll has already been given a chance to flush (§5 "clears itself").
func (t *SessionTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[uint32]*Session)
	t.byPeer = make(map[netip.AddrPort]*Session)
}

// Len reports the number of live sessions, used by the admin snapshot.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Snapshot returns a point-in-time summary of every live session for the
// admin HTTP surface (§4.11); it is safe to call concurrently with the
// dispatcher goroutine.
type SessionSummary struct {
	ID              uint32
	PeerAddr        netip.AddrPort
	Failed          bool
	PacketsSent     uint64
	PacketsReceived uint64
	FlowCount       int
}

func (t *SessionTable) Snapshot() []SessionSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]SessionSummary, 0, len(t.byID))
	for _, s := range t.byID {
		var peerAddr netip.AddrPort
		if s.Peer() != nil {
			peerAddr = s.Peer().Addr
		}
		out = append(out, SessionSummary{
			ID:              s.ID(),
			PeerAddr:        peerAddr,
			Failed:          s.Failed(),
			PacketsSent:     s.PacketsSent(),
			PacketsReceived: s.PacketsReceived(),
			FlowCount:       len(s.flows),
		})
	}
	return out
}
