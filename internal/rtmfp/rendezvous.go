package rtmfp

import "net/netip"

// p2pAttemptLimit bounds how many times a single requester tag is recorded
// against a wanted session before further requests for the same tag are
// ignored, mirroring the original's `_p2pHandshakeAttemps` map of
// `tag -> attempt count` (Session.h).
const p2pAttemptLimit = 3

// Rendezvous implements P2P peer matching: given a requester's session and
// a wanted peer id, it looks the wanted session up in the table and
// produces the address-exchange payloads both sides need (§4 item 5,
// spec.md line 240: "Session A requests peer id of session B; server emits
// address-list to A containing B's public address first then B's distinct
// private addresses; B receives a redirect message carrying A's tag and
// address").
//
// Grounded on Manager.Demux's two-tier lookup-by-key style: SessionTable
// already keeps the indices this needs (ByPeerID, ByPeerAddr), so
// Rendezvous is a thin stateless function host rather than holding any
// lookup state of its own.
type Rendezvous struct {
	table   *SessionTable
	metrics MetricsReporter
}

// NewRendezvous returns a Rendezvous consulting table for peer lookups.
func NewRendezvous(table *SessionTable, metrics MetricsReporter) *Rendezvous {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Rendezvous{table: table, metrics: metrics}
}

// Result carries the addresses the requester's session should be told
// about: the wanted peer's public address first, then each of its private
// addresses distinct from the requester's own observed address (the
// original skips echoing the requester's own address back to itself).
type Result struct {
	Public   netip.AddrPort
	Privates []netip.AddrPort
}

// Request matches requesterAddr against wantedPeerID. It returns
// (Result{}, false, nil) when the wanted peer isn't found or has already
// failed — the original logs and silently returns zero in both cases,
// never an error. tag is the opaque client-chosen correlation value echoed
// to both sides.
func (r *Rendezvous) Request(requesterAddr netip.AddrPort, wantedPeerID [32]byte, tag string) (Result, bool, error) {
	wanted := r.table.ByPeerID(wantedPeerID)
	if wanted == nil || wanted.Failed() {
		return Result{}, false, nil
	}

	requester := r.table.ByPeerAddr(requesterAddr)
	if err := wanted.P2PHandshake(requesterAddr, tag, requester); err != nil {
		return Result{}, false, err
	}

	res := Result{Public: wanted.Peer().Addr}
	for _, priv := range wanted.Peer().PrivateAddrs {
		if priv == requesterAddr {
			continue
		}
		res.Privates = append(res.Privates, priv)
	}
	r.metrics.RendezvousMatched()
	return res, true, nil
}
