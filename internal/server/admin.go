package server

import (
	"encoding/json"
	"net/http"
)

// NewAdminMux builds the operator-facing HTTP admin surface (§4.11): a JSON
// session list and a liveness probe. It mirrors the teacher's gRPC control
// surface (cmd/gobfd/main.go's newGRPCServer) shrunk to the plain net/http
// mux RTMFP needs -- no separate RPC service, just two read-only endpoints
// a human or a monitoring probe can hit directly.
func NewAdminMux(srv *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", srv.handleSessions)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	return mux
}

// adminSession is the wire shape of one entry in GET /sessions, adapting
// rtmfp.SessionSummary's netip.AddrPort into a plain string for JSON.
type adminSession struct {
	ID              uint32 `json:"id"`
	PeerAddr        string `json:"peer_addr"`
	Failed          bool   `json:"failed"`
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	FlowCount       int    `json:"flow_count"`
}

func (srv *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	snapshot := srv.Sessions()
	out := make([]adminSession, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, adminSession{
			ID:              s.ID,
			PeerAddr:        s.PeerAddr.String(),
			Failed:          s.Failed,
			PacketsSent:     s.PacketsSent,
			PacketsReceived: s.PacketsReceived,
			FlowCount:       s.FlowCount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		srv.logger.Warn("encode sessions response", "error", err.Error())
	}
}

// healthzResponse reports whether the dispatcher has bound its socket and
// how many sessions and pending handshakes it currently holds.
type healthzResponse struct {
	Bound             bool   `json:"bound"`
	LocalPort         uint16 `json:"local_port"`
	Sessions          int    `json:"sessions"`
	PendingHandshakes int    `json:"pending_handshakes"`
}

func (srv *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	port := srv.LocalPort()
	resp := healthzResponse{
		Bound:             port != 0,
		LocalPort:         port,
		Sessions:          len(srv.Sessions()),
		PendingHandshakes: srv.PendingHandshakes(),
	}

	status := http.StatusOK
	if !resp.Bound {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		srv.logger.Warn("encode healthz response", "error", err.Error())
	}
}
