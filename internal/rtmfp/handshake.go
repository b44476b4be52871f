package rtmfp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"net/netip"
	"time"
)

// cookieSize is the fixed length of a handshake cookie (§4.7, §6).
const cookieSize = 64

// HandshakePolicy bounds handshake/cookie issuance the same way
// UnsolicitedPolicy bounds passive session creation in the teacher: a
// counter limit plus a TTL gate a resource-creating path triggered entirely
// by inbound, unauthenticated traffic.
type HandshakePolicy struct {
	// MaxPendingCookies caps the number of outstanding (unconfirmed)
	// cookies. Zero means unlimited.
	MaxPendingCookies int

	// CookieTTL is how long an issued cookie remains valid for a stage-2
	// reply before Prune discards it.
	CookieTTL time.Duration
}

// DefaultHandshakePolicy matches the reference server's defaults: no cap on
// pending cookies, a short TTL since stage 2 is expected within one RTT.
func DefaultHandshakePolicy() HandshakePolicy {
	return HandshakePolicy{MaxPendingCookies: 0, CookieTTL: 30 * time.Second}
}

// cookie is server-issued handshake state pending a stage-2 reply: the
// random cookie value, the client's initial key material (echoed back in
// stage 2 and mixed into the derived session keys), and the address it was
// issued to.
type cookie struct {
	value       [cookieSize]byte
	peerKey     []byte
	peerAddr    netip.AddrPort
	rendezvous  bool
	issuedAt    time.Time
}

// Handshake implements session-id-0 traffic: the two-stage cookie exchange
// that establishes a new Session's keys and id (§4.7). It holds no session
// state of its own once a session is created — SessionTable owns that.
type Handshake struct {
	policy     HandshakePolicy
	serverKey  []byte // server's public DH-like material, generated once at startup
	pending    map[string]*cookie
	ids        *sessionIDAllocator
	metrics    MetricsReporter
}

// NewHandshake returns a Handshake using the given policy and session id
// allocator. It generates 128 random bytes of server key material, which
// every stage-1 reply advertises for the Handshake's lifetime.
func NewHandshake(policy HandshakePolicy, ids *sessionIDAllocator, metrics MetricsReporter) *Handshake {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	serverKey := make([]byte, 128)
	_, _ = rand.Read(serverKey)
	return &Handshake{
		policy:    policy,
		serverKey: serverKey,
		pending:   make(map[string]*cookie),
		ids:       ids,
		metrics:   metrics,
	}
}

// handshake sub-types (§4.7).
const (
	handshakeSubtypeRendezvous = 0x0f
	handshakeSubtypeNormal     = 0x0a
)

// Stage1 handles a cookie-request (`0x30` with sub-type `0x0a` or `0x0f`):
// it issues a fresh cookie bound to peerAddr and the client's key material,
// and returns the cookie plus the server's public key material to echo
// back to the client.
func (h *Handshake) Stage1(peerAddr netip.AddrPort, subtype uint8, peerKey []byte) (cookieOut [cookieSize]byte, serverKey []byte, err error) {
	if h.policy.MaxPendingCookies > 0 && len(h.pending) >= h.policy.MaxPendingCookies {
		return cookieOut, nil, ErrHandshakeMaxPending
	}

	if _, err := rand.Read(cookieOut[:]); err != nil {
		return cookieOut, nil, fmt.Errorf("generate cookie: %w", err)
	}

	c := &cookie{
		value:      cookieOut,
		peerKey:    append([]byte(nil), peerKey...),
		peerAddr:   peerAddr,
		rendezvous: subtype == handshakeSubtypeRendezvous,
		issuedAt:   time.Now(),
	}
	h.pending[string(cookieOut[:])] = c
	h.metrics.HandshakeAttempted()
	return cookieOut, h.serverKey, nil
}

// Stage2 handles the client's cookie-confirmation: it looks up the pending
// cookie, derives the asymmetric session keys from the mixed key material,
// allocates a new session id, and returns everything the caller needs to
// construct a Session. sessionID is the newly allocated id; the dispatcher
// sends it back to the peer in the stage-2 reply as the peer's far id.
func (h *Handshake) Stage2(peerAddr netip.AddrPort, cookieIn []byte, peerKey []byte) (sessionID uint32, decryptKey, encryptKey [16]byte, err error) {
	c, ok := h.pending[string(cookieIn)]
	if !ok {
		return 0, decryptKey, encryptKey, ErrHandshakeUnknownCookie
	}
	if c.peerAddr != peerAddr {
		return 0, decryptKey, encryptKey, fmt.Errorf("cookie issued to different address: %w", ErrHandshakeUnknownCookie)
	}

	decryptKey, encryptKey = deriveSessionKeys(cookieIn, c.peerKey, peerKey)

	id, err := h.ids.Allocate()
	if err != nil {
		return 0, decryptKey, encryptKey, err
	}

	delete(h.pending, string(cookieIn))
	h.metrics.HandshakeCompleted()
	return id, decryptKey, encryptKey, nil
}

// deriveSessionKeys mixes the cookie and the client's key material from
// both stages into two independent 16-byte AES keys, one per direction, via
// HMAC-SHA256 keyed mixing (§4.7 "HMAC-SHA256 / SHA256 mixing function").
// Using the stage-2 key material as the HMAC key and a direction label plus
// the cookie and the stage-1 key material as the message gives each
// direction an independent derivation even though both draw from the same
// inputs. The server's own key material is not mixed in.
func deriveSessionKeys(cookieVal, stage1KeyMaterial, peerKeyMaterial []byte) (decryptKey, encryptKey [16]byte) {
	decryptKey = derive16(peerKeyMaterial, "rtmfp-decrypt", cookieVal, stage1KeyMaterial)
	encryptKey = derive16(peerKeyMaterial, "rtmfp-encrypt", cookieVal, stage1KeyMaterial)
	return decryptKey, encryptKey
}

func derive16(hmacKey []byte, label string, parts ...[]byte) [16]byte {
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write([]byte(label))
	for _, p := range parts {
		mac.Write(p)
	}
	sum := mac.Sum(nil)
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// Prune discards cookies issued more than CookieTTL ago, called
// periodically the same way SessionTable.Manage sweeps died sessions
// (§4.7 "handshake state is pruned on a timer").
func (h *Handshake) Prune(now time.Time) int {
	if h.policy.CookieTTL <= 0 {
		return 0
	}
	removed := 0
	for key, c := range h.pending {
		if now.Sub(c.issuedAt) > h.policy.CookieTTL {
			delete(h.pending, key)
			removed++
		}
	}
	return removed
}

// Pending returns the number of outstanding cookies, used by the admin
// snapshot surface.
func (h *Handshake) Pending() int {
	return len(h.pending)
}

// ServerKey returns the server's public DH-like material advertised in
// every stage-1 and stage-2 reply. Exported for server.go's dispatcher,
// which builds the handshake response wire payload outside this package.
func (h *Handshake) ServerKey() []byte {
	return h.serverKey
}
