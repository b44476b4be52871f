package rtmfp

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

func TestHandshakeStage1IssuesDistinctCookies(t *testing.T) {
	h := NewHandshake(DefaultHandshakePolicy(), newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")

	c1, serverKey, err := h.Stage1(addr, handshakeSubtypeNormal, []byte("client-key"))
	if err != nil {
		t.Fatalf("Stage1: %v", err)
	}
	if len(serverKey) == 0 {
		t.Fatal("Stage1 returned empty server key")
	}

	c2, _, err := h.Stage1(addr, handshakeSubtypeNormal, []byte("client-key"))
	if err != nil {
		t.Fatalf("Stage1 (second): %v", err)
	}
	if c1 == c2 {
		t.Fatal("Stage1 issued the same cookie twice")
	}
	if h.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", h.Pending())
	}
}

func TestHandshakeStage2CompletesAndConsumesCookie(t *testing.T) {
	h := NewHandshake(DefaultHandshakePolicy(), newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	clientKey := []byte("client-key-material")

	cookie, _, err := h.Stage1(addr, handshakeSubtypeNormal, clientKey)
	if err != nil {
		t.Fatalf("Stage1: %v", err)
	}

	id, decryptKey, encryptKey, err := h.Stage2(addr, cookie[:], clientKey)
	if err != nil {
		t.Fatalf("Stage2: %v", err)
	}
	if id == 0 {
		t.Fatal("Stage2 allocated the reserved id 0")
	}
	if decryptKey == encryptKey {
		t.Fatal("Stage2 derived identical keys for both directions")
	}
	if h.Pending() != 0 {
		t.Fatalf("Pending() after Stage2 = %d, want 0", h.Pending())
	}

	if _, _, _, err := h.Stage2(addr, cookie[:], clientKey); !errors.Is(err, ErrHandshakeUnknownCookie) {
		t.Fatalf("Stage2 replay error = %v, want ErrHandshakeUnknownCookie", err)
	}
}

func TestHandshakeStage2RejectsAddressMismatch(t *testing.T) {
	h := NewHandshake(DefaultHandshakePolicy(), newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	other := netip.MustParseAddrPort("127.0.0.1:9999")
	clientKey := []byte("client-key")

	cookie, _, err := h.Stage1(addr, handshakeSubtypeNormal, clientKey)
	if err != nil {
		t.Fatalf("Stage1: %v", err)
	}

	if _, _, _, err := h.Stage2(other, cookie[:], clientKey); !errors.Is(err, ErrHandshakeUnknownCookie) {
		t.Fatalf("Stage2 from wrong address error = %v, want ErrHandshakeUnknownCookie", err)
	}
}

func TestHandshakeStage1RespectsMaxPendingCookies(t *testing.T) {
	policy := HandshakePolicy{MaxPendingCookies: 1, CookieTTL: time.Minute}
	h := NewHandshake(policy, newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")

	if _, _, err := h.Stage1(addr, handshakeSubtypeNormal, nil); err != nil {
		t.Fatalf("first Stage1: %v", err)
	}
	if _, _, err := h.Stage1(addr, handshakeSubtypeNormal, nil); !errors.Is(err, ErrHandshakeMaxPending) {
		t.Fatalf("second Stage1 error = %v, want ErrHandshakeMaxPending", err)
	}
}

func TestHandshakePruneDiscardsExpiredCookies(t *testing.T) {
	h := NewHandshake(HandshakePolicy{CookieTTL: time.Millisecond}, newSessionIDAllocator(), nil)
	addr := netip.MustParseAddrPort("127.0.0.1:1935")

	if _, _, err := h.Stage1(addr, handshakeSubtypeNormal, nil); err != nil {
		t.Fatalf("Stage1: %v", err)
	}

	removed := h.Prune(time.Now().Add(time.Hour))
	if removed != 1 {
		t.Fatalf("Prune removed = %d, want 1", removed)
	}
	if h.Pending() != 0 {
		t.Fatalf("Pending() after Prune = %d, want 0", h.Pending())
	}
}

func TestHandshakeServerKeyIsStableAcrossStages(t *testing.T) {
	h := NewHandshake(DefaultHandshakePolicy(), newSessionIDAllocator(), nil)
	key1 := h.ServerKey()
	addr := netip.MustParseAddrPort("127.0.0.1:1935")
	if _, _, err := h.Stage1(addr, handshakeSubtypeNormal, nil); err != nil {
		t.Fatalf("Stage1: %v", err)
	}
	key2 := h.ServerKey()
	if string(key1) != string(key2) {
		t.Fatal("ServerKey changed across Stage1 calls")
	}
}
