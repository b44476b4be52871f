package rtmfp

import "testing"

func TestMessageReadIntoAdvancesReplayCursor(t *testing.T) {
	m := newMessage()
	sink := m.Sink()
	if err := sink.WriteRaw([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", m.Len())
	}

	var first, second growWriter
	if err := m.readInto(&first, 4); err != nil {
		t.Fatal(err)
	}
	if string(first.buf) != "0123" {
		t.Fatalf("first fragment = %q, want 0123", first.buf)
	}
	if m.Available() != 6 {
		t.Fatalf("Available() after first read = %d, want 6", m.Available())
	}
	if err := m.readInto(&second, 100); err != nil {
		t.Fatal(err)
	}
	if string(second.buf) != "456789" {
		t.Fatalf("second fragment = %q, want 456789", second.buf)
	}
	if m.Available() != 0 {
		t.Fatalf("Available() after exhausting buffer = %d, want 0", m.Available())
	}
}

func TestMessageResetReplayRewinds(t *testing.T) {
	m := newMessage()
	_ = m.Sink().WriteRaw([]byte("abc"))
	var discard growWriter
	_ = m.readInto(&discard, 3)
	if m.Available() != 0 {
		t.Fatal("expected buffer exhausted before reset")
	}
	m.resetReplay()
	if m.Available() != 3 {
		t.Fatalf("Available() after resetReplay = %d, want 3", m.Available())
	}
}

func TestNullMessageDiscardsWrites(t *testing.T) {
	var n nullMessage
	sink := n.Sink()
	if err := sink.WriteRaw([]byte("anything")); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write32(42); err != nil {
		t.Fatal(err)
	}
}
