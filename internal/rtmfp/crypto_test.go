package rtmfp

import "testing"

func TestEngineRoundTrip(t *testing.T) {
	var dec, enc [16]byte
	for i := range dec {
		dec[i] = byte(i)
		enc[i] = byte(255 - i)
	}
	e := NewAsymmetricEngine(dec, enc)
	// The receiving side decrypts with the key this side encrypts with.
	peer := NewAsymmetricEngine(enc, dec)

	plaintext := []byte("0123456789abcdef0123456789abcdef") // 32 bytes, 2 blocks
	buf := make([]byte, len(plaintext))
	copy(buf, plaintext)

	if err := e.Encrypt(buf); err != nil {
		t.Fatal(err)
	}
	if err := peer.Decrypt(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", buf, plaintext)
	}
}

func TestEngineRejectsUnalignedLength(t *testing.T) {
	e := NewSymmetricEngine()
	if err := e.Decrypt(make([]byte, 17)); err == nil {
		t.Fatal("expected error for non-block-aligned length")
	}
}
