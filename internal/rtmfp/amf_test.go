package rtmfp

import (
	"bytes"
	"testing"
)

func TestAMFScalarRoundTrip(t *testing.T) {
	var gw growWriter
	w := NewAMFWriter(&gw)
	if err := w.WriteNumber(3.5); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBool(true); err != nil {
		t.Fatal(err)
	}
	if err := w.Write("hello"); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(""); err != nil {
		t.Fatal(err)
	}

	r := NewAMFReader(NewPacketReader(gw.buf))
	n, err := r.ReadNumber()
	if err != nil || n != 3.5 {
		t.Fatalf("ReadNumber() = %v, %v, want 3.5, nil", n, err)
	}
	b, err := r.ReadBoolean()
	if err != nil || !b {
		t.Fatalf("ReadBoolean() = %v, %v, want true, nil", b, err)
	}
	s, err := r.ReadString()
	if err != nil || s != "hello" {
		t.Fatalf("ReadString() = %q, %v, want hello, nil", s, err)
	}
	s2, err := r.ReadString()
	if err != nil || s2 != "" {
		t.Fatalf("ReadString() (undefined) = %q, %v, want empty, nil", s2, err)
	}
}

func TestAMFByteArrayRoundTrip(t *testing.T) {
	var gw growWriter
	w := NewAMFWriter(&gw)
	payload := bytes.Repeat([]byte{0xab, 0xcd}, 200)
	if err := w.WriteByteArray(payload); err != nil {
		t.Fatal(err)
	}

	r := NewAMFReader(NewPacketReader(gw.buf))
	got, err := r.ReadByteArray()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadByteArray() mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestAMFByteArrayEmptyIsUndefined(t *testing.T) {
	var gw growWriter
	w := NewAMFWriter(&gw)
	if err := w.WriteByteArray(nil); err != nil {
		t.Fatal(err)
	}
	if len(gw.buf) != 1 || gw.buf[0] != amf0Undefined {
		t.Fatalf("empty byte array encoded as %v, want single Undefined marker", gw.buf)
	}
}

func TestAMFObjectRoundTrip(t *testing.T) {
	var gw growWriter
	w := NewAMFWriter(&gw)
	obj := (&AMFObject{}).SetString("code", "NetConnection.Connect.Success").
		SetNumber("level", 1).
		SetBool("ok", true)
	if err := w.WriteObject(obj); err != nil {
		t.Fatal(err)
	}

	r := NewPacketReader(gw.buf)
	marker, err := r.Read8()
	if err != nil || marker != amf0Object {
		t.Fatalf("object marker = %#x, %v", marker, err)
	}
	ar := NewAMFReader(r)
	name, err := r.ReadString16()
	if err != nil || name != "code" {
		t.Fatalf("first property name = %q, %v", name, err)
	}
	code, err := ar.ReadString()
	if err != nil || code != "NetConnection.Connect.Success" {
		t.Fatalf("code value = %q, %v", code, err)
	}
}

func TestCapitalizeFirst(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"connect":      "Connect",
		"createStream": "CreateStream",
		"Already":      "Already",
	}
	for in, want := range cases {
		if got := capitalizeFirst(in); got != want {
			t.Errorf("capitalizeFirst(%q) = %q, want %q", in, got, want)
		}
	}
}
