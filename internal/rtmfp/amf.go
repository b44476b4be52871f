package rtmfp

import (
	"fmt"
	"math"
	"strings"
)

// AMF0 type markers (ossrs-go-oryx-lib/amf0 naming convention), plus the two
// RTMFP-specific markers used to switch into AMF3 "AVM+" encoding for byte
// arrays (§5, spec Open Question (a) territory lives one layer up in
// flow.go's unpack, not here).
const (
	amf0Number        = 0x00
	amf0Boolean       = 0x01
	amf0String        = 0x02
	amf0Object        = 0x03
	amf0Null          = 0x05
	amf0Undefined     = 0x06
	amf0EndObject     = 0x09
	amf0LongString    = 0x0c
	amfAvmPlusObject  = 0x11 // AVM+/AMF3 switch marker
	amf3ByteArrayMark = amf0LongString
)

// AMFReader decodes AMF0-encoded values (plus the narrow AMF3 byte-array
// extension RTMFP reuses for binary payloads) from a PacketReader.
type AMFReader struct {
	r *PacketReader
}

// NewAMFReader wraps r for AMF decoding.
func NewAMFReader(r *PacketReader) *AMFReader {
	return &AMFReader{r: r}
}

// ReadNumber decodes an AMF0 Number: marker byte then an 8-byte IEEE-754
// big-endian double.
func (a *AMFReader) ReadNumber() (float64, error) {
	marker, err := a.r.Read8()
	if err != nil {
		return 0, err
	}
	if marker != amf0Number {
		return 0, fmt.Errorf("expected AMF number marker, got %#x: %w", marker, ErrProtocolError)
	}
	bits, err := a.r.Read64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// ReadBoolean decodes an AMF0 Boolean.
func (a *AMFReader) ReadBoolean() (bool, error) {
	marker, err := a.r.Read8()
	if err != nil {
		return false, err
	}
	if marker != amf0Boolean {
		return false, fmt.Errorf("expected AMF boolean marker, got %#x: %w", marker, ErrProtocolError)
	}
	b, err := a.r.Read8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadString decodes an AMF0 String (or Undefined, which the writer emits in
// place of an empty string) into a Go string.
func (a *AMFReader) ReadString() (string, error) {
	marker, err := a.r.Read8()
	if err != nil {
		return "", err
	}
	switch marker {
	case amf0Undefined:
		return "", nil
	case amf0String:
		return a.r.ReadString16()
	default:
		return "", fmt.Errorf("expected AMF string marker, got %#x: %w", marker, ErrProtocolError)
	}
}

// SkipNull consumes an expected AMF0 Null marker.
func (a *AMFReader) SkipNull() error {
	marker, err := a.r.Read8()
	if err != nil {
		return err
	}
	if marker != amf0Null {
		return fmt.Errorf("expected AMF null marker, got %#x: %w", marker, ErrProtocolError)
	}
	return nil
}

// ReadByteArray decodes the AVM+/AMF3 byte-array extension: 0x11 switch,
// 0x0c marker reused as the AMF3 ByteArray tag, a U29 "inline value" length
// (odd low bit means not-a-reference, so length = value>>1), then the raw
// bytes.
func (a *AMFReader) ReadByteArray() ([]byte, error) {
	marker, err := a.r.Read8()
	if err != nil {
		return nil, err
	}
	if marker == amf0Undefined {
		return nil, nil
	}
	if marker != amfAvmPlusObject {
		return nil, fmt.Errorf("expected AVM+ switch marker, got %#x: %w", marker, ErrProtocolError)
	}
	tag, err := a.r.Read8()
	if err != nil {
		return nil, err
	}
	if tag != amf3ByteArrayMark {
		return nil, fmt.Errorf("expected AMF3 byte-array tag, got %#x: %w", tag, ErrProtocolError)
	}
	u29, err := a.r.Read7BitValue()
	if err != nil {
		return nil, err
	}
	if u29&1 == 0 {
		return nil, fmt.Errorf("AMF3 byte array by reference is unsupported: %w", ErrProtocolError)
	}
	size := int(u29 >> 1)
	buf := make([]byte, size)
	if err := a.r.ReadRaw(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// AMFWriter encodes AMF0 values (and the AVM+ byte-array extension) onto any
// byteSink, so the same encoder serves both a bounded PacketWriter and a
// Message's unbounded growWriter.
type AMFWriter struct {
	w byteSink
}

// NewAMFWriter wraps w for AMF encoding.
func NewAMFWriter(w byteSink) *AMFWriter {
	return &AMFWriter{w: w}
}

// WriteResponseHeader writes the fixed preamble every AMF response message
// (_result/onStatus/_error) begins with: the AMF message-type tag, four
// reserved zero bytes, the response key ("_result", "onStatus" or "_error"),
// the invoking callback handle as a Number, and a trailing Null.
func (a *AMFWriter) WriteResponseHeader(key string, callbackHandle float64) error {
	if err := a.w.Write8(msgTypeAMF); err != nil { // AMF message-type tag, 0x14
		return err
	}
	if err := a.w.Write32(0); err != nil {
		return err
	}
	if err := a.Write(key); err != nil {
		return err
	}
	if err := a.WriteNumber(callbackHandle); err != nil {
		return err
	}
	return a.writeNull()
}

func (a *AMFWriter) writeNull() error {
	return a.w.Write8(amf0Null)
}

// WriteNull writes an AMF0 Null marker.
func (a *AMFWriter) WriteNull() error {
	return a.writeNull()
}

// WriteBool encodes an AMF0 Boolean.
func (a *AMFWriter) WriteBool(value bool) error {
	if err := a.w.Write8(amf0Boolean); err != nil {
		return err
	}
	var b uint8
	if value {
		b = 1
	}
	return a.w.Write8(b)
}

// Write encodes a Go string as an AMF0 String, or as Undefined if empty.
func (a *AMFWriter) Write(value string) error {
	if value == "" {
		return a.w.Write8(amf0Undefined)
	}
	if err := a.w.Write8(amf0String); err != nil {
		return err
	}
	return a.w.WriteString16(value)
}

// WriteNumber encodes an AMF0 Number.
func (a *AMFWriter) WriteNumber(value float64) error {
	if err := a.w.Write8(amf0Number); err != nil {
		return err
	}
	return a.w.Write64(math.Float64bits(value))
}

// WriteByteArray encodes data using the AVM+/AMF3 byte-array extension, or
// Undefined if data is empty.
func (a *AMFWriter) WriteByteArray(data []byte) error {
	if len(data) == 0 {
		return a.w.Write8(amf0Undefined)
	}
	if err := a.w.Write8(amfAvmPlusObject); err != nil {
		return err
	}
	if err := a.w.Write8(amf3ByteArrayMark); err != nil {
		return err
	}
	if err := a.w.Write7BitValue(uint32(len(data))<<1 | 1); err != nil {
		return err
	}
	return a.w.WriteRaw(data)
}

// AMFObject is an ordered property list written by WriteObject; ordering
// matters on the wire, unlike a Go map, so it is a slice of pairs rather
// than a map.
type AMFObject struct {
	props []amfProperty
}

type amfProperty struct {
	name  string
	value interface{}
}

// SetString appends a string property.
func (o *AMFObject) SetString(name, value string) *AMFObject {
	o.props = append(o.props, amfProperty{name, value})
	return o
}

// SetNumber appends a numeric property.
func (o *AMFObject) SetNumber(name string, value float64) *AMFObject {
	o.props = append(o.props, amfProperty{name, value})
	return o
}

// SetBool appends a boolean property.
func (o *AMFObject) SetBool(name string, value bool) *AMFObject {
	o.props = append(o.props, amfProperty{name, value})
	return o
}

// SetByteArray appends a byte-array property.
func (o *AMFObject) SetByteArray(name string, value []byte) *AMFObject {
	o.props = append(o.props, amfProperty{name, value})
	return o
}

// WriteObject encodes obj as an AMF0 Object: the Object marker, each
// property as its 16-bit-length-prefixed name followed by its typed value,
// then the end-of-object marker (a zero-length name plus the EndObject
// byte).
func (a *AMFWriter) WriteObject(obj *AMFObject) error {
	if err := a.w.Write8(amf0Object); err != nil {
		return err
	}
	for _, p := range obj.props {
		if err := a.w.WriteString16(p.name); err != nil {
			return err
		}
		if err := a.writeValue(p.value); err != nil {
			return err
		}
	}
	return a.endObject()
}

func (a *AMFWriter) writeValue(value interface{}) error {
	switch v := value.(type) {
	case bool:
		return a.WriteBool(v)
	case string:
		return a.Write(v)
	case float64:
		return a.WriteNumber(v)
	case []byte:
		return a.WriteByteArray(v)
	case nil:
		return a.writeNull()
	default:
		return fmt.Errorf("amf: unsupported property type %T", value)
	}
}

func (a *AMFWriter) endObject() error {
	if err := a.w.WriteString16(""); err != nil {
		return err
	}
	return a.w.Write8(amf0EndObject)
}

// WriteObjectProperty writes a single string-named, AMF0-typed property
// pair without the surrounding Object/EndObject framing, for callers that
// build an object's properties incrementally onto the wire (the success /
// status / error response writers in flow.go).
func (a *AMFWriter) WriteObjectProperty(name string, value interface{}) error {
	if err := a.w.WriteString16(name); err != nil {
		return err
	}
	return a.writeValue(value)
}

// BeginObject writes the Object marker with no properties; callers append
// properties with WriteObjectProperty and finish with EndObject.
func (a *AMFWriter) BeginObject() error {
	return a.w.Write8(amf0Object)
}

// EndObject writes the end-of-object marker.
func (a *AMFWriter) EndObject() error {
	return a.endObject()
}

// capitalizeFirst upper-cases only the first rune, matching Flow.cpp's
// toupper(name[0]) + rest-unchanged rule for building the "_code" response
// prefix (e.g. "createStream" -> "CreateStream" suffix of "NetStream.").
func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
