package rtmfp

import (
	"encoding/binary"
)

// byteSink is the write surface shared by PacketWriter (bounded, backs a
// Session's fixed outbound buffer) and growWriter (unbounded, backs a
// Message's authoring buffer): AMFWriter and the flow preamble both write
// through this interface regardless of which buffer discipline is behind
// it.
type byteSink interface {
	Write8(v uint8) error
	Write16(v uint16) error
	Write32(v uint32) error
	Write64(v uint64) error
	WriteRaw(b []byte) error
	WriteString8(s string) error
	WriteString16(s string) error
	Write7BitValue(v uint32) error
}

// growWriter is an unbounded byteSink backed by a growable slice. Messages
// are authored into one before flush() slices them into MTU-sized
// fragments; unlike PacketWriter it never returns ErrOverflow.
type growWriter struct {
	buf []byte
}

func (g *growWriter) Write8(v uint8) error {
	g.buf = append(g.buf, v)
	return nil
}

func (g *growWriter) Write16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	g.buf = append(g.buf, b[:]...)
	return nil
}

func (g *growWriter) Write32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	g.buf = append(g.buf, b[:]...)
	return nil
}

func (g *growWriter) Write64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	g.buf = append(g.buf, b[:]...)
	return nil
}

func (g *growWriter) WriteRaw(b []byte) error {
	g.buf = append(g.buf, b...)
	return nil
}

func (g *growWriter) WriteString8(s string) error {
	g.buf = append(g.buf, uint8(len(s)))
	g.buf = append(g.buf, s...)
	return nil
}

func (g *growWriter) WriteString16(s string) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	g.buf = append(g.buf, b[:]...)
	g.buf = append(g.buf, s...)
	return nil
}

func (g *growWriter) Write7BitValue(v uint32) error {
	size := Get7BitValueSize(v)
	for i := size - 1; i >= 0; i-- {
		b := byte((v >> uint(7*i)) & 0x7f)
		if i > 0 {
			b |= 0x80
		}
		g.buf = append(g.buf, b)
	}
	return nil
}

// discardWriter is a byteSink that drops everything written to it, used by
// the null-flow sentinel message so writes on a completed flow are silently
// discarded rather than panicking or growing memory forever (§4.5
// "completed flow returns a null message whose writer is in EOF state").
type discardWriter struct{}

func (discardWriter) Write8(uint8) error           { return nil }
func (discardWriter) Write16(uint16) error         { return nil }
func (discardWriter) Write32(uint32) error         { return nil }
func (discardWriter) Write64(uint64) error         { return nil }
func (discardWriter) WriteRaw([]byte) error        { return nil }
func (discardWriter) WriteString8(string) error    { return nil }
func (discardWriter) WriteString16(string) error   { return nil }
func (discardWriter) Write7BitValue(uint32) error  { return nil }

// fragment records one already-sent slice of a Message's buffer: its
// byte-range and the protocol stage number the sender assigned to it, so a
// retransmission can rebuild the exact same shell without renumbering.
type fragment struct {
	offset int
	length int
	stage  uint32
	flags  uint8
}

// Message is a to-be-sent application message: a growable byte buffer, the
// protocol stage assigned to its first fragment at flush time, and the
// fragment records flush() produced by cutting the buffer up.
//
// Invariant: if Fragments is empty the message has never been flushed.
type Message struct {
	Raw        growWriter
	readPos    int // replay cursor used while cutting/re-emitting fragments
	StartStage uint32
	Fragments  []fragment
}

// newMessage returns an empty Message ready for authoring.
func newMessage() *Message {
	return &Message{}
}

// Sink returns the byteSink callers write the message body into.
func (m *Message) Sink() byteSink {
	return &m.Raw
}

// Len returns the total number of bytes authored into the message.
func (m *Message) Len() int {
	return len(m.Raw.buf)
}

// Available returns the number of unread bytes remaining from the replay
// cursor, used while slicing the message into fragments.
func (m *Message) Available() int {
	return len(m.Raw.buf) - m.readPos
}

// resetReplay rewinds the fragment-cutting cursor to the start of the
// buffer; used both by the first flush and by raise()'s read-only
// retransmission pass.
func (m *Message) resetReplay() {
	m.readPos = 0
}

// readInto copies up to n bytes from the replay cursor into dst, advancing
// the cursor. It never reads past the end of the buffer.
func (m *Message) readInto(dst byteSink, n int) error {
	if n > m.Available() {
		n = m.Available()
	}
	if n <= 0 {
		return nil
	}
	chunk := m.Raw.buf[m.readPos : m.readPos+n]
	m.readPos += n
	return dst.WriteRaw(chunk)
}

// nullMessage is a sink-only stand-in whose writer silently discards
// everything. Flow's message writers do not return it: on a completed flow
// they return nil, so their callers check for nil.
type nullMessage struct{}

func (nullMessage) Sink() byteSink { return discardWriter{} }
