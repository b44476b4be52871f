package rtmfp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Marker byte low bits (§4.3, §6).
const (
	markerServerEcho  = 0x01 // sender wants the datagram echoed back
	markerP2PRelay    = 0x02 // peer-to-peer relay indicator
	markerWithEchoMsg = 0x04 // time_echo field follows time_sent

	// WithoutEchoTime is passed to Session.Flush when the sender has not
	// received anything recently and must omit the time-echo field.
	WithoutEchoTime = true
)

// minScrambleBlock is the minimum number of encrypted bytes ScrambleWord
// needs: three leading 32-bit words.
const minScrambleBlock = 12

// ScrambleWord returns the XOR of the first three big-endian 32-bit words of
// an encrypted block. Both scrambling a session id for transmission and
// unscrambling one on receipt are `id ^ ScrambleWord(block)`: applying the
// same word twice is an involution, so scramble and unscramble share one
// implementation.
func ScrambleWord(block []byte) (uint32, error) {
	if len(block) < minScrambleBlock {
		return 0, fmt.Errorf("scramble block of %d bytes: %w", len(block), ErrUnderflow)
	}
	w0 := binary.BigEndian.Uint32(block[0:4])
	w1 := binary.BigEndian.Uint32(block[4:8])
	w2 := binary.BigEndian.Uint32(block[8:12])
	return w0 ^ w1 ^ w2, nil
}

// ScrambleSessionID obfuscates id for the wire header using the encrypted
// block that follows it.
func ScrambleSessionID(id uint32, block []byte) (uint32, error) {
	w, err := ScrambleWord(block)
	if err != nil {
		return 0, err
	}
	return id ^ w, nil
}

// UnscrambleSessionID recovers id from a wire header's scrambled value and
// the encrypted block that followed it.
func UnscrambleSessionID(scrambled uint32, block []byte) (uint32, error) {
	w, err := ScrambleWord(block)
	if err != nil {
		return 0, err
	}
	return scrambled ^ w, nil
}

// Checksum computes the RTMFP variant of a 16-bit one's-complement checksum
// over data: sum 16-bit big-endian words (the final odd byte, if any, is
// treated as the high byte of a final word with a zero low byte), fold the
// carry back in, then complement.
func Checksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// VerifyChecksum reports whether want matches the checksum of data.
func VerifyChecksum(data []byte, want uint16) bool {
	return Checksum(data) == want
}

// rtmfpEpochUnit is the resolution of RTMFP's on-wire time fields: time_sent
// and time_echo are each a free-running 16-bit counter of 1/4-second ticks,
// matching the units the reference server (Cumulus) uses, sufficient to
// round-trip a keep-alive echo within one session's lifetime.
const rtmfpEpochUnit = 250 * time.Millisecond

// NowField returns the current time encoded as an RTMFP time_sent/time_echo
// field: a free-running counter, so only differences between two calls (not
// the absolute value) are meaningful.
func NowField(now time.Time) uint16 {
	return uint16(now.UnixMilli() / rtmfpEpochUnit.Milliseconds())
}
