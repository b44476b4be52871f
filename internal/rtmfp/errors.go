package rtmfp

import "errors"

// Sentinel errors for the RTMFP core. Callers inspect these with errors.Is;
// the dispatcher and admin handler map them to drop/log/fail decisions the
// way mapManagerError inspects bfd.Err* values in the teacher codebase.
var (
	// ErrUnderflow indicates a PacketReader read requested more bytes than
	// remain. In release builds this is logged as a ProtocolError.
	ErrUnderflow = errors.New("rtmfp: buffer underflow")

	// ErrOverflow indicates a PacketWriter write would exceed its fixed
	// backing buffer.
	ErrOverflow = errors.New("rtmfp: buffer overflow")

	// ErrChecksumMismatch indicates a datagram's one's-complement checksum
	// did not verify. The datagram is dropped; the session is not failed.
	ErrChecksumMismatch = errors.New("rtmfp: checksum mismatch")

	// ErrProtocolError is the catch-all for malformed framing, bad stage
	// sequencing, and invalid before/after fragment combinations.
	ErrProtocolError = errors.New("rtmfp: protocol error")

	// ErrUnknownSession indicates a datagram referenced a session id not
	// present in the SessionTable.
	ErrUnknownSession = errors.New("rtmfp: unknown session")

	// ErrDuplicateStage indicates a fragment stage at or below stage_rcv;
	// dropped silently at debug level, never surfaced as a failure.
	ErrDuplicateStage = errors.New("rtmfp: duplicate stage")

	// ErrKeepaliveTimeout indicates a session exceeded its keep-alive
	// retry budget; fatal to the session, which enters the teardown ramp.
	ErrKeepaliveTimeout = errors.New("rtmfp: keepalive timeout")

	// ErrSessionIDExhausted indicates the dense session id space wrapped
	// without finding a free slot. Should not occur under the 32-bit
	// space and ordinary session counts.
	ErrSessionIDExhausted = errors.New("rtmfp: session id space exhausted")

	// ErrHandshakeMaxPending indicates the handshake cookie table is at
	// its configured HandshakePolicy.MaxPendingCookies limit.
	ErrHandshakeMaxPending = errors.New("rtmfp: too many pending handshakes")

	// ErrHandshakeUnknownCookie indicates a stage-2 handshake referenced a
	// cookie that was never issued or has already expired.
	ErrHandshakeUnknownCookie = errors.New("rtmfp: unknown handshake cookie")

	// ErrInvalidAddress indicates malformed address-encoding bytes.
	ErrInvalidAddress = errors.New("rtmfp: invalid address encoding")

	// ErrInvalidAESLength indicates a crypto engine call received a buffer
	// whose length is not a multiple of the AES block size.
	ErrInvalidAESLength = errors.New("rtmfp: buffer length not a multiple of block size")
)
