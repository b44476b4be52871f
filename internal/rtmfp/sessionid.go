package rtmfp

import "fmt"

// sessionIDAllocator hands out dense session ids from a free-list, starting
// at 1 (id 0 is permanently reserved for handshake traffic). Unlike the
// teacher's DiscriminatorAllocator, which picks unique random values because
// RFC 5880 calls for unpredictability, RTMFP session ids only need to be
// unique within this server's table — so a dense, reused-on-release
// sequence keeps the session table itself small and avoids an unbounded
// "allocated" set. It is not safe for concurrent use: the SessionTable that
// owns one is mutated only by the single dispatcher goroutine (doc.go).
type sessionIDAllocator struct {
	next uint32
	free []uint32
}

func newSessionIDAllocator() *sessionIDAllocator {
	return &sessionIDAllocator{next: 1}
}

// NewSessionIDAllocator returns an allocator for the dispatcher to share
// between NewSessionTable and NewHandshake — both must draw ids from the
// same pool, so the dispatcher constructs exactly one and passes it to both.
func NewSessionIDAllocator() *sessionIDAllocator {
	return newSessionIDAllocator()
}

// Allocate returns the next available session id.
func (a *sessionIDAllocator) Allocate() (uint32, error) {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id, nil
	}
	if a.next == 0 {
		return 0, fmt.Errorf("allocate session id: %w", ErrSessionIDExhausted)
	}
	id := a.next
	a.next++
	return id, nil
}

// Release returns id to the free list for reuse.
func (a *sessionIDAllocator) Release(id uint32) {
	if id == 0 {
		return
	}
	a.free = append(a.free, id)
}
