package rtmfp

import "time"

// retransmitSchedule is the back-off sequence between successive
// retransmissions of an unacknowledged flow message, modeled on the
// reference server's fixed repeat delay: the first retry follows quickly,
// later retries back off, capping so a stalled peer is eventually
// abandoned rather than retried forever.
//
//nolint:gochecknoglobals // lookup table is intentionally package-level.
var retransmitSchedule = [...]time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
	3 * time.Second,
	6 * time.Second,
}

// maxRetransmits bounds how many times Trigger.Raise will report it is time
// to retry before permanently giving up on a message (the flow/session above
// is then responsible for failing).
const maxRetransmits = len(retransmitSchedule)

// Trigger tracks whether a flow has unacknowledged fragments in flight and,
// if so, when the next retransmission is due. It owns no goroutine: the
// session's single dispatch loop polls Raise on each tick.
type Trigger struct {
	running bool
	attempt int
	due     time.Time
}

// Start arms the trigger: the caller just sent fragments that now await
// acknowledgment.
func (t *Trigger) Start(now time.Time) {
	t.running = true
	t.attempt = 0
	t.due = now.Add(retransmitSchedule[0])
}

// Stop disarms the trigger: nothing is outstanding (all fragments of every
// message have been acknowledged).
func (t *Trigger) Stop() {
	t.running = false
	t.attempt = 0
}

// Reset rearms the trigger from attempt zero: called after a partial
// acknowledgment that still leaves outstanding fragments, so the back-off
// does not carry over stale attempts from the already-acked prefix.
func (t *Trigger) Reset(now time.Time) {
	t.running = true
	t.attempt = 0
	t.due = now.Add(retransmitSchedule[0])
}

// Raise reports whether a retransmission is due at now. When it reports
// true, the caller must actually retransmit before the next call, and the
// internal attempt counter advances to the next back-off step. exhausted is
// true once the schedule has been exhausted max times, signaling the caller
// should fail the owning session instead of retrying further.
func (t *Trigger) Raise(now time.Time) (due bool, exhausted bool) {
	if !t.running {
		return false, false
	}
	if now.Before(t.due) {
		return false, false
	}
	if t.attempt >= maxRetransmits-1 {
		return true, true
	}
	t.attempt++
	t.due = now.Add(retransmitSchedule[t.attempt])
	return true, false
}

// Running reports whether the trigger currently considers fragments
// outstanding.
func (t *Trigger) Running() bool {
	return t.running
}
