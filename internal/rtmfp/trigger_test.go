package rtmfp

import (
	"testing"
	"time"
)

func TestTriggerStartThenRaiseAfterDelay(t *testing.T) {
	var tr Trigger
	start := time.Unix(0, 0)
	tr.Start(start)

	if due, _ := tr.Raise(start); due {
		t.Fatal("Raise() fired immediately after Start")
	}
	later := start.Add(retransmitSchedule[0] + time.Millisecond)
	due, exhausted := tr.Raise(later)
	if !due || exhausted {
		t.Fatalf("Raise() after delay = (%v, %v), want (true, false)", due, exhausted)
	}
}

func TestTriggerStopDisarms(t *testing.T) {
	var tr Trigger
	now := time.Unix(0, 0)
	tr.Start(now)
	tr.Stop()
	if due, _ := tr.Raise(now.Add(time.Hour)); due {
		t.Fatal("Raise() fired after Stop")
	}
	if tr.Running() {
		t.Fatal("Running() true after Stop")
	}
}

func TestTriggerExhaustsSchedule(t *testing.T) {
	var tr Trigger
	now := time.Unix(0, 0)
	tr.Start(now)

	for i := 0; i < maxRetransmits-1; i++ {
		due, exhausted := tr.Raise(now.Add(time.Hour * time.Duration(i+1)))
		if !due || exhausted {
			t.Fatalf("attempt %d: Raise() = (%v, %v), want (true, false)", i, due, exhausted)
		}
	}
	_, exhausted := tr.Raise(now.Add(time.Hour * 100))
	if !exhausted {
		t.Fatal("expected exhausted after schedule runs out")
	}
}

func TestTriggerResetRearmsFromZero(t *testing.T) {
	var tr Trigger
	now := time.Unix(0, 0)
	tr.Start(now)
	tr.Raise(now.Add(retransmitSchedule[0] + time.Millisecond))

	tr.Reset(now)
	if due, _ := tr.Raise(now); due {
		t.Fatal("Raise() fired immediately after Reset")
	}
}
