package rtmfp

import "testing"

func TestSessionIDAllocatorNeverReturnsZero(t *testing.T) {
	a := newSessionIDAllocator()
	for i := 0; i < 10; i++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatal(err)
		}
		if id == 0 {
			t.Fatal("allocator returned reserved id 0")
		}
	}
}

func TestSessionIDAllocatorReusesReleased(t *testing.T) {
	a := newSessionIDAllocator()
	id, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	a.Release(id)
	again, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Fatalf("Allocate() after release = %d, want reused %d", again, id)
	}
}
