package testkit

import (
	"sync/atomic"
	"testing"
	"time"
)

var rename = func(from, to string) error { return nil }

func TestSwapRestoresHook(t *testing.T) {
	calls := 0
	t.Run("swapped", func(t *testing.T) {
		Swap(t, &rename, func(string, string) error { calls++; return nil })
		_ = rename("latest.tmp", "latest.jpg")
	})
	_ = rename("latest.tmp", "latest.jpg")
	if calls != 1 {
		t.Fatalf("fake called %d times, want 1", calls)
	}
}

func TestSerialExcludesOtherHolders(t *testing.T) {
	var inside, overlap atomic.Int32
	for _, name := range []string{"pg", "files"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			Serial(t)
			if inside.Add(1) > 1 {
				overlap.Add(1)
			}
			time.Sleep(20 * time.Millisecond)
			inside.Add(-1)
		})
	}
	t.Cleanup(func() {
		if overlap.Load() != 0 {
			t.Errorf("two tests held the hook lock at once")
		}
	})
}

func TestEventually(t *testing.T) {
	var n atomic.Int32
	go func() {
		for range 3 {
			time.Sleep(time.Millisecond)
			n.Add(1)
		}
	}()
	Eventually(t, time.Second, "three ticks", func() bool { return n.Load() == 3 })
}

func TestPanics(t *testing.T) {
	MustPanic(t, func() { panic("lot 1 has no bank") })
	MustNotPanic(t, func() {})
	if panics(func() {}) {
		t.Fatalf("quiet fn reported as panicking")
	}
}

func TestMustContain(t *testing.T) {
	MustContain(t, `{"level":"info","lot_id":1,"message":"lot added"}`, `"lot_id":1`)
}
