package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition never held")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduleRunsAfterWindow(t *testing.T) {
	r := New(10 * time.Millisecond)
	defer r.Close()

	var ran atomic.Int32
	r.Schedule("k", func() { ran.Add(1) })
	waitFor(t, func() bool { return ran.Load() == 1 })
}

func TestReschedulingSupersedesEarlierCallback(t *testing.T) {
	r := New(30 * time.Millisecond)
	defer r.Close()

	var got atomic.Int32
	for i := 1; i <= 5; i++ {
		v := int32(i)
		r.Schedule("k", func() { got.Store(v) })
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool { return got.Load() != 0 })
	if got.Load() != 5 {
		t.Fatalf("superseded callback ran: got %d", got.Load())
	}
	// Nothing else may fire afterwards.
	time.Sleep(60 * time.Millisecond)
	if got.Load() != 5 {
		t.Fatalf("extra callback ran: got %d", got.Load())
	}
}

func TestKeysDebounceIndependently(t *testing.T) {
	r := New(10 * time.Millisecond)
	defer r.Close()

	var a, b atomic.Int32
	r.Schedule("a", func() { a.Add(1) })
	r.Schedule("b", func() { b.Add(1) })
	waitFor(t, func() bool { return a.Load() == 1 && b.Load() == 1 })
}

func TestCancelDropsPendingCallback(t *testing.T) {
	r := New(20 * time.Millisecond)
	defer r.Close()

	var ran atomic.Int32
	r.Schedule("k", func() { ran.Add(1) })
	r.Cancel("k")

	time.Sleep(60 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatalf("cancelled callback ran")
	}
}

func TestCloseDiscardsPendingAndWaitsForRunning(t *testing.T) {
	r := New(50 * time.Millisecond)

	started := make(chan struct{})
	var finished atomic.Bool
	r.Schedule("running", func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})
	<-started

	var dropped atomic.Int32
	r.Schedule("pending", func() { dropped.Add(1) })

	r.Close()
	if !finished.Load() {
		t.Fatalf("close returned before running callback finished")
	}

	// Schedules after close are ignored.
	r.Schedule("late", func() { dropped.Add(1) })
	time.Sleep(20 * time.Millisecond)
	if dropped.Load() != 0 {
		t.Fatalf("callback ran after close")
	}
}
