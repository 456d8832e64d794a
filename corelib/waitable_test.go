package corelib

import (
	"testing"
	"time"

	"github.com/Itay2805/pentagon/sched"
)

func TestWaitableSendWait(t *testing.T) {
	tbl := NewTable()
	h := tbl.CreateWaitable(0)

	done := make(chan int, 1)
	go func() {
		// A blocking wait parks on a semaphore, which needs a bound thread.
		sched.Bind()
		defer sched.DropCurrent()
		done <- tbl.WaitableWait(h, true)
	}()

	time.Sleep(10 * time.Millisecond)
	if !tbl.WaitableSend(h, true) {
		t.Fatal("WaitableSend returned false on an open waitable")
	}

	select {
	case r := <-done:
		if r != 2 {
			t.Fatalf("WaitableWait = %d, want 2 (normal receive)", r)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitableWait never returned after WaitableSend")
	}
}

func TestWaitableReleaseWakesWaiters(t *testing.T) {
	tbl := NewTable()
	h := tbl.CreateWaitable(0)

	done := make(chan int, 1)
	go func() {
		// A blocking wait parks on a semaphore, which needs a bound thread.
		sched.Bind()
		defer sched.DropCurrent()
		done <- tbl.WaitableWait(h, true)
	}()

	time.Sleep(10 * time.Millisecond)
	tbl.ReleaseWaitable(h)

	select {
	case r := <-done:
		if r != 0 {
			t.Fatalf("WaitableWait = %d, want 0 (closed)", r)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitableWait never returned after ReleaseWaitable")
	}
}

func TestWaitableNonBlockingPoll(t *testing.T) {
	tbl := NewTable()
	h := tbl.CreateWaitable(0)

	if r := tbl.WaitableWait(h, false); r != 1 {
		t.Fatalf("WaitableWait(block=false) = %d, want 1 (nothing ready)", r)
	}
	tbl.WaitableSend(h, true)
	if r := tbl.WaitableWait(h, false); r != 2 {
		t.Fatalf("WaitableWait(block=false) = %d, want 2 (ready)", r)
	}
}

func TestWaitableSelect2(t *testing.T) {
	tbl := NewTable()
	h1 := tbl.CreateWaitable(0)
	h2 := tbl.CreateWaitable(1)

	if r := tbl.WaitableSelect2(h1, h2, false); r != 1 {
		t.Fatalf("WaitableSelect2 = %d, want 1 (h2 ready)", r)
	}
}

func TestWaitableAfterDelivers(t *testing.T) {
	sched.Bind()
	defer sched.DropCurrent()

	tbl := NewTable()
	h := tbl.WaitableAfter(5000) // 5ms
	if r := tbl.WaitableWait(h, true); r != 2 {
		t.Fatalf("WaitableWait on a timer waitable = %d, want 2", r)
	}
}
