package sched

import (
	"testing"
	"time"
)

func TestBindSelfDropCurrent(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		self := Bind()
		if Self() != self {
			t.Error("Self() did not return the just-Bound thread")
		}
		DropCurrent()
		if Self() != nil {
			t.Error("Self() should be nil after DropCurrent")
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine never finished")
	}
}

func TestParkReady(t *testing.T) {
	self := Bind()
	defer DropCurrent()

	woke := make(chan struct{})
	go func() {
		Ready(self)
		close(woke)
	}()

	Park(self, nil)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Ready goroutine never ran")
	}
}

func TestDisableEnablePreemptionNesting(t *testing.T) {
	self := Bind()
	defer DropCurrent()

	DisablePreemption()
	DisablePreemption()
	if preemptible(self) {
		t.Fatal("expected thread to be non-preemptible with a nested disable")
	}
	EnablePreemption()
	if preemptible(self) {
		t.Fatal("expected thread to still be non-preemptible after only one Enable")
	}
	EnablePreemption()
	if !preemptible(self) {
		t.Fatal("expected thread to be preemptible once the counter reaches zero")
	}
}

func TestSuspendResume(t *testing.T) {
	self := Bind()
	defer DropCurrent()

	resumed := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			CheckSafepoint(self)
			select {
			case <-resumed:
				return
			default:
			}
		}
	}()

	state := Suspend(self)
	close(resumed)
	Resume(state)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("polling goroutine never observed Resume")
	}
}
