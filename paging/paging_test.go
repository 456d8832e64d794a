package paging

import "testing"

func TestFakeReserveCommitPresent(t *testing.T) {
	f := NewFake()
	base, err := f.Reserve(0x1000, 1<<20)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if base == 0 {
		t.Fatal("Reserve returned a zero base address")
	}

	if f.Present(base) {
		t.Fatal("freshly reserved range should not be present")
	}
	if err := f.Commit(base, minGranule); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !f.Present(base) {
		t.Fatal("expected Present after Commit")
	}

	if err := f.Decommit(base, minGranule); err != nil {
		t.Fatalf("Decommit: %v", err)
	}
	if f.Present(base) {
		t.Fatal("expected Present to be false after Decommit")
	}
}

func TestFakeReserveTwiceFails(t *testing.T) {
	f := NewFake()
	if _, err := f.Reserve(0, 4096); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}
	if _, err := f.Reserve(0, 4096); err == nil {
		t.Fatal("expected second Reserve on the same backend to fail")
	}
}

func TestFakeDirtyTracking(t *testing.T) {
	f := NewFake()
	base, err := f.Reserve(0, 1<<20)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := f.Commit(base, minGranule); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if f.Dirty(base, minGranule) {
		t.Fatal("expected not dirty before MarkDirty")
	}
	f.MarkDirty(base, minGranule)
	if !f.Dirty(base, minGranule) {
		t.Fatal("expected dirty after MarkDirty")
	}

	snap := f.DirtySnapshot()
	if len(snap) != 1 || snap[0] != alignDown(base, minGranule) {
		t.Fatalf("DirtySnapshot = %v, want [%#x]", snap, alignDown(base, minGranule))
	}

	f.ClearDirty(base, minGranule)
	if f.Dirty(base, minGranule) {
		t.Fatal("expected not dirty after ClearDirty")
	}
}
