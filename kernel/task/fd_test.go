package task

import "testing"

func TestFDTableInstallGetClear(t *testing.T) {
	var fds FDTable

	idx := fds.Install(FD{Kind: FDRegular, Handle: 42})
	if idx != 0 {
		t.Fatalf("Install returned %d, want 0", idx)
	}

	fd, ok := fds.Get(idx)
	if !ok || fd.Kind != FDRegular || fd.Handle.(int) != 42 {
		t.Fatalf("Get(%d) = %+v, %v", idx, fd, ok)
	}

	fds.Clear(idx)
	if _, ok := fds.Get(idx); ok {
		t.Fatalf("Get after Clear still occupied")
	}
}

func TestFDTableInstallFullReturnsMinusOne(t *testing.T) {
	var fds FDTable
	for i := 0; i < MaxFDs; i++ {
		if fds.Install(FD{Kind: FDRegular, Handle: i}) == -1 {
			t.Fatalf("Install unexpectedly full at %d", i)
		}
	}
	if fds.Install(FD{Kind: FDRegular, Handle: 999}) != -1 {
		t.Fatalf("Install on full table did not return -1")
	}
}

func TestFDTableCloneIntoAndReset(t *testing.T) {
	var fds FDTable
	fds.Install(FD{Kind: FDPipe, Handle: "pipe-end"})

	var clone FDTable
	fds.CloneInto(&clone)

	fd, ok := clone.Get(0)
	if !ok || fd.Kind != FDPipe {
		t.Fatalf("clone.Get(0) = %+v, %v", fd, ok)
	}

	fds.Reset()
	if _, ok := fds.Get(0); ok {
		t.Fatalf("Get after Reset still occupied")
	}
}
