package lock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestManagerWriteLockSerializes(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "write-lock"), filepath.Join(dir, "txn-current-lock"))

	var order []int
	done := make(chan struct{})

	go func() {
		_ = m.WithWriteLock(func() error {
			order = append(order, 1)
			time.Sleep(20 * time.Millisecond)
			return nil
		})
		done <- struct{}{}
	}()
	time.Sleep(5 * time.Millisecond)
	_ = m.WithWriteLock(func() error {
		order = append(order, 2)
		return nil
	})
	<-done

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected serialized order [1 2], got %v", order)
	}
}

func TestManagerCreatesMissingSentinel(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "write-lock"), filepath.Join(dir, "txn-current-lock"))

	called := false
	if err := m.WithWriteLock(func() error { called = true; return nil }); err != nil {
		t.Fatalf("WithWriteLock: %v", err)
	}
	if !called {
		t.Fatalf("callback did not run")
	}
}

func TestProtoRevLockContention(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "write-lock"), filepath.Join(dir, "txn-current-lock"))
	lockFile := filepath.Join(dir, "rev-lock")

	held, err := m.AcquireProtoRev("1k", lockFile, true, 0)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := m.AcquireProtoRev("1k", lockFile, true, 0); err != ErrContention {
		t.Fatalf("expected ErrContention, got %v", err)
	}

	if err := held.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := m.AcquireProtoRev("1k", lockFile, true, 0)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	_ = again.Release()
}

func TestRegistryFreeListReusesEntry(t *testing.T) {
	reg := NewRegistry()
	e1 := reg.GetOrCreate("t1")
	e1.beingWritten = true
	reg.Free("t1")

	if reg.Lookup("t1") != nil {
		t.Fatalf("expected t1 to be unregistered after Free")
	}

	e2 := reg.GetOrCreate("t2")
	if e2.BeingWritten() {
		t.Fatalf("reused entry should reset being-written flag")
	}
}
