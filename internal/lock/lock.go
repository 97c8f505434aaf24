// Package lock implements the four shared locks of the commit engine
// (spec §4.1) and the process-wide shared-transaction registry (§4.2).
//
// Each lock pairs an in-process mutex (for multiple threads in this
// process) with a cross-process advisory file lock (github.com/gofrs/flock,
// the same wrapper the wider Go ecosystem reaches for instead of hand-
// rolled syscall.Flock — see go-ethereum's chain-directory lock in the
// retrieval pack). Acquire takes a callback and guarantees release on
// every exit path, success or error, the same guard-composes-with-errors
// shape the teacher uses for its transaction/rollback paths.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrContention is returned by AcquireProtoRev when another writer already
// holds the proto-rev lock for that transaction (spec §4.1
// "ContentionTimeout").
var ErrContention = errors.New("lock: proto-rev lock held by another writer")

// Manager owns the four shared locks for one repository root.
//
// Manager is safe for concurrent use by multiple goroutines; the
// advisory file locks additionally coordinate with other processes
// sharing the same repository directory.
type Manager struct {
	writeMu sync.Mutex
	write   *flock.Flock
	writeF  string

	counterMu sync.Mutex
	counter   *flock.Flock

	listMu sync.Mutex // guards the shared-transaction registry

	protoMu sync.Mutex // serializes proto-rev lock acquisition bookkeeping
	reg     *Registry
}

// NewManager returns a Manager guarding the write-lock sentinel at
// writeLockPath and the txn-counter sentinel at counterLockPath.
func NewManager(writeLockPath, counterLockPath string) *Manager {
	return &Manager{
		write:  flock.New(writeLockPath),
		writeF: writeLockPath,
		counter: flock.New(counterLockPath),
		reg:    NewRegistry(),
	}
}

// WithWriteLock runs fn while holding the global write lock, which
// serializes commits across the whole repository (spec §4.1 lock 1). If
// the sentinel file does not exist yet, it is created and acquisition is
// retried exactly once.
func (m *Manager) WithWriteLock(fn func() error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := acquireWithRetry(m.write, m.writeF); err != nil {
		return fmt.Errorf("lock: write lock: %w", err)
	}
	defer func() {
		if err := m.write.Unlock(); err != nil {
			// best-effort: the file lock is released by the OS on
			// process exit even if this fails.
			_ = err
		}
	}()

	return fn()
}

// WithCounterLock runs fn while holding the transaction-counter lock
// (spec §4.1 lock 2), held only for the read-modify-write of txn-current.
func (m *Manager) WithCounterLock(fn func() error) error {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	if err := acquireWithRetry(m.counter, ""); err != nil {
		return fmt.Errorf("lock: counter lock: %w", err)
	}
	defer m.counter.Unlock()

	return fn()
}

// acquireWithRetry locks f. If the file is missing and path is non-empty,
// it creates an empty sentinel and retries exactly once, matching spec
// §4.1: "If the sentinel file does not exist when acquiring the write
// lock, the manager creates it and retries exactly once."
func acquireWithRetry(f *flock.Flock, path string) error {
	err := f.Lock()
	if err == nil {
		return nil
	}
	if path == "" || !os.IsNotExist(err) {
		return err
	}
	if cerr := os.WriteFile(path, nil, 0644); cerr != nil {
		return fmt.Errorf("creating sentinel: %w", cerr)
	}
	return f.Lock()
}

// Registry returns the process-wide shared-transaction registry this
// manager's proto-rev lock bookkeeping uses.
func (m *Manager) Registry() *Registry { return m.reg }

// ProtoRevLock is a held per-transaction proto-rev lock (spec §4.1 lock
// 4). Callers must call Release exactly once.
type ProtoRevLock struct {
	mgr   *Manager
	txn   string
	file  *flock.Flock
	entry *Entry
}

// AcquireProtoRev blocks until the proto-rev lock for txnID is free (or
// ctx-less timeout elapses) and marks the registry entry being-written.
// lockFilePath is the per-txn rev-lock sentinel file.
func (m *Manager) AcquireProtoRev(txnID, lockFilePath string, nonBlocking bool, timeout time.Duration) (*ProtoRevLock, error) {
	m.listMu.Lock()
	entry := m.reg.GetOrCreate(txnID)
	m.listMu.Unlock()

	entry.mu.Lock()
	if entry.beingWritten {
		entry.mu.Unlock()
		return nil, ErrContention
	}
	entry.beingWritten = true
	entry.mu.Unlock()

	f := flock.New(lockFilePath)
	var err error
	if nonBlocking {
		var ok bool
		ok, err = f.TryLock()
		if err == nil && !ok {
			err = ErrContention
		}
	} else if timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		ok, terr := f.TryLockContext(ctx, 10*time.Millisecond)
		cancel()
		if terr != nil {
			err = terr
		} else if !ok {
			err = ErrContention
		}
	} else {
		err = f.Lock()
	}
	if err != nil {
		entry.mu.Lock()
		entry.beingWritten = false
		entry.mu.Unlock()
		return nil, fmt.Errorf("lock: proto-rev lock for %s: %w", txnID, err)
	}

	return &ProtoRevLock{mgr: m, txn: txnID, file: f, entry: entry}, nil
}

// Release unlocks the advisory file lock and clears the registry's
// being-written flag. Safe to call multiple times; only the first call
// has effect.
func (p *ProtoRevLock) Release() error {
	if p == nil || p.file == nil {
		return nil
	}
	p.entry.mu.Lock()
	p.entry.beingWritten = false
	p.entry.mu.Unlock()

	err := p.file.Unlock()
	p.file = nil
	return err
}
