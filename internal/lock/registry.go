package lock

import (
	"sync"
)

// Entry is one slot in the shared-transaction registry: a transaction id
// plus the being-written flag that is true iff some goroutine currently
// holds that transaction's proto-rev lock (spec §4.2).
type Entry struct {
	mu           sync.Mutex
	txnID        string
	beingWritten bool
	next         *Entry // free-list link; unused, Registry.freed caches a single entry
}

// BeingWritten reports whether this entry's transaction currently has
// its proto-rev lock held.
func (e *Entry) BeingWritten() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beingWritten
}

// Registry is the process-wide table of active transactions: at most one
// Entry per txn id, used to enforce "one writer per proto-rev" (spec
// §4.2). A one-slot free list caches the last freed entry, avoiding
// reallocation churn under the common single-transaction workload.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	freed   *Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// GetOrCreate returns the entry for txnID, allocating one (reusing the
// one-slot free list when possible) if it does not already exist.
func (r *Registry) GetOrCreate(txnID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[txnID]; ok {
		return e
	}

	var e *Entry
	if r.freed != nil {
		e = r.freed
		r.freed = nil
		e.txnID = txnID
		e.beingWritten = false
		e.next = nil
	} else {
		e = &Entry{txnID: txnID}
	}
	r.entries[txnID] = e
	return e
}

// Lookup returns the entry for txnID, or nil if none exists.
func (r *Registry) Lookup(txnID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[txnID]
}

// Free unlinks the entry for txnID, caching it in the one-slot free list.
func (r *Registry) Free(txnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[txnID]
	if !ok {
		return
	}
	delete(r.entries, txnID)
	r.freed = e
}
