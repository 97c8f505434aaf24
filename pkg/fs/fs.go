// Package fs is the top-level filesystem session (spec §9's "single
// filesystem-handle object"): it owns the process-wide shared-txn
// registry, the cached youngest revision, and the collaborators
// (lock manager, transaction store, rep-sharing cache, delta-base
// policy) every transaction and commit needs, and exposes the client-
// facing surface — begin a transaction, mutate it, commit it, read
// back a committed revision.
package fs

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/hollowmark/fsfs/internal/lock"
	"github.com/hollowmark/fsfs/pkg/commit"
	"github.com/hollowmark/fsfs/pkg/deltabase"
	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/layout"
	"github.com/hollowmark/fsfs/pkg/mutbuf"
	"github.com/hollowmark/fsfs/pkg/repcache"
	"github.com/hollowmark/fsfs/pkg/txnstore"
)

// Options configures a repository at Create/Open time. Zero-value
// Options is valid and selects the defaults noted per field.
type Options struct {
	// ShardSize is the number of revisions per shard; 0 selects the
	// unsharded ("linear") layout (spec §6 "format" file).
	ShardSize int64
	// Policy bounds delta-base selection (spec §4.6). Zero value
	// selects deltabase.DefaultPolicy().
	Policy deltabase.Policy
	// RepSharingEnabled turns on the persistent rep-sharing index
	// (spec §4.8). Defaults to true.
	RepSharingEnabled bool
	// RepSharingDisabled explicitly turns sharing off even though
	// RepSharingEnabled is the zero value's implicit default; Options
	// has no way to distinguish "false" from "unset" for a bool
	// defaulting true, so callers that want it off must set this.
	RepSharingDisabled bool
	// VerifyAfterCommit re-reads a freshly published revision as a
	// debug-only postcondition (spec §4.9 step 12). Default false.
	VerifyAfterCommit bool
	// Warn receives non-fatal diagnostics (rep-cache misses on cache
	// corruption, etc.); defaults to log.Printf.
	Warn func(format string, args ...any)
}

func (o Options) normalize() Options {
	if o.Policy == (deltabase.Policy{}) {
		o.Policy = deltabase.DefaultPolicy()
	}
	if o.Warn == nil {
		o.Warn = func(format string, args ...any) { log.Printf("fsfs: "+format, args...) }
	}
	if !o.RepSharingDisabled {
		o.RepSharingEnabled = true
	}
	return o
}

// Filesystem is one open repository: the root directory plus every
// collaborator a transaction or commit needs. Safe for concurrent use
// by multiple goroutines.
type Filesystem struct {
	root     layout.Root
	dir      string
	opts     Options
	locks    *lock.Manager
	txns     *txnstore.Store
	repCache *repcache.Store

	mu            sync.Mutex
	youngestCache ids.Revision
	haveYoungest  bool
}

// Open opens an existing repository at dir.
func Open(dir string, opts Options) (*Filesystem, error) {
	opts = opts.normalize()
	root := layout.New(dir)
	format, err := os.ReadFile(root.FormatPath())
	if err != nil {
		return nil, fmt.Errorf("fs: open %s: %w", dir, err)
	}
	// The format file's layout line records the shard size the
	// repository was created with; it takes precedence over opts.
	if lines := strings.Split(string(format), "\n"); len(lines) > 1 {
		if n, serr := fmt.Sscanf(lines[1], "sharded %d", &opts.ShardSize); n != 1 || serr != nil {
			opts.ShardSize = 0
		}
	}

	locks := lock.NewManager(root.WriteLockPath(), root.TxnCurrentLockPath())
	fsys := &Filesystem{root: root, dir: dir, opts: opts, locks: locks}
	fsys.txns = txnstore.New(root, locks, fsys)

	var cache *repcache.Store
	if opts.RepSharingEnabled {
		cache, err = repcache.Open(root.RepCacheDir(), opts.Warn)
	} else {
		cache, err = repcache.OpenInMemory(opts.Warn)
	}
	if err != nil {
		return nil, fmt.Errorf("fs: open rep-cache: %w", err)
	}
	fsys.repCache = cache

	return fsys, nil
}

// Close releases the repository's persistent resources (the rep-sharing
// index's database handle). It does not remove anything from disk.
func (f *Filesystem) Close() error {
	if f.repCache != nil {
		return f.repCache.Close()
	}
	return nil
}

// Root returns the repository root path this Filesystem was opened
// against.
func (f *Filesystem) Root() layout.Root { return f.root }

// ShardSize returns the configured revisions-per-shard (0 = linear).
func (f *Filesystem) ShardSize() int64 { return f.opts.ShardSize }

// Policy returns the configured delta-base policy.
func (f *Filesystem) Policy() deltabase.Policy { return f.opts.Policy }

// Youngest reads (and caches) the repository's youngest committed
// revision (spec §4.1: "the caller also ... refreshes cached
// youngest_revision").
func (f *Filesystem) Youngest() (ids.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.youngestLocked()
}

func (f *Filesystem) youngestLocked() (ids.Revision, error) {
	data, err := os.ReadFile(f.root.CurrentPath())
	if err != nil {
		return 0, fmt.Errorf("fs: reading current: %w", err)
	}
	text := strings.TrimSpace(string(data))
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fs: malformed current file %q: %w", text, err)
	}
	rev := ids.Revision(n)
	f.youngestCache = rev
	f.haveYoungest = true
	return rev, nil
}

// refreshYoungest is called by the commit pipeline immediately after it
// has written the new current marker (spec §4.9 step 14: "Update
// in-process youngest cache").
func (f *Filesystem) refreshYoungest(rev ids.Revision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.youngestCache = rev
	f.haveYoungest = true
}

// Begin opens a new transaction against baseRev.
func (f *Filesystem) Begin(baseRev ids.Revision) (*Txn, error) {
	h, err := f.txns.Begin(baseRev)
	if err != nil {
		return nil, err
	}
	buf := mutbuf.New(f.txns, h, f.root)

	// Seed the fresh root's delta log with baseRev's root entries: the
	// log is the only thing mutbuf.Buffer.Entries ever replays, so any
	// entry this transaction never touches must still be recorded once
	// here or it would read back as missing (see Txn.seedChildren for
	// the same seeding applied to a directory copied deeper in the tree).
	baseRoot, err := f.RootNodeRevision(baseRev)
	if err != nil {
		return nil, err
	}
	entries, err := f.DirEntries(baseRoot.DataRep)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := buf.SetEntry(h.Root.ID, e.Name, e.Kind, e.ID); err != nil {
			return nil, err
		}
	}

	return &Txn{fsys: f, h: h, buf: buf}, nil
}

// OpenTxn reopens an existing transaction by id.
func (f *Filesystem) OpenTxn(id ids.TxnID) (*Txn, error) {
	h, err := f.txns.Open(id)
	if err != nil {
		return nil, err
	}
	buf := mutbuf.New(f.txns, h, f.root)
	return &Txn{fsys: f, h: h, buf: buf}, nil
}

// Abort discards an unstarted transaction (spec §4.3 Abort).
func (f *Filesystem) Abort(id ids.TxnID) error { return f.txns.Abort(id) }

// Sweep removes stale transaction directories after a crash (spec §5
// "Cancellation"; SPEC_FULL §4's stale-txn GC).
func (f *Filesystem) Sweep(keep func(ids.TxnID) bool) ([]ids.TxnID, error) {
	return f.txns.Sweep(keep)
}

// pipeline builds the commit.Pipeline wired to this Filesystem's
// collaborators. Built fresh per Commit call since it's a thin,
// stateless wrapper.
func (f *Filesystem) pipeline() *commit.Pipeline {
	return commit.New(commit.Config{
		Root:              f.root,
		ShardSize:         f.opts.ShardSize,
		Locks:             f.locks,
		Txns:              f.txns,
		RepCache:          f.repCache,
		Policy:            f.opts.Policy,
		History:           f,
		VerifyAfterCommit: f.opts.VerifyAfterCommit,
		Warn:              f.opts.Warn,
	})
}

// Commit runs the full commit pipeline (spec §4.9) for txn and, on
// success, advances the repository's youngest revision and purges the
// transaction directory.
func (f *Filesystem) Commit(txn *Txn) (ids.Revision, error) {
	rev, err := f.pipeline().Commit(txn.h, txn.buf)
	if err != nil {
		return 0, err
	}
	f.refreshYoungest(rev)
	return rev, nil
}
