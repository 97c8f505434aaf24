// Package txnstore creates and tears down on-disk transaction
// directories, mints node-ids/copy-ids/item-indexes, and reads/writes
// per-transaction properties (spec §4.3 "Transaction store").
package txnstore

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hollowmark/fsfs/internal/lock"
	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/layout"
)

// Sentinel errors (spec §7).
var (
	ErrNoSuchTransaction = errors.New("txnstore: no such transaction")
	ErrCorrupt           = errors.New("txnstore: corrupt on-disk state")
)

// RootReader fetches a committed revision's root node-revision, so Begin
// can seed a new transaction's root as a copy of it. Implemented by
// pkg/fs; kept as an interface here so txnstore has no dependency on the
// commit/read-back packages (mirrors the teacher's Engine-interface
// dependency-injection pattern).
type RootReader interface {
	RootNodeRevision(rev ids.Revision) (*ids.NodeRevision, error)
}

// Store manages the transactions/ directory of one repository.
type Store struct {
	root   layout.Root
	locks  *lock.Manager
	reader RootReader
}

// New returns a Store rooted at root, using locks for the counter lock
// and reader to seed new transactions' root node-revisions.
func New(root layout.Root, locks *lock.Manager, reader RootReader) *Store {
	return &Store{root: root, locks: locks, reader: reader}
}

// Handle is an open transaction: a directory plus the cached identity of
// its root node-revision.
type Handle struct {
	mu      sync.Mutex
	store   *Store
	ID      ids.TxnID
	BaseRev ids.Revision
	Root    ids.NodeRevision
}

// Begin mints a new transaction id, creates its directory and scratch
// files, and seeds its root node-revision as a copy of baseRev's root
// (spec §4.3 Begin).
func (s *Store) Begin(baseRev ids.Revision) (*Handle, error) {
	var txnID ids.TxnID
	err := s.locks.WithCounterLock(func() error {
		cur, err := readTxnCounter(s.root.TxnCurrentPath())
		if err != nil {
			return err
		}
		txnID = cur
		return writeTxnCounter(s.root.TxnCurrentPath(), cur+1)
	})
	if err != nil {
		return nil, fmt.Errorf("txnstore: begin: %w", err)
	}

	dir := s.root.TxnDir(txnID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("txnstore: begin: mkdir: %w", err)
	}
	for _, f := range []string{
		s.root.TxnRevPath(txnID),
		s.root.TxnRevLockPath(txnID),
		s.root.TxnChangesPath(txnID),
	} {
		if err := touch(f); err != nil {
			return nil, fmt.Errorf("txnstore: begin: %w", err)
		}
	}
	// Node number 0 belongs to the transaction's root (rootNodeFileID),
	// so reservations start at 1.
	if err := writeNextIDs(s.root.TxnNextIDsPath(txnID), 1, 0); err != nil {
		return nil, fmt.Errorf("txnstore: begin: %w", err)
	}
	if err := writeAtomic(s.root.TxnItemIndexPath(txnID), []byte(strconv.FormatUint(ids.FirstUserItemIndex, 36)+"\n")); err != nil {
		return nil, fmt.Errorf("txnstore: begin: %w", err)
	}

	baseRoot, err := s.reader.RootNodeRevision(baseRev)
	if err != nil {
		return nil, fmt.Errorf("txnstore: begin: reading base root: %w", err)
	}

	txnCS := ids.TxnChangeSet(txnID)
	root := *baseRoot
	rootID := baseRoot.ID
	root.ID = root.ID.RetaggedTo(txnCS)
	root.PredecessorID = &rootID
	root.PredecessorCount = baseRoot.PredecessorCount + 1
	root.IsFreshTxnRoot = true
	root.CreatedPath = "/"

	h := &Handle{store: s, ID: txnID, BaseRev: baseRev, Root: root}
	if err := h.writeNodeRevision(root); err != nil {
		return nil, fmt.Errorf("txnstore: begin: %w", err)
	}
	return h, nil
}

// Open reopens an existing transaction directory by its id.
func (s *Store) Open(txnID ids.TxnID) (*Handle, error) {
	dir := s.root.TxnDir(txnID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSuchTransaction
		}
		return nil, fmt.Errorf("txnstore: open: %w", err)
	}
	h := &Handle{store: s, ID: txnID}
	root, err := h.readNodeRevision(rootNodeFileID(txnID))
	if err != nil {
		return nil, fmt.Errorf("txnstore: open: reading root: %w", err)
	}
	h.Root = *root
	return h, nil
}

// Abort removes a transaction's directory entirely (spec §4.3 Abort).
func (s *Store) Abort(txnID ids.TxnID) error {
	if err := os.RemoveAll(s.root.TxnDir(txnID)); err != nil {
		return fmt.Errorf("txnstore: abort: %w", err)
	}
	s.locks.Registry().Free(txnID.String())
	return nil
}

// List enumerates the ids of all transaction directories present.
func (s *Store) List() ([]ids.TxnID, error) {
	entries, err := os.ReadDir(s.root.TransactionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("txnstore: list: %w", err)
	}
	var out []ids.TxnID
	suffix := layout.TxnSuffix()
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		id, err := ids.ParseTxnID(strings.TrimSuffix(e.Name(), suffix))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Sweep removes every transaction directory present (stale-transaction
// GC after a crash, per spec §5's "Cancellation" note; SPEC_FULL §4
// names this as an explicit operation). keep, if non-nil, is consulted
// per id and any id for which it returns true is left alone.
func (s *Store) Sweep(keep func(ids.TxnID) bool) ([]ids.TxnID, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var swept []ids.TxnID
	for _, id := range all {
		if keep != nil && keep(id) {
			continue
		}
		if err := s.Abort(id); err != nil {
			return swept, err
		}
		swept = append(swept, id)
	}
	return swept, nil
}

// touch creates an empty file if it doesn't already exist.
func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// writeAtomic writes data to path via write-temp-then-rename, the
// pattern spec §4.3 requires for the counter file and used throughout
// the commit pipeline for crash-safe publication.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readTxnCounter(path string) (ids.TxnID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading txn-current: %w", err)
	}
	text := string(data)
	if !strings.HasSuffix(text, "\n") {
		return 0, fmt.Errorf("%w: txn-current missing trailing newline", ErrCorrupt)
	}
	return ids.ParseTxnID(strings.TrimSuffix(text, "\n"))
}

func writeTxnCounter(path string, next ids.TxnID) error {
	return writeAtomic(path, []byte(next.String()+"\n"))
}

// writeNextIDs writes the two-base36-integer next-ids file (spec §6:
// "<base36-node-id> <base36-copy-id>\n").
func writeNextIDs(path string, nextNode, nextCopy uint64) error {
	line := fmt.Sprintf("%s %s\n", strconv.FormatUint(nextNode, 36), strconv.FormatUint(nextCopy, 36))
	return writeAtomic(path, []byte(line))
}

func readNextIDs(path string) (nextNode, nextCopy uint64, err error) {
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return 0, 0, fmt.Errorf("reading next-ids: %w", rerr)
	}
	text := string(data)
	if !strings.HasSuffix(text, "\n") {
		return 0, 0, fmt.Errorf("%w: next-ids missing trailing newline", ErrCorrupt)
	}
	fields := strings.Fields(strings.TrimSuffix(text, "\n"))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%w: next-ids malformed: %q", ErrCorrupt, text)
	}
	n, err := strconv.ParseUint(fields[0], 36, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: next-ids node field: %v", ErrCorrupt, err)
	}
	c, err := strconv.ParseUint(fields[1], 36, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: next-ids copy field: %v", ErrCorrupt, err)
	}
	return n, c, nil
}

// ReserveNodeID allocates and returns the next free node-id for this
// transaction (monotonic, not necessarily contiguous).
func (h *Handle) ReserveNodeID() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	path := h.store.root.TxnNextIDsPath(h.ID)
	node, copyID, err := readNextIDs(path)
	if err != nil {
		return 0, err
	}
	if err := writeNextIDs(path, node+1, copyID); err != nil {
		return 0, err
	}
	return node, nil
}

// ReserveCopyID allocates and returns the next free copy-id.
func (h *Handle) ReserveCopyID() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	path := h.store.root.TxnNextIDsPath(h.ID)
	node, copyID, err := readNextIDs(path)
	if err != nil {
		return 0, err
	}
	if err := writeNextIDs(path, node, copyID+1); err != nil {
		return 0, err
	}
	return copyID, nil
}

// AllocateItemIndex allocates and returns the next item index within
// this transaction's change-set (spec §4.3; starts from
// ids.FirstUserItemIndex when the txn is fresh).
func (h *Handle) AllocateItemIndex() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	path := h.store.root.TxnItemIndexPath(h.ID)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("txnstore: item-index: %w", err)
	}
	cur, err := strconv.ParseUint(strings.TrimSpace(string(data)), 36, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: item-index: %v", ErrCorrupt, err)
	}
	if err := writeAtomic(path, []byte(strconv.FormatUint(cur+1, 36)+"\n")); err != nil {
		return 0, err
	}
	return cur, nil
}

func rootNodeFileID(txnID ids.TxnID) string {
	return "0." + ids.TxnChangeSet(txnID).String()
}

// writeNodeRevision serializes nr to its node.<id> file (spec §6 keyed
// text record; key set id/type/pred/count/text/props/cpath/copyfrom/
// copyroot/fresh-root).
func (h *Handle) writeNodeRevision(nr ids.NodeRevision) error {
	path := h.store.root.TxnNodePath(h.ID, nodeFileID(nr.ID))
	return writeAtomic(path, []byte(EncodeNodeRevision(nr)))
}

// readNodeRevision reads and parses node.<fileID>.
func (h *Handle) readNodeRevision(fileID string) (*ids.NodeRevision, error) {
	path := h.store.root.TxnNodePath(h.ID, fileID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	nr, err := DecodeNodeRevision(string(data))
	if err != nil {
		return nil, err
	}
	return nr, nil
}

// WriteNodeRevision exposes writeNodeRevision to pkg/mutbuf and
// pkg/commit, which own the txn's node-rev files during mutation and
// the final rewrite respectively.
func (h *Handle) WriteNodeRevision(nr ids.NodeRevision) error { return h.writeNodeRevision(nr) }

// ReadNodeRevision exposes readNodeRevision by node-rev file id.
func (h *Handle) ReadNodeRevision(fileID string) (*ids.NodeRevision, error) {
	return h.readNodeRevision(fileID)
}

// nodeFileID renders a node-revision id's node-id component as the
// node.<id> filename suffix: "<number>.<changeset>".
func nodeFileID(id ids.NodeRevisionID) string {
	return fmt.Sprintf("%d.%s", id.NodeID.Number, id.NodeID.ChangeSet)
}
