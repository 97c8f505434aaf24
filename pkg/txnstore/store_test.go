package txnstore

import (
	"os"
	"testing"

	"github.com/hollowmark/fsfs/internal/lock"
	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/layout"
)

type fakeRootReader struct{ root ids.NodeRevision }

func (f fakeRootReader) RootNodeRevision(rev ids.Revision) (*ids.NodeRevision, error) {
	nr := f.root
	return &nr, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	root := layout.New(dir)
	mgr := lock.NewManager(root.WriteLockPath(), root.TxnCurrentLockPath())
	reader := fakeRootReader{root: ids.NodeRevision{
		ID: ids.NodeRevisionID{
			NodeID:    ids.IDPair{ChangeSet: ids.RevisionChangeSet(0), Number: 0},
			CopyID:    ids.IDPair{ChangeSet: ids.RevisionChangeSet(0), Number: 0},
			NodeRevID: ids.IDPair{ChangeSet: ids.RevisionChangeSet(0), Number: 0},
		},
		Kind:        ids.KindDir,
		CreatedPath: "/",
		CopyFromRev: ids.NoRevision,
	}}
	return New(root, mgr, reader)
}

func TestBeginCreatesScratchFilesAndRoot(t *testing.T) {
	s := newTestStore(t)

	h, err := s.Begin(0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if h.ID != 0 {
		t.Fatalf("expected first minted txn id to be 0, got %v", h.ID)
	}
	for _, f := range []string{
		s.root.TxnRevPath(h.ID),
		s.root.TxnRevLockPath(h.ID),
		s.root.TxnChangesPath(h.ID),
		s.root.TxnNextIDsPath(h.ID),
		s.root.TxnItemIndexPath(h.ID),
	} {
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("expected scratch file %s to exist: %v", f, err)
		}
	}
	if !h.Root.IsFreshTxnRoot {
		t.Fatalf("expected seeded root to be marked fresh")
	}
	if h.Root.PredecessorID == nil {
		t.Fatalf("expected seeded root to carry a predecessor id")
	}
}

func TestBeginMintsMonotonicTxnIDs(t *testing.T) {
	s := newTestStore(t)

	h1, err := s.Begin(0)
	if err != nil {
		t.Fatalf("Begin 1: %v", err)
	}
	h2, err := s.Begin(0)
	if err != nil {
		t.Fatalf("Begin 2: %v", err)
	}
	if h2.ID <= h1.ID {
		t.Fatalf("expected monotonic txn ids, got %v then %v", h1.ID, h2.ID)
	}
}

func TestReserveNodeAndCopyIDsAreMonotonic(t *testing.T) {
	s := newTestStore(t)
	h, err := s.Begin(0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	n1, err := h.ReserveNodeID()
	if err != nil {
		t.Fatalf("ReserveNodeID: %v", err)
	}
	n2, err := h.ReserveNodeID()
	if err != nil {
		t.Fatalf("ReserveNodeID: %v", err)
	}
	if n2 != n1+1 {
		t.Fatalf("expected contiguous node ids from a single reservation stream, got %d then %d", n1, n2)
	}

	c1, err := h.ReserveCopyID()
	if err != nil {
		t.Fatalf("ReserveCopyID: %v", err)
	}
	if c1 != 0 {
		t.Fatalf("expected first copy id 0, got %d", c1)
	}
}

func TestAllocateItemIndexStartsAtFirstUser(t *testing.T) {
	s := newTestStore(t)
	h, err := s.Begin(0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	first, err := h.AllocateItemIndex()
	if err != nil {
		t.Fatalf("AllocateItemIndex: %v", err)
	}
	if first != ids.FirstUserItemIndex {
		t.Fatalf("expected first allocation to be %d, got %d", ids.FirstUserItemIndex, first)
	}
	second, err := h.AllocateItemIndex()
	if err != nil {
		t.Fatalf("AllocateItemIndex: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected monotonic item indexes, got %d then %d", first, second)
	}
}

func TestAbortRemovesDirectory(t *testing.T) {
	s := newTestStore(t)
	h, err := s.Begin(0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := s.Abort(h.ID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(s.root.TxnDir(h.ID)); err == nil {
		t.Fatalf("expected txn directory to be removed after Abort")
	}
}

func TestListReturnsSortedTxnIDs(t *testing.T) {
	s := newTestStore(t)
	h1, _ := s.Begin(0)
	h2, _ := s.Begin(0)
	h3, _ := s.Begin(0)

	got, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []ids.TxnID{h1.ID, h2.ID, h3.ID}
	if len(got) != len(want) {
		t.Fatalf("expected %d transactions, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected sorted ids %v, got %v", want, got)
		}
	}
}

func TestOpenRoundTripsRootNodeRevision(t *testing.T) {
	s := newTestStore(t)
	h, err := s.Begin(0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	reopened, err := s.Open(h.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Root.ID != h.Root.ID {
		t.Fatalf("expected reopened root id %v, got %v", h.Root.ID, reopened.Root.ID)
	}
}
