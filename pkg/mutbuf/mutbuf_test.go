package mutbuf

import (
	"testing"

	"github.com/hollowmark/fsfs/internal/lock"
	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/layout"
	"github.com/hollowmark/fsfs/pkg/txnstore"
)

type fakeRootReader struct{ root ids.NodeRevision }

func (f fakeRootReader) RootNodeRevision(rev ids.Revision) (*ids.NodeRevision, error) {
	nr := f.root
	return &nr, nil
}

func newTestBuffer(t *testing.T) (*Buffer, *txnstore.Handle) {
	t.Helper()
	dir := t.TempDir()
	root := layout.New(dir)
	mgr := lock.NewManager(root.WriteLockPath(), root.TxnCurrentLockPath())
	reader := fakeRootReader{root: ids.NodeRevision{
		ID: ids.NodeRevisionID{
			NodeID:    ids.IDPair{ChangeSet: ids.RevisionChangeSet(0)},
			CopyID:    ids.IDPair{ChangeSet: ids.RevisionChangeSet(0)},
			NodeRevID: ids.IDPair{ChangeSet: ids.RevisionChangeSet(0)},
		},
		Kind:        ids.KindDir,
		CreatedPath: "/",
		CopyFromRev: ids.NoRevision,
	}}
	store := txnstore.New(root, mgr, reader)
	h, err := store.Begin(0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return New(store, h, root), h
}

func childID(txn *txnstore.Handle, number uint64) ids.NodeRevisionID {
	cs := ids.TxnChangeSet(txn.ID)
	return ids.NodeRevisionID{
		NodeID:    ids.IDPair{ChangeSet: cs, Number: number},
		CopyID:    ids.IDPair{ChangeSet: cs, Number: 0},
		NodeRevID: ids.IDPair{ChangeSet: cs, Number: number},
	}
}

func TestSetEntryThenDeleteEntryRemovesName(t *testing.T) {
	b, h := newTestBuffer(t)
	dir := h.Root.ID
	file := childID(h, 1)

	if err := b.SetEntry(dir, "a.txt", ids.KindFile, file); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	entries, err := b.Entries(dir)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("expected one entry a.txt, got %v", entries)
	}

	if err := b.DeleteEntry(dir, "a.txt"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	entries, err = b.Entries(dir)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected entry removed after delete, got %v", entries)
	}
}

func TestSetEntryTwiceSupersedesEarlierBinding(t *testing.T) {
	b, h := newTestBuffer(t)
	dir := h.Root.ID
	first := childID(h, 1)
	second := childID(h, 2)

	if err := b.SetEntry(dir, "a.txt", ids.KindFile, first); err != nil {
		t.Fatalf("SetEntry 1: %v", err)
	}
	if err := b.SetEntry(dir, "a.txt", ids.KindFile, second); err != nil {
		t.Fatalf("SetEntry 2: %v", err)
	}
	entries, err := b.Entries(dir)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != second {
		t.Fatalf("expected second binding to win, got %v", entries)
	}
}

func TestAddChangeAndReadChangesPreservesOrder(t *testing.T) {
	b, h := newTestBuffer(t)
	file := childID(h, 1)
	recs := []ids.ChangeRecord{
		{Path: "/a.txt", Kind: ids.ChangeAdd, NodeRevID: &file, TextMod: true, NodeKind: ids.KindFile, CopyFromRev: ids.NoRevision},
		{Path: "/a.txt", Kind: ids.ChangeModify, NodeRevID: &file, PropMod: true, NodeKind: ids.KindFile, CopyFromRev: ids.NoRevision},
	}
	for _, r := range recs {
		if err := b.AddChange(r); err != nil {
			t.Fatalf("AddChange: %v", err)
		}
	}
	got, err := b.ReadChanges()
	if err != nil {
		t.Fatalf("ReadChanges: %v", err)
	}
	if len(got) != 2 || got[0].Kind != ids.ChangeAdd || got[1].Kind != ids.ChangeModify {
		t.Fatalf("expected [add modify] in order, got %v", got)
	}
}

func TestSetProplistRoundTrips(t *testing.T) {
	b, h := newTestBuffer(t)
	node := childID(h, 1)
	props := map[string]string{"svn:log": "hello\tworld", "author": "alice"}

	if err := b.SetProplist(node, props); err != nil {
		t.Fatalf("SetProplist: %v", err)
	}
	got, err := b.Proplist(node)
	if err != nil {
		t.Fatalf("Proplist: %v", err)
	}
	if got["svn:log"] != "hello\tworld" || got["author"] != "alice" {
		t.Fatalf("expected round-tripped props, got %v", got)
	}
}

func TestRecordSHA1AndLookupSHA1(t *testing.T) {
	b, _ := newTestBuffer(t)
	rep := ids.Representation{ChangeSet: ids.RevisionChangeSet(0), ItemIndex: 3, Size: 10, ExpandedSize: 10}

	if _, found, err := b.LookupSHA1("deadbeef"); err != nil || found {
		t.Fatalf("expected no sha1 recorded yet, got found=%v err=%v", found, err)
	}
	if err := b.RecordSHA1("deadbeef", rep); err != nil {
		t.Fatalf("RecordSHA1: %v", err)
	}
	got, found, err := b.LookupSHA1("deadbeef")
	if err != nil || !found {
		t.Fatalf("expected recorded sha1 to be found, got found=%v err=%v", found, err)
	}
	if got.ItemIndex != rep.ItemIndex || got.Size != rep.Size {
		t.Fatalf("expected rep round-trip, got %+v", got)
	}
}
