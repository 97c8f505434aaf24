package changes

import (
	"testing"

	"github.com/hollowmark/fsfs/pkg/ids"
)

func nrid(n uint64) *ids.NodeRevisionID {
	id := ids.NodeRevisionID{
		NodeID:    ids.IDPair{ChangeSet: ids.TxnChangeSet(1), Number: n},
		CopyID:    ids.IDPair{ChangeSet: ids.TxnChangeSet(1), Number: 0},
		NodeRevID: ids.IDPair{ChangeSet: ids.TxnChangeSet(1), Number: n},
	}
	return &id
}

func TestFoldFirstSeenInsertsAsIs(t *testing.T) {
	recs := []ids.ChangeRecord{
		{Path: "/iota", Kind: ids.ChangeAdd, NodeRevID: nrid(1), TextMod: true, NodeKind: ids.KindFile},
	}
	folded, order, err := Fold(recs)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if len(order) != 1 || order[0] != "/iota" {
		t.Fatalf("unexpected order: %v", order)
	}
	if folded["/iota"].Kind != ids.ChangeAdd {
		t.Fatalf("first-seen add should be inserted as-is, got %v", folded["/iota"].Kind)
	}
}

func TestFoldDeleteAfterAddInTxnIsNoOp(t *testing.T) {
	recs := []ids.ChangeRecord{
		{Path: "/a", Kind: ids.ChangeAdd, NodeRevID: nrid(1), NodeKind: ids.KindFile},
		{Path: "/a", Kind: ids.ChangeDelete, NodeRevID: nrid(1)},
	}
	folded, _, err := Fold(recs)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if _, ok := folded["/a"]; ok {
		t.Fatalf("expected /a to be folded away, found %+v", folded["/a"])
	}
}

func TestFoldDeleteDropsDescendants(t *testing.T) {
	// S5: add /a/b/c, then delete /a. Canonical set: one delete of /a,
	// nothing under it.
	recs := []ids.ChangeRecord{
		{Path: "/a/b", Kind: ids.ChangeAdd, NodeRevID: nrid(2), NodeKind: ids.KindDir},
		{Path: "/a/b/c", Kind: ids.ChangeAdd, NodeRevID: nrid(3), NodeKind: ids.KindFile},
		{Path: "/a", Kind: ids.ChangeDelete, NodeRevID: nrid(1)},
	}
	folded, _, err := Fold(recs)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if len(folded) != 1 {
		t.Fatalf("expected exactly 1 folded record, got %d: %+v", len(folded), folded)
	}
	rec, ok := folded["/a"]
	if !ok || rec.Kind != ids.ChangeDelete {
		t.Fatalf("expected a plain delete of /a, got %+v ok=%v", rec, ok)
	}
}

func TestFoldResetRemovesExisting(t *testing.T) {
	recs := []ids.ChangeRecord{
		{Path: "/a", Kind: ids.ChangeAdd, NodeRevID: nrid(1), NodeKind: ids.KindFile},
		{Path: "/a", Kind: ids.ChangeReset},
	}
	folded, _, err := Fold(recs)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if _, ok := folded["/a"]; ok {
		t.Fatalf("expected reset to remove the record")
	}
}

func TestFoldAddAfterDeleteBecomesReplace(t *testing.T) {
	// Deleting a path that existed before this transaction, then adding a
	// fresh node at the same path, folds to one replace record (not a
	// delete/add pair).
	recs := []ids.ChangeRecord{
		{Path: "/a", Kind: ids.ChangeDelete, NodeRevID: nrid(1), NodeKind: ids.KindFile},
		{Path: "/a", Kind: ids.ChangeAdd, NodeRevID: nrid(2), NodeKind: ids.KindFile},
	}
	folded, _, err := Fold(recs)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	rec, ok := folded["/a"]
	if !ok || rec.Kind != ids.ChangeReplace {
		t.Fatalf("expected add-after-delete to fold to replace, got %+v ok=%v", rec, ok)
	}
}

func TestFoldModifyOrsBits(t *testing.T) {
	recs := []ids.ChangeRecord{
		{Path: "/a", Kind: ids.ChangeAdd, NodeRevID: nrid(1), NodeKind: ids.KindFile, TextMod: true},
		{Path: "/a", Kind: ids.ChangeModify, NodeRevID: nrid(1), PropMod: true},
	}
	folded, _, err := Fold(recs)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	rec := folded["/a"]
	if !rec.TextMod || !rec.PropMod {
		t.Fatalf("expected both bits set, got %+v", rec)
	}
}

func TestFoldMissingNodeRevID(t *testing.T) {
	recs := []ids.ChangeRecord{{Path: "/a", Kind: ids.ChangeAdd}}
	if _, _, err := Fold(recs); err == nil {
		t.Fatalf("expected ErrMissingNodeRevID")
	}
}

func TestFoldModifyWithoutExistingRecord(t *testing.T) {
	// A plain edit to a node that already existed before the transaction
	// began is the single most common case: its first (and often only)
	// change record is a bare modify, with no preceding add/delete/move
	// in the same transaction. Fold must accept it as-is, same as any
	// other first-seen change kind.
	recs := []ids.ChangeRecord{{Path: "/a", Kind: ids.ChangeModify, NodeRevID: nrid(1), TextMod: true}}
	folded, order, err := Fold(recs)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	rec, ok := folded["/a"]
	if !ok {
		t.Fatalf("expected /a in folded map, got %+v", folded)
	}
	if rec.Kind != ids.ChangeModify || !rec.TextMod {
		t.Fatalf("expected modify record with TextMod set, got %+v", rec)
	}
	if len(order) != 1 || order[0] != "/a" {
		t.Fatalf("expected order [/a], got %v", order)
	}
}

func TestPathsDepthFirstOrder(t *testing.T) {
	folded := map[string]ids.ChangeRecord{
		"/a/b/c": {Path: "/a/b/c"},
		"/a":     {Path: "/a"},
		"/a/b":   {Path: "/a/b"},
	}
	got := Paths(folded)
	want := []string{"/a", "/a/b", "/a/b/c"}
	for i, p := range want {
		if got[i] != p {
			t.Fatalf("Paths() = %v, want %v", got, want)
		}
	}
}
