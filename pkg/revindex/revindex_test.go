package revindex

import (
	"path/filepath"
	"testing"
)

func TestBuildSortsByItemAndOffset(t *testing.T) {
	dir := t.TempDir()
	proto := filepath.Join(dir, "index.proto")

	w, err := OpenProtoWriter(proto)
	if err != nil {
		t.Fatalf("OpenProtoWriter: %v", err)
	}
	entries := []Entry{
		{ItemIndex: 5, Offset: 100, Size: 10, Type: ItemRep},
		{ItemIndex: 3, Offset: 10, Size: 20, Type: ItemNodeRev},
		{ItemIndex: 1, Offset: 200, Size: 5, Type: ItemChanges},
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2p := filepath.Join(dir, "rev.l2p")
	p2l := filepath.Join(dir, "rev.p2l")
	if err := Build(proto, l2p, p2l); err != nil {
		t.Fatalf("Build: %v", err)
	}

	l2pEntries, err := ReadL2P(l2p)
	if err != nil {
		t.Fatalf("ReadL2P: %v", err)
	}
	wantItems := []uint64{1, 3, 5}
	for i, e := range l2pEntries {
		if e.ItemIndex != wantItems[i] {
			t.Fatalf("l2p[%d].ItemIndex = %d, want %d", i, e.ItemIndex, wantItems[i])
		}
	}

	p2lEntries, err := ReadP2L(p2l)
	if err != nil {
		t.Fatalf("ReadP2L: %v", err)
	}
	wantOffsets := []int64{10, 100, 200}
	for i, e := range p2lEntries {
		if e.Offset != wantOffsets[i] {
			t.Fatalf("p2l[%d].Offset = %d, want %d", i, e.Offset, wantOffsets[i])
		}
	}

	e, ok := Lookup(l2pEntries, 3)
	if !ok || e.Type != ItemNodeRev {
		t.Fatalf("Lookup(3) = %+v, %v", e, ok)
	}
}
