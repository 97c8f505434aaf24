package ids

import "testing"

func TestChangeSetRoundTrip(t *testing.T) {
	rcs := RevisionChangeSet(42)
	if rcs.IsTxn() {
		t.Fatalf("revision change-set reported as txn")
	}
	if r, ok := rcs.Revision(); !ok || r != 42 {
		t.Fatalf("got (%v, %v), want (42, true)", r, ok)
	}
	if _, ok := rcs.Txn(); ok {
		t.Fatalf("Txn() should fail on a revision change-set")
	}

	tcs := TxnChangeSet(7)
	if !tcs.IsTxn() {
		t.Fatalf("txn change-set not reported as txn")
	}
	if id, ok := tcs.Txn(); !ok || id != 7 {
		t.Fatalf("got (%v, %v), want (7, true)", id, ok)
	}
	if _, ok := tcs.Revision(); ok {
		t.Fatalf("Revision() should fail on a txn change-set")
	}
}

func TestTxnIDBase36RoundTrip(t *testing.T) {
	for _, v := range []TxnID{0, 1, 35, 36, 123456789} {
		s := v.String()
		got, err := ParseTxnID(s)
		if err != nil {
			t.Fatalf("ParseTxnID(%q): %v", s, err)
		}
		if got != v {
			t.Fatalf("round trip %v -> %q -> %v", v, s, got)
		}
	}
}

func TestNodeRevisionIDRetaggedTo(t *testing.T) {
	txn := TxnChangeSet(3)
	id := NodeRevisionID{
		NodeID:    IDPair{ChangeSet: txn, Number: 1},
		CopyID:    IDPair{ChangeSet: txn, Number: 0},
		NodeRevID: IDPair{ChangeSet: txn, Number: 2},
	}
	rev := RevisionChangeSet(9)
	out := id.RetaggedTo(rev)
	if out.NodeID.ChangeSet != rev || out.CopyID.ChangeSet != rev || out.NodeRevID.ChangeSet != rev {
		t.Fatalf("RetaggedTo did not rewrite all three change-sets: %+v", out)
	}
	if out.NodeID.Number != 1 || out.NodeRevID.Number != 2 {
		t.Fatalf("RetaggedTo changed numbers: %+v", out)
	}
}

func TestRepresentationMutability(t *testing.T) {
	rep := Representation{ChangeSet: TxnChangeSet(1)}
	if !rep.Mutable() {
		t.Fatalf("txn-tagged representation should be mutable")
	}
	rep.ChangeSet = RevisionChangeSet(1)
	if rep.Mutable() {
		t.Fatalf("revision-tagged representation should be immutable")
	}
}

func TestChangeRecordCloneIsIndependent(t *testing.T) {
	id := NodeRevisionID{NodeID: IDPair{Number: 1}}
	c := ChangeRecord{Path: "/a", Kind: ChangeAdd, NodeRevID: &id}
	clone := c.Clone()
	clone.NodeRevID.NodeID.Number = 99
	if id.NodeID.Number == 99 {
		t.Fatalf("Clone aliased the NodeRevID pointer")
	}
}
