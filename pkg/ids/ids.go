// Package ids implements the core data model of the fsfs commit engine:
// revision numbers, transaction ids, the tagged change-set integer that
// namespaces both, node-revision identity, representations, node-revisions,
// directory entries and change records.
//
// Nothing in this package touches a filesystem. It is pure data plus the
// encode/decode routines for the representation descriptor and the
// directory-entry list text formats, so every package that writes or
// reads them shares one definition. The node-revision record and
// next-ids codecs live in pkg/txnstore.
package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// Revision is a monotonically increasing repository revision number.
// Revision 0 is the empty tree. NoRevision marks "not yet committed" or
// "no copy source", mirroring the -1 sentinel used by versioned
// filesystems of this shape.
type Revision int64

// NoRevision marks the absence of a revision (e.g. a node with no
// copyfrom source, or a transaction not yet based on anything).
const NoRevision Revision = -1

func (r Revision) String() string {
	if r == NoRevision {
		return "-1"
	}
	return strconv.FormatInt(int64(r), 10)
}

// TxnID is a transaction identifier, minted from a shared, filesystem-
// persisted monotonic counter. It is serialized in base-36 text on disk
// and in directory names (txn-current, transactions/<id>.txn/).
type TxnID uint64

// String renders the id as lowercase base-36, the on-disk encoding.
func (t TxnID) String() string {
	return strconv.FormatUint(uint64(t), 36)
}

// ParseTxnID parses the base-36 text form written to txn-current and used
// in transaction directory names.
func ParseTxnID(s string) (TxnID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 36, 64)
	if err != nil {
		return 0, fmt.Errorf("ids: invalid transaction id %q: %w", s, err)
	}
	return TxnID(v), nil
}

// ChangesItemIndex and FirstUserItemIndex reserve the low end of a
// change-set's item-index space: 1 is always the changes block, 2 is
// reserved, and ordinary reps/node-revs/directories start at 3 (spec
// §4.3's "item-index starts from a fixed first-user constant").
const (
	ChangesItemIndex    uint64 = 1
	FirstUserItemIndex  uint64 = 3
)

// txnFlag is the high-bit discriminator of a ChangeSet: set means the
// remaining bits hold a TxnID, clear means they hold a Revision.
const txnFlag = uint64(1) << 63

// ChangeSet is the tagged integer identifying either a committed revision
// or an in-progress transaction. It namespaces item indexes: every rep,
// node-rev, and changes-block lives within exactly one change-set.
type ChangeSet uint64

// RevisionChangeSet tags a committed revision.
func RevisionChangeSet(r Revision) ChangeSet {
	return ChangeSet(uint64(r))
}

// TxnChangeSet tags an in-progress transaction.
func TxnChangeSet(id TxnID) ChangeSet {
	return ChangeSet(uint64(id) | txnFlag)
}

// IsTxn reports whether the change-set names a transaction rather than a
// committed revision.
func (cs ChangeSet) IsTxn() bool {
	return uint64(cs)&txnFlag != 0
}

// Revision returns the tagged revision number and true, or (0, false) if
// this change-set names a transaction instead.
func (cs ChangeSet) Revision() (Revision, bool) {
	if cs.IsTxn() {
		return 0, false
	}
	return Revision(cs), true
}

// Txn returns the tagged transaction id and true, or (0, false) if this
// change-set names a committed revision instead.
func (cs ChangeSet) Txn() (TxnID, bool) {
	if !cs.IsTxn() {
		return 0, false
	}
	return TxnID(uint64(cs) &^ txnFlag), true
}

func (cs ChangeSet) String() string {
	if r, ok := cs.Revision(); ok {
		return "r" + r.String()
	}
	t, _ := cs.Txn()
	return "t" + t.String()
}

// ParseChangeSet parses the "r<rev>" / "t<base36-txn-id>" text form
// ChangeSet.String produces.
func ParseChangeSet(s string) (ChangeSet, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("ids: malformed change-set %q", s)
	}
	switch s[0] {
	case 'r':
		n, err := strconv.ParseInt(s[1:], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ids: change-set revision: %w", err)
		}
		return RevisionChangeSet(Revision(n)), nil
	case 't':
		id, err := ParseTxnID(s[1:])
		if err != nil {
			return 0, fmt.Errorf("ids: change-set txn: %w", err)
		}
		return TxnChangeSet(id), nil
	default:
		return 0, fmt.Errorf("ids: malformed change-set %q", s)
	}
}

// IDPair is a (change_set, number) pair: the building block of node_id,
// copy_id and noderev_id within a NodeRevisionID.
type IDPair struct {
	ChangeSet ChangeSet
	Number    uint64
}

func (p IDPair) String() string {
	return fmt.Sprintf("%d.%s", p.Number, p.ChangeSet)
}

// NodeRevisionID is the triple identifying one revision of one node:
// node_id tracks logical identity across revisions, copy_id tracks
// branch/copy lineage, noderev_id is the per-revision handle.
type NodeRevisionID struct {
	NodeID    IDPair
	CopyID    IDPair
	NodeRevID IDPair
}

func (id NodeRevisionID) String() string {
	return fmt.Sprintf("%s.%s.%s", id.NodeID, id.CopyID, id.NodeRevID)
}

// ParseIDPair parses the "<number>.<changeset>" text form IDPair.String
// produces.
func ParseIDPair(s string) (IDPair, error) {
	numStr, csStr, ok := strings.Cut(s, ".")
	if !ok {
		return IDPair{}, fmt.Errorf("ids: malformed id-pair %q", s)
	}
	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return IDPair{}, fmt.Errorf("ids: id-pair number: %w", err)
	}
	cs, err := ParseChangeSet(csStr)
	if err != nil {
		return IDPair{}, err
	}
	return IDPair{ChangeSet: cs, Number: num}, nil
}

// ParseNodeRevisionID parses the "<node-id>.<copy-id>.<noderev-id>" text
// form NodeRevisionID.String produces.
func ParseNodeRevisionID(s string) (NodeRevisionID, error) {
	parts := strings.SplitN(s, ".", 6)
	if len(parts) != 6 {
		return NodeRevisionID{}, fmt.Errorf("ids: malformed node-revision id %q", s)
	}
	node, err := ParseIDPair(parts[0] + "." + parts[1])
	if err != nil {
		return NodeRevisionID{}, err
	}
	copyID, err := ParseIDPair(parts[2] + "." + parts[3])
	if err != nil {
		return NodeRevisionID{}, err
	}
	noderev, err := ParseIDPair(parts[4] + "." + parts[5])
	if err != nil {
		return NodeRevisionID{}, err
	}
	return NodeRevisionID{NodeID: node, CopyID: copyID, NodeRevID: noderev}, nil
}

// RetaggedTo returns id with every embedded change-set rewritten to cs.
// Used during commit (spec §4.9 step 6) to convert transaction-tagged ids
// to revision-tagged ones.
func (id NodeRevisionID) RetaggedTo(cs ChangeSet) NodeRevisionID {
	return NodeRevisionID{
		NodeID:    IDPair{ChangeSet: cs, Number: id.NodeID.Number},
		CopyID:    IDPair{ChangeSet: cs, Number: id.CopyID.Number},
		NodeRevID: IDPair{ChangeSet: cs, Number: id.NodeRevID.Number},
	}
}

// NodeKind distinguishes files from directories.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindDir
)

func (k NodeKind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// DeltaBaseRef names the ancestor representation a delta is encoded
// against: a prior revision's item at a given offset and length.
type DeltaBaseRef struct {
	BaseRev  Revision
	BaseItem uint64
	BaseLen  int64
}

// Representation describes one stored byte sequence: file content or a
// property list. A Representation is mutable (still being written, lives
// in a transaction's proto-rev file) exactly when its ChangeSet tags a
// transaction; it becomes immutable the instant it is retagged to a
// revision at commit.
type Representation struct {
	ChangeSet    ChangeSet
	ItemIndex    uint64
	Size         int64 // on-disk (possibly delta-encoded) byte count
	ExpandedSize int64 // logical, fully-reconstructed byte count
	MD5          [16]byte
	HasSHA1      bool
	SHA1         [20]byte
	DeltaBase    *DeltaBaseRef // nil means "self-delta" / first-of-chain
}

// Mutable reports whether this representation still lives in a
// transaction's scratch space rather than a committed revision.
func (r Representation) Mutable() bool {
	return r.ChangeSet.IsTxn()
}

// NodeRevision is one revision of one node: the unit the commit pipeline
// walks and rewrites. See spec §3 "Node-revision".
type NodeRevision struct {
	ID               NodeRevisionID
	Kind             NodeKind
	PredecessorID    *NodeRevisionID
	PredecessorCount int
	DataRep          *Representation
	PropRep          *Representation
	CopyFromPath     string
	CopyFromRev      Revision // NoRevision if this node-rev was not copied
	CopyRootPath     string
	CopyRootRev      Revision
	CreatedPath      string
	IsFreshTxnRoot   bool
}

// DirEntry is one entry of a directory's canonical entry set: a name
// mapped to the kind and identity of the child it names.
type DirEntry struct {
	Name string
	Kind NodeKind
	ID   NodeRevisionID
}

// ChangeKind enumerates the ways a path can be touched within a
// transaction, per spec §3 "Change record".
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeDelete
	ChangeReplace
	ChangeModify
	ChangeReset
	ChangeMove
	ChangeMoveReplace
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	case ChangeReplace:
		return "replace"
	case ChangeModify:
		return "modify"
	case ChangeReset:
		return "reset"
	case ChangeMove:
		return "move"
	case ChangeMoveReplace:
		return "movereplace"
	default:
		return "unknown"
	}
}

// ChangeRecord is one raw entry in a transaction's changes log, or one
// folded (canonical) entry in a commit's changed-paths block.
type ChangeRecord struct {
	Path         string
	Kind         ChangeKind
	NodeRevID    *NodeRevisionID
	TextMod      bool
	PropMod      bool
	NodeKind     NodeKind
	CopyFromPath string
	CopyFromRev  Revision
}

// Clone returns a deep-enough copy of c suitable for storing in a folded
// change map independent of the record that produced it (spec §4.7 "copying
// string into the target arena" — in Go this is just avoiding aliasing of
// the NodeRevID pointer).
func (c ChangeRecord) Clone() ChangeRecord {
	out := c
	if c.NodeRevID != nil {
		id := *c.NodeRevID
		out.NodeRevID = &id
	}
	return out
}
