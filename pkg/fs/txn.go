package fs

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/mutbuf"
	"github.com/hollowmark/fsfs/pkg/repwriter"
	"github.com/hollowmark/fsfs/pkg/txnstore"
)

// Sentinel errors for the mutation surface (spec §7).
var (
	ErrNotDir        = errors.New("fs: not a directory")
	ErrNotFile       = errors.New("fs: not a file")
	ErrNotFound      = errors.New("fs: no such file or directory")
	ErrAlreadyExists = errors.New("fs: already exists")
)

// Txn is one open, mutable transaction (spec §4.4): a thin wrapper over
// pkg/txnstore's node-rev files and pkg/mutbuf's directory/changes logs
// that adds the copy-on-write cascade a path-based mutation needs.
type Txn struct {
	fsys *Filesystem
	h    *txnstore.Handle
	buf  *mutbuf.Buffer
}

// ID returns the transaction's id.
func (t *Txn) ID() ids.TxnID { return t.h.ID }

// BaseRev returns the revision this transaction was begun against.
func (t *Txn) BaseRev() ids.Revision { return t.h.BaseRev }

func (t *Txn) changeSet() ids.ChangeSet { return ids.TxnChangeSet(t.h.ID) }

func nodeFileID(id ids.NodeRevisionID) string {
	return fmt.Sprintf("%d.%s", id.NodeID.Number, id.NodeID.ChangeSet)
}

func splitPath(p string) (parent, name string) {
	p = path.Clean("/" + p)
	dir, base := path.Split(p)
	return path.Clean(dir), base
}

// nodeRevision reads a node-revision by id, from this transaction's
// scratch node file when id is still txn-tagged, or from a committed
// revision (via the Filesystem's read path) otherwise.
func (t *Txn) nodeRevision(id ids.NodeRevisionID) (*ids.NodeRevision, error) {
	if id.NodeID.ChangeSet.IsTxn() {
		return t.h.ReadNodeRevision(nodeFileID(id))
	}
	rev, ok := id.NodeID.ChangeSet.Revision()
	if !ok {
		return nil, fmt.Errorf("fs: node %s: change-set is neither a transaction nor a revision", id)
	}
	return t.fsys.NodeRevision(rev, id.NodeID.Number)
}

// entries returns dir's current entry set: the live view of its delta
// log when dir is mutable, or its committed directory content otherwise.
func (t *Txn) entries(dir ids.NodeRevisionID, nr *ids.NodeRevision) ([]ids.DirEntry, error) {
	if dir.NodeID.ChangeSet.IsTxn() {
		return t.buf.Entries(dir)
	}
	return t.fsys.DirEntries(nr.DataRep)
}

func lookupEntry(entries []ids.DirEntry, name string) (ids.DirEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return ids.DirEntry{}, false
}

// Resolve returns the node-revision id and record currently visible at
// p within this transaction (mutable entries shadow the base revision's).
func (t *Txn) Resolve(p string) (ids.NodeRevisionID, *ids.NodeRevision, error) {
	p = path.Clean("/" + p)
	id, nr := t.h.Root.ID, &t.h.Root
	if p == "/" {
		return id, nr, nil
	}
	for _, name := range strings.Split(strings.Trim(p, "/"), "/") {
		if nr.Kind != ids.KindDir {
			return ids.NodeRevisionID{}, nil, fmt.Errorf("%w: %q", ErrNotDir, p)
		}
		entries, err := t.entries(id, nr)
		if err != nil {
			return ids.NodeRevisionID{}, nil, err
		}
		found, ok := lookupEntry(entries, name)
		if !ok {
			return ids.NodeRevisionID{}, nil, fmt.Errorf("%w: %q", ErrNotFound, p)
		}
		id = found.ID
		nr, err = t.nodeRevision(id)
		if err != nil {
			return ids.NodeRevisionID{}, nil, err
		}
	}
	return id, nr, nil
}

// ensureMutable walks from the transaction's (always-mutable) root down
// to p, copy-on-write minting a fresh txn-scoped node-revision for every
// ancestor still tagged to a committed revision, and rewriting each
// ancestor's parent entry to point at the copy (spec §4.4: mutating a
// node requires every directory on the path to it to become mutable
// too). p must already exist.
func (t *Txn) ensureMutable(p string) (ids.NodeRevisionID, *ids.NodeRevision, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return t.h.Root.ID, &t.h.Root, nil
	}

	parentPath, name := splitPath(p)
	parentID, parentNR, err := t.ensureMutable(parentPath)
	if err != nil {
		return ids.NodeRevisionID{}, nil, err
	}
	if parentNR.Kind != ids.KindDir {
		return ids.NodeRevisionID{}, nil, fmt.Errorf("%w: %q", ErrNotDir, parentPath)
	}

	entries, err := t.entries(parentID, parentNR)
	if err != nil {
		return ids.NodeRevisionID{}, nil, err
	}
	found, ok := lookupEntry(entries, name)
	if !ok {
		return ids.NodeRevisionID{}, nil, fmt.Errorf("%w: %q", ErrNotFound, p)
	}

	if found.ID.NodeID.ChangeSet.IsTxn() {
		nr, err := t.nodeRevision(found.ID)
		if err != nil {
			return ids.NodeRevisionID{}, nil, err
		}
		return found.ID, nr, nil
	}

	old, err := t.nodeRevision(found.ID)
	if err != nil {
		return ids.NodeRevisionID{}, nil, err
	}
	oldID := found.ID
	newID := oldID.RetaggedTo(t.changeSet())
	newNR := *old
	newNR.ID = newID
	newNR.PredecessorID = &oldID
	newNR.PredecessorCount = old.PredecessorCount + 1
	newNR.CreatedPath = p
	newNR.IsFreshTxnRoot = false

	if err := t.h.WriteNodeRevision(newNR); err != nil {
		return ids.NodeRevisionID{}, nil, err
	}
	if newNR.Kind == ids.KindDir {
		// Seed the copy's delta log with the old directory's entries: the
		// log is the sole source of truth for Entries, so a name this
		// transaction never touches must still be recorded once, or it
		// would vanish from the copy (spec §4.4's directory delta log
		// models overrides on top of the node's prior content, not a
		// replacement of it).
		if err := t.seedChildren(newID, old.DataRep); err != nil {
			return ids.NodeRevisionID{}, nil, err
		}
	}
	if err := t.buf.SetEntry(parentID, name, newNR.Kind, newID); err != nil {
		return ids.NodeRevisionID{}, nil, err
	}
	return newID, &newNR, nil
}

// seedChildren copies every entry of a directory's committed content rep
// into dir's (freshly mutable) delta log as explicit "set" records.
func (t *Txn) seedChildren(dir ids.NodeRevisionID, rep *ids.Representation) error {
	entries, err := t.fsys.DirEntries(rep)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := t.buf.SetEntry(dir, e.Name, e.Kind, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// addNode mints a fresh node-revision named name under parentPath (which
// must already be mutable or become so) and records its creation.
func (t *Txn) addNode(parentPath, name string, kind ids.NodeKind) (ids.NodeRevisionID, error) {
	parentID, parentNR, err := t.ensureMutable(parentPath)
	if err != nil {
		return ids.NodeRevisionID{}, err
	}
	if parentNR.Kind != ids.KindDir {
		return ids.NodeRevisionID{}, fmt.Errorf("%w: %q", ErrNotDir, parentPath)
	}
	existing, err := t.entries(parentID, parentNR)
	if err != nil {
		return ids.NodeRevisionID{}, err
	}
	if _, ok := lookupEntry(existing, name); ok {
		return ids.NodeRevisionID{}, fmt.Errorf("%w: %q", ErrAlreadyExists, path.Join(parentPath, name))
	}

	num, err := t.h.ReserveNodeID()
	if err != nil {
		return ids.NodeRevisionID{}, err
	}
	cs := t.changeSet()
	id := ids.NodeRevisionID{
		NodeID:    ids.IDPair{ChangeSet: cs, Number: num},
		CopyID:    ids.IDPair{ChangeSet: cs, Number: num},
		NodeRevID: ids.IDPair{ChangeSet: cs, Number: num},
	}
	fullPath := path.Join(parentPath, name)
	nr := ids.NodeRevision{
		ID:           id,
		Kind:         kind,
		CopyFromRev:  ids.NoRevision,
		CreatedPath:  fullPath,
		CopyRootRev:  t.h.BaseRev,
		CopyRootPath: "/",
	}
	if err := t.h.WriteNodeRevision(nr); err != nil {
		return ids.NodeRevisionID{}, err
	}
	if err := t.buf.SetEntry(parentID, name, kind, id); err != nil {
		return ids.NodeRevisionID{}, err
	}
	if err := t.buf.AddChange(ids.ChangeRecord{
		Path:        fullPath,
		Kind:        ids.ChangeAdd,
		NodeRevID:   &id,
		TextMod:     kind == ids.KindFile,
		NodeKind:    kind,
		CopyFromRev: ids.NoRevision,
	}); err != nil {
		return ids.NodeRevisionID{}, err
	}
	return id, nil
}

// MakeDir creates an empty directory at p. p's parent must already
// exist (and becomes mutable via copy-on-write if it wasn't already).
func (t *Txn) MakeDir(p string) error {
	parentPath, name := splitPath(p)
	_, err := t.addNode(parentPath, name, ids.KindDir)
	return err
}

// MakeFile creates a new file at p with the given content.
func (t *Txn) MakeFile(p string, content []byte) error {
	parentPath, name := splitPath(p)
	id, err := t.addNode(parentPath, name, ids.KindFile)
	if err != nil {
		return err
	}
	return t.writeFileContent(id, content)
}

// WriteFile overwrites the content of the existing file at p.
func (t *Txn) WriteFile(p string, content []byte) error {
	id, nr, err := t.ensureMutable(p)
	if err != nil {
		return err
	}
	if nr.Kind != ids.KindFile {
		return fmt.Errorf("%w: %q", ErrNotFile, p)
	}
	if err := t.writeFileContent(id, content); err != nil {
		return err
	}
	return t.buf.AddChange(ids.ChangeRecord{
		Path:        p,
		Kind:        ids.ChangeModify,
		NodeRevID:   &id,
		TextMod:     true,
		NodeKind:    ids.KindFile,
		CopyFromRev: ids.NoRevision,
	})
}

// writeFileContent streams content into the transaction's proto-rev
// file (spec §4.5), sharing bytes with an identical representation
// already written earlier in this same transaction (the intra-txn SHA-1
// sidecar, spec §4.8) or, failing that, with the persistent rep-sharing
// index via repwriter.WriteBytes, and updates id's node-revision to
// point at the result.
func (t *Txn) writeFileContent(id ids.NodeRevisionID, content []byte) error {
	nr, err := t.nodeRevision(id)
	if err != nil {
		return err
	}
	if nr.Kind != ids.KindFile {
		return fmt.Errorf("%w: %q", ErrNotFile, nr.CreatedPath)
	}

	digest := sha1.Sum(content)
	digestHex := hex.EncodeToString(digest[:])

	if shared, found, err := t.buf.LookupSHA1(digestHex); err != nil {
		return err
	} else if found {
		nr.DataRep = &shared
		return t.h.WriteNodeRevision(*nr)
	}

	item, err := t.h.AllocateItemIndex()
	if err != nil {
		return err
	}

	var base *ids.DeltaBaseRef
	var dict []byte
	if baseCount, useDelta := t.fsys.opts.Policy.ChooseBase(nr.PredecessorCount); useDelta {
		base, dict, err = t.deltaBaseRef(nr, baseCount)
		if err != nil {
			return err
		}
		if base == nil {
			dict = nil
		}
	}

	rep, _, err := repwriter.WriteBytes(
		t.fsys.locks,
		t.fsys.root.TxnRevPath(t.h.ID),
		t.fsys.root.TxnRevLockPath(t.h.ID),
		t.h.ID.String(),
		content,
		repwriter.Options{ChangeSet: t.changeSet(), ItemIndex: item, Base: base, Dict: dict},
		t.fsys.repCache,
	)
	if err != nil {
		return err
	}

	if err := t.buf.RecordSHA1(digestHex, rep); err != nil {
		return err
	}

	nr.DataRep = &rep
	return t.h.WriteNodeRevision(*nr)
}

// deltaBaseRef walks nr's predecessor chain looking for the ancestor
// node-revision with the given predecessor count, returning a reference
// to its data representation for use as a delta base (spec §4.6) along
// with that representation's reconstructed bytes, the dictionary
// repwriter.Begin needs to actually encode a delta against it rather
// than merely record a pointer to it.
func (t *Txn) deltaBaseRef(nr *ids.NodeRevision, baseCount int) (*ids.DeltaBaseRef, []byte, error) {
	cur := nr
	for cur.PredecessorID != nil {
		pred, err := t.nodeRevision(*cur.PredecessorID)
		if err != nil {
			return nil, nil, err
		}
		if pred.PredecessorCount == baseCount {
			if pred.DataRep == nil {
				return nil, nil, nil
			}
			rev, ok := pred.DataRep.ChangeSet.Revision()
			if !ok {
				return nil, nil, nil
			}
			dict, err := t.fsys.RepContent(pred.DataRep)
			if err != nil {
				return nil, nil, fmt.Errorf("fs: reconstructing delta base content: %w", err)
			}
			return &ids.DeltaBaseRef{BaseRev: rev, BaseItem: pred.DataRep.ItemIndex, BaseLen: pred.DataRep.Size}, dict, nil
		}
		cur = pred
	}
	return nil, nil, nil
}

// SetProperties replaces the property set of the node at p. The
// serialized representation is finalized by the commit pipeline, the
// same way a directory's entry set is (spec §4.9 step 6); until then the
// new set lives only in this transaction's scratch proplist file.
func (t *Txn) SetProperties(p string, props map[string]string) error {
	id, nr, err := t.ensureMutable(p)
	if err != nil {
		return err
	}
	if err := t.buf.SetProplist(id, props); err != nil {
		return err
	}
	return t.buf.AddChange(ids.ChangeRecord{
		Path:        p,
		Kind:        ids.ChangeModify,
		NodeRevID:   &id,
		PropMod:     true,
		NodeKind:    nr.Kind,
		CopyFromRev: ids.NoRevision,
	})
}

// Delete removes the entry at p.
func (t *Txn) Delete(p string) error {
	parentPath, name := splitPath(p)
	parentID, parentNR, err := t.ensureMutable(parentPath)
	if err != nil {
		return err
	}
	if parentNR.Kind != ids.KindDir {
		return fmt.Errorf("%w: %q", ErrNotDir, parentPath)
	}
	entries, err := t.entries(parentID, parentNR)
	if err != nil {
		return err
	}
	found, ok := lookupEntry(entries, name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, p)
	}
	if err := t.buf.DeleteEntry(parentID, name); err != nil {
		return err
	}
	id := found.ID
	return t.buf.AddChange(ids.ChangeRecord{
		Path:        p,
		Kind:        ids.ChangeDelete,
		NodeRevID:   &id,
		NodeKind:    found.Kind,
		CopyFromRev: ids.NoRevision,
	})
}

// Move relocates the node at srcPath to destPath within this
// transaction, preserving its node identity. It records a delete at
// srcPath and a move at destPath sharing that identity and carrying
// srcPath/baseRev — the pair the commit pipeline's move verifier (spec
// §4.10) matches up.
func (t *Txn) Move(srcPath, destPath string) error {
	return t.move(srcPath, destPath, true)
}

// MoveWithoutDelete records the move-in half of a move (the `move`
// change record at destPath, carrying srcPath/baseRev as its
// copy-from) without recording the matching delete at srcPath. Real
// editor-driven clients drive a copy and a delete as two separate
// calls; a client that stops after the copy — or a test exercising
// spec §8 S6 — leaves exactly this state, which verifyMoves (spec
// §4.10) must reject with ErrIncompleteMove at commit time. Plain
// callers wanting an atomic, always-valid move should use Move.
func (t *Txn) MoveWithoutDelete(srcPath, destPath string) error {
	return t.move(srcPath, destPath, false)
}

func (t *Txn) move(srcPath, destPath string, recordDelete bool) error {
	srcParentPath, srcName := splitPath(srcPath)
	destParentPath, destName := splitPath(destPath)

	srcParentID, srcParentNR, err := t.ensureMutable(srcParentPath)
	if err != nil {
		return err
	}
	if srcParentNR.Kind != ids.KindDir {
		return fmt.Errorf("%w: %q", ErrNotDir, srcParentPath)
	}
	srcEntries, err := t.entries(srcParentID, srcParentNR)
	if err != nil {
		return err
	}
	found, ok := lookupEntry(srcEntries, srcName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, srcPath)
	}
	childID, childKind := found.ID, found.Kind

	destParentID, destParentNR, err := t.ensureMutable(destParentPath)
	if err != nil {
		return err
	}
	if destParentNR.Kind != ids.KindDir {
		return fmt.Errorf("%w: %q", ErrNotDir, destParentPath)
	}
	destEntries, err := t.entries(destParentID, destParentNR)
	if err != nil {
		return err
	}
	if _, exists := lookupEntry(destEntries, destName); exists {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, destPath)
	}

	if recordDelete {
		if err := t.buf.DeleteEntry(srcParentID, srcName); err != nil {
			return err
		}
	}
	if err := t.buf.SetEntry(destParentID, destName, childKind, childID); err != nil {
		return err
	}

	if recordDelete {
		if err := t.buf.AddChange(ids.ChangeRecord{
			Path:        srcPath,
			Kind:        ids.ChangeDelete,
			NodeRevID:   &childID,
			NodeKind:    childKind,
			CopyFromRev: ids.NoRevision,
		}); err != nil {
			return err
		}
	}
	return t.buf.AddChange(ids.ChangeRecord{
		Path:         destPath,
		Kind:         ids.ChangeMove,
		NodeRevID:    &childID,
		NodeKind:     childKind,
		CopyFromPath: srcPath,
		CopyFromRev:  t.h.BaseRev,
	})
}
