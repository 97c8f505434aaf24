package commit

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hollowmark/fsfs/pkg/changes"
	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/layout"
	"github.com/hollowmark/fsfs/pkg/mutbuf"
	"github.com/hollowmark/fsfs/pkg/repwriter"
	"github.com/hollowmark/fsfs/pkg/revindex"
	"github.com/hollowmark/fsfs/pkg/txnstore"
)

// sharedRep is a freshly-published file representation worth offering to
// the rep-sharing index, collected while walking the tree and recorded
// at the end of commitLocked, while the write lock is still held.
type sharedRep struct {
	sha1 [20]byte
	rep  ids.Representation
}

// Commit runs the full commit algorithm (spec §4.9) for the transaction
// h/buf describe, under the repository's single write lock, and returns
// the newly published revision.
func (p *Pipeline) Commit(h *txnstore.Handle, buf *mutbuf.Buffer) (ids.Revision, error) {
	var newRev ids.Revision
	err := p.cfg.Locks.WithWriteLock(func() error {
		rev, err := p.commitLocked(h, buf)
		if err != nil {
			return err
		}
		newRev = rev
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newRev, nil
}

func (p *Pipeline) commitLocked(h *txnstore.Handle, buf *mutbuf.Buffer) (ids.Revision, error) {
	// Step 1: the transaction must still be based on the youngest
	// revision, or a concurrent commit has raced it out of date.
	youngest, err := p.cfg.History.Youngest()
	if err != nil {
		return 0, err
	}
	if h.BaseRev != youngest {
		return 0, fmt.Errorf("%w: base r%d, youngest r%d", ErrTxnOutOfDate, h.BaseRev, youngest)
	}

	// Steps 2-3: fold the raw change log and verify moves against it.
	raw, err := buf.ReadChanges()
	if err != nil {
		return 0, err
	}
	folded, order, err := changes.Fold(raw)
	if err != nil {
		return 0, err
	}
	if err := p.verifyMoves(folded, h.BaseRev, youngest); err != nil {
		return 0, err
	}

	newRev := youngest + 1
	if newRev-h.BaseRev != 1 {
		return 0, fmt.Errorf("%w: revision did not advance by exactly one", ErrCorrupt)
	}
	newCS := ids.RevisionChangeSet(newRev)

	// Step 4: reopen the transaction's own proto-rev file — the same
	// file file-content writes already streamed into — and keep
	// appending to it, so no already-written byte is ever copied.
	protoPath := p.cfg.Root.TxnRevPath(h.ID)
	lockPath := p.cfg.Root.TxnRevLockPath(h.ID)
	plock, err := p.cfg.Locks.AcquireProtoRev(h.ID.String(), lockPath, false, 0)
	if err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	released := false
	release := func() {
		if !released {
			if err := plock.Release(); err != nil {
				p.cfg.warnf("commit: releasing proto-rev lock: %v", err)
			}
			released = true
		}
	}
	defer release()

	f, err := os.OpenFile(protoPath, os.O_RDWR, 0644)
	if err != nil {
		return 0, fmt.Errorf("commit: opening proto-rev: %w", err)
	}
	defer f.Close()

	// Steps 5-6: recursively rewrite the node-rev tree, retagging every
	// transaction-scoped id to newCS and finalizing any directory or
	// property representation still pending (file content was already
	// written eagerly at mutation time; see pkg/fs/txn.go).
	var protoEntries []revindex.Entry
	var shared []sharedRep
	if _, err := p.finalizeNode(h, buf, h.Root.ID, newCS, f, &protoEntries, &shared); err != nil {
		return 0, err
	}

	// Step 7: rewrite each move's copyfrom_rev to the revision that is
	// about to become the predecessor of this one, then write the
	// folded changes as the single changes-block item.
	for _, path := range order {
		rec := folded[path]
		if rec.Kind == ids.ChangeMove || rec.Kind == ids.ChangeMoveReplace {
			rec.CopyFromRev = newRev - 1
			folded[path] = rec
		}
	}
	var changesBuf strings.Builder
	for _, path := range order {
		rec, ok := folded[path]
		if !ok {
			continue
		}
		changesBuf.WriteString(mutbuf.EncodeChangeRecord(rec))
		changesBuf.WriteByte('\n')
	}
	changesOffset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("commit: seeking: %w", err)
	}
	changesBytes := []byte(changesBuf.String())
	if _, err := f.Write(changesBytes); err != nil {
		return 0, fmt.Errorf("commit: writing changes block: %w", err)
	}
	protoEntries = append(protoEntries, revindex.Entry{
		ItemIndex: ids.ChangesItemIndex,
		Offset:    changesOffset,
		Size:      int64(len(changesBytes)),
		Type:      revindex.ItemChanges,
	})

	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("commit: closing proto-rev: %w", err)
	}

	// Step 9: create new shard directories, if this revision starts one.
	if layout.IsNewShard(newRev, p.cfg.ShardSize) {
		if err := os.MkdirAll(p.cfg.Root.RevsShardDir(newRev, p.cfg.ShardSize), 0755); err != nil {
			return 0, fmt.Errorf("commit: creating revs shard dir: %w", err)
		}
		if err := os.MkdirAll(p.cfg.Root.RevPropsShardDir(newRev, p.cfg.ShardSize), 0755); err != nil {
			return 0, fmt.Errorf("commit: creating revprops shard dir: %w", err)
		}
	}

	// Step 10: build the final l2p/p2l indexes from the entries gathered
	// while walking the tree.
	protoIndexPath := protoPath + ".index-proto"
	pw, err := revindex.OpenProtoWriter(protoIndexPath)
	if err != nil {
		return 0, err
	}
	for _, e := range protoEntries {
		if err := pw.Append(e); err != nil {
			pw.Close()
			return 0, err
		}
	}
	if err := pw.Close(); err != nil {
		return 0, err
	}
	l2pPath := p.cfg.Root.L2PPath(newRev, p.cfg.ShardSize)
	p2lPath := p.cfg.Root.P2LPath(newRev, p.cfg.ShardSize)
	if err := revindex.Build(protoIndexPath, l2pPath, p2lPath); err != nil {
		return 0, err
	}
	_ = os.Remove(protoIndexPath)

	// Step 11: atomically publish the revision file by renaming the
	// transaction's own proto-rev file into place.
	revPath := p.cfg.Root.RevPath(newRev, p.cfg.ShardSize)
	if err := os.Rename(protoPath, revPath); err != nil {
		return 0, fmt.Errorf("commit: publishing revision file: %w", err)
	}
	release()

	// Revprops: preserve or stamp svn:date, strip the internal markers.
	txnProps, err := h.TxnProps()
	if err != nil {
		return 0, err
	}
	finalProps := finalizeRevProps(txnProps, time.Now())
	revPropsPath := p.cfg.Root.RevPropsPath(newRev, p.cfg.ShardSize)
	if err := writeAtomicFile(revPropsPath, EncodeRevProps(finalProps)); err != nil {
		return 0, err
	}

	// Step 12: optional debug-only postcondition.
	if p.cfg.VerifyAfterCommit {
		if err := p.verifyRevision(newRev); err != nil {
			return 0, fmt.Errorf("commit: post-commit verification failed: %w", err)
		}
	}

	// Step 13: advance the published "current" marker.
	if err := writeAtomicFile(p.cfg.Root.CurrentPath(), strconv.FormatInt(int64(newRev), 10)+"\n"); err != nil {
		return 0, err
	}

	// Step 14: purge the transaction's scratch directory and free its
	// lock-registry entry.
	if err := os.RemoveAll(p.cfg.Root.TxnDir(h.ID)); err != nil {
		p.cfg.warnf("commit: purging transaction directory: %v", err)
	}
	p.cfg.Locks.Registry().Free(h.ID.String())

	// Step 15: with every collected rep retagged to an immutable
	// revision, offer it to the rep-sharing index. This runs inside
	// WithWriteLock, so the write lock is still held here.
	if p.cfg.RepCache != nil {
		for _, s := range shared {
			if err := p.cfg.RepCache.Record(s.sha1, s.rep); err != nil {
				p.cfg.warnf("commit: recording rep-sharing entry: %v", err)
			}
		}
	}

	return newRev, nil
}

// finalizeNode recursively rewrites the subtree rooted at id, which must
// still be transaction-scoped the first time it is called (h.Root.ID
// always is). An id already tagged to a committed revision names an
// untouched subtree and is returned unchanged — CoW guarantees nothing
// below it needs rewriting (spec §4.9 step 6).
func (p *Pipeline) finalizeNode(h *txnstore.Handle, buf *mutbuf.Buffer, id ids.NodeRevisionID, newCS ids.ChangeSet, f *os.File, protoEntries *[]revindex.Entry, shared *[]sharedRep) (ids.NodeRevisionID, error) {
	if !id.NodeID.ChangeSet.IsTxn() {
		return id, nil
	}

	nr, err := h.ReadNodeRevision(nodeFileID(id))
	if err != nil {
		return ids.NodeRevisionID{}, err
	}

	if nr.Kind == ids.KindDir {
		entries, err := buf.Entries(id)
		if err != nil {
			return ids.NodeRevisionID{}, err
		}
		finalized := make([]ids.DirEntry, 0, len(entries))
		for _, e := range entries {
			childID, err := p.finalizeNode(h, buf, e.ID, newCS, f, protoEntries, shared)
			if err != nil {
				return ids.NodeRevisionID{}, err
			}
			finalized = append(finalized, ids.DirEntry{Name: e.Name, Kind: e.Kind, ID: childID})
		}
		if nr.DataRep == nil || nr.DataRep.Mutable() {
			rep, err := p.writeFinalRep(h, nr, newCS, f, []byte(ids.EncodeDirEntries(finalized)), protoEntries)
			if err != nil {
				return ids.NodeRevisionID{}, err
			}
			rep.HasSHA1 = false
			nr.DataRep = &rep
		}
	} else if nr.DataRep != nil && nr.DataRep.Mutable() {
		// File content was already streamed into this same proto-rev
		// file when the client wrote it (spec §4.5); only its
		// change-set tag needs to advance to the new revision.
		retagged := *nr.DataRep
		retagged.ChangeSet = newCS
		nr.DataRep = &retagged
		if retagged.HasSHA1 {
			*shared = append(*shared, sharedRep{sha1: retagged.SHA1, rep: retagged})
		}
	}

	if err := p.finalizeProps(h, buf, nr, newCS, f, protoEntries); err != nil {
		return ids.NodeRevisionID{}, err
	}

	newID := id.RetaggedTo(newCS)
	nr.ID = newID

	nrBytes := []byte(txnstore.EncodeNodeRevision(*nr))
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return ids.NodeRevisionID{}, err
	}
	if _, err := f.Write(nrBytes); err != nil {
		return ids.NodeRevisionID{}, err
	}
	*protoEntries = append(*protoEntries, revindex.Entry{
		ItemIndex: newID.NodeID.Number,
		Offset:    offset,
		Size:      int64(len(nrBytes)),
		Type:      revindex.ItemNodeRev,
	})

	return newID, nil
}

// finalizeProps writes nr's current property list as a fresh
// representation when this transaction actually touched it (spec §4.4's
// "set_proplist"; a node whose props were never set this transaction has
// no scratch proplist file and keeps its existing PropRep unchanged).
func (p *Pipeline) finalizeProps(h *txnstore.Handle, buf *mutbuf.Buffer, nr *ids.NodeRevision, newCS ids.ChangeSet, f *os.File, protoEntries *[]revindex.Entry) error {
	propsPath := p.cfg.Root.TxnNodePropsPath(h.ID, nodeFileID(nr.ID))
	if _, err := os.Stat(propsPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	props, err := buf.Proplist(nr.ID)
	if err != nil {
		return err
	}
	rep, err := p.writeFinalRep(h, nr, newCS, f, []byte(EncodeRevProps(props)), protoEntries)
	if err != nil {
		return err
	}
	rep.HasSHA1 = false
	nr.PropRep = &rep
	return nil
}

// writeFinalRep allocates a fresh item index and appends content to f as
// a new representation, choosing a delta base from nr's predecessor chain
// per the configured policy (spec §4.6). Used for directory and property
// representations, which — unlike file content — are only ever
// serialized once, at commit time.
func (p *Pipeline) writeFinalRep(h *txnstore.Handle, nr *ids.NodeRevision, newCS ids.ChangeSet, f *os.File, content []byte, protoEntries *[]revindex.Entry) (ids.Representation, error) {
	item, err := h.AllocateItemIndex()
	if err != nil {
		return ids.Representation{}, err
	}
	var base *ids.DeltaBaseRef
	var dict []byte
	if baseCount, useDelta := p.cfg.Policy.ChooseBase(nr.PredecessorCount); useDelta {
		base, dict, err = p.deltaBaseRef(nr, baseCount)
		if err != nil {
			return ids.Representation{}, err
		}
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return ids.Representation{}, err
	}
	rep, err := repwriter.WriteBytesAt(f, newCS, item, base, dict, content)
	if err != nil {
		return ids.Representation{}, err
	}
	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return ids.Representation{}, err
	}
	*protoEntries = append(*protoEntries, revindex.Entry{
		ItemIndex: item,
		Offset:    offset,
		Size:      end - offset,
		Type:      revindex.ItemRep,
	})
	return rep, nil
}

// deltaBaseRef walks nr's predecessor chain looking for the ancestor
// whose own predecessor count equals baseCount (spec §4.6's "walk back
// baseCount predecessors"), returning a reference to that ancestor's
// data representation and its reconstructed content (the dictionary
// repwriter.Begin needs to encode a real delta against it, not merely
// record a pointer). Every ancestor reached this way is already
// committed — this walk only ever runs at commit time, after the
// subtree below the node being finalized has already been rewritten —
// so History.NodeRevision and History.RepContent resolve each hop.
func (p *Pipeline) deltaBaseRef(nr *ids.NodeRevision, baseCount int) (*ids.DeltaBaseRef, []byte, error) {
	cur := nr
	for cur.PredecessorID != nil {
		predID := *cur.PredecessorID
		rev, ok := predID.NodeID.ChangeSet.Revision()
		if !ok {
			return nil, nil, nil
		}
		pred, err := p.cfg.History.NodeRevision(rev, predID.NodeID.Number)
		if err != nil {
			return nil, nil, err
		}
		if pred.PredecessorCount == baseCount {
			if pred.DataRep == nil {
				return nil, nil, nil
			}
			baseRev, ok := pred.DataRep.ChangeSet.Revision()
			if !ok {
				return nil, nil, nil
			}
			dict, err := p.cfg.History.RepContent(pred.DataRep)
			if err != nil {
				return nil, nil, fmt.Errorf("commit: reconstructing delta base content: %w", err)
			}
			return &ids.DeltaBaseRef{BaseRev: baseRev, BaseItem: pred.DataRep.ItemIndex, BaseLen: pred.DataRep.Size}, dict, nil
		}
		cur = pred
	}
	return nil, nil, nil
}

// verifyRevision re-reads the freshly published revision's root
// node-revision back through its own index, as a debug-only postcondition
// (spec §4.9 step 12).
func (p *Pipeline) verifyRevision(rev ids.Revision) error {
	l2p, err := revindex.ReadL2P(p.cfg.Root.L2PPath(rev, p.cfg.ShardSize))
	if err != nil {
		return err
	}
	e, ok := revindex.LookupTyped(l2p, 0, revindex.ItemNodeRev)
	if !ok {
		return fmt.Errorf("%w: root node-rev missing from index", ErrCorrupt)
	}
	file, err := os.Open(p.cfg.Root.RevPath(rev, p.cfg.ShardSize))
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Seek(e.Offset, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, e.Size)
	if _, err := io.ReadFull(file, buf); err != nil {
		return err
	}
	if _, err := txnstore.DecodeNodeRevision(string(buf)); err != nil {
		return err
	}
	return nil
}

// nodeFileID renders a node-revision id the same way pkg/txnstore and
// pkg/mutbuf do, as the ".<node-number>.<changeset>" key their scratch
// files are named by.
func nodeFileID(id ids.NodeRevisionID) string {
	return fmt.Sprintf("%d.%s", id.NodeID.Number, id.NodeID.ChangeSet)
}
