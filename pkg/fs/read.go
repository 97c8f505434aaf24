package fs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/mutbuf"
	"github.com/hollowmark/fsfs/pkg/repwriter"
	"github.com/hollowmark/fsfs/pkg/revindex"
	"github.com/hollowmark/fsfs/pkg/txnstore"
)

// loadL2P reads and caches nothing (deliberately): revisions are
// immutable once published, but re-reading the index on every lookup
// keeps this reader simple and correct; the commit engine's own tests
// only read back what they just committed, not a hot query path (spec
// §1's "read-side revision access" is explicitly minimal — see
// SPEC_FULL.md §4).
func (f *Filesystem) loadL2P(rev ids.Revision) ([]revindex.Entry, error) {
	return revindex.ReadL2P(f.root.L2PPath(rev, f.opts.ShardSize))
}

func (f *Filesystem) readItem(rev ids.Revision, e revindex.Entry) ([]byte, error) {
	file, err := os.Open(f.root.RevPath(rev, f.opts.ShardSize))
	if err != nil {
		return nil, fmt.Errorf("fs: opening revision %v: %w", rev, err)
	}
	defer file.Close()

	if _, err := file.Seek(e.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("fs: seeking revision %v: %w", rev, err)
	}
	buf := make([]byte, e.Size)
	if _, err := io.ReadFull(file, buf); err != nil {
		return nil, fmt.Errorf("fs: reading revision %v item: %w", rev, err)
	}
	return buf, nil
}

// NodeRevision returns the node-revision for the logical node numbered
// nodeNumber as it stood in rev (spec §4.9's write_final_rev gives every
// node-rev it writes a revindex entry keyed by its owning node's stable
// number; see pkg/commit).
func (f *Filesystem) NodeRevision(rev ids.Revision, nodeNumber uint64) (*ids.NodeRevision, error) {
	l2p, err := f.loadL2P(rev)
	if err != nil {
		return nil, err
	}
	e, ok := revindex.LookupTyped(l2p, nodeNumber, revindex.ItemNodeRev)
	if !ok {
		return nil, fmt.Errorf("fs: node %d not found in revision %v", nodeNumber, rev)
	}
	data, err := f.readItem(rev, e)
	if err != nil {
		return nil, err
	}
	return txnstore.DecodeNodeRevision(string(data))
}

// RootNodeRevision returns rev's root node-revision. It implements
// txnstore.RootReader, letting pkg/txnstore seed a new transaction's
// root without depending on this package.
func (f *Filesystem) RootNodeRevision(rev ids.Revision) (*ids.NodeRevision, error) {
	return f.NodeRevision(rev, 0)
}

// RepContent reconstructs the full, logical byte content rep addresses
// (spec §4.5/§4.6): a representation with a delta base is inflated
// using that base's own reconstructed content as a preset dictionary
// (mirroring repwriter.Begin's encoding side), recursing back along the
// base chain until it reaches a self-compressed (fulltext) ancestor.
func (f *Filesystem) RepContent(rep *ids.Representation) ([]byte, error) {
	if rep == nil {
		return nil, nil
	}
	rev, ok := rep.ChangeSet.Revision()
	if !ok {
		return nil, fmt.Errorf("fs: representation change-set %s is not a committed revision", rep.ChangeSet)
	}
	return f.repContentAt(rev, rep.ItemIndex)
}

// repContentAt inflates the representation stored at (rev, itemIndex),
// parsing its physical "DELTA..." header to discover and recurse into
// its own delta base when it has one. Reached either as a top-level
// rep's item or as some other representation's delta base, neither of
// which need an owning NodeRevision to hand.
func (f *Filesystem) repContentAt(rev ids.Revision, itemIndex uint64) ([]byte, error) {
	l2p, err := f.loadL2P(rev)
	if err != nil {
		return nil, err
	}
	e, ok := revindex.LookupTyped(l2p, itemIndex, revindex.ItemRep)
	if !ok {
		return nil, fmt.Errorf("fs: rep item %d not found in revision %v", itemIndex, rev)
	}

	file, err := os.Open(f.root.RevPath(rev, f.opts.ShardSize))
	if err != nil {
		return nil, fmt.Errorf("fs: opening revision %v: %w", rev, err)
	}
	defer file.Close()

	if _, err := file.Seek(e.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("fs: seeking revision %v: %w", rev, err)
	}
	br := bufio.NewReader(io.LimitReader(file, e.Size))
	header, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("fs: reading representation header: %w", err)
	}
	base, err := repwriter.ParseHeader(header)
	if err != nil {
		return nil, err
	}

	var dict []byte
	if base != nil {
		dict, err = f.repContentAt(base.BaseRev, base.BaseItem)
		if err != nil {
			return nil, fmt.Errorf("fs: reconstructing delta base: %w", err)
		}
	}

	var zr io.ReadCloser
	if dict != nil {
		zr = flate.NewReaderDict(br, dict)
	} else {
		zr = flate.NewReader(br)
	}
	defer zr.Close()
	content, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("fs: inflating representation: %w", err)
	}
	return content, nil
}

// DirEntries decodes a directory node-revision's current entry set from
// its data representation (nil means an empty directory).
func (f *Filesystem) DirEntries(rep *ids.Representation) ([]ids.DirEntry, error) {
	if rep == nil {
		return nil, nil
	}
	content, err := f.RepContent(rep)
	if err != nil {
		return nil, err
	}
	return ids.DecodeDirEntries(string(content))
}

// Changes returns rev's canonical (folded) changed-paths map.
func (f *Filesystem) Changes(rev ids.Revision) (map[string]ids.ChangeRecord, error) {
	l2p, err := f.loadL2P(rev)
	if err != nil {
		return nil, err
	}
	e, ok := revindex.FindFirst(l2p, revindex.ItemChanges)
	if !ok {
		return map[string]ids.ChangeRecord{}, nil
	}
	data, err := f.readItem(rev, e)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ids.ChangeRecord)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		rec, err := mutbuf.DecodeChangeRecord(line)
		if err != nil {
			return nil, err
		}
		out[rec.Path] = rec
	}
	return out, nil
}

// resolve walks from rev's root down path's components, returning the
// node-revision named by path. Used by ReadFile/ReadDir.
func (f *Filesystem) resolve(rev ids.Revision, p string) (*ids.NodeRevision, error) {
	p = path.Clean("/" + p)
	nr, err := f.RootNodeRevision(rev)
	if err != nil {
		return nil, err
	}
	if p == "/" {
		return nr, nil
	}
	for _, name := range strings.Split(strings.Trim(p, "/"), "/") {
		if nr.Kind != ids.KindDir {
			return nil, fmt.Errorf("fs: %q is not a directory", name)
		}
		entries, err := f.DirEntries(nr.DataRep)
		if err != nil {
			return nil, err
		}
		var found *ids.DirEntry
		for i := range entries {
			if entries[i].Name == name {
				found = &entries[i]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("fs: %q: no such file or directory", p)
		}
		childRev, ok := found.ID.NodeRevID.ChangeSet.Revision()
		if !ok {
			return nil, fmt.Errorf("fs: %q: unresolved transaction-scoped entry", p)
		}
		nr, err = f.NodeRevision(childRev, found.ID.NodeID.Number)
		if err != nil {
			return nil, err
		}
	}
	return nr, nil
}

// ReadDir returns the entries of the directory at path as of rev.
func (f *Filesystem) ReadDir(rev ids.Revision, p string) ([]ids.DirEntry, error) {
	nr, err := f.resolve(rev, p)
	if err != nil {
		return nil, err
	}
	if nr.Kind != ids.KindDir {
		return nil, fmt.Errorf("fs: %q is not a directory", p)
	}
	return f.DirEntries(nr.DataRep)
}

// ReadFile returns the full content of the file at path as of rev.
func (f *Filesystem) ReadFile(rev ids.Revision, p string) ([]byte, error) {
	nr, err := f.resolve(rev, p)
	if err != nil {
		return nil, err
	}
	if nr.Kind != ids.KindFile {
		return nil, fmt.Errorf("fs: %q is not a file", p)
	}
	return f.RepContent(nr.DataRep)
}
