// Package repwriter implements the streaming, delta-encoded
// representation writer (spec §4.5): it appends one representation's
// bytes to a transaction's proto-rev file inside the "DELTA"/"ENDREP"
// text framing, accumulating the MD5/SHA-1 digests the rest of the
// commit pipeline needs as it goes.
//
// A representation with a DeltaBase is encoded with the base
// representation's reconstructed bytes loaded as a preset dictionary
// (flate.NewWriterDict): the compressor can then reference runs of
// bytes the new content shares with its base instead of re-encoding
// them, which is what actually bounds storage growth across a chain of
// similar revisions (spec §4.6) — the DeltaBase header alone is just a
// pointer, the dictionary is what makes it a real delta. pkg/fs/read.go
// mirrors this with flate.NewReaderDict using the same reconstructed
// base bytes, so the two sides must always agree on the dictionary
// supplied for a given DeltaBase.
package repwriter

import (
	"bufio"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/hollowmark/fsfs/internal/lock"
	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/repcache"
)

const compressionLevel = flate.DefaultCompression

// Writer streams one representation's content into an already-open
// proto-rev file, framed as spec §6 describes:
//
//	DELTA[ <base-rev> <base-item> <base-len>]\n
//	<klauspost/compress-encoded window data>
//	ENDREP\n
//
// Content passed to Write is hashed (MD5 and SHA-1) and logically
// counted before compression; Size in the resulting Representation is
// the on-disk (compressed) byte count, ExpandedSize is the logical one.
type Writer struct {
	f           *os.File
	startOffset int64
	changeSet   ids.ChangeSet
	item        uint64
	base        *ids.DeltaBaseRef
	md5         hash.Hash
	sha1        hash.Hash
	expanded    int64
	compressed  *countingWriter
	zw          *flate.Writer
	closed      bool
}

// countingWriter counts bytes actually written to the underlying file,
// i.e. the post-compression on-disk size of this representation.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Begin opens a new representation record at the current end of f,
// writing the DELTA header line. base is nil for a self-compressed
// (fulltext) representation. dict is the base representation's
// reconstructed content, used as a preset dictionary so the delta
// actually shrinks with similarity to the base; it is ignored when
// base is nil and must be non-empty whenever base is not (the caller
// — pkg/fs's Txn.writeFileContent and pkg/commit's writeFinalRep — is
// the one with read access to reconstruct it).
func Begin(f *os.File, changeSet ids.ChangeSet, item uint64, base *ids.DeltaBaseRef, dict []byte, md5, sha1 hash.Hash) (*Writer, error) {
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("repwriter: seek to end: %w", err)
	}
	header := "DELTA\n"
	if base != nil {
		header = fmt.Sprintf("DELTA %d %d %d\n", base.BaseRev, base.BaseItem, base.BaseLen)
	}
	if _, err := f.WriteString(header); err != nil {
		return nil, fmt.Errorf("repwriter: writing header: %w", err)
	}

	cw := &countingWriter{w: f}
	var zw *flate.Writer
	if base != nil && len(dict) > 0 {
		zw, err = flate.NewWriterDict(cw, compressionLevel, dict)
	} else {
		zw, err = flate.NewWriter(cw, compressionLevel)
	}
	if err != nil {
		return nil, fmt.Errorf("repwriter: creating compressor: %w", err)
	}

	return &Writer{
		f: f, startOffset: offset, changeSet: changeSet, item: item, base: base,
		md5: md5, sha1: sha1, compressed: cw, zw: zw,
	}, nil
}

// ParseHeader parses a "DELTA\n" or "DELTA <base-rev> <base-item>
// <base-len>\n" line as Begin writes it, the physical framing
// pkg/fs/read.go's reconstruction walk uses to discover a
// representation's delta base without needing its owning node-revision
// (spec §6's proto-rev/rev-file framing; a rep reached only as someone
// else's delta base has no NodeRevision of its own at hand).
func ParseHeader(line string) (*ids.DeltaBaseRef, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "DELTA" {
		return nil, fmt.Errorf("repwriter: malformed representation header %q", line)
	}
	if len(fields) == 1 {
		return nil, nil
	}
	if len(fields) != 4 {
		return nil, fmt.Errorf("repwriter: malformed DELTA header %q", line)
	}
	baseRev, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("repwriter: header base-rev: %w", err)
	}
	baseItem, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("repwriter: header base-item: %w", err)
	}
	baseLen, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("repwriter: header base-len: %w", err)
	}
	return &ids.DeltaBaseRef{BaseRev: ids.Revision(baseRev), BaseItem: baseItem, BaseLen: baseLen}, nil
}

// Write hashes and compresses p into the representation.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("repwriter: write after close")
	}
	w.md5.Write(p)
	w.sha1.Write(p)
	w.expanded += int64(len(p))
	return w.zw.Write(p)
}

// Close flushes the compressor, writes the ENDREP trailer, and returns
// the finished Representation descriptor.
func (w *Writer) Close() (ids.Representation, error) {
	if w.closed {
		return ids.Representation{}, fmt.Errorf("repwriter: already closed")
	}
	w.closed = true

	if err := w.zw.Close(); err != nil {
		return ids.Representation{}, fmt.Errorf("repwriter: flushing compressor: %w", err)
	}
	if _, err := w.f.WriteString("ENDREP\n"); err != nil {
		return ids.Representation{}, fmt.Errorf("repwriter: writing trailer: %w", err)
	}

	rep := ids.Representation{
		ChangeSet:    w.changeSet,
		ItemIndex:    w.item,
		Size:         w.compressed.n,
		ExpandedSize: w.expanded,
		HasSHA1:      true,
		DeltaBase:    w.base,
	}
	copy(rep.MD5[:], w.md5.Sum(nil))
	copy(rep.SHA1[:], w.sha1.Sum(nil))
	return rep, nil
}

// Abort discards a partially-written representation, truncating the
// proto-rev file back to the offset it had before Begin ran (spec
// §4.5's cleanup-on-failure: a failed write must never leave trailing
// garbage another writer could misinterpret as the next representation).
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Truncate(w.startOffset)
}

// WriteBytesAt streams content into f — already open for read/write —
// without acquiring any lock or consulting the rep-sharing index. Used
// by the commit pipeline, which already holds exclusive access to the
// transaction's proto-rev file while finalizing directory and property
// representations (spec §4.9 step 6), unlike WriteBytes' callers which
// contend with other writers of the same transaction. dict is base's
// reconstructed content; see Begin.
func WriteBytesAt(f *os.File, changeSet ids.ChangeSet, item uint64, base *ids.DeltaBaseRef, dict, content []byte) (ids.Representation, error) {
	w, err := Begin(f, changeSet, item, base, dict, newMD5(), newSHA1())
	if err != nil {
		return ids.Representation{}, err
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Abort()
		return ids.Representation{}, err
	}
	return w.Close()
}

// Options bundles the parameters a single representation write needs
// beyond its content.
type Options struct {
	ChangeSet ids.ChangeSet
	ItemIndex uint64
	Base      *ids.DeltaBaseRef
	// Dict is Base's reconstructed content, supplied by the caller (the
	// one with read access to the repository) so WriteBytes can encode
	// a real delta against it. Ignored when Base is nil.
	Dict []byte
}

// WriteBytes is the orchestrated entry point used by the mutation layer
// (the commit layer writes through WriteBytesAt): it acquires the transaction's proto-rev lock, checks
// the persistent rep-sharing index for content identical to content
// (spec §4.8) before writing a single byte, and only falls through to
// a real streamed, delta-encoded write on a cache miss. shared reports
// whether the returned Representation points at bytes that already
// existed before this call.
func WriteBytes(mgr *lock.Manager, protoRevPath, lockFilePath, txnID string, content []byte, opts Options, cache *repcache.Store) (rep ids.Representation, shared bool, err error) {
	plock, err := mgr.AcquireProtoRev(txnID, lockFilePath, false, 0)
	if err != nil {
		return ids.Representation{}, false, fmt.Errorf("repwriter: acquiring proto-rev lock: %w", err)
	}
	defer plock.Release()

	if cache != nil {
		digest := sha1Sum(content)
		if existing, found, ferr := cache.Find(digest, int64(len(content))); ferr == nil && found {
			return existing, true, nil
		}
	}

	f, err := os.OpenFile(protoRevPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return ids.Representation{}, false, fmt.Errorf("repwriter: opening proto-rev: %w", err)
	}
	defer f.Close()

	w, err := Begin(f, opts.ChangeSet, opts.ItemIndex, opts.Base, opts.Dict, newMD5(), newSHA1())
	if err != nil {
		return ids.Representation{}, false, err
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(content); err != nil {
		_ = w.Abort()
		return ids.Representation{}, false, fmt.Errorf("repwriter: writing content: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = w.Abort()
		return ids.Representation{}, false, fmt.Errorf("repwriter: flushing content: %w", err)
	}

	rep, err = w.Close()
	if err != nil {
		return ids.Representation{}, false, err
	}
	return rep, false, nil
}
