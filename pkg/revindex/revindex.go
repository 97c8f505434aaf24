// Package revindex implements the index writer (spec §2 "Index writer",
// §4.9 step 10): it turns the two append-only proto-index streams a
// commit accumulates while rewriting a transaction's tree into the
// final, per-revision log-to-physical (l2p) and physical-to-logical
// (p2l) index files.
//
// The proto-index record format and the final index file format are
// both opaque to spec.md ("Index files: opaque to this spec"); this
// package defines one internal format for both and is the sole reader
// and writer of it.
package revindex

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ItemType distinguishes the three kinds of item a proto-rev file can
// hold at a given offset, per spec §4.9's item-type tagging ("item type
// NodeRev" / "item type Changes").
type ItemType int

const (
	ItemNodeRev ItemType = iota
	ItemRep
	ItemChanges
)

func (t ItemType) String() string {
	switch t {
	case ItemNodeRev:
		return "noderev"
	case ItemRep:
		return "rep"
	case ItemChanges:
		return "changes"
	default:
		return "unknown"
	}
}

func parseItemType(s string) (ItemType, error) {
	switch s {
	case "noderev":
		return ItemNodeRev, nil
	case "rep":
		return ItemRep, nil
	case "changes":
		return ItemChanges, nil
	default:
		return 0, fmt.Errorf("revindex: unknown item type %q", s)
	}
}

// Entry is one item's placement within a proto-rev/revision file: the
// item index it's addressed by (logical) and the byte offset/length it
// occupies (physical).
type Entry struct {
	ItemIndex uint64
	Offset    int64
	Size      int64
	Type      ItemType
}

func encodeEntry(e Entry) string {
	return fmt.Sprintf("%d\t%d\t%d\t%s\n", e.ItemIndex, e.Offset, e.Size, e.Type)
}

func decodeEntry(line string) (Entry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 4 {
		return Entry{}, fmt.Errorf("revindex: malformed proto-index line %q", line)
	}
	item, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("revindex: item index: %w", err)
	}
	offset, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("revindex: offset: %w", err)
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("revindex: size: %w", err)
	}
	typ, err := parseItemType(fields[3])
	if err != nil {
		return Entry{}, err
	}
	return Entry{ItemIndex: item, Offset: offset, Size: size, Type: typ}, nil
}

// ProtoWriter accumulates Entry records into a transaction's proto-index
// file as the commit pipeline rewrites the tree (spec §4.9 step 6: "record
// (offset, size) into both proto-indexes"). The same stream seeds both
// final index files, since which one an entry belongs to is a pure
// function of the entry itself (logical key = ItemIndex, physical key =
// Offset) rather than a distinct fact recorded twice.
type ProtoWriter struct {
	f *os.File
}

// OpenProtoWriter opens (creating if necessary) the proto-index file at
// path for appending.
func OpenProtoWriter(path string) (*ProtoWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("revindex: opening proto-index: %w", err)
	}
	return &ProtoWriter{f: f}, nil
}

// Append records one item's placement.
func (w *ProtoWriter) Append(e Entry) error {
	_, err := w.f.WriteString(encodeEntry(e))
	return err
}

// Close closes the underlying file.
func (w *ProtoWriter) Close() error { return w.f.Close() }

// ReadProto reads every entry from a proto-index file written by
// ProtoWriter, in append order.
func ReadProto(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("revindex: reading proto-index: %w", err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		e, err := decodeEntry(line)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("revindex: reading proto-index: %w", err)
	}
	return out, nil
}

// Build reads the proto-index file at protoPath and writes the final
// l2p (entries sorted by ItemIndex) and p2l (entries sorted by Offset)
// index files for a just-published revision (spec §4.9 step 10).
func Build(protoPath, l2pPath, p2lPath string) error {
	entries, err := ReadProto(protoPath)
	if err != nil {
		return err
	}

	l2p := append([]Entry(nil), entries...)
	sort.Slice(l2p, func(i, j int) bool { return l2p[i].ItemIndex < l2p[j].ItemIndex })
	if err := writeIndex(l2pPath, l2p); err != nil {
		return fmt.Errorf("revindex: writing l2p: %w", err)
	}

	p2l := append([]Entry(nil), entries...)
	sort.Slice(p2l, func(i, j int) bool { return p2l[i].Offset < p2l[j].Offset })
	if err := writeIndex(p2lPath, p2l); err != nil {
		return fmt.Errorf("revindex: writing p2l: %w", err)
	}
	return nil
}

func writeIndex(path string, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(encodeEntry(e))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadL2P reads a final l2p index file, returning entries in on-disk
// (ItemIndex-ascending) order.
func ReadL2P(path string) ([]Entry, error) { return ReadProto(path) }

// ReadP2L reads a final p2l index file, returning entries in on-disk
// (Offset-ascending) order.
func ReadP2L(path string) ([]Entry, error) { return ReadProto(path) }

// Lookup finds the Entry for a given item index in an l2p index loaded
// via ReadL2P. Index files are expected to be small enough (one entry
// per node-rev/rep/changes-block in a single revision) that a linear
// scan is simpler and fast enough; callers needing repeated lookups
// against the same slice should build their own map.
func Lookup(l2p []Entry, itemIndex uint64) (Entry, bool) {
	for _, e := range l2p {
		if e.ItemIndex == itemIndex {
			return e, true
		}
	}
	return Entry{}, false
}

// LookupTyped finds the Entry matching both itemIndex and typ. Node-rev
// entries are addressed by the node's own stable logical number (see
// pkg/fs), which shares the numeric item-index space with rep and
// changes-block entries; Type disambiguates them.
func LookupTyped(l2p []Entry, itemIndex uint64, typ ItemType) (Entry, bool) {
	for _, e := range l2p {
		if e.ItemIndex == itemIndex && e.Type == typ {
			return e, true
		}
	}
	return Entry{}, false
}

// FindFirst returns the first entry of the given type, for singleton
// items like the changes block that always occupy exactly one item per
// revision and aren't looked up by a meaningful item index.
func FindFirst(l2p []Entry, typ ItemType) (Entry, bool) {
	for _, e := range l2p {
		if e.Type == typ {
			return e, true
		}
	}
	return Entry{}, false
}
