// Package mutbuf implements the per-transaction mutation buffer (spec
// §4.4): directory delta logs, the changes log, property lists, and the
// intra-transaction SHA-1 rep-sharing sidecar. It builds on pkg/txnstore,
// which owns the raw directory and node-rev files this package appends
// to and folds.
package mutbuf

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/txnstore"
)

// Buffer is the mutation-buffer view of one open transaction.
type Buffer struct {
	mu    sync.Mutex
	store *txnstore.Store
	h     *txnstore.Handle
	root  txnPaths
}

// txnPaths is the subset of layout.Root methods Buffer needs, kept as an
// interface so tests can supply a fake without a real Store.
type txnPaths interface {
	TxnNodeChildrenPath(id ids.TxnID, nodeID string) string
	TxnNodePropsPath(id ids.TxnID, nodeID string) string
	TxnChangesPath(id ids.TxnID) string
	TxnSHA1SidecarPath(id ids.TxnID, sha1Hex string) string
}

// New returns a Buffer over h's transaction, using store's layout for
// file paths.
func New(store *txnstore.Store, h *txnstore.Handle, root txnPaths) *Buffer {
	return &Buffer{store: store, h: h, root: root}
}

func nodeFileID(id ids.NodeRevisionID) string {
	return fmt.Sprintf("%d.%s", id.NodeID.Number, id.NodeID.ChangeSet)
}

// --- directory delta log (spec §4.4 "directory delta log") ---

type dirOp int

const (
	opSet dirOp = iota
	opDelete
)

// SetEntry appends a "set" record binding name to child within dir's
// delta log, superseding any earlier record for the same name (spec
// §4.4: "set_entry replaces any existing binding for that name").
func (b *Buffer) SetEntry(dir ids.NodeRevisionID, name string, kind ids.NodeKind, child ids.NodeRevisionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	line := fmt.Sprintf("set\t%s\t%d\t%s\n", escapeTab(name), int(kind), child)
	return appendLine(b.root.TxnNodeChildrenPath(b.h.ID, nodeFileID(dir)), line)
}

// DeleteEntry appends a "del" record removing name from dir.
func (b *Buffer) DeleteEntry(dir ids.NodeRevisionID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	line := fmt.Sprintf("del\t%s\n", escapeTab(name))
	return appendLine(b.root.TxnNodeChildrenPath(b.h.ID, nodeFileID(dir)), line)
}

// Entries replays dir's delta log from scratch and folds it into the
// canonical set of live directory entries: later records for the same
// name supersede earlier ones, and "del" removes a name entirely.
func (b *Buffer) Entries(dir ids.NodeRevisionID) ([]ids.DirEntry, error) {
	path := b.root.TxnNodeChildrenPath(b.h.ID, nodeFileID(dir))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mutbuf: reading directory log: %w", err)
	}
	defer f.Close()

	order := make([]string, 0)
	live := make(map[string]ids.DirEntry)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		switch fields[0] {
		case "set":
			if len(fields) != 4 {
				return nil, fmt.Errorf("mutbuf: malformed set record %q", line)
			}
			name := unescapeTab(fields[1])
			kindN, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("mutbuf: malformed set kind %q: %w", line, err)
			}
			childID, err := ids.ParseNodeRevisionID(fields[3])
			if err != nil {
				return nil, fmt.Errorf("mutbuf: malformed set child id %q: %w", line, err)
			}
			if _, seen := live[name]; !seen {
				order = append(order, name)
			}
			live[name] = ids.DirEntry{Name: name, Kind: ids.NodeKind(kindN), ID: childID}
		case "del":
			if len(fields) != 2 {
				return nil, fmt.Errorf("mutbuf: malformed del record %q", line)
			}
			delete(live, unescapeTab(fields[1]))
		default:
			return nil, fmt.Errorf("mutbuf: unknown directory record kind %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mutbuf: reading directory log: %w", err)
	}

	out := make([]ids.DirEntry, 0, len(live))
	for _, name := range order {
		if e, ok := live[name]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- changes log (spec §4.4 "changes log", folded later by pkg/changes) ---

// AddChange appends one raw change record to the transaction's changes
// log. Records are never rewritten in place; pkg/changes folds the full
// stream at commit time.
func (b *Buffer) AddChange(rec ids.ChangeRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return appendLine(b.root.TxnChangesPath(b.h.ID), EncodeChangeRecord(rec)+"\n")
}

// ReadChanges reads the raw (unfolded) change record stream in the order
// it was written.
func (b *Buffer) ReadChanges() ([]ids.ChangeRecord, error) {
	f, err := os.Open(b.root.TxnChangesPath(b.h.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mutbuf: reading changes log: %w", err)
	}
	defer f.Close()

	var out []ids.ChangeRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rec, err := DecodeChangeRecord(line)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mutbuf: reading changes log: %w", err)
	}
	return out, nil
}

// --- property lists ---

// SetProplist overwrites nodeID's property-list file (unlike the
// directory log and changes log, props are not append-only: the full
// set is rewritten each time, matching spec §4.4's "set_proplist
// replaces the node's entire property set").
func (b *Buffer) SetProplist(nodeID ids.NodeRevisionID, props map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s\t%s\n", escapeTab(k), escapeTab(props[k]))
	}
	return writeAtomicFile(b.root.TxnNodePropsPath(b.h.ID, nodeFileID(nodeID)), sb.String())
}

// Proplist reads nodeID's current property set.
func (b *Buffer) Proplist(nodeID ids.NodeRevisionID) (map[string]string, error) {
	data, err := os.ReadFile(b.root.TxnNodePropsPath(b.h.ID, nodeFileID(nodeID)))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("mutbuf: reading proplist: %w", err)
	}
	props := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("mutbuf: malformed proplist line %q", line)
		}
		props[unescapeTab(fields[0])] = unescapeTab(fields[1])
	}
	return props, nil
}

// --- intra-transaction SHA-1 rep-sharing sidecar (spec §4.8) ---

// RecordSHA1 records that sha1Hex's content is already stored as rep
// within this transaction, so a later identical write can be deduped
// without re-encoding (spec §4.8's per-transaction in-memory hash,
// persisted here as a sidecar file so it survives a reopen of the same
// transaction).
func (b *Buffer) RecordSHA1(sha1Hex string, rep ids.Representation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeAtomicFile(b.root.TxnSHA1SidecarPath(b.h.ID, sha1Hex), ids.EncodeRepresentation(rep)+"\n")
}

// LookupSHA1 returns the representation previously recorded for
// sha1Hex within this transaction, if any.
func (b *Buffer) LookupSHA1(sha1Hex string) (ids.Representation, bool, error) {
	data, err := os.ReadFile(b.root.TxnSHA1SidecarPath(b.h.ID, sha1Hex))
	if err != nil {
		if os.IsNotExist(err) {
			return ids.Representation{}, false, nil
		}
		return ids.Representation{}, false, fmt.Errorf("mutbuf: reading sha1 sidecar: %w", err)
	}
	rep, err := ids.DecodeRepresentation(strings.TrimSuffix(string(data), "\n"))
	if err != nil {
		return ids.Representation{}, false, err
	}
	return *rep, true, nil
}
