package fs

import (
	"fmt"
	"os"

	"github.com/hollowmark/fsfs/pkg/commit"
	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/layout"
	"github.com/hollowmark/fsfs/pkg/revindex"
	"github.com/hollowmark/fsfs/pkg/txnstore"
)

// Create initializes a brand-new, empty repository at dir and opens it
// (spec §6's on-disk layout: format/current/txn-current/write-lock/
// min-unpacked-rev, plus a genesis revision 0 holding an empty root
// directory).
func Create(dir string, opts Options) (*Filesystem, error) {
	opts = opts.normalize()
	root := layout.New(dir)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("fs: create %s: %w", dir, err)
	}
	if _, err := os.Stat(root.FormatPath()); err == nil {
		return nil, fmt.Errorf("fs: create %s: already initialized", dir)
	}

	if err := os.MkdirAll(root.RevsShardDir(0, opts.ShardSize), 0755); err != nil {
		return nil, fmt.Errorf("fs: create: revs dir: %w", err)
	}
	if err := os.MkdirAll(root.RevPropsShardDir(0, opts.ShardSize), 0755); err != nil {
		return nil, fmt.Errorf("fs: create: revprops dir: %w", err)
	}
	if err := os.MkdirAll(root.TransactionsDir(), 0755); err != nil {
		return nil, fmt.Errorf("fs: create: transactions dir: %w", err)
	}

	if err := writeFile(root.FormatPath(), formatFileContent(opts.ShardSize)); err != nil {
		return nil, err
	}
	if err := writeFile(root.MinUnpackedRevPath(), "0\n"); err != nil {
		return nil, err
	}
	if err := touchFile(root.WriteLockPath()); err != nil {
		return nil, err
	}
	if err := touchFile(root.TxnCurrentLockPath()); err != nil {
		return nil, err
	}
	if err := writeFile(root.TxnCurrentPath(), "0\n"); err != nil {
		return nil, err
	}

	if err := writeGenesisRevision(root, opts.ShardSize); err != nil {
		return nil, err
	}
	if err := writeFile(root.RevPropsPath(0, opts.ShardSize), commit.EncodeRevProps(map[string]string{})); err != nil {
		return nil, err
	}
	// "current" is written last: its existence is what Youngest reads,
	// so nothing can observe revision 0 as published before every other
	// genesis file is already on disk.
	if err := writeFile(root.CurrentPath(), "0\n"); err != nil {
		return nil, err
	}

	return Open(dir, opts)
}

// formatFileContent renders spec §6's format file: a format number, a
// layout hint, and an addressing hint. This engine always addresses
// representations logically (by item-index), never by raw byte offset.
func formatFileContent(shardSize int64) string {
	layoutHint := "linear"
	if shardSize > 0 {
		layoutHint = fmt.Sprintf("sharded %d", shardSize)
	}
	return fmt.Sprintf("1\n%s\nlogical 1\n", layoutHint)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// writeGenesisRevision writes revision 0: an empty root directory with
// no changes, along with its own l2p/p2l index pair, the same shape the
// commit pipeline produces for every later revision.
func writeGenesisRevision(root layout.Root, shardSize int64) error {
	rootID := ids.NodeRevisionID{
		NodeID:    ids.IDPair{ChangeSet: ids.RevisionChangeSet(0), Number: 0},
		CopyID:    ids.IDPair{ChangeSet: ids.RevisionChangeSet(0), Number: 0},
		NodeRevID: ids.IDPair{ChangeSet: ids.RevisionChangeSet(0), Number: 0},
	}
	nr := ids.NodeRevision{
		ID:          rootID,
		Kind:        ids.KindDir,
		CopyFromRev: ids.NoRevision,
		CopyRootRev: ids.NoRevision,
		CreatedPath: "/",
	}

	revPath := root.RevPath(0, shardSize)
	f, err := os.Create(revPath)
	if err != nil {
		return fmt.Errorf("fs: create: genesis revision: %w", err)
	}
	defer f.Close()

	nrBytes := []byte(txnstore.EncodeNodeRevision(nr))
	if _, err := f.Write(nrBytes); err != nil {
		return fmt.Errorf("fs: create: writing genesis root: %w", err)
	}
	changesOffset := int64(len(nrBytes))

	protoPath := revPath + ".index-proto"
	pw, err := revindex.OpenProtoWriter(protoPath)
	if err != nil {
		return err
	}
	if err := pw.Append(revindex.Entry{ItemIndex: 0, Offset: 0, Size: int64(len(nrBytes)), Type: revindex.ItemNodeRev}); err != nil {
		pw.Close()
		return err
	}
	if err := pw.Append(revindex.Entry{ItemIndex: ids.ChangesItemIndex, Offset: changesOffset, Size: 0, Type: revindex.ItemChanges}); err != nil {
		pw.Close()
		return err
	}
	if err := pw.Close(); err != nil {
		return err
	}
	defer os.Remove(protoPath)

	return revindex.Build(protoPath, root.L2PPath(0, shardSize), root.P2LPath(0, shardSize))
}
