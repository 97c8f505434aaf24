// Package layout maps transaction and revision identities onto on-disk
// paths. Every function here is pure: given a repository root and an id,
// it returns a path, never touching the filesystem itself. This mirrors
// spec §2's "Path layout" component and the on-disk layout in spec §6.
package layout

import (
	"fmt"
	"path/filepath"

	"github.com/hollowmark/fsfs/pkg/ids"
)

const (
	txnSuffix = ".txn"

	// FormatFile etc. name the fixed, top-level files under the
	// repository root (spec §6 "External interfaces").
	FormatFile         = "format"
	CurrentFile        = "current"
	TxnCurrentFile      = "txn-current"
	TxnCurrentLockFile  = "txn-current-lock"
	WriteLockFile       = "write-lock"
	MinUnpackedRevFile  = "min-unpacked-rev"

	revsDir         = "revs"
	revpropsDir     = "revprops"
	transactionsDir = "transactions"
)

// Root returns the repository root-relative file layout rooted at dir.
type Root struct {
	Dir string
}

// New returns a Root rooted at dir.
func New(dir string) Root { return Root{Dir: dir} }

func (r Root) path(elem ...string) string {
	return filepath.Join(append([]string{r.Dir}, elem...)...)
}

// FormatPath, CurrentPath, TxnCurrentPath, TxnCurrentLockPath,
// WriteLockPath and MinUnpackedRevPath are the fixed top-level files.
func (r Root) FormatPath() string        { return r.path(FormatFile) }
func (r Root) CurrentPath() string       { return r.path(CurrentFile) }
func (r Root) TxnCurrentPath() string     { return r.path(TxnCurrentFile) }
func (r Root) TxnCurrentLockPath() string { return r.path(TxnCurrentLockFile) }
func (r Root) WriteLockPath() string      { return r.path(WriteLockFile) }
func (r Root) MinUnpackedRevPath() string { return r.path(MinUnpackedRevFile) }

// Shard returns the shard index a revision falls into, given shardSize
// revisions per shard. shardSize == 0 means an unsharded ("linear")
// layout, which Shard reports as shard 0 for every revision.
func Shard(rev ids.Revision, shardSize int64) int64 {
	if shardSize <= 0 {
		return 0
	}
	return int64(rev) / shardSize
}

// RevsShardDir returns the directory holding revision files for rev's
// shard (revs/<shard>/ in a sharded layout, revs/ itself when unsharded).
func (r Root) RevsShardDir(rev ids.Revision, shardSize int64) string {
	if shardSize <= 0 {
		return r.path(revsDir)
	}
	return r.path(revsDir, fmt.Sprintf("%d", Shard(rev, shardSize)))
}

// RevPropsShardDir mirrors RevsShardDir for revprops/.
func (r Root) RevPropsShardDir(rev ids.Revision, shardSize int64) string {
	if shardSize <= 0 {
		return r.path(revpropsDir)
	}
	return r.path(revpropsDir, fmt.Sprintf("%d", Shard(rev, shardSize)))
}

// RevPath returns the packed revision file path for rev.
func (r Root) RevPath(rev ids.Revision, shardSize int64) string {
	return filepath.Join(r.RevsShardDir(rev, shardSize), fmt.Sprintf("%d", rev))
}

// RevPropsPath returns the revision-properties file path for rev.
func (r Root) RevPropsPath(rev ids.Revision, shardSize int64) string {
	return filepath.Join(r.RevPropsShardDir(rev, shardSize), fmt.Sprintf("%d", rev))
}

// L2PPath and P2LPath return the final index file paths for rev.
func (r Root) L2PPath(rev ids.Revision, shardSize int64) string {
	return r.RevPath(rev, shardSize) + ".l2p"
}

func (r Root) P2LPath(rev ids.Revision, shardSize int64) string {
	return r.RevPath(rev, shardSize) + ".p2l"
}

// IsNewShard reports whether rev is the first revision of its shard
// (spec §4.9 step 9: "If new_rev starts a new shard, create the
// revs-shard and revprops-shard directories").
func IsNewShard(rev ids.Revision, shardSize int64) bool {
	if shardSize <= 0 {
		return rev == 0
	}
	return int64(rev)%shardSize == 0
}

// TxnDirName returns the directory-name component for a transaction id
// (e.g. "1k.txn"), the convention txnstore.Store.List scans for.
func TxnDirName(id ids.TxnID) string {
	return id.String() + txnSuffix
}

// TxnSuffix exposes the transaction-directory naming convention, for
// callers that need to recognize txn directories without constructing
// one (e.g. List/Sweep).
func TxnSuffix() string { return txnSuffix }

// TxnDir returns the full transaction directory path for id.
func (r Root) TxnDir(id ids.TxnID) string {
	return r.path(transactionsDir, TxnDirName(id))
}

// TransactionsDir returns the parent directory all transaction
// directories live under.
func (r Root) TransactionsDir() string {
	return r.path(transactionsDir)
}

// Within a transaction directory (spec §6):
const (
	TxnRevFile       = "rev"
	TxnRevLockFile   = "rev-lock"
	TxnChangesFile   = "changes"
	TxnNextIDsFile   = "next-ids"
	TxnItemIndexFile = "item-index"
	TxnPropsFile     = "props"
	TxnPropsFinal    = "props-final"
	TxnIndexL2P      = "index.l2p"
	TxnIndexP2L      = "index.p2l"
)

func (r Root) TxnRevPath(id ids.TxnID) string       { return filepath.Join(r.TxnDir(id), TxnRevFile) }
func (r Root) TxnRevLockPath(id ids.TxnID) string   { return filepath.Join(r.TxnDir(id), TxnRevLockFile) }
func (r Root) TxnChangesPath(id ids.TxnID) string   { return filepath.Join(r.TxnDir(id), TxnChangesFile) }
func (r Root) TxnNextIDsPath(id ids.TxnID) string   { return filepath.Join(r.TxnDir(id), TxnNextIDsFile) }
func (r Root) TxnItemIndexPath(id ids.TxnID) string { return filepath.Join(r.TxnDir(id), TxnItemIndexFile) }
func (r Root) TxnPropsPath(id ids.TxnID) string     { return filepath.Join(r.TxnDir(id), TxnPropsFile) }
func (r Root) TxnPropsFinalPath(id ids.TxnID) string {
	return filepath.Join(r.TxnDir(id), TxnPropsFinal)
}
func (r Root) TxnIndexL2PPath(id ids.TxnID) string { return filepath.Join(r.TxnDir(id), TxnIndexL2P) }
func (r Root) TxnIndexP2LPath(id ids.TxnID) string { return filepath.Join(r.TxnDir(id), TxnIndexP2L) }

// TxnNodePath returns the per node-rev serialization file.
func (r Root) TxnNodePath(id ids.TxnID, nodeID string) string {
	return filepath.Join(r.TxnDir(id), "node."+nodeID)
}

// TxnNodeChildrenPath returns the per-directory append-only mutation log.
func (r Root) TxnNodeChildrenPath(id ids.TxnID, nodeID string) string {
	return filepath.Join(r.TxnDir(id), "node."+nodeID+".children")
}

// TxnNodePropsPath returns the per node-rev property list file.
func (r Root) TxnNodePropsPath(id ids.TxnID, nodeID string) string {
	return filepath.Join(r.TxnDir(id), "node."+nodeID+".props")
}

// TxnSHA1SidecarPath returns the intra-txn rep-sharing sidecar path for
// a given SHA-1 hex digest.
func (r Root) TxnSHA1SidecarPath(id ids.TxnID, sha1Hex string) string {
	return filepath.Join(r.TxnDir(id), sha1Hex)
}

// RepCacheDir returns the directory housing the persistent rep-sharing
// key-value index (badger-backed; spec §4.8's external rep-cache).
func (r Root) RepCacheDir() string {
	return r.path("rep-cache.db")
}
