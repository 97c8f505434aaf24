// Package commit implements the commit pipeline (spec §4.9), move
// verification (§4.10) and revprop finalization (§4.11): the single
// entry point that turns an open transaction's mutation-buffer state
// into a new, published, immutable revision.
package commit

import (
	"errors"

	"github.com/hollowmark/fsfs/internal/lock"
	"github.com/hollowmark/fsfs/pkg/deltabase"
	"github.com/hollowmark/fsfs/pkg/ids"
	"github.com/hollowmark/fsfs/pkg/layout"
	"github.com/hollowmark/fsfs/pkg/repcache"
	"github.com/hollowmark/fsfs/pkg/txnstore"
)

// Sentinel errors (spec §7).
var (
	ErrCorrupt        = errors.New("commit: on-disk structure violates an invariant")
	ErrTxnOutOfDate   = errors.New("commit: transaction's base revision is no longer youngest")
	ErrAmbiguousMove  = errors.New("commit: two moves share the same copy-from path")
	ErrIncompleteMove = errors.New("commit: move has no matching delete of an ancestor path")
)

// HistoryReader is the one piece of committed-repository state the
// pipeline needs: the youngest published revision, to check a
// transaction's base_rev against at commit time (spec §4.9 step 1) and
// move verification's revision range (spec §4.10 step 5). Kept as an
// interface, satisfied by *pkg/fs.Filesystem, so this package never
// depends on pkg/fs (which depends on this package to build a Pipeline).
type HistoryReader interface {
	Youngest() (ids.Revision, error)
	Changes(rev ids.Revision) (map[string]ids.ChangeRecord, error)

	// NodeRevision resolves a committed node-revision, used to walk a
	// predecessor chain when choosing a delta base for a directory or
	// property representation being finalized at commit time (spec
	// §4.6); file content already chose its base when it was written.
	NodeRevision(rev ids.Revision, nodeNumber uint64) (*ids.NodeRevision, error)

	// RepContent reconstructs a representation's logical bytes. The
	// pipeline calls it once a delta base candidate has been chosen, to
	// obtain the dictionary repwriter.Begin needs to actually encode
	// against that base (spec §4.6) rather than merely record a
	// pointer to it.
	RepContent(rep *ids.Representation) ([]byte, error)
}

// Config bundles every collaborator Pipeline.Commit needs.
type Config struct {
	Root      layout.Root
	ShardSize int64
	Locks     *lock.Manager
	Txns      *txnstore.Store
	RepCache  *repcache.Store
	Policy    deltabase.Policy
	History   HistoryReader

	// VerifyAfterCommit re-reads the freshly published revision's root
	// node-revision as a debug-only postcondition (spec §4.9 step 12).
	VerifyAfterCommit bool

	// Warn receives non-fatal diagnostics, defaulting to a no-op.
	Warn func(format string, args ...any)
}

func (c Config) warnf(format string, args ...any) {
	if c.Warn != nil {
		c.Warn(format, args...)
	}
}

// Pipeline runs the commit algorithm for one repository's transactions.
// Stateless beyond Config; safe to build fresh per commit.
type Pipeline struct {
	cfg Config
}

// New returns a Pipeline wired to cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}
