// Package changes implements the change folder (spec §4.7): it collapses
// a transaction's raw, append-only changes log into a canonical per-path
// change map, the "changed-paths block" the commit pipeline writes into
// the new revision.
package changes

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hollowmark/fsfs/pkg/ids"
)

// Sentinel errors (spec §7; fatal for the commit that triggers them).
var (
	ErrMissingNodeRevID               = errors.New("changes: non-reset change with no node-rev id")
	ErrInvalidChangeOrderingNonAddOnDelete = errors.New("changes: non-add/replace/move change after delete")
	ErrInvalidChangeOrderingAddOnExisting  = errors.New("changes: add after an existing unresolved record")
	ErrNewIDWithoutDelete              = errors.New("changes: new node-rev id for a path without an intervening delete")
)

// Fold replays recs in stream order and returns the canonical per-path
// change map, keyed by path, plus the paths in first-insertion order
// (the order write_final_changed_path_info and tests want to walk
// deterministically).
func Fold(recs []ids.ChangeRecord) (map[string]ids.ChangeRecord, []string, error) {
	folded := make(map[string]ids.ChangeRecord)
	order := make([]string, 0)

	remember := func(path string) {
		for _, p := range order {
			if p == path {
				return
			}
		}
		order = append(order, path)
	}

	for _, raw := range recs {
		if raw.Kind != ids.ChangeReset && raw.NodeRevID == nil {
			return nil, nil, fmt.Errorf("%w: path %q", ErrMissingNodeRevID, raw.Path)
		}

		existing, seen := folded[raw.Path]

		switch raw.Kind {
		case ids.ChangeReset:
			delete(folded, raw.Path)
			continue

		case ids.ChangeDelete:
			if !seen {
				folded[raw.Path] = raw.Clone()
				remember(raw.Path)
				continue
			}
			if existing.Kind == ids.ChangeAdd || existing.Kind == ids.ChangeMove || existing.Kind == ids.ChangeMoveReplace {
				// delete after add/move-in-this-txn: net no-op.
				delete(folded, raw.Path)
				continue
			}
			rec := raw.Clone()
			rec.CopyFromPath = ""
			rec.CopyFromRev = ids.NoRevision
			folded[raw.Path] = rec
			continue

		case ids.ChangeAdd, ids.ChangeReplace:
			if !seen {
				folded[raw.Path] = raw.Clone()
				remember(raw.Path)
				continue
			}
			if existing.Kind != ids.ChangeDelete {
				return nil, nil, fmt.Errorf("%w: path %q", ErrInvalidChangeOrderingAddOnExisting, raw.Path)
			}
			rec := raw.Clone()
			rec.Kind = ids.ChangeReplace
			folded[raw.Path] = rec
			continue

		case ids.ChangeMove, ids.ChangeMoveReplace:
			if !seen {
				folded[raw.Path] = raw.Clone()
				remember(raw.Path)
				continue
			}
			if existing.Kind != ids.ChangeDelete {
				return nil, nil, fmt.Errorf("%w: path %q", ErrInvalidChangeOrderingAddOnExisting, raw.Path)
			}
			rec := raw.Clone()
			rec.Kind = ids.ChangeMoveReplace
			folded[raw.Path] = rec
			continue

		case ids.ChangeModify:
			if !seen {
				// First record for this path in the transaction: inserted
				// as-is, same as every other change kind (spec §4.7's
				// "first seen: insert as-is" is not restricted to
				// add/delete/move). This is the common case of a plain
				// content or property edit to a node that already
				// existed before the transaction began.
				folded[raw.Path] = raw.Clone()
				remember(raw.Path)
				continue
			}
			if existing.Kind == ids.ChangeDelete {
				return nil, nil, fmt.Errorf("%w: path %q", ErrInvalidChangeOrderingNonAddOnDelete, raw.Path)
			}
			if raw.NodeRevID != nil && existing.NodeRevID != nil && *raw.NodeRevID != *existing.NodeRevID {
				return nil, nil, fmt.Errorf("%w: path %q", ErrNewIDWithoutDelete, raw.Path)
			}
			existing.TextMod = existing.TextMod || raw.TextMod
			existing.PropMod = existing.PropMod || raw.PropMod
			folded[raw.Path] = existing
			continue

		default:
			return nil, nil, fmt.Errorf("changes: unknown change kind %v for path %q", raw.Kind, raw.Path)
		}
	}

	pruneDescendants(folded, order)

	return folded, order, nil
}

// pruneDescendants drops every folded entry whose path is a strict
// descendant of a delete/replace/movereplace path P (spec §4.7: the
// subtree beneath a removed or replaced path can never appear in the
// canonical change set, §8 S5). The minimum-child-length shortcut skips
// the string comparison entirely for any path shorter than
// len(P)+2 (P plus a separator plus at least one name byte), since it
// cannot possibly be a descendant.
func pruneDescendants(folded map[string]ids.ChangeRecord, order []string) {
	var roots []string
	for _, p := range order {
		rec, ok := folded[p]
		if !ok {
			continue
		}
		if rec.Kind == ids.ChangeDelete || rec.Kind == ids.ChangeReplace || rec.Kind == ids.ChangeMoveReplace {
			roots = append(roots, p)
		}
	}
	if len(roots) == 0 {
		return
	}
	sort.Strings(roots)

	for _, root := range roots {
		minChildLen := len(root) + 2 // root + separator + at least one byte
		prefix := strings.TrimSuffix(root, "/") + "/"
		for _, p := range order {
			if len(p) < minChildLen {
				continue
			}
			if p == root {
				continue
			}
			if strings.HasPrefix(p, prefix) {
				delete(folded, p)
			}
		}
	}
}

// Paths returns the folded map's keys sorted depth-first (parents before
// children at the same nesting, shallow paths first), the order the
// commit pipeline's move-lock verifier and write_final_rev both need
// (spec §4.9 step 2 "depth-first-sorted list of changed paths").
func Paths(folded map[string]ids.ChangeRecord) []string {
	out := make([]string, 0, len(folded))
	for p := range folded {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		di := strings.Count(out[i], "/")
		dj := strings.Count(out[j], "/")
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}
