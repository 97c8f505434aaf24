package commit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hollowmark/fsfs/pkg/ids"
)

// verifyMoves implements spec §4.10 over a transaction's already-folded
// change map. baseRev and oldRev bound the committed-history scan of
// step 5: every revision in (baseRev, oldRev] is checked for a move
// sharing a copy-from path with one of this transaction's moves
// (detecting a concurrent move of the same source since the
// transaction began). The source's `check_for_duplicate_move_source`
// loop has a known bug (spec §9's open question): it is supposed to
// check every move once but its break condition never fires correctly.
// This reimplementation checks every move exactly once instead of
// reproducing that bug.
func (p *Pipeline) verifyMoves(folded map[string]ids.ChangeRecord, baseRev, oldRev ids.Revision) error {
	var moves []ids.ChangeRecord
	var deletions []string
	for path, rec := range folded {
		if (rec.Kind == ids.ChangeMove || rec.Kind == ids.ChangeMoveReplace) && rec.CopyFromPath != "" {
			moves = append(moves, rec)
		}
		if rec.Kind == ids.ChangeDelete || rec.Kind == ids.ChangeReplace || rec.Kind == ids.ChangeMoveReplace {
			deletions = append(deletions, path)
		}
	}
	if len(moves) == 0 {
		return nil
	}

	sort.Slice(moves, func(i, j int) bool { return moves[i].Path < moves[j].Path })
	sort.Strings(deletions)

	seenSource := make(map[string]bool, len(moves))
	for _, m := range moves {
		if seenSource[m.CopyFromPath] {
			return fmt.Errorf("%w: %q", ErrAmbiguousMove, m.CopyFromPath)
		}
		seenSource[m.CopyFromPath] = true
	}

	for rev := baseRev + 1; rev <= oldRev; rev++ {
		committed, err := p.cfg.History.Changes(rev)
		if err != nil {
			return fmt.Errorf("commit: reading revision %v changes for move check: %w", rev, err)
		}
		for _, rec := range committed {
			if rec.Kind != ids.ChangeMove && rec.Kind != ids.ChangeMoveReplace {
				continue
			}
			if rec.CopyFromPath != "" && seenSource[rec.CopyFromPath] {
				return fmt.Errorf("%w: %q committed concurrently in r%d", ErrAmbiguousMove, rec.CopyFromPath, rev)
			}
		}
	}

	for _, m := range moves {
		if !hasAncestorDeletion(deletions, m.CopyFromPath) {
			return fmt.Errorf("%w: %q", ErrIncompleteMove, m.CopyFromPath)
		}
	}
	return nil
}

// hasAncestorDeletion reports whether deletions (sorted) contains a path
// that is an ancestor of, or equal to, target.
func hasAncestorDeletion(deletions []string, target string) bool {
	for _, d := range deletions {
		if d == target {
			return true
		}
		prefix := strings.TrimSuffix(d, "/") + "/"
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}
