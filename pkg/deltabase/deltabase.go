// Package deltabase implements the skip-delta base chooser (spec §4.6):
// given how many prior revisions a node has, it decides whether the next
// representation should be stored as a delta against an ancestor and, if
// so, which ancestor — bounding the worst-case reconstruction chain
// length without ever walking the chain itself.
package deltabase

// Policy bounds deltification: MaxLinearDeltification is the predecessor
// count below which the chosen base is always the immediate predecessor
// (a short chain is cheap to reconstruct regardless of shape), and
// MaxDeltificationWalk caps the number of hops ChooseBase will accept
// before it declines and signals a fresh, self-compressed representation
// instead.
type Policy struct {
	MaxLinearDeltification int
	MaxDeltificationWalk   int
}

// DefaultPolicy returns the thresholds used when a repository's format
// file does not override them.
func DefaultPolicy() Policy {
	return Policy{MaxLinearDeltification: 16, MaxDeltificationWalk: 1000}
}

// BaseCount returns the predecessor_count of the ancestor representation
// that count's representation should be deltified against, and whether
// deltification applies at all (false for count == 0, the first
// revision of a node, which has no ancestor to delta against).
//
// Clearing count's lowest set bit (count & (count-1)) locates the
// skip-delta ancestor, an exponentially receding distance that bounds
// reconstruction to O(log count) hops. But when that ancestor is
// already close by — the walk back to it (count minus the skip
// candidate) is under MaxLinearDeltification — the skip is pointless
// deltification against a near-identical predecessor, so the base
// falls back to the immediate predecessor (count-1) instead. The gate
// is on this walk distance, not on count itself: count can be well
// above MaxLinearDeltification and still resolve to its immediate
// predecessor if the skip candidate happens to sit close behind it.
func (p Policy) BaseCount(count int) (baseCount int, isDelta bool) {
	if count <= 0 {
		return 0, false
	}
	skip := count & (count - 1)
	walk := count - skip
	if walk < p.MaxLinearDeltification {
		return count - 1, true
	}
	return skip, true
}

// ChainLength returns the number of hops required to walk from a
// representation with the given predecessor count back to a
// self-compressed (non-delta) representation, by repeatedly applying
// the same rule BaseCount uses.
func ChainLength(count int, maxLinear int) int {
	length := 0
	for count > 0 {
		skip := count & (count - 1)
		if count-skip < maxLinear {
			count = count - 1
		} else {
			count = skip
		}
		length++
	}
	return length
}

// ChooseBase applies Policy to count and additionally enforces
// MaxDeltificationWalk: if the resulting chain would need more hops than
// the walk ceiling allows, ChooseBase declines deltification entirely
// (useDelta is false) so the caller stores a fresh fulltext
// representation, bounding worst-case reconstruction cost regardless of
// a node's total revision count.
func (p Policy) ChooseBase(count int) (baseCount int, useDelta bool) {
	base, isDelta := p.BaseCount(count)
	if !isDelta {
		return 0, false
	}
	if ChainLength(count, p.MaxLinearDeltification) > p.MaxDeltificationWalk {
		return 0, false
	}
	return base, true
}
