package deltabase

import "testing"

func TestBaseCountLinearTailIsImmediatePredecessor(t *testing.T) {
	p := Policy{MaxLinearDeltification: 16, MaxDeltificationWalk: 1000}
	// Every count from 1 through 15 has a skip-delta candidate no more
	// than 15 hops back, under the 16-count walk threshold, so all of
	// them resolve to the immediate predecessor.
	for count := 1; count < 16; count++ {
		base, isDelta := p.BaseCount(count)
		if !isDelta {
			t.Fatalf("count %d: expected delta within linear zone", count)
		}
		if base != count-1 {
			t.Fatalf("count %d: expected linear base %d, got %d", count, count-1, base)
		}
	}
}

func TestBaseCountGatesOnWalkDistanceNotRawCount(t *testing.T) {
	// The gate is the distance back to the skip-delta candidate, not
	// count itself. count=16 is a power of two, so its skip candidate
	// is 0 (the walk is the full 16), which reaches the
	// MaxLinearDeltification=16 threshold; a raw-count gate gives the
	// same answer here. count=24 separates the two rules: its skip
	// candidate is 16, only 8 hops back, so the walk-distance gate keeps
	// the immediate predecessor 23 where a raw-count gate would pick 16.
	p := Policy{MaxLinearDeltification: 16, MaxDeltificationWalk: 1000}
	base, isDelta := p.BaseCount(16)
	if !isDelta || base != 0 {
		t.Fatalf("expected count 16 to skip to base 0, got base=%d isDelta=%v", base, isDelta)
	}
	base, isDelta = p.BaseCount(24)
	if !isDelta || base != 23 {
		t.Fatalf("expected count 24 to keep immediate predecessor 23, got base=%d isDelta=%v", base, isDelta)
	}
}

func TestBaseCountAboveThresholdCanStillResolveToImmediatePredecessor(t *testing.T) {
	// With MaxLinearDeltification=4, counts 6, 10, and 14 all clear a
	// skip-delta candidate that sits only 2 hops back (well under the
	// threshold), so the base falls back to the immediate predecessor
	// (count-1) rather than the further skip ancestor (count &
	// (count-1)) a raw-count threshold would have chosen.
	p := Policy{MaxLinearDeltification: 4, MaxDeltificationWalk: 1000}
	cases := []struct{ count, wantBase int }{
		{6, 5},
		{10, 9},
		{14, 13},
	}
	for _, c := range cases {
		base, isDelta := p.BaseCount(c.count)
		if !isDelta {
			t.Fatalf("count %d: expected delta", c.count)
		}
		if base != c.wantBase {
			t.Fatalf("count %d: expected base %d, got %d", c.count, c.wantBase, base)
		}
	}
}

func TestBaseCountFirstRevisionHasNoBase(t *testing.T) {
	p := DefaultPolicy()
	if _, isDelta := p.BaseCount(0); isDelta {
		t.Fatalf("expected count 0 to have no delta base")
	}
}

func TestBaseCountPowerOfTwoSkipsToFulltext(t *testing.T) {
	p := Policy{MaxLinearDeltification: 4, MaxDeltificationWalk: 1000}
	// Once past the linear zone, a power-of-two count clears its only
	// set bit entirely, landing the base at 0 (a fulltext root) at a
	// distance equal to the count itself.
	for _, count := range []int{8, 16, 32, 64} {
		base, isDelta := p.BaseCount(count)
		if !isDelta {
			t.Fatalf("count %d: expected delta", count)
		}
		if base != 0 {
			t.Fatalf("count %d: expected power-of-two count to skip to base 0, got %d", count, base)
		}
	}
}

func TestBaseCountMidRangeSkipsPartway(t *testing.T) {
	p := Policy{MaxLinearDeltification: 4, MaxDeltificationWalk: 1000}
	// 12 = 0b1100; clearing the lowest set bit gives 0b1000 = 8.
	base, isDelta := p.BaseCount(12)
	if !isDelta || base != 8 {
		t.Fatalf("expected count 12 to skip to base 8, got base=%d isDelta=%v", base, isDelta)
	}
}

func TestChainLengthBoundedByLogCount(t *testing.T) {
	p := DefaultPolicy()
	for _, count := range []int{1, 17, 100, 1_000_000} {
		length := ChainLength(count, p.MaxLinearDeltification)
		if length > 64 {
			t.Fatalf("count %d: expected O(log n) chain length, got %d", count, length)
		}
	}
}

func TestChooseBaseDeclinesWhenWalkCeilingExceeded(t *testing.T) {
	p := Policy{MaxLinearDeltification: 0, MaxDeltificationWalk: 1}
	// With MaxLinearDeltification 0, every positive count goes through
	// the skip formula; pick a count whose chain needs more than one hop.
	base, useDelta := p.ChooseBase(3)
	if useDelta {
		t.Fatalf("expected ChooseBase to decline when chain exceeds walk ceiling, got base=%d", base)
	}
}

func TestChooseBaseAcceptsWithinWalkCeiling(t *testing.T) {
	p := DefaultPolicy()
	base, useDelta := p.ChooseBase(5)
	if !useDelta {
		t.Fatalf("expected ChooseBase to accept a shallow chain")
	}
	if base != 4 {
		t.Fatalf("expected base 4 for count 5 within linear zone, got %d", base)
	}
}
