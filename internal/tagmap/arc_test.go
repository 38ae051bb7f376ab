package tagmap

import (
	"math"
	"sort"
	"testing"
)

func TestNewArcCanonicalOrder(t *testing.T) {
	hi := &Tag{ID: 7}
	lo := &Tag{ID: 3}

	// Passed reversed: endpoints and twists must swap together.
	a := newArc(hi, 0.25, 10, lo, -0.5, 1.0)
	if a.From != lo || a.To != hi {
		t.Fatalf("endpoints not canonicalized: from=%d to=%d", a.From.ID, a.To.ID)
	}
	if a.FromTwist != -0.5 || a.ToTwist != 0.25 {
		t.Errorf("twists not swapped with endpoints: from=%v to=%v", a.FromTwist, a.ToTwist)
	}
	if a.Distance != 10 || a.Goodness != 1.0 {
		t.Errorf("scalar fields mangled: distance=%v goodness=%v", a.Distance, a.Goodness)
	}
}

func TestNewArcAttachesBothEndpointsOnce(t *testing.T) {
	a := &Tag{ID: 1}
	b := &Tag{ID: 2}
	arc := newArc(a, 0, 5, b, 0, UnmeasuredGoodness)

	for _, tag := range []*Tag{a, b} {
		count := 0
		for _, incident := range tag.Arcs {
			if incident == arc {
				count++
			}
		}
		if count != 1 {
			t.Errorf("tag %d lists arc %d times, want 1", tag.ID, count)
		}
	}

	// attachArc rejects a second registration of the same arc.
	a.attachArc(arc)
	if len(a.Arcs) != 1 {
		t.Errorf("duplicate attach accepted: %d incident arcs", len(a.Arcs))
	}
}

func TestArcCompare(t *testing.T) {
	t1, t2, t3 := &Tag{ID: 1}, &Tag{ID: 2}, &Tag{ID: 3}
	a12 := newArc(t1, 0, 1, t2, 0, 0)
	a13 := newArc(t1, 0, 1, t3, 0, 0)
	a23 := newArc(t2, 0, 1, t3, 0, 0)

	if a12.compare(a13) >= 0 {
		t.Error("(1,2) should order before (1,3)")
	}
	if a13.compare(a23) >= 0 {
		t.Error("(1,3) should order before (2,3)")
	}
	if a23.compare(a12) <= 0 {
		t.Error("(2,3) should order after (1,2)")
	}
	if a12.compare(a12) != 0 {
		t.Error("arc should compare equal to itself")
	}
}

func TestArcDistanceOrdering(t *testing.T) {
	t1 := &Tag{ID: 1, hopCount: 0}
	t2 := &Tag{ID: 2, hopCount: 1}
	t3 := &Tag{ID: 3, hopCount: 5}
	t4 := &Tag{ID: 4, hopCount: 2}

	long := newArc(t1, 0, 30, t2, 0, 0)
	short := newArc(t1, 0, 10, t3, 0, 0)
	// Same distance as short but a deeper neighborhood (min hop 1 vs
	// min hop 0): sorts before it, so the tail keeps the lowest min hop.
	shortDeep := newArc(t2, 0, 10, t4, 0, 0)

	frontier := []*Arc{short, long, shortDeep}
	sort.SliceStable(frontier, func(i, j int) bool { return frontier[i].distanceLess(frontier[j]) })

	if frontier[0] != long {
		t.Errorf("longest arc should sort first")
	}
	if frontier[1] != shortDeep || frontier[2] != short {
		t.Errorf("distance tie should break descending by min hop count")
	}
}

func TestKeyForCanonical(t *testing.T) {
	if keyFor(9, 4) != (arcKey{lo: 4, hi: 9}) {
		t.Errorf("keyFor(9,4) = %+v", keyFor(9, 4))
	}
	if keyFor(4, 9) != keyFor(9, 4) {
		t.Error("keyFor should be order independent")
	}
}

func TestArcUpdate(t *testing.T) {
	t1, t2 := &Tag{ID: 1}, &Tag{ID: 2}
	a := newArc(t1, 0, 0, t2, 0, UnmeasuredGoodness)
	a.update(0.1, 42.0, -0.2, 3.5)

	if a.FromTwist != 0.1 || a.ToTwist != -0.2 {
		t.Errorf("twists not updated: %v %v", a.FromTwist, a.ToTwist)
	}
	if a.Distance != 42.0 || a.Goodness != 3.5 {
		t.Errorf("scalars not updated: %v %v", a.Distance, a.Goodness)
	}
	if a.From != t1 || a.To != t2 {
		t.Error("update must not change endpoints")
	}
}

func TestMinHopCount(t *testing.T) {
	a := newArc(&Tag{ID: 1, hopCount: 4}, 0, 1, &Tag{ID: 2, hopCount: 2}, 0, 0)
	if got := a.minHopCount(); got != 2 {
		t.Errorf("minHopCount = %d, want 2", got)
	}
}

func TestUnmeasuredGoodnessSentinel(t *testing.T) {
	// Any plausible measurement must beat the sentinel.
	if !(math.Hypot(4000, 4000) < UnmeasuredGoodness) {
		t.Error("sentinel not larger than any realistic pixel radius difference")
	}
}
