package tagmap

import (
	"math"

	"github.com/banshee-data/tagmap/internal/units"
)

// Tag is a mapped ceiling fiducial. Pose fields (X, Y, Twist) are assigned by
// pose propagation and are meaningless until the tag has been reached from
// the origin at least once. Twist is always normalized to (-pi, pi].
//
// Tags are owned by the Map for its whole lifetime and are mutated only by
// it; hopCount and visit are propagation scratch.
type Tag struct {
	ID    int
	X     float64
	Y     float64
	Twist float64

	// Calibration resolved from the height table at creation.
	DistancePerPixel float64
	Z                float64

	// Arcs holds every arc incident to this tag. Each arc appears exactly
	// once and has this tag as one of its two endpoints.
	Arcs []*Arc

	hopCount int
	visit    uint64
}

// HopCount reports the tree depth from the origin as of the last
// propagation run that reached this tag.
func (t *Tag) HopCount() int { return t.hopCount }

// attachArc records an incident arc, rejecting duplicates.
func (t *Tag) attachArc(a *Arc) {
	for _, existing := range t.Arcs {
		if existing == a {
			return
		}
	}
	t.Arcs = append(t.Arcs, a)
}

// other returns the opposite endpoint of an incident arc.
func (t *Tag) other(a *Arc) *Tag {
	if a.From == t {
		return a.To
	}
	return a.From
}

// updateFromParentArc assigns this tag's pose from an in-tree arc whose
// other endpoint already holds a valid pose. Both stored twists are referred
// to the canonical from->to segment angle (the To side carries the pi flip
// applied at ingest), so the segment's world angle recovered from the parent
// side places the child directly.
func (t *Tag) updateFromParentArc(a *Arc) {
	if a.To == t {
		seg := a.From.Twist - a.FromTwist
		t.X = a.From.X + a.Distance*math.Cos(seg)
		t.Y = a.From.Y + a.Distance*math.Sin(seg)
		t.Twist = units.NormalizeAngle(seg + a.ToTwist)
		return
	}
	seg := a.To.Twist - a.ToTwist
	t.X = a.To.X - a.Distance*math.Cos(seg)
	t.Y = a.To.Y - a.Distance*math.Sin(seg)
	t.Twist = units.NormalizeAngle(seg + a.FromTwist)
}
