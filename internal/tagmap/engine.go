// Package tagmap builds and maintains a two-dimensional map of ceiling
// fiducial markers from pairwise camera observations.
//
// The Map fuses per-frame detection pairs into an edge-weighted graph of
// tags and arcs, keeping only the best measurement per tag pair, and derives
// absolute floor-plane poses by growing a shortest-edge-first spanning tree
// from the lowest-id tag.
//
// The Map is single-threaded: callers must not invoke its methods from more
// than one goroutine concurrently. Wrap it in a mutex if multi-producer
// ingestion is needed.
package tagmap

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tagmap/internal/units"
)

// CameraTag is one endpoint of a detection pair: a tag id plus its pixel
// center and pixel-frame twist as reported by the fiducial detector.
type CameraTag struct {
	ID         int
	PixelX     float64
	PixelY     float64
	PixelTwist float64
}

// Map owns all tags, arcs and the height table, fuses incoming detection
// pairs, and assigns absolute poses on Update.
type Map struct {
	tags     map[int]*Tag
	arcs     []*Arc
	arcIndex map[arcKey]*Arc
	heights  *HeightTable

	visit   uint64
	changed bool

	announce AnnounceFunc

	// MarkerSize is the physical side length of a marker, reported as the
	// dx/dy extent in announcements.
	MarkerSize float64
}

// New creates an empty map backed by the given height table. A nil table is
// replaced by an empty one, so every lookup yields the unknown calibration.
func New(heights *HeightTable) *Map {
	if heights == nil {
		heights = NewHeightTable()
	}
	return &Map{
		tags:     make(map[int]*Tag),
		arcIndex: make(map[arcKey]*Arc),
		heights:  heights,
	}
}

// Heights returns the height table the map resolves calibration from.
func (m *Map) Heights() *HeightTable { return m.heights }

// SetAnnounceFunc installs the hook invoked for every pose assigned during
// propagation. Pass nil to disable.
func (m *Map) SetAnnounceFunc(fn AnnounceFunc) { m.announce = fn }

// Changed reports whether measurements have arrived since the last Update.
func (m *Map) Changed() bool { return m.changed }

// TagCount returns the number of tags in the map.
func (m *Map) TagCount() int { return len(m.tags) }

// ArcCount returns the number of arcs in the map.
func (m *Map) ArcCount() int { return len(m.arcs) }

// Tag returns the tag with the given id, or nil.
func (m *Map) Tag(id int) *Tag { return m.tags[id] }

// Tags returns all tags sorted by id ascending.
func (m *Map) Tags() []*Tag {
	out := make([]*Tag, 0, len(m.tags))
	for _, t := range m.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Arcs returns all arcs sorted lexicographically on (From.ID, To.ID).
func (m *Map) Arcs() []*Arc {
	out := append([]*Arc(nil), m.arcs...)
	sort.Slice(out, func(i, j int) bool { return out[i].compare(out[j]) < 0 })
	return out
}

// Arc returns the arc between the two ids in either order, or nil.
func (m *Map) Arc(a, b int) *Arc { return m.arcIndex[keyFor(a, b)] }

// lookupOrCreateTag returns the tag with the given id, creating it with
// calibration resolved from the height table on first reference.
func (m *Map) lookupOrCreateTag(id int) *Tag {
	if t, ok := m.tags[id]; ok {
		return t
	}
	t := &Tag{
		ID:               id,
		DistancePerPixel: m.heights.DistancePerPixel(id),
		Z:                m.heights.Z(id),
	}
	m.tags[id] = t
	return t
}

// lookupOrCreateArc returns the arc between the two tags, creating an
// unmeasured one on first reference. At most one arc exists per unordered id
// pair.
func (m *Map) lookupOrCreateArc(a, b *Tag) *Arc {
	k := keyFor(a.ID, b.ID)
	if arc, ok := m.arcIndex[k]; ok {
		return arc
	}
	arc := newArc(a, 0, 0, b, 0, UnmeasuredGoodness)
	m.arcIndex[k] = arc
	m.arcs = append(m.arcs, arc)
	return arc
}

// Ingest offers one detection pair from a single frame. It looks up or
// creates both tags and the arc between them, scores the measurement by the
// difference of the two pixel radii from the image center, and overwrites
// the stored measurement only when the new score is strictly better.
// Reports whether the arc was updated.
func (m *Map) Ingest(camFrom, camTo CameraTag, imageWidth, imageHeight int) bool {
	if camFrom.ID == camTo.ID {
		return false
	}
	centerX := float64(imageWidth) / 2
	centerY := float64(imageHeight) / 2

	dxFrom := camFrom.PixelX - centerX
	dyFrom := camFrom.PixelY - centerY
	rhoFrom := math.Hypot(dxFrom, dyFrom)
	phiFrom := math.Atan2(dyFrom, dxFrom)

	dxTo := camTo.PixelX - centerX
	dyTo := camTo.PixelY - centerY
	rhoTo := math.Hypot(dxTo, dyTo)
	phiTo := math.Atan2(dyTo, dxTo)

	// Radial distortion grows with distance from the optical axis, so a
	// pair whose endpoints sit at equal radii is the most trustworthy.
	goodness := math.Abs(rhoFrom - rhoTo)

	from := m.lookupOrCreateTag(camFrom.ID)
	to := m.lookupOrCreateTag(camTo.ID)
	arc := m.lookupOrCreateArc(from, to)
	if goodness >= arc.Goodness {
		return false
	}

	// Project both centers onto the floor plane as if the camera sat at the
	// floor origin. Each endpoint carries its own scale: ceiling height may
	// differ between the two id bands.
	floorFromX := from.DistancePerPixel * rhoFrom * math.Cos(phiFrom)
	floorFromY := from.DistancePerPixel * rhoFrom * math.Sin(phiFrom)
	floorToX := to.DistancePerPixel * rhoTo * math.Cos(phiTo)
	floorToY := to.DistancePerPixel * rhoTo * math.Sin(phiTo)
	distance := math.Hypot(floorFromX-floorToX, floorFromY-floorToY)

	arcAngle := math.Atan2(camTo.PixelY-camFrom.PixelY, camTo.PixelX-camFrom.PixelX)
	fromTwist := units.NormalizeAngle(camFrom.PixelTwist - arcAngle)
	toTwist := units.NormalizeAngle(camTo.PixelTwist + math.Pi - arcAngle)

	// The twists above are relative to the submitted order; the stored arc
	// is canonical, so swap them when the submission was reversed. The pi
	// ambiguity from the flipped segment angle cancels under normalization.
	if camFrom.ID > camTo.ID {
		fromTwist, toTwist = toTwist, fromTwist
	}
	arc.update(fromTwist, distance, toTwist, goodness)
	m.changed = true
	return true
}

// Sort orders the internal arc list lexicographically on id pairs. Tags are
// keyed by id and returned sorted by the accessors regardless.
func (m *Map) Sort() {
	sort.Slice(m.arcs, func(i, j int) bool { return m.arcs[i].compare(m.arcs[j]) < 0 })
}

// Compare orders two maps: by tag count, then tag ids in sorted order, then
// arc count, then arc id pairs in sorted order. Returns -1, 0 or +1.
func (m *Map) Compare(o *Map) int {
	if d := len(m.tags) - len(o.tags); d != 0 {
		return sign(d)
	}
	mt, ot := m.Tags(), o.Tags()
	for i := range mt {
		if d := mt[i].ID - ot[i].ID; d != 0 {
			return sign(d)
		}
	}
	if d := len(m.arcs) - len(o.arcs); d != 0 {
		return sign(d)
	}
	ma, oa := m.Arcs(), o.Arcs()
	for i := range ma {
		if d := ma[i].compare(oa[i]); d != 0 {
			return d
		}
	}
	return 0
}

func sign(d int) int {
	if d < 0 {
		return -1
	}
	return 1
}

// GoodnessSummary summarizes the measured-arc goodness distribution.
type GoodnessSummary struct {
	Measured int     `json:"measured"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	P50      float64 `json:"p50"`
	P95      float64 `json:"p95"`
}

// GoodnessStats returns distribution statistics over all measured arcs.
func (m *Map) GoodnessStats() GoodnessSummary {
	var values []float64
	for _, a := range m.arcs {
		if a.Goodness < UnmeasuredGoodness {
			values = append(values, a.Goodness)
		}
	}
	if len(values) == 0 {
		return GoodnessSummary{}
	}
	sort.Float64s(values)
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return GoodnessSummary{
		Measured: len(values),
		Mean:     mean,
		StdDev:   std,
		P50:      stat.Quantile(0.5, stat.Empirical, values, nil),
		P95:      stat.Quantile(0.95, stat.Empirical, values, nil),
	}
}
