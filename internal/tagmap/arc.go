package tagmap

// UnmeasuredGoodness is the sentinel stored on an arc that has been created
// but never measured. Any real measurement compares strictly better.
const UnmeasuredGoodness = 123456789.0

// Arc is an undirected relative-pose measurement between two tags seen
// together in one frame. Endpoints are kept in canonical order
// (From.ID < To.ID). FromTwist and ToTwist are signed angles describing how
// each endpoint's local frame is rotated relative to the segment joining the
// two tags, with the To side flipped by pi at ingest so that both twists
// refer to the same from->to segment angle.
//
// Goodness is the |rho_from - rho_to| error proxy of the best measurement
// seen so far; smaller is better.
type Arc struct {
	From *Tag
	To   *Tag

	FromTwist float64
	ToTwist   float64
	Distance  float64
	Goodness  float64

	// InTree marks membership in the spanning tree built by the last
	// propagation run.
	InTree bool

	visit uint64
}

// arcKey identifies an arc by its unordered endpoint id pair, canonicalized
// so the lower id comes first.
type arcKey struct {
	lo, hi int
}

func keyFor(a, b int) arcKey {
	if a > b {
		a, b = b, a
	}
	return arcKey{lo: a, hi: b}
}

// newArc builds an arc with canonical endpoint order, swapping the endpoints
// and the two twists together when the caller passed them reversed, and
// registers it with both endpoints.
func newArc(from *Tag, fromTwist, distance float64, to *Tag, toTwist, goodness float64) *Arc {
	if from.ID > to.ID {
		from, to = to, from
		fromTwist, toTwist = toTwist, fromTwist
	}
	a := &Arc{
		From:      from,
		To:        to,
		FromTwist: fromTwist,
		ToTwist:   toTwist,
		Distance:  distance,
		Goodness:  goodness,
	}
	from.attachArc(a)
	to.attachArc(a)
	return a
}

// update overwrites the measurement in place. Endpoints are never changed;
// the caller must pass twists already in canonical (From, To) order.
func (a *Arc) update(fromTwist, distance, toTwist, goodness float64) {
	a.FromTwist = fromTwist
	a.Distance = distance
	a.ToTwist = toTwist
	a.Goodness = goodness
}

// key returns the arc's canonical id-pair identity.
func (a *Arc) key() arcKey {
	return arcKey{lo: a.From.ID, hi: a.To.ID}
}

// compare orders arcs lexicographically on (From.ID, To.ID).
func (a *Arc) compare(b *Arc) int {
	switch {
	case a.From.ID < b.From.ID:
		return -1
	case a.From.ID > b.From.ID:
		return 1
	case a.To.ID < b.To.ID:
		return -1
	case a.To.ID > b.To.ID:
		return 1
	}
	return 0
}

// distanceLess orders arcs descending by distance so the shortest arc sits
// at the tail of a sorted frontier; distance ties break descending by the
// smaller of the two endpoint hop counts, leaving the best-connected short
// arc last.
func (a *Arc) distanceLess(b *Arc) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.minHopCount() > b.minHopCount()
}

func (a *Arc) minHopCount() int {
	if a.From.hopCount < a.To.hopCount {
		return a.From.hopCount
	}
	return a.To.hopCount
}
