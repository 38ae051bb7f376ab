package tagmap

import (
	"log"
	"sort"
)

// Update derives an absolute (x, y, twist) for every tag reachable from the
// origin by growing a spanning tree over the arcs, shortest distance first.
// The lowest-id tag anchors the map at (0, 0, 0). A no-op unless
// measurements arrived since the last run.
//
// Tags in components not reachable from the origin keep whatever pose they
// last held; callers must accept stale poses for them.
func (m *Map) Update() {
	if !m.changed {
		return
	}
	m.changed = false
	if len(m.tags) == 0 {
		return
	}
	m.visit++

	tags := m.Tags()
	origin := tags[0]
	origin.X = 0
	origin.Y = 0
	origin.Twist = 0
	origin.hopCount = 0
	origin.visit = m.visit
	m.announceTag(origin)

	// The frontier is kept sorted descending by distance (ties: descending
	// min hop count), so the tail is always the shortest candidate arc
	// touching the tree.
	frontier := append([]*Arc(nil), origin.Arcs...)
	sortFrontier(frontier)

	for len(frontier) > 0 {
		arc := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if arc.visit == m.visit {
			continue
		}
		arc.visit = m.visit

		fromNew := arc.From.visit != m.visit
		toNew := arc.To.visit != m.visit
		switch {
		case !fromNew && !toNew:
			// Both endpoints already placed: a cross edge closing a cycle.
			arc.InTree = false
		case fromNew && toNew:
			// Every frontier arc touches an already-placed tag; hitting one
			// with two unplaced endpoints means the frontier bookkeeping is
			// broken. Leave poses alone.
			log.Printf("[tagmap] frontier invariant violated: arc (%d,%d) has no placed endpoint", arc.From.ID, arc.To.ID)
		default:
			parent, child := arc.From, arc.To
			if fromNew {
				parent, child = arc.To, arc.From
			}
			child.hopCount = parent.hopCount + 1
			child.visit = m.visit
			frontier = append(frontier, child.Arcs...)
			arc.InTree = true
			child.updateFromParentArc(arc)
			m.announceTag(child)
		}
		sortFrontier(frontier)
	}
}

func sortFrontier(frontier []*Arc) {
	sort.SliceStable(frontier, func(i, j int) bool {
		return frontier[i].distanceLess(frontier[j])
	})
}
