package convert

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

func isClosed(ls orb.LineString) bool {
	return len(ls) >= 2 && ls[0].Equal(ls[len(ls)-1])
}

// joinRings stitches way segments end to end into closed rings. Segments may
// be reversed to connect. Chains that never close are dropped.
func joinRings(parts []orb.LineString) []orb.Ring {
	pending := make([]orb.LineString, 0, len(parts))
	for _, p := range parts {
		pending = append(pending, p.Clone())
	}

	var rings []orb.Ring
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		for !isClosed(cur) {
			next, rest, ok := takeConnecting(cur, pending)
			if !ok {
				break
			}
			cur = next
			pending = rest
		}
		if isClosed(cur) && len(cur) >= 4 {
			rings = append(rings, orb.Ring(cur))
		}
	}
	return rings
}

// takeConnecting finds a segment that touches either end of cur and returns
// cur extended by it, with that segment removed from pending.
func takeConnecting(cur orb.LineString, pending []orb.LineString) (orb.LineString, []orb.LineString, bool) {
	head, tail := cur[0], cur[len(cur)-1]
	for i, seg := range pending {
		first, last := seg[0], seg[len(seg)-1]

		var joined orb.LineString
		switch {
		case tail.Equal(first):
			joined = append(cur, seg[1:]...)
		case tail.Equal(last):
			rev := seg.Clone()
			rev.Reverse()
			joined = append(cur, rev[1:]...)
		case head.Equal(last):
			joined = append(seg.Clone(), cur[1:]...)
		case head.Equal(first):
			rev := seg.Clone()
			rev.Reverse()
			joined = append(rev, cur[1:]...)
		default:
			continue
		}

		rest := make([]orb.LineString, 0, len(pending)-1)
		rest = append(rest, pending[:i]...)
		rest = append(rest, pending[i+1:]...)
		return joined, rest, true
	}
	return cur, pending, false
}

// containingPolygon returns the index of the polygon whose outer ring contains
// the first vertex of inner, or -1.
func containingPolygon(mp orb.MultiPolygon, inner orb.Ring) int {
	for i, poly := range mp {
		if planar.RingContains(poly[0], inner[0]) {
			return i
		}
	}
	return -1
}
