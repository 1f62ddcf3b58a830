// math/collide.go
// Copyright(c) 2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

// Overlap predicates for aircraft footprints (circles) and airport areas
// (convex polygons). Shapes that only touch are not considered to overlap.

// CirclesOverlap returns true if the circle at c0 with radius r0
// overlaps the circle at c1 with radius r1.
func CirclesOverlap(c0 [2]float32, r0 float32, c1 [2]float32, r1 float32) bool {
	return LengthSquared2f(Sub2f(c1, c0)) < Sqr(r0+r1)
}

// CirclePolygonOverlap returns true if the circle overlaps the polygon:
// either its center is inside the polygon or some polygon edge passes
// within r of the center.
func CirclePolygonOverlap(c [2]float32, r float32, poly [][2]float32) bool {
	if len(poly) == 0 {
		return false
	}
	if len(poly) >= 3 && PointInPolygon(c, poly) {
		return true
	}
	for i := range poly {
		if PointSegmentDistance(c, poly[i], poly[(i+1)%len(poly)]) < r {
			return true
		}
	}
	return false
}

// PolygonsOverlap uses the separating axis theorem to check whether the
// two convex polygons overlap. The vertices of each polygon may be given
// in either winding order.
func PolygonsOverlap(a, b [][2]float32) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return !hasSeparatingAxis(a, a, b) && !hasSeparatingAxis(b, a, b)
}

// hasSeparatingAxis checks the edge normals of edges as candidate
// separating axes for polygons a and b.
func hasSeparatingAxis(edges, a, b [][2]float32) bool {
	for i := range edges {
		e := Sub2f(edges[(i+1)%len(edges)], edges[i])
		if e[0] == 0 && e[1] == 0 {
			continue
		}
		axis := Perp(e)
		amin, amax := project(a, axis)
		bmin, bmax := project(b, axis)
		if amax <= bmin || bmax <= amin {
			return true
		}
	}
	return false
}

func project(poly [][2]float32, axis [2]float32) (float32, float32) {
	lo, hi := Dot(poly[0], axis), Dot(poly[0], axis)
	for _, p := range poly[1:] {
		d := Dot(p, axis)
		lo, hi = min(lo, d), max(hi, d)
	}
	return lo, hi
}
