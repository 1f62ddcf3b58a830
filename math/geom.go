// math/geom.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

///////////////////////////////////////////////////////////////////////////
// Geometry

// Return minimum distance between line segment vw and point p
// https://stackoverflow.com/a/1501725
func PointSegmentDistance(p, v, w [2]float32) float32 {
	l := Sub2f(v, w)
	l2 := Dot(l, l)
	if l2 == 0 {
		return Length2f(Sub2f(p, v))
	}
	t := Clamp(Dot(Sub2f(p, v), Sub2f(w, v))/l2, 0, 1)
	proj := Add2f(v, Scale2f(Sub2f(w, v), t))
	return Distance2f(p, proj)
}

// PointInPolygon checks whether the given point is inside the given polygon;
// it assumes that the last vertex does not repeat the first one, and so includes
// the edge from pts[len(pts)-1] to pts[0] in its test.
func PointInPolygon(p [2]float32, pts [][2]float32) bool {
	inside := false
	for i := 0; i < len(pts); i++ {
		p0, p1 := pts[i], pts[(i+1)%len(pts)]
		if (p0[1] <= p[1] && p[1] < p1[1]) || (p1[1] <= p[1] && p[1] < p0[1]) {
			x := p0[0] + (p[1]-p0[1])*(p1[0]-p0[0])/(p1[1]-p0[1])
			if x > p[0] {
				inside = !inside
			}
		}
	}
	return inside
}

// OrientedRect returns the four corners of a rectangle that starts at p,
// extends length along heading hdg and is width wide, centered on the
// line from p.
func OrientedRect(p [2]float32, hdg, length, width float32) [][2]float32 {
	along := HeadingVector(hdg)
	side := Scale2f([2]float32{along[1], -along[0]}, width/2) // to the right
	end := Add2f(p, Scale2f(along, length))
	return [][2]float32{
		Sub2f(p, side),
		Add2f(p, side),
		Add2f(end, side),
		Sub2f(end, side),
	}
}

// ClosestApproach computes the time of closest point of approach and the
// distance at that time for two objects with relative position dp and
// relative velocity dv (both object B minus object A), assuming constant
// velocities. The returned Boolean is false if the relative velocity is
// (nearly) zero, in which case the separation never changes: the time
// returned is 0 and the distance is the current separation.
//
// The time may be negative, indicating that the objects are already
// diverging.
func ClosestApproach(dp, dv [2]float32) (tcpa float32, dmin float32, ok bool) {
	const eps = 1e-6
	vv := Dot(dv, dv)
	if vv < eps {
		return 0, Length2f(dp), false
	}
	tcpa = -Dot(dp, dv) / vv
	return tcpa, Length2f(Add2f(dp, Scale2f(dv, tcpa))), true
}
