// math/heading.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

///////////////////////////////////////////////////////////////////////////
// headings and directions
//
// Headings are in degrees, measured clockwise from north (+y). The local
// frame has +x pointing east.

// HeadingVector returns the unit vector pointing along the given heading.
func HeadingVector(h float32) [2]float32 {
	r := Radians(h)
	return [2]float32{Sin(r), Cos(r)}
}

// VectorHeading returns the heading of the vector v; the zero vector has
// heading 0.
func VectorHeading(v [2]float32) float32 {
	if v[0] == 0 && v[1] == 0 {
		return 0
	}
	// Note that atan2() normally measures w.r.t. the +x axis and angles
	// are positive for counter-clockwise. We want to measure w.r.t. +y and
	// to have positive angles be clockwise. Happily, swapping the order of
	// values passed to atan2()--passing (x,y), gives what we want.
	return NormalizeHeading(Degrees(Atan2(v[0], v[1])))
}

// HeadingDifference returns the minimum difference between two
// headings. (i.e., the result is always in the range [0,180].)
func HeadingDifference(a float32, b float32) float32 {
	a, b = NormalizeHeading(a), NormalizeHeading(b)
	var d float32
	if a > b {
		d = a - b
	} else {
		d = b - a
	}
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Figure out which way is closest: first find the angle to rotate the
// target heading by so that it's aligned with 180 degrees. This lets us
// not worry about the complexities of the wrap around at 0/360..
func HeadingSignedTurn(cur, target float32) float32 {
	rot := NormalizeHeading(180 - target)
	return 180 - NormalizeHeading(cur+rot) // w.r.t. 180 target
}

// IsHeadingBetween returns true if h is in the clockwise arc from h1 to
// h2, inclusive.
func IsHeadingBetween(h, h1, h2 float32) bool {
	h, h1, h2 = NormalizeHeading(h), NormalizeHeading(h1), NormalizeHeading(h2)
	if h1 <= h2 {
		return h >= h1 && h <= h2
	}
	return h >= h1 || h <= h2
}

// Reduces it to [0,360).
func NormalizeHeading(h float32) float32 {
	h = Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 { // float32 rounding of tiny negative values
		h = 0
	}
	return h
}

func OppositeHeading(h float32) float32 {
	return NormalizeHeading(h + 180)
}
