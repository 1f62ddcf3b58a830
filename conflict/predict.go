// conflict/predict.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package conflict predicts losses of separation between aircraft and
// chooses avoidance maneuvers to prevent them.
package conflict

import (
	"fmt"
	"slices"
	"strings"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/math"
)

// Track is the state of a single aircraft as seen by the predictor.
// Positions are meters in the airport frame, velocities m/s and
// altitudes feet.
type Track struct {
	ID       av.AircraftID `json:"id"`
	Position [2]float32    `json:"position"`
	Velocity [2]float32    `json:"velocity"`
	Altitude float32       `json:"altitude"`
	Heading  float32       `json:"heading"`
	Radius   float32       `json:"radius"`
	OnGround bool          `json:"on_ground"`
}

func (t Track) Speed() float32 {
	return math.Length2f(t.Velocity)
}

// Course returns the direction of motion, or the heading if the
// aircraft is (nearly) stationary.
func (t Track) Course() float32 {
	if math.LengthSquared2f(t.Velocity) < 1e-4 {
		return t.Heading
	}
	return math.VectorHeading(t.Velocity)
}

// Extrapolate returns the position after dt seconds.
func (t Track) Extrapolate(dt float32) [2]float32 {
	return math.Add2f(t.Position, math.Scale2f(t.Velocity, dt))
}

type ConflictType int

const (
	HeadOn ConflictType = iota
	Crossing
	Parallel
	Overtaking
)

func (t ConflictType) String() string {
	switch t {
	case HeadOn:
		return "head-on"
	case Crossing:
		return "crossing"
	case Parallel:
		return "parallel"
	case Overtaking:
		return "overtaking"
	default:
		return fmt.Sprintf("ConflictType(%d)", int(t))
	}
}

func (t ConflictType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ConflictType) UnmarshalText(b []byte) error {
	for v := HeadOn; v <= Overtaking; v++ {
		if v.String() == string(b) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("%q: unknown conflict type", string(b))
}

// Classify returns the geometry of the encounter between a and b from
// the angle between their courses.
func Classify(a, b Track) ConflictType {
	d := math.HeadingDifference(a.Course(), b.Course())
	switch {
	case d >= 135:
		return HeadOn
	case d >= 45:
		return Crossing
	default:
		dp := math.Sub2f(b.Position, a.Position)
		dv := math.Sub2f(b.Velocity, a.Velocity)
		if math.Dot(dp, dv) < 0 {
			return Overtaking
		}
		return Parallel
	}
}

// Alert describes a predicted loss of separation between A and B, where
// A sorts before B.
type Alert struct {
	A           av.AircraftID `json:"a"`
	B           av.AircraftID `json:"b"`
	TimeToCPA   float32       `json:"time_to_cpa"`  // seconds
	MinDistance float32       `json:"min_distance"` // meters, at the CPA
	Type        ConflictType  `json:"type"`
	Separation  float32       `json:"separation"` // required separation, meters

	// Static is set when the aircraft's collision circles already
	// overlap.
	Static bool `json:"static,omitempty"`
}

func (a Alert) String() string {
	return fmt.Sprintf("%s/%s %s: %.0fm in %.1fs (min %.0fm)", a.A, a.B, a.Type, a.MinDistance,
		a.TimeToCPA, a.Separation)
}

// Involves reports whether id is one of the alert's aircraft.
func (a Alert) Involves(id av.AircraftID) bool {
	return a.A == id || a.B == id
}

type Prediction struct {
	Alerts []Alert `json:"alerts"`
	Pairs  int     `json:"pairs"` // number of pairs evaluated
	Shed   bool    `json:"shed"`  // pairs were limited to ShedRadius
}

// PredictConflicts compares every pair of tracks and returns alerts for
// those that are predicted to come closer than the separation minimum
// within the lookahead time. When there are more than c.MaxTracks
// tracks, only pairs within c.ShedRadius of each other are compared.
func PredictConflicts(tracks []Track, c Config) Prediction {
	var p Prediction

	check := func(i, j int) {
		p.Pairs++
		if alert, ok := pairConflict(tracks[i], tracks[j], c); ok {
			p.Alerts = append(p.Alerts, alert)
		}
	}

	if c.MaxTracks > 0 && len(tracks) > c.MaxTracks {
		p.Shed = true
		tree := math.BuildKDTree(trackPositions(tracks))
		for i := range tracks {
			for _, j := range tree.WithinRadius(tracks[i].Position, c.ShedRadius) {
				if j > i {
					check(i, j)
				}
			}
		}
	} else {
		for i := range tracks {
			for j := i + 1; j < len(tracks); j++ {
				check(i, j)
			}
		}
	}

	slices.SortFunc(p.Alerts, func(a, b Alert) int {
		if cmp := strings.Compare(string(a.A), string(b.A)); cmp != 0 {
			return cmp
		}
		return strings.Compare(string(a.B), string(b.B))
	})
	return p
}

func trackPositions(tracks []Track) [][2]float32 {
	p := make([][2]float32, len(tracks))
	for i, t := range tracks {
		p[i] = t.Position
	}
	return p
}

// verticallySeparated reports whether the altitude difference between
// the aircraft is at least the vertical separation minimum. Two aircraft
// on the ground are never vertically separated.
func verticallySeparated(a, b Track, c Config) bool {
	if a.OnGround && b.OnGround {
		return false
	}
	return math.Abs(a.Altitude-b.Altitude) >= c.VerticalSeparation
}

// requiredSeparation returns the separation that applies to the pair for
// the given geometry; it is never less than the sum of their radii.
func requiredSeparation(a, b Track, t ConflictType, c Config) float32 {
	return max(c.minima(a, b).For(t), a.Radius+b.Radius)
}

// pairConflict returns an alert if a and b are in conflict.
func pairConflict(a, b Track, c Config) (Alert, bool) {
	if verticallySeparated(a, b, c) {
		return Alert{}, false
	}
	if b.ID < a.ID {
		a, b = b, a
	}

	typ := Classify(a, b)
	alert := Alert{A: a.ID, B: b.ID, Type: typ, Separation: requiredSeparation(a, b, typ, c)}

	if math.CirclesOverlap(a.Position, a.Radius, b.Position, b.Radius) {
		alert.Static = true
		alert.MinDistance = math.Distance2f(a.Position, b.Position)
		return alert, true
	}

	dp := math.Sub2f(b.Position, a.Position)
	dv := math.Sub2f(b.Velocity, a.Velocity)
	tcpa, dmin, ok := math.ClosestApproach(dp, dv)
	if !ok || tcpa < 0 || tcpa > c.lookahead() || dmin >= alert.Separation {
		return Alert{}, false
	}
	alert.TimeToCPA, alert.MinDistance = tcpa, dmin
	return alert, true
}

// windowSeparation returns the smallest distance between a and b over
// the lookahead window, or the required separation if they're
// vertically separated.
func windowSeparation(a, b Track, c Config) float32 {
	dp := math.Sub2f(b.Position, a.Position)
	dv := math.Sub2f(b.Velocity, a.Velocity)
	tcpa, _, ok := math.ClosestApproach(dp, dv)
	d := math.Length2f(dp)
	if ok {
		t := math.Clamp(tcpa, 0, c.lookahead())
		d = math.Length2f(math.Add2f(dp, math.Scale2f(dv, t)))
	}
	if verticallySeparated(a, b, c) {
		d = max(d, requiredSeparation(a, b, Classify(a, b), c))
	}
	return d
}
