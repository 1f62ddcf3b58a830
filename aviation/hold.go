// aviation/hold.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"fmt"
	"time"

	"github.com/mmp/groundctl/math"
)

///////////////////////////////////////////////////////////////////////////
// Hold

// TurnDirection specifies the direction of a turn.
type TurnDirection int

const (
	TurnClosest TurnDirection = iota // default: turn the shortest direction
	TurnLeft
	TurnRight
)

func (t TurnDirection) String() string {
	return []string{"closest", "left", "right"}[int(t)]
}

func (t TurnDirection) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TurnDirection) UnmarshalText(b []byte) error {
	switch string(b) {
	case "closest", "":
		*t = TurnClosest
	case "left", "L":
		*t = TurnLeft
	case "right", "R":
		*t = TurnRight
	default:
		return fmt.Errorf("%q: invalid turn direction", string(b))
	}
	return nil
}

// Hold represents a published holding pattern, as found at the end of a
// STAR.
type Hold struct {
	Fix             string        `json:"fix"`
	FixPosition     [2]float32    `json:"fix_position"`
	InboundCourse   float32       `json:"inbound_course"`
	TurnDirection   TurnDirection `json:"turn_direction"`
	LegMinutes      float32       `json:"leg_minutes"`
	MinimumAltitude int           `json:"minimum_altitude,omitempty"`
	MaximumAltitude int           `json:"maximum_altitude,omitempty"`
	HoldingSpeed    int           `json:"holding_speed,omitempty"` // knots, 0 if not specified
}

func (h Hold) DisplayName() string {
	return fmt.Sprintf("%s (%s, %.1f min)", h.Fix, h.TurnDirection, h.LegMinutes)
}

// Speed returns the holding speed in knots for the given altitude.
// If the hold has a published holding speed, that is returned.
// Otherwise, standard holding speeds are applied based on altitude:
// 6000 ft: 200 knots, 14000 ft: 230 knots, >14000 ft: 265 knots.
func (h Hold) Speed(alt float32) float32 {
	if h.HoldingSpeed > 0 {
		return float32(h.HoldingSpeed)
	} else if alt <= 6000 {
		return 200
	} else if alt <= 14000 {
		return 230
	} else {
		return 265
	}
}

// Pattern returns the racetrack for the hold flown at the given altitude.
func (h Hold) Pattern(alt float32) [4]HoldWaypoint {
	legTime := time.Duration(h.LegMinutes * float32(time.Minute))
	if legTime <= 0 {
		legTime = time.Minute
	}
	return GenerateHoldingPattern(h.FixPosition, h.InboundCourse, legTime, h.TurnDirection,
		KnotsToMetersPerSecond(h.Speed(alt)))
}

type HoldEntry int

const (
	HoldEntryDirect HoldEntry = iota
	HoldEntryParallel
	HoldEntryTeardrop
)

func (e HoldEntry) String() string {
	return []string{"Direct", "Parallel", "Teardrop"}[int(e)]
}

func (h Hold) Entry(headingToFix float32) HoldEntry {
	outboundCourse := math.OppositeHeading(h.InboundCourse)

	// Dividing line is 70 from outbound on holding side This creates
	// three sectors measured from the outbound course:
	// - Parallel: 110 on holding side from outbound
	// - Teardrop: 70 on non-holding side from outbound
	// - Direct: remaining 180
	if h.TurnDirection != TurnLeft {
		if math.IsHeadingBetween(headingToFix, outboundCourse, outboundCourse+110) {
			return HoldEntryParallel
		} else if math.IsHeadingBetween(headingToFix, outboundCourse-70, outboundCourse) {
			return HoldEntryTeardrop
		} else {
			return HoldEntryDirect
		}
	} else {
		if math.IsHeadingBetween(headingToFix, outboundCourse-110, outboundCourse) {
			return HoldEntryParallel
		} else if math.IsHeadingBetween(headingToFix, outboundCourse, outboundCourse+70) {
			return HoldEntryTeardrop
		} else {
			return HoldEntryDirect
		}
	}
}

///////////////////////////////////////////////////////////////////////////
// Racetrack generation

// DefaultHoldSpeed is used by GenerateHoldingPattern when no speed is
// given: 200 knots, in meters per second.
var DefaultHoldSpeed = KnotsToMetersPerSecond(200)

// Standard rate turn, degrees per second.
const StandardTurnRate = 3

type HoldWaypoint struct {
	Name     string     `json:"name"`
	Position [2]float32 `json:"position"`
	Heading  float32    `json:"heading"` // heading on arrival at the waypoint
}

// GenerateHoldingPattern returns the four corners of a racetrack holding
// pattern at fix: the fix itself (entry), the end of the outbound turn,
// the end of the outbound leg and the end of the inbound turn. Turns are
// flown at the standard rate, so their diameter depends on speed (m/s;
// DefaultHoldSpeed if not positive); the straight legs take legTime.
// Right turns put the pattern on the right side of the inbound course;
// TurnClosest is treated as a standard right-hand hold.
func GenerateHoldingPattern(fix [2]float32, inboundCourse float32, legTime time.Duration,
	turn TurnDirection, speed float32) [4]HoldWaypoint {
	if speed <= 0 {
		speed = DefaultHoldSpeed
	}

	inbound := math.NormalizeHeading(inboundCourse)
	outbound := math.OppositeHeading(inbound)

	// A 180 degree turn at the standard rate takes 60s.
	radius := speed * (180 / StandardTurnRate) / math.Pi()
	legLength := speed * float32(legTime.Seconds())

	side := math.HeadingVector(inbound + 90) // right of the inbound course
	if turn == TurnLeft {
		side = math.Scale2f(side, -1)
	}
	offset := math.Scale2f(side, 2*radius)
	back := math.Scale2f(math.HeadingVector(outbound), legLength)

	turnEnd := math.Add2f(fix, offset)
	legEnd := math.Add2f(turnEnd, back)
	inboundTurnEnd := math.Add2f(fix, back)

	return [4]HoldWaypoint{
		{Name: "entry", Position: fix, Heading: inbound},
		{Name: "outbound turn", Position: turnEnd, Heading: outbound},
		{Name: "outbound leg", Position: legEnd, Heading: outbound},
		{Name: "inbound turn", Position: inboundTurnEnd, Heading: inbound},
	}
}
