// conflict/maneuver.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package conflict

import (
	"fmt"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/math"
)

// Performance bounds the maneuvers an aircraft can fly.
type Performance struct {
	MaxTurnRate     float32 `json:"max_turn_rate"`    // degrees/second
	MaxClimbRate    float32 `json:"max_climb_rate"`   // feet/second
	MaxDescentRate  float32 `json:"max_descent_rate"` // feet/second
	MaxAcceleration float32 `json:"max_acceleration"` // m/s^2, also used for deceleration
	MaxSpeed        float32 `json:"max_speed"`        // m/s
	CanClimb        bool    `json:"can_climb"`
}

// DefaultGroundPerformance is for aircraft taxiing: they can only
// change speed or stop.
func DefaultGroundPerformance() Performance {
	return Performance{
		MaxAcceleration: 1,
		MaxSpeed:        15,
	}
}

func DefaultAirbornePerformance() Performance {
	return Performance{
		MaxTurnRate:     av.StandardTurnRate,
		MaxClimbRate:    3000. / 60,
		MaxDescentRate:  3000. / 60,
		MaxAcceleration: 1,
		MaxSpeed:        av.KnotsToMetersPerSecond(250),
		CanClimb:        true,
	}
}

type ManeuverKind int

const (
	ManeuverNone ManeuverKind = iota
	TurnLeft
	TurnRight
	Climb
	Descend
	SpeedChange
	GoAround
	Hold
)

func (k ManeuverKind) String() string {
	switch k {
	case ManeuverNone:
		return "none"
	case TurnLeft:
		return "turn left"
	case TurnRight:
		return "turn right"
	case Climb:
		return "climb"
	case Descend:
		return "descend"
	case SpeedChange:
		return "speed change"
	case GoAround:
		return "go around"
	case Hold:
		return "hold"
	default:
		return fmt.Sprintf("ManeuverKind(%d)", int(k))
	}
}

func (k ManeuverKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ManeuverKind) UnmarshalText(b []byte) error {
	for v := ManeuverNone; v <= Hold; v++ {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("%q: unknown maneuver", string(b))
}

// Maneuver is an avoidance instruction for a single aircraft. Only the
// delta that matches Kind is set; Hold and GoAround carry no payload
// other than the altitude change for an airborne go-around.
type Maneuver struct {
	Kind          ManeuverKind  `json:"kind"`
	Aircraft      av.AircraftID `json:"aircraft"`
	HeadingDelta  float32       `json:"heading_delta,omitempty"`  // degrees, negative is left
	AltitudeDelta float32       `json:"altitude_delta,omitempty"` // feet
	SpeedDelta    float32       `json:"speed_delta,omitempty"`    // m/s

	Score      float32 `json:"score"`
	Workload   float32 `json:"workload"`
	Separation float32 `json:"separation"` // predicted minimum distance afterward, meters
}

func (m Maneuver) String() string {
	switch m.Kind {
	case TurnLeft, TurnRight:
		return fmt.Sprintf("%s: %s %.0f", m.Aircraft, m.Kind, math.Abs(m.HeadingDelta))
	case Climb, Descend:
		return fmt.Sprintf("%s: %s %.0fft", m.Aircraft, m.Kind, math.Abs(m.AltitudeDelta))
	case SpeedChange:
		return fmt.Sprintf("%s: speed %+.1fm/s", m.Aircraft, m.SpeedDelta)
	default:
		return fmt.Sprintf("%s: %s", m.Aircraft, m.Kind)
	}
}

func workload(m Maneuver) float32 {
	switch m.Kind {
	case TurnLeft, TurnRight:
		return math.Abs(m.HeadingDelta) / 15
	case Climb, Descend:
		return 2
	case SpeedChange:
		return 1
	case Hold:
		return 3
	case GoAround:
		return 10
	default:
		return 0
	}
}

// Apply returns the track as it would be if the maneuver were flown,
// assuming the change takes effect immediately. Aircraft that hold or go
// around on the ground stop.
func Apply(t Track, m Maneuver) Track {
	switch m.Kind {
	case TurnLeft, TurnRight:
		t.Velocity = math.Rotator2f(m.HeadingDelta)(t.Velocity)
		t.Heading = math.NormalizeHeading(t.Heading + m.HeadingDelta)
	case Climb, Descend:
		t.Altitude += m.AltitudeDelta
	case SpeedChange:
		s := max(0, t.Speed()+m.SpeedDelta)
		t.Velocity = math.Scale2f(math.HeadingVector(t.Course()), s)
	case Hold:
		t.Velocity = [2]float32{}
	case GoAround:
		if t.OnGround {
			t.Velocity = [2]float32{}
		} else {
			t.Altitude += m.AltitudeDelta
		}
	}
	return t
}

// candidates returns the maneuvers the aircraft can complete within the
// maneuver window given its performance, in order of preference.
func candidates(t Track, perf Performance, mc ManeuverConfig) []Maneuver {
	window := float32(mc.Window.D().Seconds())
	speed := t.Speed()
	var c []Maneuver

	for _, step := range mc.TurnSteps {
		if step <= perf.MaxTurnRate*window {
			c = append(c, Maneuver{Kind: TurnLeft, Aircraft: t.ID, HeadingDelta: -step},
				Maneuver{Kind: TurnRight, Aircraft: t.ID, HeadingDelta: step})
		}
	}
	if !t.OnGround {
		if perf.CanClimb && mc.AltitudeStep <= perf.MaxClimbRate*window {
			c = append(c, Maneuver{Kind: Climb, Aircraft: t.ID, AltitudeDelta: mc.AltitudeStep})
		}
		if mc.AltitudeStep <= perf.MaxDescentRate*window && t.Altitude-mc.AltitudeStep >= mc.MinimumAltitude {
			c = append(c, Maneuver{Kind: Descend, Aircraft: t.ID, AltitudeDelta: -mc.AltitudeStep})
		}
	}
	if mc.SpeedStep <= perf.MaxAcceleration*window {
		if speed >= mc.SpeedStep {
			c = append(c, Maneuver{Kind: SpeedChange, Aircraft: t.ID, SpeedDelta: -mc.SpeedStep})
		}
		if speed+mc.SpeedStep <= perf.MaxSpeed {
			c = append(c, Maneuver{Kind: SpeedChange, Aircraft: t.ID, SpeedDelta: mc.SpeedStep})
		}
	}
	if (t.OnGround && speed <= perf.MaxAcceleration*window) || (!t.OnGround && perf.MaxTurnRate > 0) {
		c = append(c, Maneuver{Kind: Hold, Aircraft: t.ID})
	}
	return c
}

// SelectManeuver chooses the maneuver for subject that best resolves its
// conflict with other. Candidates that the aircraft can't fly within the
// maneuver window or that leave the pair in conflict are discarded; the
// rest are scored by the gain in separation against the workload of the
// maneuver. If none remain, the aircraft is sent around. If the pair is
// no longer in conflict, the returned maneuver has Kind ManeuverNone.
func SelectManeuver(alert Alert, subject, other Track, perf Performance, c Config) Maneuver {
	if _, ok := pairConflict(subject, other, c); !ok {
		return Maneuver{Kind: ManeuverNone, Aircraft: subject.ID, Separation: windowSeparation(subject, other, c)}
	}

	sep := alert.Separation
	if sep <= 0 {
		sep = requiredSeparation(subject, other, Classify(subject, other), c)
	}
	before := windowSeparation(subject, other, c)
	score := func(m *Maneuver, after Track) {
		m.Separation = windowSeparation(after, other, c)
		m.Workload = workload(*m)
		gain := (m.Separation - before) / max(sep, 1)
		m.Score = c.Maneuver.SeparationWeight*gain - c.Maneuver.WorkloadWeight*m.Workload
	}

	var best *Maneuver
	for _, m := range candidates(subject, perf, c.Maneuver) {
		after := Apply(subject, m)
		if _, conflict := pairConflict(after, other, c); conflict {
			continue
		}
		score(&m, after)
		if best == nil || m.Score > best.Score || (m.Score == best.Score && m.Workload < best.Workload) {
			best = &m
		}
	}
	if best != nil {
		return *best
	}

	ga := goAround(subject, c)
	score(&ga, Apply(subject, ga))
	return ga
}

func goAround(t Track, c Config) Maneuver {
	m := Maneuver{Kind: GoAround, Aircraft: t.ID}
	if !t.OnGround {
		m.AltitudeDelta = c.Maneuver.AltitudeStep
	}
	return m
}
