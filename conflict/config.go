// conflict/config.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package conflict

import (
	"time"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/util"
)

// SeparationMinima gives the required distance in meters between two
// aircraft for each conflict geometry.
type SeparationMinima struct {
	HeadOn     float32 `json:"head_on"`
	Crossing   float32 `json:"crossing"`
	Parallel   float32 `json:"parallel"`
	Overtaking float32 `json:"overtaking"`
}

func (m SeparationMinima) For(t ConflictType) float32 {
	switch t {
	case HeadOn:
		return m.HeadOn
	case Crossing:
		return m.Crossing
	case Overtaking:
		return m.Overtaking
	default:
		return m.Parallel
	}
}

func (m SeparationMinima) validate(e *util.ErrorLogger) {
	for _, v := range []struct {
		name string
		d    float32
	}{{"head_on", m.HeadOn}, {"crossing", m.Crossing}, {"parallel", m.Parallel}, {"overtaking", m.Overtaking}} {
		if v.d < 0 {
			e.ErrorString("%q: separation minimum %.1f cannot be negative", v.name, v.d)
		}
	}
}

type ManeuverConfig struct {
	TurnSteps    []float32     `json:"turn_steps"`    // degrees
	AltitudeStep float32       `json:"altitude_step"` // feet
	SpeedStep    float32       `json:"speed_step"`    // m/s
	Window       util.Duration `json:"window"`        // time allowed to complete a maneuver

	// Aircraft aren't sent below this altitude (feet) to resolve a
	// conflict.
	MinimumAltitude float32 `json:"minimum_altitude"`

	SeparationWeight float32 `json:"separation_weight"`
	WorkloadWeight   float32 `json:"workload_weight"`
}

type Config struct {
	Lookahead          util.Duration    `json:"lookahead"`
	GroundMinima       SeparationMinima `json:"ground_minima"`
	AirborneMinima     SeparationMinima `json:"airborne_minima"`
	VerticalSeparation float32          `json:"vertical_separation"` // feet

	// Above MaxTracks aircraft, only pairs within ShedRadius meters of
	// each other are compared. Zero disables shedding.
	MaxTracks  int     `json:"max_tracks"`
	ShedRadius float32 `json:"shed_radius"`

	Maneuver ManeuverConfig `json:"maneuver"`
}

func DefaultConfig() Config {
	return Config{
		Lookahead: util.Duration(30 * time.Second),
		GroundMinima: SeparationMinima{
			HeadOn:     150,
			Crossing:   100,
			Parallel:   60,
			Overtaking: 80,
		},
		AirborneMinima: SeparationMinima{
			HeadOn:     3 * av.MetersPerNM,
			Crossing:   3 * av.MetersPerNM,
			Parallel:   2.5 * av.MetersPerNM,
			Overtaking: 2.5 * av.MetersPerNM,
		},
		VerticalSeparation: 1000,
		MaxTracks:          64,
		ShedRadius:         5000,
		Maneuver: ManeuverConfig{
			TurnSteps:        []float32{15, 30, 45},
			AltitudeStep:     1000,
			SpeedStep:        3,
			Window:           util.Duration(20 * time.Second),
			MinimumAltitude:  1500,
			SeparationWeight: 10,
			WorkloadWeight:   1,
		},
	}
}

func (c Config) Validate(e *util.ErrorLogger) {
	e.Push("Conflict detection")
	defer e.Pop()

	if c.Lookahead <= 0 {
		e.ErrorString("\"lookahead\" must be positive")
	}
	e.Push("Ground minima")
	c.GroundMinima.validate(e)
	e.Pop()
	e.Push("Airborne minima")
	c.AirborneMinima.validate(e)
	e.Pop()
	if c.VerticalSeparation < 0 {
		e.ErrorString("\"vertical_separation\" cannot be negative")
	}
	if c.MaxTracks < 0 {
		e.ErrorString("\"max_tracks\" cannot be negative")
	} else if c.MaxTracks > 0 && c.ShedRadius <= 0 {
		e.ErrorString("\"shed_radius\" must be positive when \"max_tracks\" is set")
	}

	m := c.Maneuver
	e.Push("Maneuver")
	for _, s := range m.TurnSteps {
		if s <= 0 || s > 90 {
			e.ErrorString("turn step %.1f must be in (0,90]", s)
		}
	}
	if m.AltitudeStep <= 0 || m.SpeedStep <= 0 {
		e.ErrorString("\"altitude_step\" and \"speed_step\" must be positive")
	}
	if m.Window <= 0 {
		e.ErrorString("\"window\" must be positive")
	}
	if m.SeparationWeight < 0 || m.WorkloadWeight < 0 {
		e.ErrorString("weights cannot be negative")
	}
	e.Pop()
}

// minima returns the separation minima that apply to the pair.
func (c Config) minima(a, b Track) SeparationMinima {
	if a.OnGround && b.OnGround {
		return c.GroundMinima
	}
	return c.AirborneMinima
}

func (c Config) lookahead() float32 {
	return float32(c.Lookahead.D().Seconds())
}
