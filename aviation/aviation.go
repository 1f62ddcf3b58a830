// aviation/aviation.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmp/groundctl/math"
)

var (
	ErrUnknownNode      = errors.New("unknown taxi node")
	ErrUnknownRunway    = errors.New("unknown runway")
	ErrNoParking        = errors.New("no compatible parking position available")
	ErrInvalidSizeClass = errors.New("invalid size class")
)

// AircraftID identifies a tracked aircraft; in practice it is the
// callsign reported in its telemetry.
type AircraftID string

func (id AircraftID) String() string { return string(id) }

const (
	MetersPerNM            = 1852
	MetersPerSecondPerKnot = 0.514444
)

func KnotsToMetersPerSecond(kts float32) float32 {
	return kts * MetersPerSecondPerKnot
}

///////////////////////////////////////////////////////////////////////////
// SizeClass

// SizeClass is the wake/size category of an aircraft; it limits which
// parking positions it may use and selects default performance limits.
type SizeClass int

const (
	SizeLight SizeClass = iota
	SizeMedium
	SizeHeavy
	SizeSuper
)

var sizeClassNames = []string{"light", "medium", "heavy", "super"}

func (s SizeClass) String() string {
	if int(s) < 0 || int(s) >= len(sizeClassNames) {
		return fmt.Sprintf("SizeClass(%d)", int(s))
	}
	return sizeClassNames[s]
}

func ParseSizeClass(s string) (SizeClass, error) {
	for i, n := range sizeClassNames {
		if strings.EqualFold(s, n) {
			return SizeClass(i), nil
		}
	}
	return SizeMedium, fmt.Errorf("%q: %w", s, ErrInvalidSizeClass)
}

func (s SizeClass) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SizeClass) UnmarshalText(b []byte) error {
	v, err := ParseSizeClass(string(b))
	if err == nil {
		*s = v
	}
	return err
}

///////////////////////////////////////////////////////////////////////////
// Wind

// WindComponents returns the headwind and crosswind components (in the
// units of windSpeed) for a runway with the given heading when the wind
// is from windDirection. A negative headwind is a tailwind; a positive
// crosswind is from the right.
func WindComponents(windDirection, windSpeed, runwayHeading float32) (headwind, crosswind float32) {
	diff := math.Radians(windDirection - runwayHeading)
	return windSpeed * math.Cos(diff), windSpeed * math.Sin(diff)
}
