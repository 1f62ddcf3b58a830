// sim/aircraft.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/conflict"
	"github.com/mmp/groundctl/math"
	"github.com/mmp/groundctl/taxi"
)

// Telemetry is a single position report for an aircraft.
type Telemetry struct {
	ID       av.AircraftID `json:"id"`
	Position [2]float32    `json:"position"` // meters
	Altitude float32       `json:"altitude"` // feet
	Heading  float32       `json:"heading"`
	Velocity [2]float32    `json:"velocity"` // m/s
	OnGround bool          `json:"on_ground"`
	Radius   float32       `json:"radius,omitempty"` // meters; the size class default if zero
	Size     av.SizeClass  `json:"size"`
	Time     time.Time     `json:"time,omitzero"` // time of ingestion if zero
}

func (t Telemetry) validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing aircraft ID", ErrInvalidTelemetry)
	}
	for _, v := range []float32{t.Position[0], t.Position[1], t.Velocity[0], t.Velocity[1], t.Altitude, t.Heading, t.Radius} {
		if math.IsNaN(v) || math.IsInf(v) {
			return fmt.Errorf("%s: %w: non-finite value", t.ID, ErrInvalidTelemetry)
		}
	}
	if t.Radius < 0 {
		return fmt.Errorf("%s: %w: negative radius", t.ID, ErrInvalidTelemetry)
	}
	if t.Size < av.SizeLight || t.Size > av.SizeSuper {
		return fmt.Errorf("%s: %w: %w", t.ID, ErrInvalidTelemetry, av.ErrInvalidSizeClass)
	}
	return nil
}

// AircraftState is the coordinator's record of a single aircraft. It is
// only modified by the Coordinator; callers get copies.
type AircraftState struct {
	ID       av.AircraftID `json:"id"`
	Position [2]float32    `json:"position"`
	Altitude float32       `json:"altitude"`
	Heading  float32       `json:"heading"`
	Velocity [2]float32    `json:"velocity"`
	OnGround bool          `json:"on_ground"`
	Radius   float32       `json:"radius"`
	Size     av.SizeClass  `json:"size"`

	Clearance atc.ClearanceRecord `json:"clearance"`

	// The current taxi route, if any; RouteIndex is the index in
	// Route.Nodes of the last node reached.
	Route      *taxi.Route `json:"route,omitempty"`
	RouteIndex int         `json:"route_index"`

	Runway    string         `json:"runway,omitempty"`
	Parking   string         `json:"parking,omitempty"`
	Procedure *av.Procedure  `json:"procedure,omitempty"`
	Operation *atc.Operation `json:"operation,omitempty"` // set once sequencing has been requested

	LastTelemetry time.Time `json:"last_telemetry"`
	Stale         bool      `json:"stale"`

	Maneuver *conflict.Maneuver `json:"maneuver,omitempty"`
	Hold     *[4]av.HoldWaypoint `json:"hold,omitempty"`
}

func (ac *AircraftState) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", string(ac.ID)),
		slog.String("state", ac.Clearance.State.String()),
		slog.Any("position", ac.Position),
		slog.Float64("altitude", float64(ac.Altitude)),
		slog.Bool("on_ground", ac.OnGround),
		slog.Bool("stale", ac.Stale),
		slog.Time("last_telemetry", ac.LastTelemetry))
}

func (ac *AircraftState) Speed() float32 {
	return math.Length2f(ac.Velocity)
}

func (ac *AircraftState) track() conflict.Track {
	return conflict.Track{
		ID:       ac.ID,
		Position: ac.Position,
		Velocity: ac.Velocity,
		Altitude: ac.Altitude,
		Heading:  ac.Heading,
		Radius:   ac.Radius,
		OnGround: ac.OnGround,
	}
}

func (ac *AircraftState) update(t Telemetry, radius float32) {
	ac.Position = t.Position
	ac.Altitude = t.Altitude
	ac.Heading = math.NormalizeHeading(t.Heading)
	ac.Velocity = t.Velocity
	ac.OnGround = t.OnGround
	ac.Size = t.Size
	ac.Radius = radius
	ac.LastTelemetry = t.Time
	ac.Stale = false
}

// advanceRoute moves RouteIndex past the route nodes that the aircraft
// is within captureRadius of.
func (ac *AircraftState) advanceRoute(ap *av.Airport, captureRadius float32) {
	if ac.Route == nil {
		return
	}
	for ac.RouteIndex+1 < len(ac.Route.Nodes) {
		next := ap.Node(ac.Route.Nodes[ac.RouteIndex+1])
		if math.Distance2f(ac.Position, next.Position) > captureRadius {
			break
		}
		ac.RouteIndex++
	}
}

// RemainingRoute returns the waypoints of the route that the aircraft
// has yet to reach.
func (ac *AircraftState) RemainingRoute(ap *av.Airport) [][2]float32 {
	if ac.Route == nil {
		return nil
	}
	wp := ac.Route.Waypoints(ap)
	return wp[min(ac.RouteIndex+1, len(wp)):]
}

// inSequence reports whether the aircraft has been sent to a runway
// queue and is still waiting for its clearance.
func (ac *AircraftState) inSequence() bool {
	if ac.Operation == nil {
		return false
	}
	if *ac.Operation == atc.Departure {
		return ac.Clearance.State < atc.TakeoffCleared
	}
	return ac.Clearance.State == atc.Airborne
}

///////////////////////////////////////////////////////////////////////////
// Plans

// DeparturePlan is returned by Coordinator.RequestDeparture.
type DeparturePlan struct {
	Aircraft av.AircraftID        `json:"aircraft"`
	Runway   atc.RunwayAssignment `json:"runway"`
	Route    taxi.Route           `json:"route"`
	SID      *av.Procedure        `json:"sid,omitempty"`
}

// ArrivalPlan is returned by Coordinator.RequestArrival. Hold is set if
// the aircraft was given the arrival's published hold to wait in.
type ArrivalPlan struct {
	Aircraft av.AircraftID        `json:"aircraft"`
	Runway   atc.RunwayAssignment `json:"runway"`
	STAR     *av.Procedure        `json:"star,omitempty"`
	Hold     *[4]av.HoldWaypoint  `json:"hold,omitempty"`
}

// ParkingPlan is returned by Coordinator.PlanTaxiToParking.
type ParkingPlan struct {
	Aircraft av.AircraftID `json:"aircraft"`
	Parking  string        `json:"parking"`
	Route    taxi.Route    `json:"route"`
}
