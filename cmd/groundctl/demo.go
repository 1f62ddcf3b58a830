// cmd/groundctl/demo.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/conflict"
	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/math"
	"github.com/mmp/groundctl/rand"
	"github.com/mmp/groundctl/sim"
)

const (
	demoStep         = time.Second
	demoTaxiSpeed    = 10    // m/s
	demoApproachFix  = 8000  // meters from the threshold
	demoSpawnRadius  = 15000 // meters
	demoRotateSpeed  = 75    // m/s
	demoCruiseSpeed  = 110   // m/s
	demoApproachAlt  = 2500  // feet
	demoCaptureRange = 30    // meters
)

var demoAirlines = []string{"AAL", "DAL", "UAL", "SWA", "JBU", "ASA", "FFT"}

// demoAircraft is the generator's own model of a simulated aircraft; it
// reports its position to the coordinator and follows the clearances and
// maneuvers that the coordinator issues.
type demoAircraft struct {
	id        av.AircraftID
	size      av.SizeClass
	departure bool

	pos      [2]float32
	alt      float32 // feet
	heading  float32
	speed    float32 // m/s
	onGround bool

	waypoints [][2]float32 // remaining taxi route
	holdIndex int
	retryAt   time.Time
}

type demoTraffic struct {
	c   *sim.Coordinator
	ap  *av.Airport
	rnd *rand.Rand
	lg  *log.Logger
	max int

	aircraft map[av.AircraftID]*demoAircraft
}

func newDemoTraffic(c *sim.Coordinator, seed int64, max int, lg *log.Logger) *demoTraffic {
	return &demoTraffic{
		c:        c,
		ap:       c.Airport(),
		rnd:      rand.MakeSeeded(seed),
		lg:       lg.With(slog.String("component", "demo")),
		max:      max,
		aircraft: make(map[av.AircraftID]*demoAircraft),
	}
}

func (d *demoTraffic) Run(ctx context.Context) error {
	ticker := time.NewTicker(demoStep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d.step(now, float32(demoStep.Seconds()))
		}
	}
}

func (d *demoTraffic) step(now time.Time, dt float32) {
	if len(d.aircraft) < d.max && d.rnd.Float32() < 0.1 {
		if d.rnd.Intn(2) == 0 {
			d.spawnDeparture()
		} else {
			d.spawnArrival()
		}
	}

	for id, ac := range d.aircraft {
		st, ok := d.c.Aircraft(id)
		if !ok {
			// Evicted by the coordinator.
			d.lg.Debug("aircraft gone", slog.String("aircraft", string(id)))
			delete(d.aircraft, id)
			continue
		}
		d.advance(ac, &st, now, dt)
		d.report(ac)
	}
}

func (d *demoTraffic) newCallsign() av.AircraftID {
	for {
		id := av.AircraftID(fmt.Sprintf("%s%d", rand.SampleSlice(d.rnd, demoAirlines), 100+d.rnd.Intn(900)))
		if _, ok := d.aircraft[id]; !ok {
			if _, ok := d.c.Aircraft(id); !ok {
				return id
			}
		}
	}
}

func (d *demoTraffic) randomSize() av.SizeClass {
	switch r := d.rnd.Float32(); {
	case r < 0.2:
		return av.SizeLight
	case r < 0.75:
		return av.SizeMedium
	case r < 0.97:
		return av.SizeHeavy
	default:
		return av.SizeSuper
	}
}

func (d *demoTraffic) spawnDeparture() {
	occupied := make(map[string]bool)
	for _, ac := range d.c.Snapshot().Aircraft {
		if ac.Parking != "" {
			occupied[ac.Parking] = true
		}
		if ac.OnGround {
			if n, dist := d.ap.NearestNode(ac.Position, nil); dist < demoCaptureRange {
				occupied[d.ap.Node(n).Name] = true
			}
		}
	}
	for _, ac := range d.aircraft {
		if ac.onGround {
			if n, dist := d.ap.NearestNode(ac.pos, nil); dist < demoCaptureRange {
				occupied[d.ap.Node(n).Name] = true
			}
		}
	}
	for _, p := range d.ap.Parking {
		if occupied[p.NodeName] {
			occupied[p.Name] = true
		}
	}

	// A random stand that accepts the size and is free.
	size := d.randomSize()
	var p *av.ParkingPosition
	for i := range rand.PermuteSlice(d.ap.Parking, d.rnd.Uint32()) {
		if pp := &d.ap.Parking[i]; pp.Accepts(size) && !occupied[pp.Name] {
			p = pp
			break
		}
	}
	if p == nil {
		return
	}

	ac := &demoAircraft{
		id:        d.newCallsign(),
		size:      size,
		departure: true,
		pos:       d.ap.Node(p.Node).Position,
		heading:   180,
		onGround:  true,
	}
	if p.PushbackHeading != nil {
		ac.heading = *p.PushbackHeading
	}
	d.aircraft[ac.id] = ac
	d.lg.Info("spawned departure", slog.String("aircraft", string(ac.id)), slog.String("parking", p.Name),
		slog.String("size", size.String()))
	d.report(ac)
}

func (d *demoTraffic) spawnArrival() {
	bearing := d.rnd.Range(0, 360)
	ac := &demoAircraft{
		id:      d.newCallsign(),
		size:    d.randomSize(),
		pos:     math.Add2f(d.ap.Reference, math.Scale2f(math.HeadingVector(bearing), demoSpawnRadius)),
		alt:     5000,
		heading: math.OppositeHeading(bearing),
		speed:   demoCruiseSpeed,
	}
	d.aircraft[ac.id] = ac
	d.lg.Info("spawned arrival", slog.String("aircraft", string(ac.id)), slog.String("size", ac.size.String()))
	d.report(ac)
}

func (d *demoTraffic) report(ac *demoAircraft) {
	err := d.c.Ingest(sim.Telemetry{
		ID:       ac.id,
		Position: ac.pos,
		Altitude: ac.alt,
		Heading:  ac.heading,
		Velocity: math.Scale2f(math.HeadingVector(ac.heading), ac.speed),
		OnGround: ac.onGround,
		Size:     ac.size,
	})
	if err != nil {
		d.lg.Debug("telemetry not queued", slog.String("aircraft", string(ac.id)), slog.Any("error", err))
	}
}

func (d *demoTraffic) transition(ac *demoAircraft, ev atc.ClearanceEvent) bool {
	r := d.c.RequestTransition(ac.id, ev)
	if !r.Accepted {
		d.lg.Warn("demo transition rejected", slog.String("aircraft", string(ac.id)),
			slog.String("event", ev.String()), slog.String("reason", r.Reason.String()))
	}
	return r.Accepted
}

func (d *demoTraffic) retry(ac *demoAircraft, now time.Time, what string, err error) {
	ac.retryAt = now.Add(15 * time.Second)
	d.lg.Info("demo request failed", slog.String("aircraft", string(ac.id)), slog.String("request", what),
		slog.Any("error", err))
}

// advance moves the aircraft for one step according to its clearance.
func (d *demoTraffic) advance(ac *demoAircraft, st *sim.AircraftState, now time.Time, dt float32) {
	waiting := now.Before(ac.retryAt)

	switch st.Clearance.State {
	case atc.Idle:
		if !waiting && st.Operation == nil {
			if _, err := d.c.RequestDeparture(ac.id, ""); err != nil {
				d.retry(ac, now, "departure", err)
				return
			}
		}
		if st.Operation != nil {
			d.transition(ac, atc.RequestPushback)
		}

	case atc.PushbackRequested:
		d.transition(ac, atc.ApprovePushback)

	case atc.PushbackInProgress:
		ac.heading = math.OppositeHeading(ac.heading)
		d.transition(ac, atc.CompletePushback)

	case atc.TaxiToRunway, atc.TaxiToParking:
		if st.Route == nil {
			if st.Clearance.State == atc.TaxiToParking && !waiting {
				if _, err := d.c.PlanTaxiToParking(ac.id); err != nil {
					d.retry(ac, now, "parking", err)
				}
			}
			return
		}
		ac.waypoints = st.Route.Waypoints(d.ap)
		d.transition(ac, atc.BeginTaxi)

	case atc.TaxiingToRunway, atc.TaxiingToParking:
		if d.taxi(ac, st, dt) {
			ac.speed = 0
			if st.Clearance.State == atc.TaxiingToRunway {
				d.transition(ac, atc.ReachRunwayHold)
			} else {
				d.transition(ac, atc.ReachParking)
			}
		}

	case atc.HoldingAtRunway:
		ac.speed = 0

	case atc.TakeoffCleared:
		if rwy, ok := d.ap.Runway(st.Runway); ok {
			ac.pos, ac.heading = rwy.Threshold, rwy.Heading
		}
		d.transition(ac, atc.BeginTakeoffRoll)

	case atc.ExecutingTakeoff:
		ac.speed += 2.5 * dt
		d.move(ac, dt)
		if ac.speed >= demoRotateSpeed {
			ac.onGround = false
			d.transition(ac, atc.LiftOff)
		}

	case atc.Airborne:
		if ac.departure {
			ac.alt += 2000 * dt / 60
			ac.speed = min(ac.speed+dt, demoCruiseSpeed)
			d.fly(ac, st, ac.heading, dt)
			return
		}
		if !waiting && st.Operation == nil {
			if _, err := d.c.RequestArrival(ac.id, ""); err != nil {
				d.retry(ac, now, "arrival", err)
			}
		}
		d.flyArrival(ac, st, dt)

	case atc.ApproachCleared:
		rwy, ok := d.ap.Runway(st.Runway)
		if !ok {
			return
		}
		ac.speed = max(ac.speed-2*dt, 70)
		dist := math.Distance2f(ac.pos, rwy.Threshold)
		ac.alt = min(ac.alt, demoApproachAlt*dist/demoApproachFix)
		d.fly(ac, st, math.VectorHeading(math.Sub2f(rwy.Threshold, ac.pos)), dt)
		if dist < 150 {
			ac.pos, ac.heading, ac.alt, ac.onGround = rwy.Threshold, rwy.Heading, 0, true
			d.transition(ac, atc.Touchdown)
		}

	case atc.Landing:
		rwy, ok := d.ap.Runway(st.Runway)
		if !ok {
			return
		}
		exit := d.ap.Node(rwy.ExitNode).Position
		ac.speed = max(ac.speed-3*dt, demoTaxiSpeed)
		if d.moveToward(ac, exit, dt) {
			d.transition(ac, atc.VacateRunway)
		}

	case atc.ParkingArrived:
		ac.speed = 0
	}
}

// taxi moves the aircraft along its remaining taxi route and reports
// whether it has reached the end.
func (d *demoTraffic) taxi(ac *demoAircraft, st *sim.AircraftState, dt float32) bool {
	ac.speed = demoTaxiSpeed
	if m := st.Maneuver; m != nil {
		switch m.Kind {
		case conflict.Hold, conflict.GoAround:
			ac.speed = 0
			return false
		case conflict.SpeedChange:
			ac.speed = max(0, demoTaxiSpeed+m.SpeedDelta)
		}
	}

	for len(ac.waypoints) > 0 {
		if !d.moveToward(ac, ac.waypoints[0], dt) {
			return false
		}
		ac.waypoints = ac.waypoints[1:]
		dt = 0
	}
	return true
}

// moveToward moves the aircraft toward p at its current speed, stopping
// at p; it returns true if p has been reached.
func (d *demoTraffic) moveToward(ac *demoAircraft, p [2]float32, dt float32) bool {
	v := math.Sub2f(p, ac.pos)
	dist := math.Length2f(v)
	if dist < 1 {
		return true
	}
	ac.heading = math.VectorHeading(v)
	step := ac.speed * dt
	if step >= dist {
		ac.pos = p
		return true
	}
	ac.pos = math.Add2f(ac.pos, math.Scale2f(v, step/dist))
	return false
}

func (d *demoTraffic) move(ac *demoAircraft, dt float32) {
	ac.pos = math.Add2f(ac.pos, math.Scale2f(math.HeadingVector(ac.heading), ac.speed*dt))
}

// fly turns toward the target heading at the standard rate, applying any
// avoidance maneuver, and moves the aircraft.
func (d *demoTraffic) fly(ac *demoAircraft, st *sim.AircraftState, target float32, dt float32) {
	if m := st.Maneuver; m != nil {
		switch m.Kind {
		case conflict.TurnLeft, conflict.TurnRight:
			target += m.HeadingDelta
		case conflict.Climb, conflict.Descend:
			ac.alt = max(0, ac.alt+math.Clamp(m.AltitudeDelta, -1500*dt/60, 1500*dt/60))
		case conflict.SpeedChange:
			ac.speed = math.Clamp(ac.speed+m.SpeedDelta*dt, 60, demoCruiseSpeed)
		case conflict.GoAround:
			ac.alt += 1500 * dt / 60
		}
	}

	turn := math.HeadingSignedTurn(ac.heading, math.NormalizeHeading(target))
	maxTurn := float32(av.StandardTurnRate) * dt
	ac.heading = math.NormalizeHeading(ac.heading + math.Clamp(turn, -maxTurn, maxTurn))
	d.move(ac, dt)
}

// flyArrival flies an airborne arrival to the final approach fix, or
// around its holding pattern if one was assigned.
func (d *demoTraffic) flyArrival(ac *demoAircraft, st *sim.AircraftState, dt float32) {
	if st.Hold != nil {
		wp := st.Hold[ac.holdIndex%4]
		if math.Distance2f(ac.pos, wp.Position) < 500 {
			ac.holdIndex++
		}
		d.fly(ac, st, math.VectorHeading(math.Sub2f(wp.Position, ac.pos)), dt)
		return
	}

	rwy, ok := d.ap.Runway(st.Runway)
	if !ok {
		d.fly(ac, st, math.VectorHeading(math.Sub2f(d.ap.Reference, ac.pos)), dt)
		return
	}

	fix := math.Sub2f(rwy.Threshold, math.Scale2f(math.HeadingVector(rwy.Heading), demoApproachFix))
	if ac.alt > demoApproachAlt {
		ac.alt = max(demoApproachAlt, ac.alt-1500*dt/60)
	}
	if math.Distance2f(ac.pos, fix) < 1000 {
		// Orbit until the approach clearance arrives.
		d.fly(ac, st, ac.heading+90, dt)
		return
	}
	d.fly(ac, st, math.VectorHeading(math.Sub2f(fix, ac.pos)), dt)
}
