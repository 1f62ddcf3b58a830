// sim/coordinator_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"context"
	"errors"
	gomath "math"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/conflict"
	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/math"
	"github.com/mmp/groundctl/util"
)

func loadDemoAirport(t *testing.T) *av.Airport {
	t.Helper()
	f, err := os.Open("../resources/airports/kdemo.json")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var e util.ErrorLogger
	ap := av.LoadAirport(f, &e)
	if e.HaveErrors() {
		t.Fatalf("errors loading airport: %s", e.String())
	}
	return ap
}

// makeTestCoordinator returns a coordinator for the demo airport whose
// clock is stopped at the returned time; tests advance it by assigning
// through the pointer.
func makeTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *time.Time) {
	t.Helper()
	c, err := NewCoordinator(loadDemoAirport(t), cfg, log.NewDiscard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return now }
	return c, &now
}

func ground(id string, p [2]float32, hdg, speed float32, tm time.Time) Telemetry {
	return Telemetry{
		ID:       av.AircraftID(id),
		Position: p,
		Heading:  hdg,
		Velocity: math.Scale2f(math.HeadingVector(hdg), speed),
		OnGround: true,
		Size:     av.SizeMedium,
		Time:     tm,
	}
}

func airborne(id string, p [2]float32, hdg, speed, alt float32, tm time.Time) Telemetry {
	t := ground(id, p, hdg, speed, tm)
	t.OnGround = false
	t.Altitude = alt
	return t
}

func apply(t *testing.T, c *Coordinator, tel Telemetry) {
	t.Helper()
	if err := c.ApplyTelemetry(tel); err != nil {
		t.Fatalf("%s: %v", tel.ID, err)
	}
}

func transition(t *testing.T, c *Coordinator, id string, events ...atc.ClearanceEvent) {
	t.Helper()
	for _, ev := range events {
		if r := c.RequestTransition(av.AircraftID(id), ev); !r.Accepted {
			t.Fatalf("%s: %s: %s", id, ev, r)
		}
	}
}

func clearanceState(t *testing.T, c *Coordinator, id string) atc.ClearanceState {
	t.Helper()
	ac, ok := c.Aircraft(av.AircraftID(id))
	if !ok {
		t.Fatalf("%s: aircraft not found", id)
	}
	return ac.Clearance.State
}

var toHoldShort = []atc.ClearanceEvent{atc.RequestPushback, atc.ApprovePushback, atc.CompletePushback,
	atc.BeginTaxi, atc.ReachRunwayHold}

func countEvents(events []Event, ty EventType, id string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == ty && (id == "" || ev.Aircraft == av.AircraftID(id)) {
			n++
		}
	}
	return n
}

func findEvent(events []Event, ty EventType, id string) (Event, bool) {
	for _, ev := range events {
		if ev.Type == ty && ev.Aircraft == av.AircraftID(id) {
			return ev, true
		}
	}
	return Event{}, false
}

func TestNewCoordinatorValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FastTickPeriod = 0
	if _, err := NewCoordinator(loadDemoAirport(t), cfg, log.NewDiscard()); err == nil {
		t.Errorf("expected error for zero fast tick period")
	}
	if _, err := NewCoordinator(nil, DefaultConfig(), log.NewDiscard()); err == nil {
		t.Errorf("expected error for missing airport")
	}
}

func TestApplyTelemetry(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())

	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))
	apply(t, c, airborne("UAL1", [2]float32{8000, 0}, 270, 80, 3000, *now))

	ac, _ := c.Aircraft("DAL1")
	if ac.Clearance.State != atc.Idle {
		t.Errorf("ground aircraft state: got %s, expected %s", ac.Clearance.State, atc.Idle)
	}
	if ac.Radius != 20 {
		t.Errorf("default medium radius: got %.1f, expected 20", ac.Radius)
	}
	if s := clearanceState(t, c, "UAL1"); s != atc.Airborne {
		t.Errorf("airborne aircraft state: got %s, expected %s", s, atc.Airborne)
	}

	// Later report moves the aircraft; an earlier one is ignored.
	apply(t, c, ground("DAL1", [2]float32{-150, 550}, 180, 2, now.Add(time.Second)))
	apply(t, c, ground("DAL1", [2]float32{0, 0}, 180, 2, now.Add(-time.Second)))
	ac, _ = c.Aircraft("DAL1")
	if ac.Position != [2]float32{-150, 550} {
		t.Errorf("position: got %v, expected [-150 550]", ac.Position)
	}

	tel := ground("BAD1", [2]float32{float32(gomath.NaN()), 0}, 0, 0, *now)
	if err := c.ApplyTelemetry(tel); !errors.Is(err, ErrInvalidTelemetry) {
		t.Errorf("NaN position: got %v, expected ErrInvalidTelemetry", err)
	}
	tel = ground("BAD2", [2]float32{0, 0}, 0, 0, *now)
	tel.Size = av.SizeClass(12)
	if err := c.ApplyTelemetry(tel); !errors.Is(err, av.ErrInvalidSizeClass) {
		t.Errorf("bad size: got %v, expected ErrInvalidSizeClass", err)
	}
	if err := c.ApplyTelemetry(Telemetry{Size: av.SizeLight}); !errors.Is(err, ErrInvalidTelemetry) {
		t.Errorf("missing ID: got %v, expected ErrInvalidTelemetry", err)
	}

	if ids := c.AircraftIDs(); !slices.Equal(ids, []av.AircraftID{"DAL1", "UAL1"}) {
		t.Errorf("aircraft: got %v, expected [DAL1 UAL1]", ids)
	}
}

func TestRequestTransition(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	sub := c.Subscribe()
	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))

	transition(t, c, "DAL1", toHoldShort...)
	if s := clearanceState(t, c, "DAL1"); s != atc.HoldingAtRunway {
		t.Errorf("got state %s, expected %s", s, atc.HoldingAtRunway)
	}

	for _, test := range []struct {
		id     string
		ev     atc.ClearanceEvent
		reason atc.RejectReason
	}{
		{"DAL1", atc.ClearTakeoff, atc.RejectSequencerControlled},
		{"DAL1", atc.ClearApproach, atc.RejectSequencerControlled},
		{"DAL1", atc.LiftOff, atc.RejectIllegalTransition},
		{"DAL1", atc.ClearanceEvent(99), atc.RejectUnknownEvent},
		{"NOPE", atc.RequestPushback, atc.RejectUnknownAircraft},
	} {
		r := c.RequestTransition(av.AircraftID(test.id), test.ev)
		if r.Accepted {
			t.Errorf("%s %s: unexpectedly accepted", test.id, test.ev)
		} else if r.Reason != test.reason {
			t.Errorf("%s %s: got reason %s, expected %s", test.id, test.ev, r.Reason, test.reason)
		}
	}
	if s := clearanceState(t, c, "DAL1"); s != atc.HoldingAtRunway {
		t.Errorf("rejections changed state to %s", s)
	}

	events := sub.Get()
	if n := countEvents(events, ClearanceTransitionEvent, "DAL1"); n != len(toHoldShort) {
		t.Errorf("transition events: got %d, expected %d", n, len(toHoldShort))
	}
	if n := countEvents(events, ClearanceRejectedEvent, ""); n != 5 {
		t.Errorf("rejection events: got %d, expected 5", n)
	}
}

func TestDepartureFlow(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	sub := c.Subscribe()
	if err := c.SetWind(270, 10); err != nil {
		t.Fatal(err)
	}
	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))

	plan, err := c.RequestDeparture("DAL1", "")
	if err != nil {
		t.Fatal(err)
	}
	if plan.Runway.Runway != "27" {
		t.Errorf("runway: got %q, expected 27", plan.Runway.Runway)
	}
	if plan.SID == nil || plan.SID.Name != "WEST1" {
		t.Errorf("SID: got %v, expected WEST1", plan.SID)
	}
	names := plan.Route.NodeNames(c.Airport())
	if len(names) < 2 || names[0] != "G1" || names[len(names)-1] != "H27" {
		t.Errorf("route: got %v, expected G1 ... H27", names)
	}

	if _, err := c.RequestDeparture("DAL1", ""); !errors.Is(err, atc.ErrAlreadyQueued) {
		t.Errorf("second request: got %v, expected ErrAlreadyQueued", err)
	}

	ac, _ := c.Aircraft("DAL1")
	if ac.Runway != "27" || ac.Clearance.AssignedRunway != "27" {
		t.Errorf("aircraft runway: got %q/%q, expected 27", ac.Runway, ac.Clearance.AssignedRunway)
	}
	if ac.Route == nil || ac.Operation == nil || *ac.Operation != atc.Departure {
		t.Errorf("route and operation not recorded: %v %v", ac.Route, ac.Operation)
	}

	// Sequenced, but not cleared until holding short.
	r := c.SlowTick(*now)
	if !slices.Equal(r.Enqueued, []av.AircraftID{"DAL1"}) {
		t.Errorf("enqueued: got %v, expected [DAL1]", r.Enqueued)
	}
	if len(r.Granted) != 0 {
		t.Errorf("granted %v before reaching the runway", r.Granted)
	}

	transition(t, c, "DAL1", toHoldShort...)
	r = c.SlowTick(*now)
	if len(r.Granted) != 1 || r.Granted[0].Aircraft != "DAL1" || r.Granted[0].Runway != "27" {
		t.Fatalf("granted: got %v, expected DAL1 on 27", r.Granted)
	}
	if s := clearanceState(t, c, "DAL1"); s != atc.TakeoffCleared {
		t.Errorf("got state %s, expected %s", s, atc.TakeoffCleared)
	}

	events := sub.Get()
	for _, ty := range []EventType{RunwayAssignedEvent, RouteAssignedEvent, SequencedEvent, ClearanceGrantedEvent} {
		if countEvents(events, ty, "DAL1") != 1 {
			t.Errorf("expected one %s event", ty)
		}
	}
	if ev, ok := findEvent(events, RequestFailedEvent, "DAL1"); !ok || ev.Reason != FailureInvalidRequest {
		t.Errorf("duplicate request: got %v, expected %s failure", ev, FailureInvalidRequest)
	}

	transition(t, c, "DAL1", atc.BeginTakeoffRoll, atc.LiftOff)
	ac, _ = c.Aircraft("DAL1")
	if ac.Route != nil || ac.Operation != nil {
		t.Errorf("route and operation should be cleared after liftoff")
	}
}

func TestRequestDepartureErrors(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))
	apply(t, c, airborne("UAL1", [2]float32{8000, 0}, 270, 80, 3000, *now))

	if _, err := c.RequestDeparture("UAL1", ""); !errors.Is(err, ErrAircraftAirborne) {
		t.Errorf("airborne: got %v, expected ErrAircraftAirborne", err)
	}
	if _, err := c.RequestDeparture("NOPE", ""); FailureFor(err) != FailureUnknownAircraft {
		t.Errorf("unknown: got %v, expected unknown aircraft", err)
	}
	if _, err := c.RequestDeparture("DAL1", "18"); !errors.Is(err, av.ErrUnknownRunway) {
		t.Errorf("unknown runway: got %v, expected ErrUnknownRunway", err)
	}

	// A strong tailwind rules out the requested runway.
	if err := c.SetWind(90, 15); err != nil {
		t.Fatal(err)
	}
	_, err := c.RequestDeparture("DAL1", "27")
	if FailureFor(err) != FailureNoRunway {
		t.Errorf("tailwind: got %v, expected %s", err, FailureNoRunway)
	}
	plan, err := c.RequestDeparture("DAL1", "09")
	if err != nil || plan.Runway.Runway != "09" {
		t.Errorf("requested 09: got %v %v", plan.Runway, err)
	}
	ac, _ := c.Aircraft("DAL1")
	if ac.Clearance.RequestedRunway != "09" {
		t.Errorf("requested runway: got %q, expected 09", ac.Clearance.RequestedRunway)
	}
}

func TestDepartureSpacing(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	start := *now

	apply(t, c, ground("A", [2]float32{-150, 600}, 180, 0, *now))
	apply(t, c, ground("B", [2]float32{-50, 600}, 180, 0, *now))
	for _, id := range []string{"A", "B"} {
		if _, err := c.RequestDeparture(av.AircraftID(id), "27"); err != nil {
			t.Fatal(err)
		}
		transition(t, c, id, toHoldShort...)
	}

	for _, step := range []struct {
		dt      time.Duration
		granted []av.AircraftID
	}{
		{0, []av.AircraftID{"A"}},
		{30 * time.Second, nil},
		{89 * time.Second, nil},
		{90 * time.Second, []av.AircraftID{"B"}},
	} {
		*now = start.Add(step.dt)
		r := c.SlowTick(*now)
		got := util.MapSlice(r.Granted, func(g Grant) av.AircraftID { return g.Aircraft })
		if !slices.Equal(got, step.granted) {
			t.Errorf("%s: granted %v, expected %v", step.dt, got, step.granted)
		}
	}
}

// A departure and an arrival on the same runway are released in request
// order and spaced by the arrival interval.
func TestMixedRunwaySequencing(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	start := *now

	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))
	if _, err := c.RequestDeparture("DAL1", "27"); err != nil {
		t.Fatal(err)
	}
	transition(t, c, "DAL1", toHoldShort...)
	apply(t, c, airborne("UAL1", [2]float32{8000, 0}, 270, 80, 3000, *now))
	if _, err := c.RequestArrival("UAL1", "27"); err != nil {
		t.Fatal(err)
	}

	for _, step := range []struct {
		dt      time.Duration
		granted []av.AircraftID
	}{
		{0, []av.AircraftID{"DAL1"}},
		{90 * time.Second, nil},
		{119 * time.Second, nil},
		{120 * time.Second, []av.AircraftID{"UAL1"}},
	} {
		*now = start.Add(step.dt)
		apply(t, c, airborne("UAL1", [2]float32{8000, 0}, 270, 80, 3000, *now))
		r := c.SlowTick(*now)
		got := util.MapSlice(r.Granted, func(g Grant) av.AircraftID { return g.Aircraft })
		if !slices.Equal(got, step.granted) {
			t.Errorf("%s: granted %v, expected %v", step.dt, got, step.granted)
		}
	}
}

func TestRunwayOccupied(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())

	apply(t, c, ground("A", [2]float32{-150, 600}, 180, 0, *now))
	if _, err := c.RequestDeparture("A", "27"); err != nil {
		t.Fatal(err)
	}
	transition(t, c, "A", toHoldShort...)

	// B is stopped on the other end of the same runway.
	apply(t, c, ground("B", [2]float32{-1000, 5}, 90, 0, *now))
	if r := c.SlowTick(*now); len(r.Granted) != 0 {
		t.Errorf("takeoff granted with runway occupied: %v", r.Granted)
	}

	apply(t, c, ground("B", [2]float32{-700, 300}, 0, 0, *now))
	if r := c.SlowTick(*now); len(r.Granted) != 1 {
		t.Errorf("takeoff not granted after runway vacated")
	}
}

// land brings an airborne aircraft through the approach sequence to
// touchdown on the given runway.
func land(t *testing.T, c *Coordinator, now time.Time, id string, size av.SizeClass, runway string) {
	t.Helper()
	tel := airborne(id, [2]float32{0, 2000}, 270, 80, 3000, now)
	tel.Size = size
	apply(t, c, tel)
	if _, err := c.RequestArrival(av.AircraftID(id), runway); err != nil {
		t.Fatalf("%s: %v", id, err)
	}
	c.SlowTick(now)
	transition(t, c, id, atc.Touchdown)

	tel = ground(id, [2]float32{0, 0}, 270, 20, now)
	tel.Size = size
	apply(t, c, tel)
}

func TestArrivalFlow(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	start := *now
	sub := c.Subscribe()
	if err := c.SetWind(270, 10); err != nil {
		t.Fatal(err)
	}

	apply(t, c, airborne("UAL1", [2]float32{8000, 0}, 270, 80, 3000, *now))
	apply(t, c, airborne("UAL2", [2]float32{12000, 3000}, 270, 100, 5000, *now))

	p1, err := c.RequestArrival("UAL1", "")
	if err != nil {
		t.Fatal(err)
	}
	if p1.Runway.Runway != "27" || p1.STAR == nil || p1.STAR.Name != "DEMO2" {
		t.Errorf("first arrival: got runway %q STAR %v, expected 27 DEMO2", p1.Runway.Runway, p1.STAR)
	}
	if p1.Hold != nil {
		t.Errorf("first arrival should not hold")
	}

	p2, err := c.RequestArrival("UAL2", "")
	if err != nil {
		t.Fatal(err)
	}
	if p2.Hold == nil {
		t.Fatalf("second arrival should be sent to the hold")
	}
	if d := math.Distance2f(p2.Hold[0].Position, [2]float32{12000, 3000}); d > 1 {
		t.Errorf("hold entry: got %v, expected the HOLDE fix", p2.Hold[0].Position)
	}

	r := c.SlowTick(*now)
	if !slices.Equal(r.Enqueued, []av.AircraftID{"UAL1", "UAL2"}) {
		t.Errorf("enqueued: got %v, expected [UAL1 UAL2]", r.Enqueued)
	}
	if len(r.Granted) != 1 || r.Granted[0].Aircraft != "UAL1" || r.Granted[0].Operation != atc.Arrival {
		t.Fatalf("granted: got %v, expected UAL1 arrival", r.Granted)
	}
	if s := clearanceState(t, c, "UAL1"); s != atc.ApproachCleared {
		t.Errorf("got state %s, expected %s", s, atc.ApproachCleared)
	}

	// Land and taxi in from the runway exit.
	transition(t, c, "UAL1", atc.Touchdown)
	apply(t, c, ground("UAL1", [2]float32{-500, 0}, 270, 20, *now))
	plan, err := c.PlanTaxiToParking("UAL1")
	if err != nil {
		t.Fatal(err)
	}
	names := plan.Route.NodeNames(c.Airport())
	if len(names) == 0 || names[0] != "X27" || names[len(names)-1] != plan.Parking {
		t.Errorf("parking route: got %v to %q, expected X27 ... %s", names, plan.Parking, plan.Parking)
	}
	transition(t, c, "UAL1", atc.VacateRunway, atc.BeginTaxi, atc.ReachParking)

	r = c.SlowTick(*now)
	if !slices.Contains(r.Evicted, "UAL1") {
		t.Errorf("parked aircraft not evicted: %v", r.Evicted)
	}

	*now = start.Add(2 * time.Minute)
	apply(t, c, airborne("UAL2", [2]float32{12000, 3000}, 270, 100, 5000, *now))
	r = c.SlowTick(*now)
	if len(r.Granted) != 1 || r.Granted[0].Aircraft != "UAL2" {
		t.Fatalf("granted: got %v, expected UAL2", r.Granted)
	}
	ac, _ := c.Aircraft("UAL2")
	if ac.Hold != nil {
		t.Errorf("hold should be cleared with the approach clearance")
	}

	events := sub.Get()
	if n := countEvents(events, HoldAssignedEvent, "UAL2"); n != 1 {
		t.Errorf("hold events: got %d, expected 1", n)
	}
	if n := countEvents(events, ClearanceGrantedEvent, ""); n != 2 {
		t.Errorf("grant events: got %d, expected 2", n)
	}
}

func TestRequestArrivalErrors(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))
	apply(t, c, airborne("UAL1", [2]float32{8000, 0}, 270, 80, 3000, *now))

	if _, err := c.RequestArrival("DAL1", ""); !errors.Is(err, ErrAircraftOnGround) {
		t.Errorf("on ground: got %v, expected ErrAircraftOnGround", err)
	}
	if _, err := c.RequestArrival("UAL1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RequestArrival("UAL1", ""); !errors.Is(err, atc.ErrAlreadyQueued) {
		t.Errorf("second request: got %v, expected ErrAlreadyQueued", err)
	}
	if _, err := c.PlanTaxiToParking("DAL1"); !errors.Is(err, ErrInvalidClearance) {
		t.Errorf("parking before landing: got %v, expected ErrInvalidClearance", err)
	}
}

func TestParkingAssignment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sequencer.ArrivalInterval = 0
	c, now := makeTestCoordinator(t, cfg)
	sub := c.Subscribe()

	land(t, c, *now, "SUP1", av.SizeSuper, "27")
	land(t, c, *now, "SUP2", av.SizeSuper, "09")

	plan, err := c.PlanTaxiToParking("SUP1")
	if err != nil {
		t.Fatal(err)
	}
	if plan.Parking != "R1" {
		t.Errorf("super parking: got %q, expected R1", plan.Parking)
	}

	if _, err := c.PlanTaxiToParking("SUP2"); !errors.Is(err, av.ErrNoParking) {
		t.Errorf("second super: got %v, expected ErrNoParking", err)
	}
	if ev, ok := findEvent(sub.Get(), RequestFailedEvent, "SUP2"); !ok || ev.Reason != FailureNoParking {
		t.Errorf("failure event: got %v, expected %s", ev, FailureNoParking)
	}

	// Medium aircraft can use the gates.
	land(t, c, *now, "MED1", av.SizeMedium, "27")
	plan, err = c.PlanTaxiToParking("MED1")
	if err != nil {
		t.Fatal(err)
	}
	if plan.Parking == "R1" || plan.Parking == "" {
		t.Errorf("medium parking: got %q, expected a gate", plan.Parking)
	}
}

func TestFastTickResolves(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	sub := c.Subscribe()

	apply(t, c, ground("A", [2]float32{-200, 250}, 90, 10, *now))
	apply(t, c, ground("B", [2]float32{200, 250}, 270, 10, *now))

	r := c.FastTick(*now)
	if r.Tracks != 2 {
		t.Errorf("tracks: got %d, expected 2", r.Tracks)
	}
	if len(r.Prediction.Alerts) != 1 || r.Prediction.Alerts[0].Type != conflict.HeadOn {
		t.Fatalf("alerts: got %v, expected one head-on", r.Prediction.Alerts)
	}
	if len(r.Resolution.Maneuvers) == 0 {
		t.Fatalf("no maneuvers assigned")
	}
	for id, m := range r.Resolution.Maneuvers {
		if m.Kind == conflict.ManeuverNone {
			t.Errorf("%s: assigned no maneuver", id)
		}
		ac, _ := c.Aircraft(id)
		if ac.Maneuver == nil || ac.Maneuver.Kind != m.Kind {
			t.Errorf("%s: recorded maneuver %v, expected %s", id, ac.Maneuver, m)
		}
	}

	events := sub.Get()
	if n := countEvents(events, ConflictAlertEvent, ""); n != 1 {
		t.Errorf("alert events: got %d, expected 1", n)
	}
	if n := countEvents(events, ManeuverAssignedEvent, ""); n != len(r.Resolution.Maneuvers) {
		t.Errorf("maneuver events: got %d, expected %d", n, len(r.Resolution.Maneuvers))
	}

	// Nothing new to report for the same situation.
	c.FastTick(*now)
	events = sub.Get()
	if n := countEvents(events, ConflictAlertEvent, "") + countEvents(events, ManeuverAssignedEvent, ""); n != 0 {
		t.Errorf("repeated tick posted %d alert/maneuver events", n)
	}

	apply(t, c, ground("B", [2]float32{200, 800}, 270, 0, *now))
	r = c.FastTick(*now)
	if len(r.Prediction.Alerts) != 0 {
		t.Errorf("alerts after separation: %v", r.Prediction.Alerts)
	}
	if ac, _ := c.Aircraft("A"); ac.Maneuver != nil {
		t.Errorf("maneuver not cleared: %v", ac.Maneuver)
	}

	st := c.Stats()
	if st.FastTicks != 3 {
		t.Errorf("fast ticks: got %d, expected 3", st.FastTicks)
	}
	if st.LastAlerts != 0 {
		t.Errorf("last alerts: got %d, expected 0", st.LastAlerts)
	}
}

func TestStaleTelemetry(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	sub := c.Subscribe()
	apply(t, c, ground("A", [2]float32{-150, 600}, 180, 0, *now))
	apply(t, c, ground("B", [2]float32{-50, 600}, 180, 0, *now))

	*now = now.Add(6 * time.Second)
	apply(t, c, ground("B", [2]float32{-50, 600}, 180, 0, *now))

	r := c.FastTick(*now)
	if !slices.Equal(r.Stale, []av.AircraftID{"A"}) {
		t.Errorf("stale: got %v, expected [A]", r.Stale)
	}
	if r.Tracks != 1 {
		t.Errorf("tracks: got %d, expected 1", r.Tracks)
	}
	if countEvents(sub.Get(), StaleTelemetryEvent, "A") != 1 {
		t.Errorf("expected a stale telemetry event for A")
	}
	if _, err := c.RequestDeparture("A", ""); !errors.Is(err, ErrStaleTelemetry) {
		t.Errorf("stale departure request: got %v, expected ErrStaleTelemetry", err)
	}
	if st := c.Stats(); st.StaleAircraft != 1 {
		t.Errorf("stale aircraft: got %d, expected 1", st.StaleAircraft)
	}

	apply(t, c, ground("A", [2]float32{-150, 600}, 180, 0, *now))
	if ac, _ := c.Aircraft("A"); ac.Stale {
		t.Errorf("aircraft still stale after new telemetry")
	}
	if r := c.FastTick(*now); len(r.Stale) != 0 || r.Tracks != 2 {
		t.Errorf("after recovery: stale %v, tracks %d", r.Stale, r.Tracks)
	}
}

func TestEviction(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	sub := c.Subscribe()

	apply(t, c, ground("SILENT", [2]float32{-150, 600}, 180, 0, *now))
	*now = now.Add(3 * time.Minute)
	apply(t, c, airborne("GONE", [2]float32{30000, 0}, 90, 100, 5000, *now))
	apply(t, c, ground("KEEP", [2]float32{-50, 600}, 180, 0, *now))
	apply(t, c, ground("DISC", [2]float32{50, 600}, 180, 0, *now))

	if _, err := c.RequestDeparture("DISC", ""); err != nil {
		t.Fatal(err)
	}
	if !c.Disconnect("DISC") {
		t.Errorf("disconnect of known aircraft failed")
	}
	if c.Disconnect("DISC") {
		t.Errorf("second disconnect succeeded")
	}

	r := c.SlowTick(*now)
	if len(r.Enqueued) != 0 {
		t.Errorf("disconnected aircraft was enqueued: %v", r.Enqueued)
	}
	if !slices.Equal(r.Evicted, []av.AircraftID{"GONE", "SILENT"}) {
		t.Errorf("evicted: got %v, expected [GONE SILENT]", r.Evicted)
	}
	if ids := c.AircraftIDs(); !slices.Equal(ids, []av.AircraftID{"KEEP"}) {
		t.Errorf("remaining: got %v, expected [KEEP]", ids)
	}
	if n := countEvents(sub.Get(), AircraftEvictedEvent, ""); n != 3 {
		t.Errorf("eviction events: got %d, expected 3", n)
	}
	if st := c.Stats(); st.Evictions != 3 {
		t.Errorf("evictions: got %d, expected 3", st.Evictions)
	}
}

func TestHoldAircraft(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	apply(t, c, airborne("UAL1", [2]float32{8000, 0}, 270, 100, 5000, *now))
	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))

	fix := [2]float32{10000, 2000}
	pattern, err := c.HoldAircraft("UAL1", fix, 270, time.Minute, av.TurnRight)
	if err != nil {
		t.Fatal(err)
	}
	if pattern[0].Position != fix {
		t.Errorf("entry: got %v, expected %v", pattern[0].Position, fix)
	}
	if ac, _ := c.Aircraft("UAL1"); ac.Hold == nil || *ac.Hold != pattern {
		t.Errorf("hold not recorded")
	}

	if _, err := c.HoldAircraft("DAL1", fix, 270, time.Minute, av.TurnRight); !errors.Is(err, ErrAircraftOnGround) {
		t.Errorf("ground hold: got %v, expected ErrAircraftOnGround", err)
	}
}

func TestFindRoute(t *testing.T) {
	c, _ := makeTestCoordinator(t, DefaultConfig())

	rt, err := c.FindRoute("G1", "H09", 0)
	if err != nil {
		t.Fatal(err)
	}
	if names := rt.NodeNames(c.Airport()); names[0] != "G1" || names[len(names)-1] != "H09" {
		t.Errorf("route: got %v", names)
	}
	if rt.Time <= 0 || rt.Distance <= 0 {
		t.Errorf("route time %f distance %f should be positive", rt.Time, rt.Distance)
	}

	if _, err := c.FindRoute("G1", "ZZZ", 10); !errors.Is(err, av.ErrUnknownNode) {
		t.Errorf("unknown node: got %v, expected ErrUnknownNode", err)
	}
}

func TestSetWind(t *testing.T) {
	c, _ := makeTestCoordinator(t, DefaultConfig())

	if err := c.SetWind(-90, 12); err != nil {
		t.Fatal(err)
	}
	if w := c.Wind(); w.Direction != 270 || w.Speed != 12 {
		t.Errorf("wind: got %v, expected 270 at 12", w)
	}
	for _, w := range [][2]float32{{0, -1}, {float32(gomath.NaN()), 5}, {90, math.Infinity}} {
		if err := c.SetWind(w[0], w[1]); err == nil {
			t.Errorf("%v: expected error", w)
		}
	}
}

func TestIngestQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TelemetryQueueSize = 2
	c, now := makeTestCoordinator(t, cfg)

	for i, id := range []string{"A", "B", "C"} {
		err := c.Ingest(ground(id, [2]float32{0, 600}, 0, 0, *now))
		if i < 2 && err != nil {
			t.Errorf("%s: unexpected error %v", id, err)
		} else if i == 2 && !errors.Is(err, ErrTelemetryQueueFull) {
			t.Errorf("%s: got %v, expected ErrTelemetryQueueFull", id, err)
		}
	}
	if st := c.Stats(); st.TelemetryDropped != 1 {
		t.Errorf("dropped: got %d, expected 1", st.TelemetryDropped)
	}
}

func TestRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FastTickPeriod = util.Duration(10 * time.Millisecond)
	cfg.FastTickBudget = util.Duration(10 * time.Millisecond)
	cfg.SlowTickPeriod = util.Duration(20 * time.Millisecond)
	c, err := NewCoordinator(loadDemoAirport(t), cfg, log.NewDiscard())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	tel := ground("A", [2]float32{-150, 600}, 180, 0, time.Time{})
	if err := c.Ingest(tel); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st := c.Stats()
		if st.Aircraft == 1 && st.FastTicks > 0 && st.SlowTicks > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("coordinator did not process telemetry and tick: %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: got %v, expected nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}

func TestFailureFor(t *testing.T) {
	for _, test := range []struct {
		err    error
		reason FailureReason
	}{
		{nil, FailureNone},
		{ErrNoRoute, FailureNoPath},
		{atc.ErrNoAcceptableRunway, FailureNoRunway},
		{av.ErrNoParking, FailureNoParking},
		{ErrUnknownAircraft, FailureUnknownAircraft},
		{ErrStaleTelemetry, FailureStaleTelemetry},
		{ErrInvalidClearance, FailureInvalidRequest},
	} {
		if r := FailureFor(test.err); r != test.reason {
			t.Errorf("%v: got %s, expected %s", test.err, r, test.reason)
		}
	}

	var r FailureReason
	if err := r.UnmarshalText([]byte("no_parking")); err != nil || r != FailureNoParking {
		t.Errorf("UnmarshalText: got %s %v, expected no_parking", r, err)
	}
	if err := r.UnmarshalText([]byte("bogus")); err == nil {
		t.Errorf("expected error for unknown reason")
	}
}
