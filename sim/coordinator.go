// sim/coordinator.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package sim implements the operation coordinator: it owns the state of
// every aircraft at the airport, applies telemetry, and drives conflict
// resolution and runway sequencing on periodic ticks.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/conflict"
	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/math"
	"github.com/mmp/groundctl/taxi"
	"github.com/mmp/groundctl/util"

	"github.com/brunoga/deep"
	"github.com/goforj/godump"
)

type Wind struct {
	Direction float32   `json:"direction"` // degrees true, the direction it blows from
	Speed     float32   `json:"speed"`     // knots
	Time      time.Time `json:"time,omitzero"`
}

// admission is a request for runway sequencing that is waiting for the
// next slow tick.
type admission struct {
	op     atc.Operation
	id     av.AircraftID
	runway string
	time   time.Time
}

// Number of fast ticks averaged for Stats.MeanFastTick.
const recentFastTicks = 100

// Coordinator is the single owner of aircraft state. All mutation of
// aircraft and clearance records happens under mu; the runway queues are
// owned by the Sequencer and the airport is read-only.
type Coordinator struct {
	mu util.LoggingMutex

	ap        *av.Airport
	config    Config
	router    *taxi.Router
	sequencer *atc.Sequencer
	events    *EventStream
	lg        *log.Logger

	aircraft   map[av.AircraftID]*AircraftState
	wind       Wind
	pending    []admission
	lastAlerts []conflict.Alert
	stats      Stats
	// Durations of the most recent fast ticks.
	fastTickTimes *util.RingBuffer[time.Duration]

	telemetry        chan Telemetry
	telemetryDropped atomic.Int64

	clock func() time.Time
}

func NewCoordinator(ap *av.Airport, cfg Config, lg *log.Logger) (*Coordinator, error) {
	if ap == nil {
		return nil, errors.New("no airport provided")
	}

	var e util.ErrorLogger
	cfg.Validate(&e)
	if e.HaveErrors() {
		return nil, e.Err()
	}

	lg = lg.With(slog.String("airport", ap.ICAO))
	c := &Coordinator{
		ap:            ap,
		config:        cfg,
		router:        taxi.NewRouter(ap, cfg.RouteCacheSize, cfg.RouteCacheTTL.D(), lg),
		sequencer:     atc.NewSequencer(cfg.Sequencer, lg),
		events:        NewEventStream(lg),
		lg:            lg,
		aircraft:      make(map[av.AircraftID]*AircraftState),
		fastTickTimes: util.NewRingBuffer[time.Duration](recentFastTicks),
		telemetry:     make(chan Telemetry, cfg.TelemetryQueueSize),
		clock:         time.Now,
	}
	c.stats.Start = c.clock()
	return c, nil
}

// Close releases the coordinator's event stream.
func (c *Coordinator) Close() {
	c.events.Destroy()
}

func (c *Coordinator) Airport() *av.Airport { return c.ap }

func (c *Coordinator) Config() Config { return c.config }

func (c *Coordinator) Router() *taxi.Router { return c.router }

// Subscribe returns a new subscription to the coordinator's events.
func (c *Coordinator) Subscribe() *EventsSubscription {
	return c.events.Subscribe()
}

func (c *Coordinator) post(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = c.clock()
	}
	c.events.Post(ev)
}

// fail logs and posts a request that could not be satisfied.
func (c *Coordinator) fail(id av.AircraftID, request string, err error) {
	reason := FailureFor(err)
	c.lg.Info("request failed", slog.String("aircraft", string(id)), slog.String("request", request),
		slog.String("reason", reason.String()), slog.Any("error", err))
	c.post(Event{Type: RequestFailedEvent, Aircraft: id, Reason: reason, Message: request + ": " + err.Error()})
}

func (c *Coordinator) get(id av.AircraftID) (*AircraftState, error) {
	if ac, ok := c.aircraft[id]; ok {
		return ac, nil
	}
	return nil, fmt.Errorf("%s: %w", id, ErrUnknownAircraft)
}

///////////////////////////////////////////////////////////////////////////
// Telemetry

// Ingest queues a telemetry report to be applied by the ingestion task
// started by Run. It never blocks: if the queue is full the report is
// dropped and ErrTelemetryQueueFull is returned.
func (c *Coordinator) Ingest(t Telemetry) error {
	select {
	case c.telemetry <- t:
		return nil
	default:
		if n := c.telemetryDropped.Add(1); n == 1 || n%100 == 0 {
			c.lg.Warn("telemetry queue full", slog.String("aircraft", string(t.ID)), slog.Int64("dropped", n))
		}
		return ErrTelemetryQueueFull
	}
}

// ApplyTelemetry updates the aircraft's state from t, creating its
// record if this is the first report for it. Reports older than the
// latest one applied are ignored.
func (c *Coordinator) ApplyTelemetry(t Telemetry) error {
	if err := t.validate(); err != nil {
		return err
	}
	if t.Time.IsZero() {
		t.Time = c.clock()
	}

	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	ac, ok := c.aircraft[t.ID]
	if !ok {
		ac = &AircraftState{
			ID:        t.ID,
			Clearance: atc.NewClearanceRecord(t.ID, !t.OnGround, t.Time),
		}
		c.aircraft[t.ID] = ac
		c.lg.Info("new aircraft", slog.String("aircraft", string(t.ID)), slog.Bool("on_ground", t.OnGround),
			slog.String("size", t.Size.String()))
	} else if t.Time.Before(ac.LastTelemetry) {
		c.lg.Debug("out of order telemetry", slog.String("aircraft", string(t.ID)),
			slog.Time("time", t.Time), slog.Time("last", ac.LastTelemetry))
		return nil
	}

	if ac.Stale {
		c.lg.Info("telemetry resumed", slog.String("aircraft", string(t.ID)),
			slog.Duration("gap", t.Time.Sub(ac.LastTelemetry)))
	}

	radius := util.Select(t.Radius > 0, t.Radius, c.config.performance(t.Size).Radius)
	ac.update(t, radius)
	ac.advanceRoute(c.ap, c.config.NodeCaptureRadius)
	c.stats.TelemetryApplied++

	return nil
}

// Disconnect removes the aircraft and any runway sequencing for it.
func (c *Coordinator) Disconnect(id av.AircraftID) bool {
	c.mu.Lock(c.lg)
	ok := c.evict(id)
	c.mu.Unlock(c.lg)

	if ok {
		c.lg.Info("aircraft disconnected", slog.String("aircraft", string(id)))
		c.post(Event{Type: AircraftEvictedEvent, Aircraft: id, Message: "disconnected"})
	}
	return ok
}

// evict must be called with mu held.
func (c *Coordinator) evict(id av.AircraftID) bool {
	if _, ok := c.aircraft[id]; !ok {
		return false
	}
	delete(c.aircraft, id)
	c.sequencer.Remove(id)
	c.pending = slices.DeleteFunc(c.pending, func(a admission) bool { return a.id == id })
	c.stats.Evictions++
	return true
}

// SetWind records the current wind observation, used for subsequent
// runway assignments.
func (c *Coordinator) SetWind(direction, speed float32) error {
	if math.IsNaN(direction) || math.IsNaN(speed) || math.IsInf(direction) || math.IsInf(speed) || speed < 0 {
		return fmt.Errorf("invalid wind %.0f at %.0f", direction, speed)
	}

	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.wind = Wind{Direction: math.NormalizeHeading(direction), Speed: speed, Time: c.clock()}
	c.lg.Info("wind", slog.Float64("direction", float64(c.wind.Direction)), slog.Float64("speed", float64(speed)))
	return nil
}

func (c *Coordinator) Wind() Wind {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.wind
}

///////////////////////////////////////////////////////////////////////////
// Clearances

// RequestTransition applies an externally issued clearance event to the
// aircraft's clearance record. Takeoff and approach clearances are only
// issued by the runway sequencer and are rejected here.
func (c *Coordinator) RequestTransition(id av.AircraftID, ev atc.ClearanceEvent) atc.TransitionResult {
	now := c.clock()

	c.mu.Lock(c.lg)
	result, transition := c.requestTransition(id, ev, now)
	c.mu.Unlock(c.lg)

	if result.Accepted {
		c.post(Event{Type: ClearanceTransitionEvent, Time: now, Aircraft: id, Transition: &transition,
			Message: fmt.Sprintf("%s: %s -> %s", ev, transition.From, transition.To)})
	} else {
		c.lg.Info("clearance rejected", slog.String("aircraft", string(id)), slog.String("event", ev.String()),
			slog.String("state", result.State.String()), slog.String("reason", result.Reason.String()))
		c.post(Event{Type: ClearanceRejectedEvent, Time: now, Aircraft: id, Reject: result.Reason,
			Reason: FailureIllegalTransition, Message: fmt.Sprintf("%s in %s", ev, result.State)})
	}
	return result
}

func (c *Coordinator) requestTransition(id av.AircraftID, ev atc.ClearanceEvent, now time.Time) (atc.TransitionResult, atc.Transition) {
	ac, ok := c.aircraft[id]
	if !ok {
		return atc.TransitionResult{Reason: atc.RejectUnknownAircraft}, atc.Transition{}
	}
	if ev.Valid() && ev.SequencerControlled() {
		return atc.TransitionResult{State: ac.Clearance.State, Reason: atc.RejectSequencerControlled}, atc.Transition{}
	}

	result := ac.Clearance.RequestTransition(ev, now)
	if !result.Accepted {
		return result, atc.Transition{}
	}

	switch ev {
	case atc.LiftOff:
		ac.Route, ac.Operation, ac.Maneuver = nil, nil, nil
	case atc.Touchdown:
		ac.Hold = nil
	case atc.VacateRunway:
		ac.Operation, ac.Procedure = nil, nil
	case atc.ReachParking:
		ac.Route = nil
	}
	return result, ac.Clearance.Transitions[len(ac.Clearance.Transitions)-1]
}

///////////////////////////////////////////////////////////////////////////
// Planning requests

// assignRunway must be called with mu held. If requested is non-empty,
// it is the only candidate.
func (c *Coordinator) assignRunway(departure bool, requested string) (atc.RunwayAssignment, error) {
	candidates := c.ap.Runways
	if requested != "" {
		rwy, ok := c.ap.Runway(requested)
		if !ok {
			return atc.RunwayAssignment{}, fmt.Errorf("%s: %w", requested, av.ErrUnknownRunway)
		}
		candidates = []av.Runway{*rwy}
	}
	if len(candidates) == 0 {
		return atc.RunwayAssignment{}, atc.ErrNoCandidateRunways
	}

	queues := c.sequencer.QueueLengths()
	for _, a := range c.pending {
		queues[a.runway]++
	}

	ra := atc.AssignRunway(c.wind.Direction, c.wind.Speed, candidates, queues, departure, c.config.Runway)
	if !ra.Success {
		return ra, fmt.Errorf("%s: %w", ra, atc.ErrNoAcceptableRunway)
	}
	return ra, nil
}

func (c *Coordinator) pendingFor(id av.AircraftID) bool {
	return slices.ContainsFunc(c.pending, func(a admission) bool { return a.id == id })
}

// RequestDeparture assigns a departure runway for the aircraft given the
// current wind and runway queues, plans its taxi route to the runway's
// hold-short point and queues it for takeoff sequencing at the next slow
// tick. If runway is non-empty, only that runway is considered.
func (c *Coordinator) RequestDeparture(id av.AircraftID, runway string) (DeparturePlan, error) {
	c.mu.Lock(c.lg)
	plan, events, err := c.requestDeparture(id, runway)
	c.mu.Unlock(c.lg)

	if err != nil {
		c.fail(id, "departure", err)
	}
	for _, ev := range events {
		c.post(ev)
	}
	return plan, err
}

func (c *Coordinator) requestDeparture(id av.AircraftID, runway string) (DeparturePlan, []Event, error) {
	plan := DeparturePlan{Aircraft: id}

	ac, err := c.get(id)
	if err != nil {
		return plan, nil, err
	}
	switch {
	case !ac.OnGround:
		return plan, nil, fmt.Errorf("%s: %w", id, ErrAircraftAirborne)
	case ac.Stale:
		return plan, nil, fmt.Errorf("%s: %w", id, ErrStaleTelemetry)
	case ac.Clearance.State > atc.HoldingAtRunway:
		return plan, nil, fmt.Errorf("%s: %s: %w", id, ac.Clearance.State, ErrInvalidClearance)
	case ac.inSequence() || c.pendingFor(id):
		return plan, nil, fmt.Errorf("%s: %w", id, atc.ErrAlreadyQueued)
	}

	plan.Runway, err = c.assignRunway(true, runway)
	if err != nil {
		return plan, nil, err
	}
	rwy, _ := c.ap.Runway(plan.Runway.Runway)

	start, _ := c.ap.NearestNode(ac.Position, nil)
	plan.Route = c.router.FindPath(start, rwy.HoldNode, c.config.performance(ac.Size).TaxiSpeed)
	if !plan.Route.Success {
		return plan, nil, fmt.Errorf("%s to runway %s: %w", c.ap.Node(start).Name, rwy.ID, ErrNoRoute)
	}
	if sids := c.ap.ProceduresFor(rwy.ID, av.SID); len(sids) > 0 {
		plan.SID = &sids[0]
	}

	now := c.clock()
	op := atc.Departure
	ac.Runway = rwy.ID
	ac.Clearance.RequestedRunway = runway
	ac.Clearance.AssignedRunway = rwy.ID
	ac.Route = util.Pointer(deep.MustCopy(plan.Route))
	ac.RouteIndex = 0
	ac.Procedure = plan.SID
	ac.Operation = &op
	ac.Maneuver = nil
	c.pending = append(c.pending, admission{op: op, id: id, runway: rwy.ID, time: now})

	c.lg.Info("departure planned", slog.String("aircraft", string(id)), slog.String("runway", rwy.ID),
		slog.Any("route", plan.Route.NodeNames(c.ap)), slog.Float64("taxi_time", float64(plan.Route.Time)))

	return plan, []Event{
		{Type: RunwayAssignedEvent, Time: now, Aircraft: id, Runway: util.Pointer(plan.Runway), Message: plan.Runway.String()},
		{Type: RouteAssignedEvent, Time: now, Aircraft: id, Route: util.Pointer(deep.MustCopy(plan.Route)),
			Message: fmt.Sprintf("taxi to runway %s", rwy.ID)},
	}, nil
}

// RequestArrival assigns a landing runway for an airborne aircraft and
// queues it for approach sequencing at the next slow tick. If other
// arrivals are ahead of it, it is sent to the hold published with the
// runway's arrival procedure.
func (c *Coordinator) RequestArrival(id av.AircraftID, runway string) (ArrivalPlan, error) {
	c.mu.Lock(c.lg)
	plan, events, err := c.requestArrival(id, runway)
	c.mu.Unlock(c.lg)

	if err != nil {
		c.fail(id, "arrival", err)
	}
	for _, ev := range events {
		c.post(ev)
	}
	return plan, err
}

func (c *Coordinator) requestArrival(id av.AircraftID, runway string) (ArrivalPlan, []Event, error) {
	plan := ArrivalPlan{Aircraft: id}

	ac, err := c.get(id)
	if err != nil {
		return plan, nil, err
	}
	switch {
	case ac.OnGround:
		return plan, nil, fmt.Errorf("%s: %w", id, ErrAircraftOnGround)
	case ac.Stale:
		return plan, nil, fmt.Errorf("%s: %w", id, ErrStaleTelemetry)
	case ac.Clearance.State != atc.Airborne:
		return plan, nil, fmt.Errorf("%s: %s: %w", id, ac.Clearance.State, ErrInvalidClearance)
	case ac.inSequence() || c.pendingFor(id):
		return plan, nil, fmt.Errorf("%s: %w", id, atc.ErrAlreadyQueued)
	}

	plan.Runway, err = c.assignRunway(false, runway)
	if err != nil {
		return plan, nil, err
	}
	rwy := plan.Runway.Runway
	if stars := c.ap.ProceduresFor(rwy, av.STAR); len(stars) > 0 {
		plan.STAR = &stars[0]
	}

	now := c.clock()
	events := []Event{{Type: RunwayAssignedEvent, Time: now, Aircraft: id, Runway: util.Pointer(plan.Runway),
		Message: plan.Runway.String()}}

	waiting := c.sequencer.QueueLength(rwy) > 0 ||
		slices.ContainsFunc(c.pending, func(a admission) bool { return a.runway == rwy }) ||
		c.sequencer.NextGrant(atc.Arrival, rwy).After(now)
	if waiting && plan.STAR != nil && plan.STAR.Hold != nil {
		pattern := plan.STAR.Hold.Pattern(ac.Altitude)
		plan.Hold = &pattern
		ac.Hold = util.Pointer(pattern)
		events = append(events, Event{Type: HoldAssignedEvent, Time: now, Aircraft: id, Hold: util.Pointer(pattern),
			Message: "hold at " + plan.STAR.Hold.DisplayName()})
	}

	op := atc.Arrival
	ac.Runway = rwy
	ac.Clearance.RequestedRunway = runway
	ac.Clearance.AssignedRunway = rwy
	ac.Procedure = plan.STAR
	ac.Operation = &op
	c.pending = append(c.pending, admission{op: op, id: id, runway: rwy, time: now})

	c.lg.Info("arrival planned", slog.String("aircraft", string(id)), slog.String("runway", rwy),
		slog.Bool("hold", plan.Hold != nil))

	return plan, events, nil
}

// PlanTaxiToParking routes a landed aircraft to the free parking position
// that accepts its size and is quickest to reach. Aircraft that have just
// landed are routed from their runway's exit.
func (c *Coordinator) PlanTaxiToParking(id av.AircraftID) (ParkingPlan, error) {
	c.mu.Lock(c.lg)
	plan, err := c.planTaxiToParking(id)
	c.mu.Unlock(c.lg)

	if err != nil {
		c.fail(id, "parking", err)
	} else {
		c.post(Event{Type: RouteAssignedEvent, Aircraft: id, Route: util.Pointer(deep.MustCopy(plan.Route)),
			Message: "taxi to parking " + plan.Parking})
	}
	return plan, err
}

func (c *Coordinator) planTaxiToParking(id av.AircraftID) (ParkingPlan, error) {
	plan := ParkingPlan{Aircraft: id}

	ac, err := c.get(id)
	if err != nil {
		return plan, err
	}
	if !ac.OnGround {
		return plan, fmt.Errorf("%s: %w", id, ErrAircraftAirborne)
	}
	switch ac.Clearance.State {
	case atc.Landing, atc.TaxiToParking, atc.TaxiingToParking:
	default:
		return plan, fmt.Errorf("%s: %s: %w", id, ac.Clearance.State, ErrInvalidClearance)
	}

	occupied := make(map[string]bool)
	for oid, other := range c.aircraft {
		if oid != id && other.Parking != "" {
			occupied[other.Parking] = true
		}
	}
	parking, err := c.ap.AvailableParking(ac.Size, occupied)
	if err != nil {
		return plan, fmt.Errorf("%s (%s): %w", id, ac.Size, err)
	}

	start, _ := c.ap.NearestNode(ac.Position, nil)
	if rwy, ok := c.ap.Runway(ac.Runway); ok && ac.Clearance.State == atc.Landing {
		start = rwy.ExitNode
	}
	ends := util.MapSlice(parking, func(p *av.ParkingPosition) av.NodeID { return p.Node })

	plan.Route = c.router.FindPathToAny(start, ends, c.config.performance(ac.Size).TaxiSpeed)
	if !plan.Route.Success {
		return plan, fmt.Errorf("%s to parking: %w", c.ap.Node(start).Name, ErrNoRoute)
	}
	end := plan.Route.Nodes[len(plan.Route.Nodes)-1]
	plan.Parking = parking[slices.IndexFunc(parking, func(p *av.ParkingPosition) bool { return p.Node == end })].Name

	ac.Parking = plan.Parking
	ac.Route = util.Pointer(deep.MustCopy(plan.Route))
	ac.RouteIndex = 0

	c.lg.Info("parking planned", slog.String("aircraft", string(id)), slog.String("parking", plan.Parking),
		slog.Any("route", plan.Route.NodeNames(c.ap)))
	return plan, nil
}

// HoldAircraft sends an airborne aircraft to a holding pattern at fix,
// flown at its current speed.
func (c *Coordinator) HoldAircraft(id av.AircraftID, fix [2]float32, inboundCourse float32, legTime time.Duration,
	turn av.TurnDirection) ([4]av.HoldWaypoint, error) {
	c.mu.Lock(c.lg)
	ac, err := c.get(id)
	var pattern [4]av.HoldWaypoint
	var entry av.HoldEntry
	if err == nil && ac.OnGround {
		err = fmt.Errorf("%s: %w", id, ErrAircraftOnGround)
	}
	if err == nil {
		pattern = av.GenerateHoldingPattern(fix, inboundCourse, legTime, turn, ac.Speed())
		ac.Hold = util.Pointer(pattern)
		hold := av.Hold{FixPosition: fix, InboundCourse: inboundCourse, TurnDirection: turn}
		entry = hold.Entry(math.VectorHeading(math.Sub2f(fix, ac.Position)))
	}
	c.mu.Unlock(c.lg)

	if err != nil {
		c.fail(id, "hold", err)
		return pattern, err
	}
	c.lg.Info("holding", slog.String("aircraft", string(id)), slog.Any("fix", fix),
		slog.Float64("inbound_course", float64(inboundCourse)), slog.String("turn", turn.String()),
		slog.String("entry", entry.String()))
	c.post(Event{Type: HoldAssignedEvent, Aircraft: id, Hold: util.Pointer(pattern)})
	return pattern, nil
}

// FindRoute returns the quickest taxi route between two named nodes. If
// maxSpeed isn't positive, the taxi speed for medium aircraft is used.
func (c *Coordinator) FindRoute(from, to string, maxSpeed float32) (taxi.Route, error) {
	start, ok := c.ap.NodeByName(from)
	if !ok {
		return taxi.Route{}, fmt.Errorf("%s: %w", from, av.ErrUnknownNode)
	}
	end, ok := c.ap.NodeByName(to)
	if !ok {
		return taxi.Route{}, fmt.Errorf("%s: %w", to, av.ErrUnknownNode)
	}
	if maxSpeed <= 0 {
		maxSpeed = c.config.performance(av.SizeMedium).TaxiSpeed
	}

	rt := c.router.FindPath(start, end, maxSpeed)
	if !rt.Success {
		return rt, fmt.Errorf("%s to %s: %w", from, to, ErrNoRoute)
	}
	return rt, nil
}

///////////////////////////////////////////////////////////////////////////
// Queries

// Aircraft returns a copy of the aircraft's current state.
func (c *Coordinator) Aircraft(id av.AircraftID) (AircraftState, bool) {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if ac, ok := c.aircraft[id]; ok {
		return deep.MustCopy(*ac), true
	}
	return AircraftState{}, false
}

// AircraftIDs returns the IDs of all tracked aircraft in sorted order.
func (c *Coordinator) AircraftIDs() []av.AircraftID {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	return util.SortedMapKeys(c.aircraft)
}

// Dump returns a human-readable dump of the aircraft's full state.
func (c *Coordinator) Dump(id av.AircraftID) (string, error) {
	ac, ok := c.Aircraft(id)
	if !ok {
		return "", fmt.Errorf("%s: %w", id, ErrUnknownAircraft)
	}
	return godump.DumpStr(ac), nil
}
