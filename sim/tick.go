// sim/tick.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/conflict"
	"github.com/mmp/groundctl/math"
	"github.com/mmp/groundctl/util"

	"github.com/goforj/godump"
	"golang.org/x/sync/errgroup"
)

type FastTickResult struct {
	Time       time.Time           `json:"time"`
	Tracks     int                 `json:"tracks"`
	Stale      []av.AircraftID     `json:"stale,omitempty"` // aircraft that became stale this tick
	Prediction conflict.Prediction `json:"prediction"`
	Resolution conflict.Resolution `json:"resolution"`
	Duration   time.Duration       `json:"duration"`
	Overrun    bool                `json:"overrun"`
}

type Grant struct {
	Aircraft  av.AircraftID `json:"aircraft"`
	Operation atc.Operation `json:"operation"`
	Runway    string        `json:"runway"`
	Time      time.Time     `json:"time"`
}

type SlowTickResult struct {
	Time     time.Time       `json:"time"`
	Enqueued []av.AircraftID `json:"enqueued,omitempty"`
	Granted  []Grant         `json:"granted,omitempty"`
	Evicted  []av.AircraftID `json:"evicted,omitempty"`
	Duration time.Duration   `json:"duration"`
	Overrun  bool            `json:"overrun"`
}

type alertKey struct {
	a, b av.AircraftID
}

// FastTick runs one cycle of conflict detection and resolution. The
// aircraft are snapshotted under the lock; prediction and resolution run
// on the snapshot without holding it, and the resulting maneuvers are
// then recorded. Aircraft whose telemetry is older than StaleAfter are
// marked stale and excluded.
func (c *Coordinator) FastTick(now time.Time) FastTickResult {
	start := time.Now()
	res := FastTickResult{Time: now}

	c.mu.Lock(c.lg)
	var tracks []conflict.Track
	sizes := make(map[av.AircraftID]av.SizeClass)
	for _, id := range util.SortedMapKeys(c.aircraft) {
		ac := c.aircraft[id]
		if !ac.Stale && now.Sub(ac.LastTelemetry) > c.config.StaleAfter.D() {
			ac.Stale = true
			ac.Maneuver = nil
			res.Stale = append(res.Stale, id)
		}
		if !ac.Stale {
			tracks = append(tracks, ac.track())
			sizes[id] = ac.Size
		}
	}
	previous := make(map[alertKey]bool)
	for _, a := range c.lastAlerts {
		previous[alertKey{a.A, a.B}] = true
	}
	c.mu.Unlock(c.lg)

	res.Tracks = len(tracks)
	res.Prediction = conflict.PredictConflicts(tracks, c.config.Conflict)

	resolver := conflict.Resolver{
		Config: c.config.Conflict,
		Performance: func(t conflict.Track) conflict.Performance {
			p := c.config.performance(sizes[t.ID])
			return util.Select(t.OnGround, p.Ground, p.Airborne)
		},
	}
	res.Resolution = resolver.Resolve(res.Prediction.Alerts, tracks)

	c.mu.Lock(c.lg)
	var changed []conflict.Maneuver
	for _, t := range tracks {
		ac, ok := c.aircraft[t.ID]
		if !ok {
			// Disconnected while we weren't holding the lock.
			continue
		}
		m, ok := res.Resolution.Maneuvers[t.ID]
		if !ok {
			ac.Maneuver = nil
			continue
		}
		if ac.Maneuver == nil || ac.Maneuver.Kind != m.Kind {
			changed = append(changed, m)
		}
		ac.Maneuver = &m
	}
	c.lastAlerts = res.Prediction.Alerts

	res.Duration = time.Since(start)
	res.Overrun = res.Duration > c.config.FastTickBudget.D()

	c.stats.FastTicks++
	c.stats.LastFastTick = res.Duration
	c.fastTickTimes.Add(res.Duration)
	c.stats.MaxFastTick = max(c.stats.MaxFastTick, res.Duration)
	c.stats.LastAlerts = len(res.Prediction.Alerts)
	c.stats.Maneuvers += len(changed)
	c.stats.GoArounds += len(res.Resolution.Escalated)
	if res.Overrun {
		c.stats.FastOverruns++
	}
	if res.Prediction.Shed {
		c.stats.LoadShedTicks++
	}
	c.mu.Unlock(c.lg)

	for _, id := range res.Stale {
		c.lg.Warn("stale telemetry", slog.String("aircraft", string(id)))
		c.post(Event{Type: StaleTelemetryEvent, Time: now, Aircraft: id, Reason: FailureStaleTelemetry})
	}
	if res.Prediction.Shed {
		c.lg.Warn("conflict prediction shed load", slog.Int("tracks", len(tracks)),
			slog.Int("pairs", res.Prediction.Pairs))
		c.post(Event{Type: LoadShedEvent, Time: now,
			Message: fmt.Sprintf("%d tracks, %d pairs evaluated", len(tracks), res.Prediction.Pairs)})
	}
	for _, a := range res.Prediction.Alerts {
		if previous[alertKey{a.A, a.B}] {
			continue
		}
		c.lg.Info("conflict alert", slog.String("alert", a.String()))
		c.post(Event{Type: ConflictAlertEvent, Time: now, Aircraft: a.A, Alert: util.Pointer(a), Message: a.String()})
	}
	for _, m := range changed {
		c.lg.Info("maneuver", slog.String("aircraft", string(m.Aircraft)), slog.String("maneuver", m.String()))
		c.post(Event{Type: ManeuverAssignedEvent, Time: now, Aircraft: m.Aircraft, Maneuver: util.Pointer(m),
			Message: m.String()})
	}
	for _, id := range res.Resolution.Escalated {
		c.lg.Warn("maneuver escalated to go-around", slog.String("aircraft", string(id)))
		c.post(Event{Type: GoAroundEscalatedEvent, Time: now, Aircraft: id, Reason: FailureResolutionExhausted})
	}

	if res.Overrun {
		c.lg.Warn("fast tick overrun", slog.Duration("duration", res.Duration),
			slog.Duration("budget", c.config.FastTickBudget.D()), slog.Int("tracks", len(tracks)),
			slog.Int("alerts", len(res.Prediction.Alerts)), slog.String("tracks_dump", godump.DumpStr(tracks)))
		c.post(Event{Type: TickOverrunEvent, Time: now, Duration: res.Duration, Message: "fast tick"})
	}

	return res
}

// SlowTick runs one cycle of runway sequencing: admissions requested
// since the previous tick are enqueued in the order they were made, the
// head of each runway queue is cleared if its spacing interval has
// elapsed, and aircraft that are done or have gone silent are evicted.
func (c *Coordinator) SlowTick(now time.Time) SlowTickResult {
	start := time.Now()
	res := SlowTickResult{Time: now}
	var events []Event

	c.mu.Lock(c.lg)

	pending := c.pending
	c.pending = nil
	for _, a := range pending {
		if _, ok := c.aircraft[a.id]; !ok {
			continue
		}
		if err := c.sequencer.Enqueue(a.op, a.runway, a.id, a.time); err != nil {
			c.lg.Warn("enqueue failed", slog.String("aircraft", string(a.id)), slog.Any("error", err))
			continue
		}
		res.Enqueued = append(res.Enqueued, a.id)
		if pos, ok := c.sequencer.Position(a.id); ok {
			events = append(events, Event{Type: SequencedEvent, Time: now, Aircraft: a.id, Position: &pos,
				Message: fmt.Sprintf("%s runway %s number %d", a.op, a.runway, pos.Index+1)})
		}
	}

	// Only the head of each runway's queue is considered, so a runway
	// sees at most one release per tick.
	for _, q := range c.sequencer.State() {
		head, ok := c.sequencer.Head(q.Runway)
		if !ok {
			continue
		}
		if g, ev, ok := c.grant(head.Operation, q.Runway, head.Aircraft, now); ok {
			res.Granted = append(res.Granted, g)
			events = append(events, ev)
		}
	}

	for _, id := range util.SortedMapKeys(c.aircraft) {
		ac := c.aircraft[id]
		var why string
		switch {
		case ac.Clearance.State == atc.ParkingArrived:
			why = "parked"
		case now.Sub(ac.LastTelemetry) > c.config.EvictAfter.D():
			why = "no telemetry"
		case !c.ap.InArea(ac.Position):
			why = "left area"
		default:
			continue
		}
		c.evict(id)
		res.Evicted = append(res.Evicted, id)
		c.lg.Info("aircraft evicted", slog.String("aircraft", string(id)), slog.String("reason", why))
		events = append(events, Event{Type: AircraftEvictedEvent, Time: now, Aircraft: id, Message: why})
	}

	res.Duration = time.Since(start)
	res.Overrun = res.Duration > c.config.SlowTickPeriod.D()
	c.stats.SlowTicks++
	c.stats.Grants += len(res.Granted)
	if res.Overrun {
		c.stats.SlowOverruns++
	}

	c.mu.Unlock(c.lg)

	for _, ev := range events {
		c.post(ev)
	}
	if res.Overrun {
		c.lg.Warn("slow tick overrun", slog.Duration("duration", res.Duration))
		c.post(Event{Type: TickOverrunEvent, Time: now, Duration: res.Duration, Message: "slow tick"})
	}

	return res
}

// grant tries to clear the aircraft at the head of a runway queue. It
// must be called with mu held.
func (c *Coordinator) grant(op atc.Operation, runway string, id av.AircraftID, now time.Time) (Grant, Event, bool) {
	ac, ok := c.aircraft[id]
	if !ok {
		c.lg.Warn("removing unknown aircraft from runway queue", slog.String("aircraft", string(id)),
			slog.String("runway", runway))
		c.sequencer.Remove(id)
		return Grant{}, Event{}, false
	}
	if ac.Stale {
		return Grant{}, Event{}, false
	}

	var ev atc.ClearanceEvent
	switch op {
	case atc.Departure:
		if ac.Clearance.State != atc.HoldingAtRunway {
			return Grant{}, Event{}, false
		}
		if other, ok := c.runwayOccupant(runway, id); ok {
			c.lg.Debug("runway occupied", slog.String("runway", runway), slog.String("aircraft", string(id)),
				slog.String("occupant", string(other)))
			return Grant{}, Event{}, false
		}
		if !c.sequencer.RequestDeparture(id, runway, now) {
			return Grant{}, Event{}, false
		}
		ev = atc.ClearTakeoff
	case atc.Arrival:
		if ac.Clearance.State != atc.Airborne {
			return Grant{}, Event{}, false
		}
		if !c.sequencer.RequestArrival(id, runway, now) {
			return Grant{}, Event{}, false
		}
		ev = atc.ClearApproach
	}

	result := ac.Clearance.RequestTransition(ev, now)
	if !result.Accepted {
		// The state was checked above, so this means the transition
		// table and the sequencing logic disagree.
		c.lg.Errorf("%s: %s not accepted after grant: %s", id, ev, result)
		return Grant{}, Event{}, false
	}
	if op == atc.Arrival {
		ac.Hold = nil
	}

	c.lg.Info("clearance granted", slog.String("aircraft", string(id)), slog.String("clearance", ev.String()),
		slog.String("runway", runway))
	tr := ac.Clearance.Transitions[len(ac.Clearance.Transitions)-1]
	return Grant{Aircraft: id, Operation: op, Runway: runway, Time: now},
		Event{Type: ClearanceGrantedEvent, Time: now, Aircraft: id, Transition: &tr,
			Message: fmt.Sprintf("%s runway %s", ev, runway)},
		true
}

// runwayOccupant returns an aircraft other than except that is on the
// ground on the runway or on a runway that intersects it. It must be
// called with mu held.
func (c *Coordinator) runwayOccupant(runway string, except av.AircraftID) (av.AircraftID, bool) {
	ids := append([]string{runway}, c.ap.IntersectingRunways(runway)...)
	for _, rid := range ids {
		rwy, ok := c.ap.Runway(rid)
		if !ok {
			continue
		}
		poly := rwy.Polygon()
		for _, id := range util.SortedMapKeys(c.aircraft) {
			ac := c.aircraft[id]
			if id != except && ac.OnGround && math.CirclePolygonOverlap(ac.Position, ac.Radius, poly) {
				return id, true
			}
		}
	}
	return "", false
}

///////////////////////////////////////////////////////////////////////////
// Run

// Run runs the fast and slow ticks and applies telemetry queued with
// Ingest until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.lg.Info("coordinator running", slog.Duration("fast_tick", c.config.FastTickPeriod.D()),
		slog.Duration("slow_tick", c.config.SlowTickPeriod.D()))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return c.tickLoop(ctx, "fast", c.config.FastTickPeriod.D(), func(now time.Time) { c.FastTick(now) },
			func(n int) { c.stats.MissedFastTicks += n })
	})
	eg.Go(func() error {
		return c.tickLoop(ctx, "slow", c.config.SlowTickPeriod.D(), func(now time.Time) { c.SlowTick(now) },
			func(n int) { c.stats.MissedSlowTicks += n })
	})
	eg.Go(func() error {
		return c.ingest(ctx)
	})

	err := eg.Wait()
	c.lg.Info("coordinator stopped", slog.Any("error", err))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// tickLoop calls tick every period. time.Ticker drops ticks when the
// receiver falls behind; those are detected from the gap between ticks
// and recorded with missed, which is called with mu held.
func (c *Coordinator) tickLoop(ctx context.Context, name string, period time.Duration, tick func(time.Time),
	missed func(int)) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			if !last.IsZero() {
				if n := int(t.Sub(last)/period) - 1; n > 0 {
					c.mu.Lock(c.lg)
					missed(n)
					c.mu.Unlock(c.lg)

					c.lg.Warn("missed ticks", slog.String("tick", name), slog.Int("count", n))
					c.post(Event{Type: TickOverrunEvent, Message: fmt.Sprintf("missed %d %s ticks", n, name)})
				}
			}
			last = t
			tick(c.clock())
		}
	}
}

func (c *Coordinator) ingest(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-c.telemetry:
			if err := c.ApplyTelemetry(t); err != nil {
				c.lg.Warn("telemetry rejected", slog.String("aircraft", string(t.ID)), slog.Any("error", err))
			}
		}
	}
}
