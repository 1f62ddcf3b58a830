// conflict/resolve.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package conflict

import (
	"cmp"
	"slices"
	"strings"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/util"
)

// Resolver assigns avoidance maneuvers for a set of simultaneous alerts.
type Resolver struct {
	Config Config

	// Performance returns the limits for the aircraft with the given
	// track. If nil, the default ground or airborne limits are used.
	Performance func(Track) Performance
}

type Resolution struct {
	Maneuvers map[av.AircraftID]Maneuver `json:"maneuvers"`

	// Escalated lists aircraft whose maneuver was replaced with a
	// go-around because it left them in conflict with another aircraft.
	Escalated []av.AircraftID `json:"escalated,omitempty"`

	// Iterations counts maneuver selections and post-assignment checks;
	// it is at most 3*len(alerts) + len(tracks).
	Iterations int `json:"iterations"`
}

// Sorted returns the maneuvers ordered by aircraft.
func (r Resolution) Sorted() []Maneuver {
	return util.MapSlice(util.SortedMapKeys(r.Maneuvers), func(id av.AircraftID) Maneuver {
		return r.Maneuvers[id]
	})
}

func (r *Resolver) performance(t Track) Performance {
	if r.Performance != nil {
		return r.Performance(t)
	}
	if t.OnGround {
		return DefaultGroundPerformance()
	}
	return DefaultAirbornePerformance()
}

// SortAlerts orders alerts by urgency: soonest closest approach first,
// then smallest predicted distance, then by aircraft.
func SortAlerts(alerts []Alert) {
	slices.SortStableFunc(alerts, func(a, b Alert) int {
		if c := cmp.Compare(a.TimeToCPA, b.TimeToCPA); c != 0 {
			return c
		}
		if c := cmp.Compare(a.MinDistance, b.MinDistance); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.A), string(b.A)); c != 0 {
			return c
		}
		return strings.Compare(string(a.B), string(b.B))
	})
}

// Resolve handles the alerts most urgent first. For each, the maneuver
// selector is run for both aircraft that don't yet have a maneuver this
// call; the better non-go-around result is assigned, and the other
// aircraft gets a maneuver only if the pair is still in conflict. Later
// selections see earlier assignments. Afterward, any aircraft whose
// maneuver leaves it in conflict with another is sent around, as is each
// unmaneuvered aircraft still in conflict with it after that.
func (r *Resolver) Resolve(alerts []Alert, tracks []Track) Resolution {
	res := Resolution{Maneuvers: make(map[av.AircraftID]Maneuver)}

	original := make(map[av.AircraftID]Track, len(tracks))
	working := make(map[av.AircraftID]Track, len(tracks))
	for _, t := range tracks {
		original[t.ID], working[t.ID] = t, t
	}
	assign := func(m Maneuver) {
		res.Maneuvers[m.Aircraft] = m
		working[m.Aircraft] = Apply(working[m.Aircraft], m)
	}

	sorted := slices.Clone(alerts)
	SortAlerts(sorted)

	for _, alert := range sorted {
		a, aok := working[alert.A]
		b, bok := working[alert.B]
		if !aok || !bok {
			continue
		}
		if _, ok := pairConflict(a, b, r.Config); !ok {
			// Resolved by an earlier assignment.
			continue
		}

		var options []Maneuver
		for _, pair := range [][2]Track{{a, b}, {b, a}} {
			if _, assigned := res.Maneuvers[pair[0].ID]; assigned {
				continue
			}
			res.Iterations++
			options = append(options, SelectManeuver(alert, pair[0], pair[1], r.performance(pair[0]), r.Config))
		}
		if len(options) == 0 {
			continue
		}

		first := options[0]
		for _, m := range options[1:] {
			if (first.Kind == GoAround && m.Kind != GoAround) ||
				(first.Kind != GoAround && m.Kind != GoAround && m.Score > first.Score) {
				first = m
			}
		}
		assign(first)

		if len(options) == 2 {
			subject, other := b, working[alert.A]
			if first.Aircraft == alert.B {
				subject, other = a, working[alert.B]
			}
			res.Iterations++
			if m := SelectManeuver(alert, subject, other, r.performance(subject), r.Config); m.Kind != ManeuverNone {
				assign(m)
			}
		}
	}

	escalate := func(id, other av.AircraftID, from Track) {
		ga := goAround(from, r.Config)
		working[id] = Apply(from, ga)
		ga.Separation = windowSeparation(working[id], working[other], r.Config)
		ga.Workload = workload(ga)
		res.Maneuvers[id] = ga
		res.Escalated = append(res.Escalated, id)
	}

	// A single pass over the maneuvered aircraft; escalating to a
	// go-around always terminates.
	for _, id := range util.SortedMapKeys(res.Maneuvers) {
		if res.Maneuvers[id].Kind == GoAround {
			continue
		}
		res.Iterations++
		conflicting := slices.IndexFunc(tracks, func(t Track) bool { return r.inConflict(working, id, t.ID) })
		if conflicting == -1 {
			continue
		}
		escalate(id, tracks[conflicting].ID, original[id])

		// On the ground a go-around is a stop, which may leave aircraft
		// behind still closing; they go around too.
		for _, other := range tracks {
			if _, assigned := res.Maneuvers[other.ID]; !assigned && r.inConflict(working, id, other.ID) {
				escalate(other.ID, id, working[other.ID])
			}
		}
	}

	return res
}

func (r *Resolver) inConflict(working map[av.AircraftID]Track, a, b av.AircraftID) bool {
	if a == b {
		return false
	}
	_, conflict := pairConflict(working[a], working[b], r.Config)
	return conflict
}
