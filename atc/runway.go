// atc/runway.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package atc

import (
	"fmt"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/math"
	"github.com/mmp/groundctl/util"
)

// RunwayCriteria sets the wind limits and scoring weights used to pick a
// runway. Wind figures are in knots.
type RunwayCriteria struct {
	MaxCrosswind     float32 `json:"max_crosswind"`
	MaxTailwind      float32 `json:"max_tailwind"`
	BaseScore        float32 `json:"base_score"`
	CrosswindPenalty float32 `json:"crosswind_penalty"` // per knot
	QueuePenalty     float32 `json:"queue_penalty"`     // per queued aircraft
	HeadwindBonus    float32 `json:"headwind_bonus"`    // per knot
}

func DefaultRunwayCriteria() RunwayCriteria {
	return RunwayCriteria{
		MaxCrosswind:     25,
		MaxTailwind:      5,
		BaseScore:        100,
		CrosswindPenalty: 2,
		QueuePenalty:     5,
		HeadwindBonus:    1,
	}
}

func (c RunwayCriteria) Validate(e *util.ErrorLogger) {
	e.Push("Runway criteria")
	defer e.Pop()

	if c.MaxCrosswind < 0 {
		e.ErrorString("\"max_crosswind\" cannot be negative")
	}
	if c.MaxTailwind < 0 {
		e.ErrorString("\"max_tailwind\" cannot be negative")
	}
	if c.CrosswindPenalty < 0 || c.QueuePenalty < 0 || c.HeadwindBonus < 0 {
		e.ErrorString("scoring weights cannot be negative")
	}
}

type RunwayAssignment struct {
	Success   bool    `json:"success"`
	Runway    string  `json:"runway,omitempty"`
	Departure bool    `json:"departure"`
	Headwind  float32 `json:"headwind"`  // knots; negative for a tailwind
	Crosswind float32 `json:"crosswind"` // knots; positive from the right
	Score     float32 `json:"score"`

	// Rejected gives the reason each excluded candidate was excluded.
	Rejected map[string]string `json:"rejected,omitempty"`
}

func (ra RunwayAssignment) String() string {
	if !ra.Success {
		return fmt.Sprintf("no acceptable runway (%v)", ra.Rejected)
	}
	return fmt.Sprintf("runway %s: headwind %.1f crosswind %.1f score %.1f", ra.Runway,
		ra.Headwind, ra.Crosswind, ra.Score)
}

// AssignRunway picks the best runway from candidates given the wind
// (direction in degrees true that it blows from, speed in knots) and the
// current queue lengths. Runways whose crosswind or tailwind component
// exceeds the limits in c are excluded; the rest are scored and the
// highest score wins, with ties going to the shorter queue and then the
// lower runway identifier.
func AssignRunway(windDirection, windSpeed float32, candidates []av.Runway, queueLengths map[string]int,
	departure bool, c RunwayCriteria) RunwayAssignment {
	ra := RunwayAssignment{Departure: departure}
	bestQueue := 0

	for _, rwy := range candidates {
		hw, xw := av.WindComponents(windDirection, windSpeed, rwy.Heading)
		if math.Abs(xw) > c.MaxCrosswind {
			ra.reject(rwy.ID, "crosswind %.1f kt exceeds %.1f", math.Abs(xw), c.MaxCrosswind)
			continue
		}
		if -hw > c.MaxTailwind {
			ra.reject(rwy.ID, "tailwind %.1f kt exceeds %.1f", -hw, c.MaxTailwind)
			continue
		}

		queue := queueLengths[rwy.ID]
		score := c.BaseScore - c.CrosswindPenalty*math.Abs(xw) - c.QueuePenalty*float32(queue) +
			c.HeadwindBonus*hw

		better := !ra.Success || score > ra.Score ||
			(score == ra.Score && (queue < bestQueue || (queue == bestQueue && rwy.ID < ra.Runway)))
		if better {
			ra.Success = true
			ra.Runway = rwy.ID
			ra.Headwind, ra.Crosswind = hw, xw
			ra.Score = score
			bestQueue = queue
		}
	}
	return ra
}

func (ra *RunwayAssignment) reject(id string, format string, args ...any) {
	if ra.Rejected == nil {
		ra.Rejected = make(map[string]string)
	}
	ra.Rejected[id] = fmt.Sprintf(format, args...)
}

// RejectedRunways returns the identifiers of the excluded runways, sorted.
func (ra RunwayAssignment) RejectedRunways() []string {
	return util.SortedMapKeys(ra.Rejected)
}
